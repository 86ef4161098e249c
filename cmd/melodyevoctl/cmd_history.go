package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"melodyevo/pkg/melodyevo"
)

// addRunRefFlags wires --run-id and --latest onto cmd.
func addRunRefFlags(cmd *cobra.Command, ref *melodyevo.RunRef) {
	cmd.Flags().StringVar(&ref.RunID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&ref.Latest, "latest", false, "use the most recent run")
	cmd.MarkFlagsMutuallyExclusive("run-id", "latest")
	cmd.MarkFlagsOneRequired("run-id", "latest")
}

func newRunsCmd(global *globalOptions) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("limit must be > 0")
			}
			client, err := global.openClient(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			items, err := client.Runs(cmd.Context(), melodyevo.RunsRequest{Limit: limit})
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(global, items)
			}
			if len(items) == 0 {
				fmt.Fprintln(global.out, "no runs found")
				return nil
			}
			for _, item := range items {
				fmt.Fprintf(global.out, "run_id=%s created_at=%s outcome=%s scale=%s seed=%d pop=%d gens=%d/%d ratings=%d best=%d\n",
					item.RunID,
					item.CreatedAtUTC,
					item.Outcome,
					item.Scale,
					item.Seed,
					item.Population,
					item.GenerationsRun,
					item.Generations,
					item.Evaluations,
					item.BestRating,
				)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit runs as JSON")
	return cmd
}

func newHistoryCmd(global *globalOptions) *cobra.Command {
	var (
		ref     melodyevo.RunRef
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show every rating collected during a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := global.openClient(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			entries, err := client.History(cmd.Context(), ref)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(global, entries)
			}
			for _, entry := range entries {
				fmt.Fprintf(global.out, "generation=%d melody=%d genome=%s rating=%d\n", entry.Generation, entry.Index+1, entry.Genome, entry.Rating)
			}
			return nil
		},
	}
	addRunRefFlags(cmd, &ref)
	cmd.Flags().BoolVar(&jsonOut, "json", false, "emit ratings as JSON")
	return cmd
}

func newExportCmd(global *globalOptions) *cobra.Command {
	var req melodyevo.ExportRequest
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy a run's artifacts to an export directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := global.openClient(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			summary, err := client.Export(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(global.out, "exported run_id=%s to=%s\n", summary.RunID, summary.Directory)
			return nil
		},
	}
	addRunRefFlags(cmd, &req.RunRef)
	cmd.Flags().StringVar(&req.OutDir, "out", "", "export output directory")
	return cmd
}

func newRenderCmd(global *globalOptions) *cobra.Command {
	var req melodyevo.RenderRequest
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Write the accepted melody of a run to a MIDI file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := global.openClient(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			summary, err := client.Render(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(global.out, "rendered run_id=%s melody=%v bpm=%d to=%s\n", summary.RunID, []int(summary.Melody), summary.BPM, summary.Path)
			return nil
		},
	}
	addRunRefFlags(cmd, &req.RunRef)
	cmd.Flags().StringVar(&req.Out, "out", "", "MIDI output path (default final_melody.mid)")
	return cmd
}

func newScalesCmd(global *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scales",
		Short: "List the scales melodies can be decoded into",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			for _, scale := range melodyevo.Scales() {
				fmt.Fprintf(global.out, "%s %v\n", scale.Name, scale.Intervals)
			}
			return nil
		},
	}
}

func writeJSON(global *globalOptions, value any) error {
	enc := json.NewEncoder(global.out)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
