package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"melodyevo/internal/config"
	"melodyevo/internal/evo"
	"melodyevo/internal/fitness"
	"melodyevo/internal/metrics"
	"melodyevo/internal/playback"
	"melodyevo/pkg/melodyevo"
)

type runOptions struct {
	configPath  string
	rater       string
	httpAddr    string
	metricsAddr string
	play        bool
	out         string
	seed        int64
	scale       string
	population  int
	generations int
	timeout     string
}

func newRunCmd(global *globalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evolve melodies until one is rated 5 or the generations run out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, global, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "YAML run configuration")
	flags.StringVar(&opts.rater, "rater", "terminal", "rating channel: terminal|http")
	flags.StringVar(&opts.httpAddr, "http-addr", "127.0.0.1:8080", "listen address for the http rater")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	flags.BoolVar(&opts.play, "play", false, "open each melody in the system MIDI player before rating")
	flags.StringVar(&opts.out, "out", "", "path of the accepted melody MIDI file")
	flags.Int64Var(&opts.seed, "seed", 0, "random seed (0 picks one from the clock)")
	flags.StringVar(&opts.scale, "scale", "", "scale name")
	flags.IntVar(&opts.population, "population", 0, "population size (even)")
	flags.IntVar(&opts.generations, "generations", 0, "generation budget")
	flags.StringVar(&opts.timeout, "timeout", "", "per-rating timeout, e.g. 2m")
	return cmd
}

func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("out") {
		cfg.Output = o.out
	}
	if flags.Changed("seed") {
		cfg.Seed = o.seed
	}
	if flags.Changed("scale") {
		cfg.Scale = o.scale
	}
	if flags.Changed("population") {
		cfg.PopulationSize = o.population
	}
	if flags.Changed("generations") {
		cfg.Generations = o.generations
	}
	if flags.Changed("timeout") {
		cfg.EvaluationTimeout = o.timeout
	}
}

func runRun(cmd *cobra.Command, global *globalOptions, opts *runOptions) error {
	ctx := cmd.Context()

	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	opts.apply(cmd, &cfg)

	logger, err := global.logger()
	if err != nil {
		return err
	}
	client, err := global.client(cmd, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	recorder := metrics.NewRecorder()
	if opts.metricsAddr != "" {
		stop, err := serve(opts.metricsAddr, recorder.Handler(), logger)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		defer stop()
	}

	rater, stopRater, err := newRater(global, opts, logger)
	if err != nil {
		return err
	}
	defer stopRater()

	summary, err := client.Run(ctx, melodyevo.RunRequest{
		Config:   cfg,
		Rater:    rater,
		Recorder: recorder,
	})
	if err != nil {
		return err
	}
	printSummary(global, summary)
	return nil
}

func newRater(global *globalOptions, opts *runOptions, logger *slog.Logger) (fitness.Rater, func(), error) {
	switch opts.rater {
	case "", "terminal":
		options := []fitness.TerminalOption{fitness.WithLogger(logger)}
		if opts.play {
			options = append(options, fitness.WithPreviewer(playback.NewPlayer(os.TempDir())))
		}
		return fitness.NewTerminalRater(global.in, global.out, options...), func() {}, nil
	case "http":
		rater := fitness.NewHTTPRater()
		stop, err := serve(opts.httpAddr, rater.Handler(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("rating listener: %w", err)
		}
		fmt.Fprintf(global.out, "Waiting for ratings on http://%s/v1/candidate\n", opts.httpAddr)
		return rater, stop, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown rater %q", evo.ErrInvalidConfiguration, opts.rater)
	}
}

// serve listens on addr before returning so bind errors surface immediately.
func serve(addr string, handler http.Handler, logger *slog.Logger) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "addr", addr, "error", err)
		}
	}()
	logger.Info("http server listening", "addr", listener.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}

func printSummary(global *globalOptions, summary melodyevo.RunSummary) {
	out := global.out
	switch summary.Outcome {
	case evo.OutcomeAccepted:
		accepted := summary.Accepted
		fmt.Fprintf(out, "Melody %d of generation %d accepted: %v\n", accepted.Index+1, accepted.Generation, []int(accepted.Melody))
		if summary.ArtifactErr != nil {
			fmt.Fprintf(global.errOut, "warning: accepted melody was not saved: %v\n", summary.ArtifactErr)
		} else {
			fmt.Fprintf(out, "Saved to %s\n", summary.ArtifactPath)
		}
	case evo.OutcomeExhausted:
		fmt.Fprintf(out, "No melody was rated %d within %d generations (%d ratings).\n", fitness.MaxRating, summary.Generations, summary.Evaluations)
	}
	fmt.Fprintf(out, "run_id=%s seed=%d\n", summary.RunID, summary.Seed)
}
