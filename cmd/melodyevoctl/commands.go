package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"melodyevo/internal/config"
	"melodyevo/internal/logging"
	"melodyevo/pkg/melodyevo"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	storeKind    string
	dbPath       string
	artifactsDir string
	exportsDir   string
	logLevel     string
	logFormat    string

	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	opts := &globalOptions{in: in, out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "melodyevoctl",
		Short: "Evolve melodies by rating them",
		Long: `melodyevoctl breeds short melodies with a genetic algorithm.
You rate each melody from 1 to 5; a rating of 5 accepts it and
writes it to a MIDI file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&opts.storeKind, "store", "", "store backend: memory|sqlite (defaults to the config file value)")
	flags.StringVar(&opts.dbPath, "db-path", "", "sqlite database path")
	flags.StringVar(&opts.artifactsDir, "artifacts-dir", "", "directory holding per-run artifacts")
	flags.StringVar(&opts.exportsDir, "exports-dir", "", "directory exports are written to")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	flags.StringVar(&opts.logFormat, "log-format", "text", "log format: text|json")

	root.AddCommand(
		newRunCmd(opts),
		newRunsCmd(opts),
		newHistoryCmd(opts),
		newExportCmd(opts),
		newRenderCmd(opts),
		newScalesCmd(opts),
	)
	return root
}

func (o *globalOptions) logger() (*slog.Logger, error) {
	return logging.New(o.errOut, o.logFormat, o.logLevel)
}

// client opens a melodyevo client. Flag values win over cfg.
func (o *globalOptions) client(cmd *cobra.Command, cfg config.Config, logger *slog.Logger) (*melodyevo.Client, error) {
	storeKind := cfg.Store
	if o.storeKind != "" {
		storeKind = o.storeKind
	}
	dbPath := cfg.DBPath
	if o.dbPath != "" {
		dbPath = o.dbPath
	}
	artifactsDir := cfg.ArtifactsDir
	if o.artifactsDir != "" {
		artifactsDir = o.artifactsDir
	}

	client, err := melodyevo.New(melodyevo.Options{
		StoreKind:    storeKind,
		DBPath:       dbPath,
		ArtifactsDir: artifactsDir,
		ExportsDir:   o.exportsDir,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Init(cmd.Context()); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// openClient is client for commands without a config file.
func (o *globalOptions) openClient(cmd *cobra.Command) (*melodyevo.Client, error) {
	logger, err := o.logger()
	if err != nil {
		return nil, err
	}
	return o.client(cmd, config.Default(), logger)
}
