// Package cmd wires the mbox-index command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-index/config"
	"github.com/dhcgn/mbox-index/mbox"
	"github.com/dhcgn/mbox-index/metrics"
	"github.com/dhcgn/mbox-index/stats"
)

// app carries what PersistentPreRunE prepared for the running subcommand.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	reporter *stats.Reporter
	metrics  *metrics.Metrics
	cleanup  func() error
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "mbox-index",
		Short:         "Read and rewrite mbox archives by message number",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	config.RegisterFlags(rootCmd)

	rootCmd.AddCommand(
		newCountCmd(a),
		newGetCmd(a),
		newListCmd(a),
		newRemoveCmd(a),
		newUpdateCmd(a),
		newInsertCmd(a),
		newAppendCmd(a),
		newMergeCmd(a),
		newExportCmd(a),
		newStatsCmd(a),
	)
	return rootCmd
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	a := &app{}
	rootCmd := newRootCmd(a)
	rootCmd.SetArgs(args)
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if finishErr := a.finish(); err == nil {
		err = finishErr
	}
	return err
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return err
	}

	logger, cleanup, err := setupLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	a.cleanup = cleanup
	a.reporter = stats.NewReporter(logger)
	a.metrics = metrics.New()

	slog.SetDefault(logger)
	logger.Debug("starting mbox-index", "command", cmd.Name(), "scratchDir", cfg.ScratchDir, "autoReopen", cfg.AutoReopen)
	return nil
}

// finish logs the stats summary and writes the metrics textfile. It is a
// no-op when setup never ran, e.g. for --help.
func (a *app) finish() error {
	if a.reporter == nil {
		return nil
	}

	a.reporter.Report()

	var errs []error
	if a.cfg.MetricsFile != "" {
		errs = append(errs, a.metrics.WriteTextfile(a.cfg.MetricsFile))
	}
	if a.cleanup != nil {
		errs = append(errs, a.cleanup())
	}
	return errors.Join(errs...)
}

func (a *app) observer() stats.Observer {
	return stats.Multi(a.reporter, a.metrics)
}

func (a *app) openArchive(path string) (*mbox.Archive, error) {
	archive, err := mbox.Open(path, mbox.Options{
		ScratchDir:        a.cfg.ScratchDir,
		Debug:             a.cfg.Debug,
		DisableAutoReopen: !a.cfg.AutoReopen,
		Logger:            a.logger,
		Observer:          a.observer(),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return archive, nil
}

func closeArchive(archive *mbox.Archive, logger *slog.Logger) {
	if err := archive.Close(); err != nil && !errors.Is(err, mbox.ErrNotOpen) {
		logger.Warn("close archive", "path", archive.Path(), "err", err)
	}
}

func parseMessageNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid message number %q", s)
	}
	return n, nil
}
