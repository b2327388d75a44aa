package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-index/config"
	"github.com/dhcgn/mbox-index/imap"
	"github.com/dhcgn/mbox-index/mbox"
	"github.com/dhcgn/mbox-index/model"
	"github.com/dhcgn/mbox-index/progress"
	"github.com/dhcgn/mbox-index/runner"
	"github.com/dhcgn/mbox-index/state"
)

const ledgerFlushEvery = 100

func newExportCmd(a *app) *cobra.Command {
	var ff *filterFlags

	cmd := &cobra.Command{
		Use:   "export <mbox>",
		Short: "Upload archive messages to an IMAP mailbox",
		Long: "Upload every message of the archive that passes the filters to an IMAP folder. " +
			"Uploaded messages are recorded in a per-archive ledger so reruns skip them.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			imapCfg, err := config.LoadIMAP(cmd, a.cfg)
			if err != nil {
				return err
			}
			f, err := ff.build()
			if err != nil {
				return err
			}

			archive, err := a.openArchive(args[0])
			if err != nil {
				return err
			}
			defer closeArchive(archive, a.logger)

			ledger, err := state.OpenLedger(imapCfg.StateDir, archive.Path(), !imapCfg.DryRun)
			if err != nil {
				return err
			}
			defer func() {
				if err := ledger.Close(); err != nil {
					a.logger.Error("close ledger", "path", ledger.Path(), "err", err)
				}
			}()

			uploader, err := imap.NewUploader(imap.Options{
				Host:               imapCfg.Host,
				Port:               imapCfg.Port,
				Username:           imapCfg.User,
				Password:           imapCfg.Pass,
				UseTLS:             imapCfg.UseTLS,
				InsecureSkipVerify: imapCfg.InsecureSkipVerify,
				TargetFolder:       imapCfg.TargetFolder,
				DryRun:             imapCfg.DryRun,
			}, ledger, a.logger)
			if err != nil {
				return fmt.Errorf("imap.NewUploader: %w", err)
			}
			defer func() {
				if err := uploader.Close(); err != nil {
					a.logger.Warn("close imap session", "err", err)
				}
			}()

			a.logger.Info("starting export", "mbox", archive.Path(), "messages", archive.Size(),
				"target", uploader.TargetFolder(), "dryRun", imapCfg.DryRun, "ledger", ledger.Path())

			showBar := progress.Enabled(a.cfg.LogLevel)
			bar := progress.New(archive.Size(), 0, "Exporting messages", showBar)
			filtered, err := exportMessages(cmd.Context(), a, archive, uploader, ledger, f.AllowsRaw, bar)
			bar.Stop()

			counts := uploader.Counts()
			a.logger.Info("export finished", "uploaded", counts.Uploaded, "dryRun", counts.DryRun,
				"skipped", counts.Skipped, "filtered", filtered, "failed", bar.Failed())
			if showBar {
				progress.PrintSummary("Export summary", [][2]any{
					{"Uploaded", counts.Uploaded},
					{"Dry-run uploaded", counts.DryRun},
					{"Already exported (skipped)", counts.Skipped},
					{"Filtered out", filtered},
				})
			}
			return err
		},
	}

	ff = addFilterFlags(cmd)
	config.RegisterIMAPFlags(cmd)
	return cmd
}

type messageUploader interface {
	Upload(ctx context.Context, msg model.Message) (imap.Result, error)
}

// exportMessages reads the archive in one stage and uploads in another, so
// header parsing overlaps with the network round trip. It returns the number
// of messages the filter rejected.
func exportMessages(ctx context.Context, a *app, archive *mbox.Archive, up messageUploader, ledger *state.Ledger, allows func([]byte) bool, bar *progress.Bar) (int, error) {
	r := runner.New(ctx, a.logger)
	queue := make(chan model.Message, 32)
	filtered := 0

	r.AddStage("archive", func(ctx context.Context) error {
		defer close(queue)
		for n := 0; n < archive.Size(); n++ {
			raw, err := archive.Get(n)
			if err != nil {
				return fmt.Errorf("get message %d: %w", n, err)
			}
			if !allows(raw) {
				filtered++
				bar.Increment("")
				continue
			}

			msg, err := mbox.Summarize(n, raw)
			if err != nil {
				a.logger.Warn("message headers unreadable, uploading as is", "message", n, "err", err)
			}
			msg.Raw = mbox.StripEnvelope(raw)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case queue <- msg:
			}
		}
		return nil
	})

	r.AddStage("imap", func(ctx context.Context) error {
		sinceFlush := 0
		for msg := range queue {
			if _, err := up.Upload(ctx, msg); err != nil {
				bar.Fail(err)
				return err
			}
			bar.Increment(msg.ID)

			if sinceFlush++; sinceFlush == ledgerFlushEvery {
				sinceFlush = 0
				if err := ledger.Flush(); err != nil {
					return err
				}
			}
		}
		return ledger.Flush()
	})

	err := r.Wait()
	return filtered, err
}
