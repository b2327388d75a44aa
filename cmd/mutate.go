package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-index/mbox"
	"github.com/dhcgn/mbox-index/progress"
)

func newRemoveCmd(a *app) *cobra.Command {
	var ff *filterFlags

	cmd := &cobra.Command{
		Use:   "remove <mbox> [n...]",
		Short: "Remove messages by number or by filter match",
		Long: "Remove the listed message numbers. With --include-*/--exclude-* flags, every " +
			"message the patterns select is removed as well.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := ff.build()
			if err != nil {
				return err
			}
			if len(args) == 1 && !f.Active() {
				return fmt.Errorf("nothing to remove: pass message numbers or a filter")
			}

			ids := make([]int, 0, len(args)-1)
			for _, arg := range args[1:] {
				n, err := parseMessageNumber(arg)
				if err != nil {
					return err
				}
				ids = append(ids, n)
			}

			archive, err := a.openArchive(args[0])
			if err != nil {
				return err
			}
			defer closeArchive(archive, a.logger)

			if f.Active() {
				for n := 0; n < archive.Size(); n++ {
					raw, err := archive.Get(n)
					if err != nil {
						return fmt.Errorf("get message %d: %w", n, err)
					}
					if f.Matches(raw) {
						ids = append(ids, n)
					}
				}
			}
			if len(ids) == 0 {
				a.logger.Info("no messages matched", "path", archive.Path())
				return nil
			}

			before := archive.Size()
			if err := archive.Remove(ids...); err != nil {
				return fmt.Errorf("remove: %w", err)
			}

			sort.Ints(ids)
			a.logger.Info("messages removed", "path", archive.Path(), "ids", ids, "before", before, "after", archive.Size())
			return nil
		},
	}

	ff = addFilterFlags(cmd)
	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	var (
		file string
		wrap bool
	)

	cmd := &cobra.Command{
		Use:   "update <mbox> <n>",
		Short: "Replace message n with new content",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseMessageNumber(args[1])
			if err != nil {
				return err
			}
			content, err := readContent(cmd, file)
			if err != nil {
				return err
			}
			if content, err = prepareContent(a, content, wrap, ""); err != nil {
				return err
			}

			archive, err := a.openArchive(args[0])
			if err != nil {
				return err
			}
			defer closeArchive(archive, a.logger)

			if err := archive.Update(n, content); err != nil {
				return fmt.Errorf("update message %d: %w", n, err)
			}
			a.logger.Info("message updated", "path", archive.Path(), "message", n, "bytes", len(content))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "File with the new message, - for stdin")
	cmd.Flags().BoolVar(&wrap, "wrap", false, "Add an mbox envelope when the content has none")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newInsertCmd(a *app) *cobra.Command {
	return insertCommand(a, "insert <mbox>", "Insert a message before position --at, or at the end", true)
}

func newAppendCmd(a *app) *cobra.Command {
	return insertCommand(a, "append <mbox>", "Append a message to the end of the archive", false)
}

func insertCommand(a *app, use, short string, withOffset bool) *cobra.Command {
	var (
		file   string
		wrap   bool
		sender string
		at     int
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd, file)
			if err != nil {
				return err
			}
			if content, err = prepareContent(a, content, wrap, sender); err != nil {
				return err
			}

			offset := mbox.End
			if withOffset && cmd.Flags().Changed("at") {
				offset = mbox.At(at)
			}

			archive, err := a.openArchive(args[0])
			if err != nil {
				return err
			}
			defer closeArchive(archive, a.logger)

			if err := archive.Insert(content, offset); err != nil {
				return fmt.Errorf("insert at %s: %w", offset, err)
			}
			a.logger.Info("message inserted", "path", archive.Path(), "at", offset.String(), "bytes", len(content), "messages", archive.Size())
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "File with the message to add, - for stdin")
	cmd.Flags().BoolVar(&wrap, "wrap", false, "Add an mbox envelope when the content has none")
	cmd.Flags().StringVar(&sender, "sender", "", "Envelope sender used with --wrap (default: taken from the headers)")
	if withOffset {
		cmd.Flags().IntVar(&at, "at", -1, "Message number to insert before; negative or past the end appends")
	}
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newMergeCmd(a *app) *cobra.Command {
	var ff *filterFlags

	cmd := &cobra.Command{
		Use:   "merge <mbox> <source>",
		Short: "Append every message of another mbox file in a single rewrite",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := ff.build()
			if err != nil {
				return err
			}

			archive, err := a.openArchive(args[0])
			if err != nil {
				return err
			}
			defer closeArchive(archive, a.logger)

			source, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("open source: %w", err)
			}
			defer source.Close()

			boundaries, err := mbox.Scan(source)
			if err != nil {
				return fmt.Errorf("scan source %s: %w", args[1], err)
			}
			if _, err := source.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("rewind source: %w", err)
			}

			var (
				entries [][]byte
				skipped int
			)
			bar := progress.New(len(boundaries), 0, "Reading "+filepath.Base(args[1]), progress.Enabled(a.cfg.LogLevel))
			err = mbox.ReadSource(source, func(n int, entry []byte) error {
				bar.Increment("")
				if !f.AllowsRaw(entry) {
					skipped++
					return nil
				}
				entries = append(entries, entry)
				return nil
			})
			bar.Stop()
			if err != nil {
				return fmt.Errorf("read source %s: %w", args[1], err)
			}
			if len(entries) == 0 {
				a.logger.Info("nothing to merge", "source", args[1], "skipped", skipped)
				return nil
			}

			if err := archive.AppendAll(entries); err != nil {
				return fmt.Errorf("merge: %w", err)
			}
			a.logger.Info("source merged", "path", archive.Path(), "source", args[1],
				"merged", len(entries), "skipped", skipped, "messages", archive.Size())
			return nil
		},
	}

	ff = addFilterFlags(cmd)
	return cmd
}

func readContent(cmd *cobra.Command, file string) ([]byte, error) {
	var (
		content []byte
		err     error
	)
	if file == "-" {
		content, err = io.ReadAll(cmd.InOrStdin())
	} else {
		content, err = os.ReadFile(file)
	}
	if err != nil {
		return nil, fmt.Errorf("read message content: %w", err)
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("message content is empty")
	}
	return content, nil
}

// prepareContent optionally wraps content in an envelope. Content without a
// "From " line that is not wrapped would fuse with the preceding message on
// the next index, so that case is logged.
func prepareContent(a *app, content []byte, wrap bool, sender string) ([]byte, error) {
	if mbox.HasEnvelope(content) {
		return content, nil
	}
	if !wrap {
		a.logger.Warn("content has no \"From \" line and will join the preceding message; use --wrap to add one")
		return content, nil
	}
	if sender != "" {
		return mbox.Envelope(sender, time.Now(), content)
	}
	return mbox.EnsureEnvelope(content)
}
