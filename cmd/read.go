package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-index/mbox"
)

func newCountCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count <mbox>",
		Short: "Print the number of messages in the archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			archive, err := a.openArchive(args[0])
			if err != nil {
				return err
			}
			defer closeArchive(archive, a.logger)

			_, err = fmt.Fprintln(cmd.OutOrStdout(), archive.Size())
			return err
		},
	}
}

func newGetCmd(a *app) *cobra.Command {
	var stripEnvelope bool

	cmd := &cobra.Command{
		Use:   "get <mbox> <n>",
		Short: "Write message n to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := parseMessageNumber(args[1])
			if err != nil {
				return err
			}

			archive, err := a.openArchive(args[0])
			if err != nil {
				return err
			}
			defer closeArchive(archive, a.logger)

			raw, err := archive.Get(n)
			if err != nil {
				return fmt.Errorf("get message %d: %w", n, err)
			}
			if stripEnvelope {
				raw = mbox.StripEnvelope(raw)
			}
			_, err = cmd.OutOrStdout().Write(raw)
			return err
		},
	}

	cmd.Flags().BoolVar(&stripEnvelope, "strip-envelope", false, "Omit the leading \"From \" line")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var ff *filterFlags

	cmd := &cobra.Command{
		Use:   "list <mbox>",
		Short: "List message numbers with date, Message-Id and subject",
		Args:  cobra.ExactArgs(1),
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

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tDATE\tMESSAGE-ID\tSUBJECT")

			for n := 0; n < archive.Size(); n++ {
				raw, err := archive.Get(n)
				if err != nil {
					return fmt.Errorf("get message %d: %w", n, err)
				}
				if !f.AllowsRaw(raw) {
					continue
				}

				msg, err := mbox.Summarize(n, raw)
				if err != nil {
					a.logger.Debug("message headers unreadable", "message", n, "err", err)
				}
				date := "-"
				if !msg.ReceivedAt.IsZero() {
					date = msg.ReceivedAt.UTC().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", n, date, orDash(msg.ID), orDash(msg.Subject))
			}
			return tw.Flush()
		},
	}

	ff = addFilterFlags(cmd)
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
