package cmd

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-index/filter"
	"github.com/dhcgn/mbox-index/mbox"
	"github.com/dhcgn/mbox-index/progress"
	"github.com/dhcgn/mbox-index/stats"
)

var headersToTrack = []string{"Delivered-To", "Subject", "From", "To"}

func newStatsCmd(a *app) *cobra.Command {
	var (
		reportDir string
		topN      int
		csvLimit  int
		ff        *filterFlags
	)

	cmd := &cobra.Command{
		Use:     "stats <mbox>",
		Aliases: []string{"mbox-stats"},
		Short:   "Analyse the archive and show header statistics",
		Args:    cobra.ExactArgs(1),
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

			counter := make(map[string]map[string]int, len(headersToTrack))
			for _, h := range headersToTrack {
				counter[h] = make(map[string]int)
			}

			bar := progress.New(archive.Size(), 0, "Analysing messages", progress.Enabled(a.cfg.LogLevel))
			messageCount, skippedCount := 0, 0
			for n := 0; n < archive.Size(); n++ {
				raw, err := archive.Get(n)
				if err != nil {
					bar.Stop()
					return fmt.Errorf("get message %d: %w", n, err)
				}
				bar.Increment("")

				if !f.AllowsRaw(raw) {
					skippedCount++
					continue
				}
				messageCount++

				header, err := readHeader(raw)
				if err != nil {
					a.logger.Debug("message headers unreadable", "message", n, "err", err)
					continue
				}
				for _, name := range headersToTrack {
					if value := header.Get(name); value != "" {
						counter[name][value]++
					}
				}
			}
			bar.Stop()

			out := cmd.OutOrStdout()
			printStats(out, messageCount, skippedCount, f.GetStats(), counter, topN)

			if err := saveCSVReports(counter, headersToTrack, reportDir, csvLimit); err != nil {
				return fmt.Errorf("error saving CSV reports: %w", err)
			}
			fmt.Fprintf(out, "\nReports saved to directory: %s\n", reportDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&reportDir, "output", "o", ".", "Output directory for CSV reports")
	cmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	cmd.Flags().IntVar(&csvLimit, "csv-limit", 1000, "Maximum rows per CSV report")
	ff = addFilterFlags(cmd)
	return cmd
}

func readHeader(raw []byte) (mail.Header, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(mbox.StripEnvelope(raw)))
	if err != nil {
		return nil, err
	}
	return msg.Header, nil
}

func printStats(w io.Writer, messageCount, skippedCount int, fs filter.Stats, counter map[string]map[string]int, topN int) {
	total := messageCount + skippedCount
	var filterPercent float64
	if total > 0 {
		filterPercent = float64(skippedCount) / float64(total) * 100
	}
	fmt.Fprintf(w, "Processed %d messages (skipped %d by filters, %.2f%%)...\n\n", messageCount, skippedCount, filterPercent)

	sections := []struct {
		title    string
		patterns []string
	}{
		{"Include Header Filters:", fs.IncludeHeaderPatterns},
		{"Include Body Filters:", fs.IncludeBodyPatterns},
		{"Exclude Header Filters:", fs.ExcludeHeaderPatterns},
		{"Exclude Body Filters:", fs.ExcludeBodyPatterns},
	}
	hasFilterStats := false
	for _, s := range sections {
		if len(s.patterns) == 0 {
			continue
		}
		hasFilterStats = true
		fmt.Fprintln(w, s.title)
		printFilterHits(w, s.patterns, fs.Hits)
		fmt.Fprintln(w)
	}
	if hasFilterStats {
		fmt.Fprintln(w, "---")
		fmt.Fprintln(w)
	}

	for _, header := range headersToTrack {
		fmt.Fprintf(w, "Top %d %s:\n", topN, header)
		stats.PrettyPrintTop(w, counter[header], topN)
		fmt.Fprintln(w)
	}
}

func saveCSVReports(counter map[string]map[string]int, headers []string, dir string, limit int) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, header := range headers {
		filename := fmt.Sprintf("report_%s.csv", normalizeHeaderName(header))
		if err := writeCSVReport(filepath.Join(dir, filename), stats.Top(counter[header], limit)); err != nil {
			return err
		}
	}
	return nil
}

func writeCSVReport(path string, pairs []stats.Pair) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		return err
	}
	for _, p := range pairs {
		if err := writer.Write([]string{p.Key, strconv.Itoa(p.Value)}); err != nil {
			return err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

func normalizeHeaderName(header string) string {
	name := strings.ToLower(header)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}

func printFilterHits(w io.Writer, patterns []string, hits map[string]int) {
	type pair struct {
		Pattern string
		Count   int
	}
	pairs := make([]pair, 0, len(patterns))
	for _, pattern := range patterns {
		pairs = append(pairs, pair{pattern, hits[pattern]})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Count != pairs[j].Count {
			return pairs[i].Count > pairs[j].Count
		}
		return pairs[i].Pattern < pairs[j].Pattern
	})

	for _, p := range pairs {
		if p.Count > 0 {
			fmt.Fprintf(w, "  ✓ %s: %d hits\n", p.Pattern, p.Count)
		} else {
			fmt.Fprintf(w, "  ✗ %s: 0 hits\n", p.Pattern)
		}
	}
}
