// Package progress draws a terminal progress bar for long archive walks such
// as export and merge.
package progress

import (
	"fmt"
	"sync"

	"github.com/pterm/pterm"
)

// Bar tracks messages handled out of a known total. A disabled Bar is a
// no-op so callers need not branch on the log level.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	done    int
	failed  int
	mu      sync.Mutex
	enabled bool
}

// Enabled reports whether a bar should be drawn for logLevel. Debug output
// would interleave with the bar, and warn/error mean the user asked for quiet.
func Enabled(logLevel string) bool {
	return logLevel == "info"
}

// New starts a bar titled title. alreadyDone advances the bar up front, for
// messages the caller knows it will skip.
func New(total, alreadyDone int, title string, enabled bool) *Bar {
	bar := &Bar{
		total:   total,
		done:    alreadyDone,
		enabled: enabled && total > 0,
	}

	if bar.enabled {
		pb, err := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle(title).
			Start()
		if err != nil {
			bar.enabled = false
			return bar
		}
		bar.pb = pb

		pterm.Info.Printf("Messages in archive: %d\n", total)
		if alreadyDone > 0 {
			pterm.Info.Printf("Already done: %d\n", alreadyDone)
			pterm.Info.Printf("Remaining: %d\n", total-alreadyDone)
		}
		pterm.Println()

		pb.Current = alreadyDone
	}

	return bar
}

// Increment advances the bar by one. label, when set, replaces the title.
func (b *Bar) Increment(label string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.done++
	if !b.enabled || b.pb == nil {
		return
	}
	b.pb.Increment()
	if label != "" {
		if len(label) > 40 {
			label = label[:37] + "..."
		}
		b.pb.UpdateTitle("Processing: " + label)
	}
}

// Fail prints err above the bar and counts it.
func (b *Bar) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failed++
	if !b.enabled || err == nil {
		return
	}
	pterm.Error.Printf("Error: %v\n", err)
}

func (b *Bar) Done() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

func (b *Bar) Failed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failed
}

// Stop finalizes the bar.
func (b *Bar) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.enabled || b.pb == nil {
		return
	}
	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	_, _ = b.pb.Stop()
	b.pb = nil
	pterm.Success.Println("Processing complete!")
}

// PrintSummary renders name/value rows under a section heading.
func PrintSummary(title string, rows [][2]any) {
	pterm.Println()
	pterm.DefaultSection.Println(title)
	for _, row := range rows {
		pterm.Info.Println(fmt.Sprintf("%v: %v", row[0], row[1]))
	}
}
