package stats

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Op string

const (
	OpOpen   Op = "open"
	OpGet    Op = "get"
	OpRemove Op = "remove"
	OpUpdate Op = "update"
	OpInsert Op = "insert"
	OpStale  Op = "stale"
)

// Event describes one completed archive operation. Messages is the number of
// messages affected (indexed for open, removed/inserted/updated for mutations).
type Event struct {
	Op       Op
	Path     string
	Messages int
	Bytes    int64
	Duration time.Duration
	Err      error
}

// Observer receives archive events. Implementations must be cheap; they run
// inline with the operation that produced the event.
type Observer interface {
	Observe(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) Observe(evt Event) { f(evt) }

// Multi fans events out to every non-nil observer.
func Multi(observers ...Observer) Observer {
	list := make([]Observer, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			list = append(list, o)
		}
	}
	return ObserverFunc(func(evt Event) {
		for _, o := range list {
			o.Observe(evt)
		}
	})
}

type Summary struct {
	Opens           int
	Indexed         int
	Reads           int
	BytesRead       int64
	Rewrites        int
	Removed         int
	Inserted        int
	Updated         int
	StaleRejections int
	Errors          int
	LastError       error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"opens", s.Opens,
		"indexed", s.Indexed,
		"reads", s.Reads,
		"bytesRead", s.BytesRead,
		"rewrites", s.Rewrites,
		"removed", s.Removed,
		"inserted", s.Inserted,
		"updated", s.Updated,
		"staleRejections", s.StaleRejections,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Observe(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if evt.Err != nil {
		c.summary.Errors++
		c.summary.LastError = evt.Err
		if evt.Op == OpStale {
			c.summary.StaleRejections++
		}
		return
	}

	switch evt.Op {
	case OpOpen:
		c.summary.Opens++
		c.summary.Indexed = evt.Messages
	case OpGet:
		c.summary.Reads++
		c.summary.BytesRead += evt.Bytes
	case OpRemove:
		c.summary.Rewrites++
		c.summary.Removed += evt.Messages
	case OpInsert:
		c.summary.Rewrites++
		c.summary.Inserted += evt.Messages
	case OpUpdate:
		c.summary.Rewrites++
		c.summary.Updated += evt.Messages
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

// Reporter logs the collected summary once a command finishes.
type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(logger *slog.Logger) *Reporter {
	return &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
}

func (r *Reporter) Observe(evt Event) {
	r.collector.Observe(evt)
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

func (r *Reporter) Report() {
	if r.logger == nil {
		return
	}
	attrs := append(r.Summary().LogAttrs(), "duration", time.Since(r.started))
	r.logger.Info("stats summary", attrs...)
}

// PrettyPrintTop writes the top N most frequent items in a map to w.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	for i, p := range Top(m, limit) {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, p.Key, p.Value)
	}
}

type Pair struct {
	Key   string
	Value int
}

// Top returns up to limit entries ordered by descending count, ties by key.
func Top(m map[string]int, limit int) []Pair {
	pairs := make([]Pair, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	if limit >= 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}
