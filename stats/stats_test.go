package stats

import (
	"bytes"
	"errors"
	"testing"
)

func TestCollector_Observe(t *testing.T) {
	c := NewCollector()

	c.Observe(Event{Op: OpOpen, Messages: 11})
	c.Observe(Event{Op: OpGet, Bytes: 100})
	c.Observe(Event{Op: OpGet, Bytes: 50})
	c.Observe(Event{Op: OpRemove, Messages: 7})
	c.Observe(Event{Op: OpInsert, Messages: 1})
	c.Observe(Event{Op: OpUpdate, Messages: 1})
	c.Observe(Event{Op: OpOpen, Messages: 3})

	got := c.Snapshot()
	want := Summary{
		Opens:     2,
		Indexed:   3,
		Reads:     2,
		BytesRead: 150,
		Rewrites:  3,
		Removed:   7,
		Inserted:  1,
		Updated:   1,
	}
	if got != want {
		t.Fatalf("Snapshot() = %+v, want %+v", got, want)
	}
}

func TestCollector_Errors(t *testing.T) {
	c := NewCollector()
	stale := errors.New("stale")
	boom := errors.New("boom")

	c.Observe(Event{Op: OpStale, Err: stale})
	c.Observe(Event{Op: OpRemove, Err: boom})

	got := c.Snapshot()
	if got.Errors != 2 {
		t.Errorf("Errors = %d, want 2", got.Errors)
	}
	if got.StaleRejections != 1 {
		t.Errorf("StaleRejections = %d, want 1", got.StaleRejections)
	}
	if got.Rewrites != 0 {
		t.Errorf("failed mutation counted as rewrite: %d", got.Rewrites)
	}
	if !errors.Is(got.LastError, boom) {
		t.Errorf("LastError = %v, want %v", got.LastError, boom)
	}
}

func TestMulti(t *testing.T) {
	a, b := NewCollector(), NewCollector()
	obs := Multi(a, nil, b)

	obs.Observe(Event{Op: OpGet, Bytes: 10})

	if a.Snapshot().Reads != 1 || b.Snapshot().Reads != 1 {
		t.Fatalf("event not delivered to every observer: %+v %+v", a.Snapshot(), b.Snapshot())
	}
}

func TestSummary_LogAttrs(t *testing.T) {
	s := Summary{Errors: 1, LastError: errors.New("last")}
	attrs := s.LogAttrs()
	if len(attrs)%2 != 0 {
		t.Fatalf("attrs must be key/value pairs, got %d items", len(attrs))
	}
	if attrs[len(attrs)-2] != "lastError" || attrs[len(attrs)-1] != "last" {
		t.Errorf("lastError missing from attrs: %v", attrs)
	}
}

func TestTop(t *testing.T) {
	m := map[string]int{"b": 2, "a": 2, "c": 5, "d": 1}

	got := Top(m, 3)
	want := []Pair{{"c", 5}, {"a", 2}, {"b", 2}}
	if len(got) != len(want) {
		t.Fatalf("Top() returned %d pairs, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Top()[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if all := Top(m, 10); len(all) != 4 {
		t.Errorf("Top() with large limit = %d pairs, want 4", len(all))
	}
}

func TestPrettyPrintTop(t *testing.T) {
	var buf bytes.Buffer
	PrettyPrintTop(&buf, map[string]int{"x": 1, "y": 3}, 5)

	if got, want := buf.String(), "1. y (3)\n2. x (1)\n"; got != want {
		t.Errorf("PrettyPrintTop() wrote %q, want %q", got, want)
	}
}
