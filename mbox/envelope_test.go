package mbox

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

const bareMessage = "Return-Path: <alice@example.org>\n" +
	"From: Alice <alice@example.org>\n" +
	"Subject: escaping\n" +
	"Date: Tue, 02 Jan 2024 08:30:00 +0000\n" +
	"\n" +
	"First line.\n" +
	"From the start of this line it looks like a delimiter.\n"

func TestEnvelope(t *testing.T) {
	date := time.Date(2024, 1, 2, 8, 30, 0, 0, time.UTC)
	entry, err := Envelope("alice@example.org", date, []byte(bareMessage))
	if err != nil {
		t.Fatalf("Envelope() error = %v", err)
	}

	if !bytes.HasPrefix(entry, []byte("From alice@example.org ")) {
		t.Fatalf("entry does not start with a delimiter line: %q", entry)
	}
	if !bytes.Contains(entry, []byte(">From the start")) {
		t.Errorf("body delimiter not escaped: %q", entry)
	}
	if bytes.HasSuffix(entry, []byte("\n")) {
		t.Errorf("entry keeps trailing newlines: %q", entry)
	}

	index, err := Scan(bytes.NewReader(entry))
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(index) != 1 {
		t.Fatalf("wrapped message scans as %d messages, want 1", len(index))
	}
}

func TestEnvelope_DefaultSender(t *testing.T) {
	entry, err := Envelope("  ", time.Time{}, []byte("Subject: x\n\nbody\n"))
	if err != nil {
		t.Fatalf("Envelope() error = %v", err)
	}
	if !bytes.HasPrefix(entry, []byte("From "+DefaultSender+" ")) {
		t.Fatalf("entry = %q, want default sender", entry)
	}
}

func TestEnsureEnvelope(t *testing.T) {
	wrapped, err := EnsureEnvelope([]byte(bareMessage))
	if err != nil {
		t.Fatalf("EnsureEnvelope() error = %v", err)
	}
	if !bytes.HasPrefix(wrapped, []byte("From alice@example.org ")) {
		t.Fatalf("sender not taken from headers: %q", wrapped)
	}

	already := []byte("From bob@example.org Mon Jan  1 10:00:00 2024\nSubject: y\n\nbody")
	same, err := EnsureEnvelope(already)
	if err != nil {
		t.Fatalf("EnsureEnvelope() error = %v", err)
	}
	if !bytes.Equal(same, already) {
		t.Fatalf("existing envelope was rewritten: %q", same)
	}
}

func TestEnsureEnvelope_UnparsableHeaders(t *testing.T) {
	wrapped, err := EnsureEnvelope([]byte("just some text\n"))
	if err != nil {
		t.Fatalf("EnsureEnvelope() error = %v", err)
	}
	if !bytes.HasPrefix(wrapped, []byte("From "+DefaultSender+" ")) {
		t.Fatalf("entry = %q, want default sender", wrapped)
	}
}

func TestReadSource(t *testing.T) {
	var entries [][]byte
	err := ReadSource(bytes.NewReader(testbox), func(n int, entry []byte) error {
		if n != len(entries) {
			t.Errorf("callback number = %d, want %d", n, len(entries))
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadSource() error = %v", err)
	}
	if len(entries) != testboxMessages {
		t.Fatalf("ReadSource() yielded %d messages, want %d", len(entries), testboxMessages)
	}

	if !bytes.HasPrefix(entries[0], []byte("From user0@example.org ")) {
		t.Errorf("first entry = %q", entries[0][:40])
	}
	for i, entry := range entries {
		if !bytes.Contains(entry, []byte(marker(i))) {
			t.Errorf("entry %d does not contain %s", i, marker(i))
		}
	}

	var joined bytes.Buffer
	for _, entry := range entries {
		joined.Write(entry)
		joined.WriteString("\n\n")
	}
	index, err := Scan(&joined)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(index) != testboxMessages {
		t.Fatalf("re-wrapped entries scan as %d messages, want %d", len(index), testboxMessages)
	}
}

func TestReadSource_CallbackError(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := ReadSource(bytes.NewReader(testbox), func(int, []byte) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("ReadSource() error = %v, want %v", err, stop)
	}
	if calls != 1 {
		t.Fatalf("callback called %d times after error, want 1", calls)
	}
}

func TestReadSource_Empty(t *testing.T) {
	err := ReadSource(strings.NewReader(""), func(int, []byte) error {
		t.Fatal("callback called for empty source")
		return nil
	})
	if err != nil {
		t.Fatalf("ReadSource() error = %v", err)
	}
}
