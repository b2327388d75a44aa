package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMemoryTracker(t *testing.T) {
	tr := NewMemoryTracker()

	if tr.AlreadyExported("INBOX", "h1") {
		t.Fatal("empty tracker reports a hash as exported")
	}
	if err := tr.MarkExported("INBOX", "h1", "<a@b>"); err != nil {
		t.Fatal(err)
	}
	if !tr.AlreadyExported("INBOX", "h1") {
		t.Error("marked hash not reported")
	}
	if tr.AlreadyExported("Archive", "h1") {
		t.Error("hash exported to INBOX reported for another folder")
	}

	if err := tr.MarkExported("INBOX", "", "ignored"); err != nil {
		t.Fatal(err)
	}
	if tr.AlreadyExported("INBOX", "") {
		t.Error("empty hash reported as exported")
	}
	if got := tr.Snapshot().Exported; got != 1 {
		t.Errorf("Snapshot().Exported = %d, want 1", got)
	}
}

func TestLedger_PersistsAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "inbox.mbox")

	ledger, err := OpenLedger(dir, archive, true)
	if err != nil {
		t.Fatalf("OpenLedger() error = %v", err)
	}
	ledger.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	for _, h := range []string{"h1", "h2", "h1"} {
		if err := ledger.MarkExported("INBOX", h, "id-"+h); err != nil {
			t.Fatalf("MarkExported(%s) error = %v", h, err)
		}
	}
	if err := ledger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(ledger.Path())
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("ledger has %d lines, want 2 (duplicates skipped):\n%s", len(lines), data)
	}
	if !strings.Contains(lines[0], `"exported_at":"2024-05-01T12:00:00Z"`) || !strings.Contains(lines[0], `"folder":"INBOX"`) {
		t.Errorf("unexpected record %s", lines[0])
	}

	again, err := OpenLedger(dir, archive, false)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer again.Close()
	if !again.AlreadyExported("INBOX", "h1") || !again.AlreadyExported("INBOX", "h2") {
		t.Error("records lost across runs")
	}
	if got := again.Snapshot().Exported; got != 2 {
		t.Errorf("Snapshot().Exported = %d, want 2", got)
	}
}

func TestLedger_DryRunDoesNotWrite(t *testing.T) {
	dir := t.TempDir()
	ledger, err := OpenLedger(dir, filepath.Join(dir, "a.mbox"), false)
	if err != nil {
		t.Fatal(err)
	}
	if err := ledger.MarkExported("INBOX", "h1", ""); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := ledger.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(ledger.Path()); !os.IsNotExist(err) {
		t.Fatalf("dry-run ledger created a file: %v", err)
	}
}

func TestLedgerPath_PerArchive(t *testing.T) {
	dir := t.TempDir()
	a, err := LedgerPath(dir, "/mail/one/inbox")
	if err != nil {
		t.Fatal(err)
	}
	b, err := LedgerPath(dir, "/mail/two/inbox")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("archives with the same base name share ledger %s", a)
	}
	if !strings.HasPrefix(filepath.Base(a), "inbox-") || filepath.Dir(a) != dir {
		t.Errorf("LedgerPath() = %s", a)
	}
}

func TestOpenLedger_Errors(t *testing.T) {
	if _, err := OpenLedger("  ", "x", true); err == nil {
		t.Error("empty state dir accepted")
	}

	dir := t.TempDir()
	archive := filepath.Join(dir, "bad.mbox")
	path, err := LedgerPath(dir, archive)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{\"hash\":\"ok\"}\nnot json\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenLedger(dir, archive, false); err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("OpenLedger() error = %v, want parse error on line 2", err)
	}
}
