package state

import (
	"fmt"
	"path/filepath"
	"testing"
)

func BenchmarkLedger_MarkExported(b *testing.B) {
	dir := b.TempDir()
	ledger, err := OpenLedger(dir, filepath.Join(dir, "inbox.mbox"), true)
	if err != nil {
		b.Fatal(err)
	}
	defer ledger.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := ledger.MarkExported("INBOX", fmt.Sprintf("hash-%d", i), fmt.Sprintf("msg-%d", i)); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()

	if err := ledger.Close(); err != nil {
		b.Fatal(err)
	}
}

func BenchmarkLedger_AlreadyExported(b *testing.B) {
	dir := b.TempDir()
	ledger, err := OpenLedger(dir, filepath.Join(dir, "inbox.mbox"), false)
	if err != nil {
		b.Fatal(err)
	}

	for i := 0; i < 1000; i++ {
		if err := ledger.MarkExported("INBOX", fmt.Sprintf("hash-%d", i), ""); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ledger.AlreadyExported("INBOX", fmt.Sprintf("hash-%d", i%1000))
	}
}

// BenchmarkLedger_Load measures reopening a ledger with 10000 records.
func BenchmarkLedger_Load(b *testing.B) {
	dir := b.TempDir()
	archive := filepath.Join(dir, "inbox.mbox")

	ledger, err := OpenLedger(dir, archive, true)
	if err != nil {
		b.Fatal(err)
	}
	for i := 0; i < 10000; i++ {
		if err := ledger.MarkExported("INBOX", fmt.Sprintf("hash-%d", i), fmt.Sprintf("msg-%d", i)); err != nil {
			b.Fatal(err)
		}
	}
	if err := ledger.Close(); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l, err := OpenLedger(dir, archive, false)
		if err != nil {
			b.Fatal(err)
		}
		l.Close()
	}
}
