// Package state remembers which archive messages were already exported so a
// rerun of export skips them.
package state

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Tracker interface {
	AlreadyExported(folder, hash string) bool
	MarkExported(folder, hash, messageID string) error
	Snapshot() Snapshot
}

type Snapshot struct {
	Exported int
}

// MemoryTracker keys records by target folder and content hash, so the same
// message exported to a second folder is not considered done.
type MemoryTracker struct {
	mu       sync.RWMutex
	exported map[string]string
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{exported: make(map[string]string)}
}

func key(folder, hash string) string {
	return folder + "\x00" + hash
}

func (m *MemoryTracker) AlreadyExported(folder, hash string) bool {
	if hash == "" {
		return false
	}

	m.mu.RLock()
	_, ok := m.exported[key(folder, hash)]
	m.mu.RUnlock()
	return ok
}

func (m *MemoryTracker) MarkExported(folder, hash, messageID string) error {
	if hash == "" {
		return nil
	}

	m.mu.Lock()
	m.exported[key(folder, hash)] = messageID
	m.mu.Unlock()
	return nil
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.exported)
	m.mu.RUnlock()
	return Snapshot{Exported: count}
}

// Ledger persists export records for one archive as JSON lines in the state
// directory.
type Ledger struct {
	*MemoryTracker
	path    string
	persist bool
	writer  *bufio.Writer
	file    *os.File
	writeMu sync.Mutex
	now     func() time.Time
}

type record struct {
	Hash       string    `json:"hash"`
	MessageID  string    `json:"message_id"`
	Folder     string    `json:"folder"`
	ExportedAt time.Time `json:"exported_at"`
}

// LedgerPath returns the ledger file used for archivePath inside stateDir.
// Archives are told apart by a digest of their absolute path.
func LedgerPath(stateDir, archivePath string) (string, error) {
	abs, err := filepath.Abs(archivePath)
	if err != nil {
		return "", fmt.Errorf("resolve archive path: %w", err)
	}
	sum := sha256.Sum256([]byte(abs))
	name := fmt.Sprintf("%s-%s.jsonl", filepath.Base(abs), hex.EncodeToString(sum[:6]))
	return filepath.Join(stateDir, name), nil
}

// OpenLedger loads the ledger for archivePath. With persist false the ledger
// is read but never written, which is what a dry run wants.
func OpenLedger(stateDir, archivePath string, persist bool) (*Ledger, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	path, err := LedgerPath(stateDir, archivePath)
	if err != nil {
		return nil, err
	}

	ledger := &Ledger{
		MemoryTracker: NewMemoryTracker(),
		path:          path,
		persist:       persist,
		now:           time.Now,
	}

	if err := ledger.load(); err != nil {
		return nil, err
	}

	if persist {
		file, err := os.OpenFile(ledger.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open ledger for append: %w", err)
		}
		ledger.file = file
		ledger.writer = bufio.NewWriterSize(file, 64*1024)
	}

	return ledger, nil
}

func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) load() error {
	file, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var rec record
		if err := json.Unmarshal(text, &rec); err != nil {
			return fmt.Errorf("parse ledger line %d: %w", line, err)
		}
		if rec.Hash == "" {
			continue
		}

		l.mu.Lock()
		l.exported[key(rec.Folder, rec.Hash)] = rec.MessageID
		l.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	return nil
}

func (l *Ledger) MarkExported(folder, hash, messageID string) error {
	if hash == "" {
		return nil
	}

	k := key(folder, hash)
	l.mu.Lock()
	if _, exists := l.exported[k]; exists {
		l.mu.Unlock()
		return nil
	}
	l.exported[k] = messageID
	l.mu.Unlock()

	if !l.persist {
		return nil
	}

	data, err := json.Marshal(record{
		Hash:       hash,
		MessageID:  messageID,
		Folder:     folder,
		ExportedAt: l.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode ledger record: %w", err)
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("write ledger record: %w", err)
	}
	if err := l.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}

	return nil
}

// Flush writes any buffered records to disk.
func (l *Ledger) Flush() error {
	if !l.persist || l.writer == nil {
		return nil
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("flush ledger: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}
	return nil
}

func (l *Ledger) Close() error {
	if !l.persist || l.file == nil {
		return nil
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	var firstErr error
	if err := l.writer.Flush(); err != nil {
		firstErr = fmt.Errorf("flush ledger: %w", err)
	}
	if err := l.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync ledger: %w", err)
	}
	if err := l.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close ledger: %w", err)
	}
	l.file = nil

	return firstErr
}
