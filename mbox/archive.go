package mbox

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dhcgn/mbox-index/stats"
)

// Options configures an Archive. The zero value is usable: scratch files go
// to os.TempDir() and mutations re-index automatically.
type Options struct {
	// ScratchDir is where rewrites assemble the new archive.
	ScratchDir string
	// Debug logs the byte range of every Get at debug level.
	Debug bool
	// DisableAutoReopen leaves the in-memory index untouched after a
	// mutation until Reopen is called.
	DisableAutoReopen bool
	Logger            *slog.Logger
	Observer          stats.Observer
}

// Archive is an indexed handle on one mbox file. It is not safe for
// concurrent use, and two handles on the same path share nothing.
type Archive struct {
	path    string
	file    *os.File
	index   []Boundary
	modTime time.Time

	scratchDir string
	debug      bool
	autoReopen bool

	logger   *slog.Logger
	observer stats.Observer
}

func New(opts Options) *Archive {
	scratchDir := strings.TrimSpace(opts.ScratchDir)
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	return &Archive{
		scratchDir: scratchDir,
		debug:      opts.Debug,
		autoReopen: !opts.DisableAutoReopen,
		logger:     opts.Logger,
		observer:   opts.Observer,
	}
}

// Open is a shortcut for New followed by (*Archive).Open.
func Open(path string, opts Options) (*Archive, error) {
	a := New(opts)
	if err := a.Open(path); err != nil {
		return nil, err
	}
	return a, nil
}

// Open indexes the archive at path. Calling it on an open handle replaces the
// file, the index and the staleness baseline; on failure the handle keeps its
// previous state.
func (a *Archive) Open(path string) error {
	started := time.Now()

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = fmt.Errorf("open %s: %w: %w", path, ErrNotFound, err)
		} else {
			err = fmt.Errorf("open %s: %w: %w", path, ErrAccessDenied, err)
		}
		a.observe(stats.Event{Op: stats.OpOpen, Path: path, Err: err})
		return err
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		err = fmt.Errorf("stat %s: %w: %w", path, ErrIO, err)
		a.observe(stats.Event{Op: stats.OpOpen, Path: path, Err: err})
		return err
	}
	if info.IsDir() {
		_ = file.Close()
		err = fmt.Errorf("open %s: %w: is a directory", path, ErrAccessDenied)
		a.observe(stats.Event{Op: stats.OpOpen, Path: path, Err: err})
		return err
	}

	index, err := Scan(file)
	if err != nil {
		_ = file.Close()
		err = fmt.Errorf("index %s: %w: %w", path, ErrIO, err)
		a.observe(stats.Event{Op: stats.OpOpen, Path: path, Err: err})
		return err
	}

	if a.file != nil {
		if err := a.file.Close(); err != nil && a.logger != nil {
			a.logger.Warn("close previous archive handle", "path", a.path, "err", err)
		}
	}

	a.path = path
	a.file = file
	a.index = index
	a.modTime = info.ModTime()

	if a.logger != nil {
		a.logger.Debug("archive indexed", "path", path, "messages", len(index), "bytes", info.Size())
	}
	a.observe(stats.Event{
		Op:       stats.OpOpen,
		Path:     path,
		Messages: len(index),
		Bytes:    info.Size(),
		Duration: time.Since(started),
	})
	return nil
}

// Reopen re-indexes the archive from its current content on disk.
func (a *Archive) Reopen() error {
	if a.path == "" {
		return fmt.Errorf("reopen: %w", ErrNotOpen)
	}
	return a.Open(a.path)
}

// Close releases the file. The index is kept, so Size still answers, but Get
// and every mutation fail until the archive is opened again.
func (a *Archive) Close() error {
	if a.file == nil {
		return fmt.Errorf("close %s: %w", a.path, ErrNotOpen)
	}
	file := a.file
	a.file = nil
	if err := file.Close(); err != nil {
		return fmt.Errorf("close %s: %w: %w", a.path, ErrIO, err)
	}
	return nil
}

// Size returns the number of indexed messages.
func (a *Archive) Size() int {
	return len(a.index)
}

func (a *Archive) Path() string {
	return a.path
}

// Boundaries returns a copy of the current index.
func (a *Archive) Boundaries() []Boundary {
	out := make([]Boundary, len(a.index))
	copy(out, a.index)
	return out
}

// Get returns message n, delimiter line included, with one trailing newline.
// It trusts the index: call HasBeenModified first when the file may have
// changed underneath.
func (a *Archive) Get(n int) ([]byte, error) {
	if n < 0 || n >= len(a.index) {
		return nil, fmt.Errorf("message %d: %w", n, ErrNotFound)
	}
	if a.file == nil {
		return nil, fmt.Errorf("message %d: %w", n, ErrNotOpen)
	}

	b := a.index[n]
	if a.debug && a.logger != nil {
		a.logger.Debug("message range", "path", a.path, "message", n, "start", b.Start, "end", b.End)
	}

	length := b.Len()
	if length <= 0 {
		return []byte{}, nil
	}

	msg := make([]byte, length+1)
	if _, err := a.file.ReadAt(msg[:length], b.Start); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		err = fmt.Errorf("read message %d: %w: %w", n, ErrIO, err)
		a.observe(stats.Event{Op: stats.OpGet, Path: a.path, Err: err})
		return nil, err
	}
	msg[length] = '\n'

	a.observe(stats.Event{Op: stats.OpGet, Path: a.path, Messages: 1, Bytes: length})
	return msg, nil
}

// HasBeenModified reports whether the file's modification time moved past the
// one captured at the last successful open. A file that can no longer be
// stat'ed counts as modified.
func (a *Archive) HasBeenModified() bool {
	if a.path == "" {
		return false
	}
	info, err := os.Stat(a.path)
	if err != nil {
		return true
	}
	return info.ModTime().After(a.modTime)
}

func (a *Archive) ScratchDir() string {
	return a.scratchDir
}

func (a *Archive) SetScratchDir(dir string) {
	a.scratchDir = dir
}

func (a *Archive) Debug() bool {
	return a.debug
}

func (a *Archive) SetDebug(debug bool) {
	a.debug = debug
}

func (a *Archive) AutoReopen() bool {
	return a.autoReopen
}

func (a *Archive) SetAutoReopen(autoReopen bool) {
	a.autoReopen = autoReopen
}

func (a *Archive) observe(evt stats.Event) {
	if a.observer != nil {
		a.observer.Observe(evt)
	}
}
