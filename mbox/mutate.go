package mbox

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dhcgn/mbox-index/stats"
)

var messageTerminator = []byte("\n\n")

const scratchBufferSize = 64 * 1024

// Remove deletes the given messages. Every id must be in range, otherwise
// nothing is written.
func (a *Archive) Remove(ids ...int) error {
	if err := a.guard(stats.OpRemove); err != nil {
		return err
	}

	drop := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if id < 0 || id >= len(a.index) {
			return a.fail(stats.OpRemove, fmt.Errorf("remove message %d: %w", id, ErrNotFound))
		}
		drop[id] = struct{}{}
	}
	if len(drop) == 0 {
		return nil
	}

	return a.rewrite(stats.OpRemove, len(drop), func(w *scratchWriter) error {
		for n := range a.index {
			if _, ok := drop[n]; ok {
				continue
			}
			if err := a.copyMessage(w, n); err != nil {
				return err
			}
		}
		return nil
	})
}

// Update replaces message id with content. Content is stored as given plus a
// blank line, so it should start with its own "From " line.
func (a *Archive) Update(id int, content []byte) error {
	if err := a.guard(stats.OpUpdate); err != nil {
		return err
	}
	if id < 0 || id >= len(a.index) {
		return a.fail(stats.OpUpdate, fmt.Errorf("update message %d: %w", id, ErrNotFound))
	}

	return a.rewrite(stats.OpUpdate, 1, func(w *scratchWriter) error {
		for n := range a.index {
			if n == id {
				if err := w.writeMessage(content); err != nil {
					return err
				}
				continue
			}
			if err := a.copyMessage(w, n); err != nil {
				return err
			}
		}
		return nil
	})
}

// Insert stores content before the message currently at the given offset.
// Offsets at or past Size, and End, append after the last message.
func (a *Archive) Insert(content []byte, at Offset) error {
	if err := a.guard(stats.OpInsert); err != nil {
		return err
	}

	pos := at.resolve(len(a.index))
	return a.rewrite(stats.OpInsert, 1, func(w *scratchWriter) error {
		for n := range a.index {
			if n == pos {
				if err := w.writeMessage(content); err != nil {
					return err
				}
			}
			if err := a.copyMessage(w, n); err != nil {
				return err
			}
		}
		if pos == len(a.index) {
			return w.writeMessage(content)
		}
		return nil
	})
}

func (a *Archive) Append(content []byte) error {
	return a.Insert(content, End)
}

// AppendAll appends every message in order with a single rewrite.
func (a *Archive) AppendAll(contents [][]byte) error {
	if err := a.guard(stats.OpInsert); err != nil {
		return err
	}
	if len(contents) == 0 {
		return nil
	}

	return a.rewrite(stats.OpInsert, len(contents), func(w *scratchWriter) error {
		for n := range a.index {
			if err := a.copyMessage(w, n); err != nil {
				return err
			}
		}
		for _, content := range contents {
			if err := w.writeMessage(content); err != nil {
				return err
			}
		}
		return nil
	})
}

// guard rejects mutations on a closed handle or a file that changed since it
// was indexed.
func (a *Archive) guard(op stats.Op) error {
	if a.file == nil {
		return a.fail(op, fmt.Errorf("%s: %w", op, ErrNotOpen))
	}
	if a.HasBeenModified() {
		err := fmt.Errorf("%s %s: %w", op, a.path, ErrStale)
		if a.logger != nil {
			a.logger.Warn("refusing to rewrite stale archive", "path", a.path, "op", string(op))
		}
		a.observe(stats.Event{Op: stats.OpStale, Path: a.path, Err: err})
		return err
	}
	return nil
}

func (a *Archive) fail(op stats.Op, err error) error {
	a.observe(stats.Event{Op: op, Path: a.path, Err: err})
	return err
}

// rewrite streams the new archive into a scratch file, installs it over the
// original path and re-indexes when auto-reopen is on. The original is not
// touched until the scratch file is complete and synced.
func (a *Archive) rewrite(op stats.Op, affected int, fill func(*scratchWriter) error) error {
	started := time.Now()

	scratchPath := filepath.Join(a.scratchDir, "mbox-"+uuid.NewString()+".tmp")
	scratch, err := os.OpenFile(scratchPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return a.fail(op, fmt.Errorf("create scratch file: %w: %w", ErrScratchFile, err))
	}

	installed := false
	defer func() {
		if !installed {
			_ = os.Remove(scratchPath)
		}
	}()

	w := &scratchWriter{w: bufio.NewWriterSize(scratch, scratchBufferSize)}
	if err := fill(w); err != nil {
		_ = scratch.Close()
		return a.fail(op, err)
	}
	if err := w.w.Flush(); err != nil {
		_ = scratch.Close()
		return a.fail(op, fmt.Errorf("flush scratch file: %w: %w", ErrScratchFile, err))
	}
	if err := scratch.Sync(); err != nil {
		_ = scratch.Close()
		return a.fail(op, fmt.Errorf("sync scratch file: %w: %w", ErrScratchFile, err))
	}
	if err := scratch.Close(); err != nil {
		return a.fail(op, fmt.Errorf("close scratch file: %w: %w", ErrScratchFile, err))
	}

	if err := replaceFile(scratchPath, a.path); err != nil {
		return a.fail(op, fmt.Errorf("install %s: %w: %w", a.path, ErrReplace, err))
	}
	installed = true

	if a.logger != nil {
		a.logger.Debug("archive rewritten", "path", a.path, "op", string(op), "messages", affected, "bytes", w.written, "duration", time.Since(started))
	}
	a.observe(stats.Event{
		Op:       op,
		Path:     a.path,
		Messages: affected,
		Bytes:    w.written,
		Duration: time.Since(started),
	})

	if !a.autoReopen {
		return nil
	}
	if err := a.Open(a.path); err != nil {
		return fmt.Errorf("reopen after %s: %w", op, err)
	}
	return nil
}

// copyMessage streams message n from the archive, with the same trailing
// newline Get adds. Empty messages are dropped.
func (a *Archive) copyMessage(w *scratchWriter, n int) error {
	b := a.index[n]
	if b.Len() <= 0 {
		return nil
	}

	copied, err := io.Copy(w, io.NewSectionReader(a.file, b.Start, b.Len()))
	if err == nil && copied != b.Len() {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		if w.err != nil {
			return fmt.Errorf("copy message %d: %w: %w", n, ErrScratchFile, err)
		}
		return fmt.Errorf("copy message %d: %w: %w", n, ErrIO, err)
	}

	if _, err := w.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("copy message %d: %w: %w", n, ErrScratchFile, err)
	}
	return nil
}

// scratchWriter remembers the first write error so copy failures can be
// told apart from read failures on the archive.
type scratchWriter struct {
	w       *bufio.Writer
	written int64
	err     error
}

func (s *scratchWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	s.written += int64(n)
	if err != nil && s.err == nil {
		s.err = err
	}
	return n, err
}

func (s *scratchWriter) writeMessage(content []byte) error {
	if _, err := s.Write(content); err != nil {
		return fmt.Errorf("write message: %w: %w", ErrScratchFile, err)
	}
	if _, err := s.Write(messageTerminator); err != nil {
		return fmt.Errorf("write message: %w: %w", ErrScratchFile, err)
	}
	return nil
}

// replaceFile moves src over dst, keeping dst's permission bits. When a plain
// rename fails (typically a scratch directory on another filesystem) the
// content is first staged next to dst so the final step is still a rename.
func replaceFile(src, dst string) error {
	info, err := os.Stat(dst)
	if err != nil {
		return err
	}
	perm := info.Mode().Perm()
	if err := os.Chmod(src, perm); err != nil {
		return err
	}

	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	staged := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+"."+uuid.NewString()+".tmp")
	if err := copyFile(src, staged, perm); err != nil {
		_ = os.Remove(staged)
		return err
	}
	if err := os.Rename(staged, dst); err != nil {
		_ = os.Remove(staged)
		return err
	}
	_ = os.Remove(src)
	return nil
}

func copyFile(src, dst string, perm os.FileMode) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
