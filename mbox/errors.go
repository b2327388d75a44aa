package mbox

import "errors"

// Sentinel errors returned by archive operations. Operations wrap them with
// context and the underlying cause; compare with errors.Is.
var (
	// ErrNotFound is returned when the archive path does not exist or a
	// message number is out of range.
	ErrNotFound = errors.New("mbox: not found")

	// ErrAccessDenied is returned when the archive cannot be opened for reading.
	ErrAccessDenied = errors.New("mbox: access denied")

	// ErrNotOpen is returned when an operation needs an open archive.
	ErrNotOpen = errors.New("mbox: archive not open")

	// ErrStale is returned by mutations when the file changed on disk since
	// it was indexed. Re-open the archive and retry.
	ErrStale = errors.New("mbox: archive modified since it was indexed")

	// ErrScratchFile is returned when the rewrite scratch file cannot be
	// created or written.
	ErrScratchFile = errors.New("mbox: scratch file")

	// ErrReplace is returned when the rewritten archive cannot be installed
	// over the original path. The original is left untouched.
	ErrReplace = errors.New("mbox: replace archive")

	// ErrIO covers read, seek and close failures on the archive itself.
	ErrIO = errors.New("mbox: i/o error")
)
