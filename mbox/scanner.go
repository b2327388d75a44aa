package mbox

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

var fromMarker = []byte("From ")

const scanBufferSize = 64 * 1024

// Boundary is the byte range [Start, End) of one message in the archive,
// delimiter line included.
type Boundary struct {
	Start int64
	End   int64
}

func (b Boundary) Len() int64 {
	return b.End - b.Start
}

// Scan reads r once from its current position, treated as offset 0, and
// returns one Boundary per message in file order. Every line starting with
// "From " opens a message. Bytes before the first such line belong to no
// message. A stream without any delimiter yields an empty index.
func Scan(r io.Reader) ([]Boundary, error) {
	br := bufio.NewReaderSize(r, scanBufferSize)

	var (
		index        []Boundary
		offset       int64
		currentStart int64
		sawMessage   bool
		atLineStart  = true
	)

	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			// Only the first fragment of an overlong line may carry the marker.
			if atLineStart && bytes.HasPrefix(chunk, fromMarker) {
				lineStart := offset
				if sawMessage {
					index = append(index, Boundary{Start: currentStart, End: lineStart - 1})
				} else {
					sawMessage = true
				}
				currentStart = lineStart
			}
			atLineStart = chunk[len(chunk)-1] == '\n'
			offset += int64(len(chunk))
		}

		if err == nil || errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		return nil, fmt.Errorf("scan at offset %d: %w", offset, err)
	}

	if sawMessage {
		index = append(index, Boundary{Start: currentStart, End: offset})
	}

	return index, nil
}
