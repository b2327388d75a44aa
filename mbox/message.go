package mbox

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/dhcgn/mbox-index/model"
)

// StripEnvelope drops the leading "From " line, if any.
func StripEnvelope(raw []byte) []byte {
	if !HasEnvelope(raw) {
		return raw
	}
	if idx := bytes.IndexByte(raw, '\n'); idx >= 0 {
		return raw[idx+1:]
	}
	return nil
}

// Summarize parses the headers of an archive entry as returned by Get. The
// hash covers the content without the envelope line and trailing newlines,
// so it stays stable when a rewrite changes the blank lines after the entry.
func Summarize(n int, raw []byte) (model.Message, error) {
	sum := sha256.Sum256(contentKey(raw))
	out := model.Message{
		Number: n,
		Hash:   base64.StdEncoding.EncodeToString(sum[:]),
		Size:   int64(len(raw)),
		Raw:    raw,
	}

	msg, err := mail.ReadMessage(bytes.NewReader(StripEnvelope(raw)))
	if err != nil {
		return out, fmt.Errorf("message %d parse: %w", n, err)
	}

	id := strings.TrimSpace(msg.Header.Get("Message-Id"))
	out.ID = strings.Trim(id, " <>")
	out.From = strings.TrimSpace(msg.Header.Get("From"))
	out.Subject = strings.TrimSpace(msg.Header.Get("Subject"))

	var receivedAt time.Time
	if date := msg.Header.Get("Date"); date != "" {
		if t, err := mail.ParseDate(date); err == nil {
			receivedAt = t
		}
	}
	out.ReceivedAt = receivedAt

	return out, nil
}

func contentKey(raw []byte) []byte {
	return bytes.TrimRight(StripEnvelope(raw), "\r\n")
}
