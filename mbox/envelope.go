package mbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	mboxlib "github.com/emersion/go-mbox"
)

// DefaultSender is used in generated "From " lines when a message names no
// sender of its own.
const DefaultSender = "MAILER-DAEMON"

// HasEnvelope reports whether raw already starts with an mbox "From " line.
func HasEnvelope(raw []byte) bool {
	return bytes.HasPrefix(raw, fromMarker)
}

// Envelope wraps a bare RFC 5322 message in an mbox "From " line. Body lines
// that would be mistaken for a delimiter are escaped as ">From ".
func Envelope(sender string, date time.Time, raw []byte) ([]byte, error) {
	if strings.TrimSpace(sender) == "" {
		sender = DefaultSender
	}
	if date.IsZero() {
		date = time.Now()
	}

	var buf bytes.Buffer
	w := mboxlib.NewWriter(&buf)
	mw, err := w.CreateMessage(sender, date.UTC())
	if err != nil {
		return nil, fmt.Errorf("create envelope: %w", err)
	}
	if _, err := mw.Write(raw); err != nil {
		return nil, fmt.Errorf("write envelope: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close envelope: %w", err)
	}

	return bytes.TrimRight(buf.Bytes(), "\r\n"), nil
}

// EnsureEnvelope returns raw unchanged when it already has a "From " line and
// otherwise wraps it, taking sender and date from the message headers.
func EnsureEnvelope(raw []byte) ([]byte, error) {
	if HasEnvelope(raw) {
		return raw, nil
	}

	sender, date := envelopeFields(raw)
	return Envelope(sender, date, raw)
}

// ReadSource streams every message of a foreign mbox, re-wrapped with an
// envelope so it can be stored in an Archive. The original "From " line is
// not preserved by the reader; sender and date are rebuilt from headers.
func ReadSource(r io.Reader, fn func(n int, entry []byte) error) error {
	reader := mboxlib.NewReader(r)

	for n := 0; ; n++ {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("source message %d: %w", n, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return fmt.Errorf("source message %d read: %w", n, err)
		}

		entry, err := EnsureEnvelope(bytes.TrimRight(raw, "\r\n"))
		if err != nil {
			return fmt.Errorf("source message %d: %w", n, err)
		}

		if err := fn(n, entry); err != nil {
			return err
		}
	}
}

func envelopeFields(raw []byte) (string, time.Time) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return DefaultSender, time.Time{}
	}

	sender := DefaultSender
	for _, key := range []string{"Return-Path", "Sender", "From"} {
		value := strings.TrimSpace(msg.Header.Get(key))
		if value == "" {
			continue
		}
		if addr, err := mail.ParseAddress(value); err == nil && addr.Address != "" {
			sender = addr.Address
			break
		}
	}

	var date time.Time
	if value := msg.Header.Get("Date"); value != "" {
		if t, err := mail.ParseDate(value); err == nil {
			date = t
		}
	}

	return sender, date
}
