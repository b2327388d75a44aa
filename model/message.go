package model

import "time"

// Message summarises one archive entry for listing, reporting and export.
type Message struct {
	Number     int
	ID         string
	Hash       string
	From       string
	Subject    string
	ReceivedAt time.Time
	Size       int64
	Raw        []byte
}
