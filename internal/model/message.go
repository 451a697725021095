package model

import (
	"time"
)

// MessageRecord is a cleaned, immutable snapshot of a fetched message.
// It is produced once by the syncer and never mutated afterwards.
type MessageRecord struct {
	MessageID      string    `json:"message_id"`
	ThreadID       string    `json:"thread_id"`
	Account        string    `json:"account"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	Subject        string    `json:"subject"`
	Date           time.Time `json:"date"`
	Body           string    `json:"body"`
	ThreadLen      int       `json:"thread_len"`
	HasAttachments bool      `json:"has_attachments"`
}
