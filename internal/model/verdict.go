package model

import (
	"time"
)

// Importance represents the importance tier of a message
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceMedium Importance = "medium"
	ImportanceHigh   Importance = "high"
)

// IsValid checks if the importance tier is valid
func (i Importance) IsValid() bool {
	switch i {
	case ImportanceLow, ImportanceMedium, ImportanceHigh:
		return true
	}
	return false
}

// Verdict is the judgment result for a single message. Produced exactly
// once per message, either by the judge or by a fail-open default.
type Verdict struct {
	MessageID  string     `json:"message_id"`
	Importance Importance `json:"importance"`
	Reason     string     `json:"reason"`
	Notify     bool       `json:"notify"`
}

// LedgerEntry is one line of the append-only event ledger. Entries are
// never mutated; the ledger is used for dedup lookups and audit only.
type LedgerEntry struct {
	Message  MessageRecord `json:"message"`
	Verdict  Verdict       `json:"verdict"`
	LoggedAt time.Time     `json:"logged_at"`
}
