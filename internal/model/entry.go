package model

import (
	"time"
)

// Status represents the lifecycle state of a digest entry
type Status string

const (
	// StatusNew marks an entry not yet shown to the consumer
	StatusNew Status = "new"
	// StatusSurfaced marks an entry the consumer has read
	StatusSurfaced Status = "surfaced"
	// StatusDeferred marks an entry snoozed until a deadline
	StatusDeferred Status = "deferred"
	// StatusHandled marks a resolved entry (terminal)
	StatusHandled Status = "handled"
	// StatusDismissed marks an explicitly discarded entry (terminal)
	StatusDismissed Status = "dismissed"
)

// IsValid checks if the status is a known lifecycle state
func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusSurfaced, StatusDeferred, StatusHandled, StatusDismissed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed
func (s Status) IsTerminal() bool {
	return s == StatusHandled || s == StatusDismissed
}

// DigestEntry is a tracked unit of unresolved important work, keyed by
// message id. Only high and medium importance messages become entries;
// low never enters the digest. Mutated only through the digest engine.
type DigestEntry struct {
	MessageID     string     `json:"message_id"`
	ThreadID      string     `json:"thread_id"`
	Account       string     `json:"account"`
	From          string     `json:"from"`
	Subject       string     `json:"subject"`
	Date          time.Time  `json:"date"`
	Body          string     `json:"body"`
	Importance    Importance `json:"importance"`
	Reason        string     `json:"reason"`
	Notify        bool       `json:"notify"`
	Status        Status     `json:"status"`
	FirstSeenAt   time.Time  `json:"first_seen_at"`
	SurfacedAt    *time.Time `json:"surfaced_at,omitempty"`
	DeferredUntil *time.Time `json:"deferred_until,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	DismissReason string     `json:"dismiss_reason,omitempty"`
}

// Active reports whether the entry is eligible for automatic
// resolution re-checks (owner reply detection).
func (e *DigestEntry) Active() bool {
	return e.Status == StatusSurfaced || e.Status == StatusDeferred
}

// Checkpoint tracks the incremental sync position for one account.
// The cursor is an opaque gateway token; it is never regressed on
// failure so the next cycle resumes from the last known-good point.
type Checkpoint struct {
	Cursor     string    `json:"cursor,omitempty"`
	LastPollAt time.Time `json:"last_poll_at"`
	FailCount  int       `json:"fail_count"`
}
