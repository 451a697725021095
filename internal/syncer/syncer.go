// Package syncer performs incremental per-account synchronization
// against the message gateway: cursor-based fetch with rescan fallback,
// owner-reply auto-suppression, and body cleaning.
package syncer

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/mailminder/core/internal/cleaner"
	"github.com/mailminder/core/internal/gateway"
	"github.com/mailminder/core/internal/model"
)

// Options bound the sync behavior per cycle
type Options struct {
	// RescanDays is the lookback window for the full rescan fallback
	RescanDays int
	// MaxBodyLen caps the cleaned body passed to classification
	MaxBodyLen int
	// FetchTimeout bounds every gateway call
	FetchTimeout time.Duration
}

// DefaultOptions mirror the production configuration defaults
func DefaultOptions() Options {
	return Options{
		RescanDays:   7,
		MaxBodyLen:   2000,
		FetchTimeout: 90 * time.Second,
	}
}

// Result is the outcome of syncing one account. Cursor is empty when
// the gateway did not report a new position; callers keep the prior
// cursor in that case, never regress to none.
type Result struct {
	Messages []model.MessageRecord
	Cursor   string
}

// Syncer fetches and filters new messages for each account
type Syncer struct {
	source gateway.Source
	owners []string
	opts   Options
}

// New creates a Syncer. owners are the operator's own addresses; a
// thread containing any of them is considered already handled.
func New(source gateway.Source, owners []string, opts Options) *Syncer {
	normalized := make([]string, 0, len(owners))
	for _, o := range owners {
		normalized = append(normalized, strings.ToLower(bareAddress(o)))
	}
	return &Syncer{source: source, owners: normalized, opts: opts}
}

// SyncAccount fetches new messages for one account. With a cursor it
// requests incremental changes; when the source rejects the cursor (or
// none exists) it falls back to a bounded rescan, authoritative for
// this cycle. known reports ids that are already tracked, so their
// threads are not re-fetched.
func (s *Syncer) SyncAccount(ctx context.Context, account gateway.Account, cursor string, known func(id string) bool) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	var changes *gateway.ChangeSet
	var err error

	if cursor != "" {
		changes, err = s.source.ChangesSince(ctx, account, cursor)
		if err != nil {
			if !errors.Is(err, gateway.ErrCursorInvalid) {
				return nil, err
			}
			log.Printf("[Syncer] Account %s cursor rejected, falling back to rescan", account.Address)
			changes = nil
		}
	}
	if changes == nil {
		since := time.Now().AddDate(0, 0, -s.opts.RescanDays)
		changes, err = s.source.Search(ctx, account, since)
		if err != nil {
			return nil, err
		}
	}

	result := &Result{Cursor: changes.Cursor}
	for _, raw := range changes.Messages {
		if known != nil && known(raw.MessageID) {
			continue
		}
		if s.isOwner(raw.From) {
			// The owner's own mail never needs surfacing.
			continue
		}

		// A failed or malformed thread lookup is no information: the
		// message is kept, with reply detection disabled for it.
		threadLen := 1
		thread, terr := s.source.Thread(ctx, account, raw.ThreadID)
		if terr == nil {
			if s.threadHasOwner(thread) {
				// Already handled by the owner elsewhere; drop silently.
				continue
			}
			threadLen = len(thread.Messages)
		}

		result.Messages = append(result.Messages, s.buildRecord(account, raw, threadLen))
	}
	return result, nil
}

// HasOwnerReply reports whether the thread now contains a message from
// one of the owner's addresses. Used by the resolve-active step.
func (s *Syncer) HasOwnerReply(ctx context.Context, account gateway.Account, threadID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()

	thread, err := s.source.Thread(ctx, account, threadID)
	if err != nil {
		return false, err
	}
	return s.threadHasOwner(thread), nil
}

// threadHasOwner reports owner presence anywhere in the thread;
// position relative to the triggering message does not matter.
func (s *Syncer) threadHasOwner(thread *gateway.Thread) bool {
	for _, msg := range thread.Messages {
		if s.isOwner(msg.From) {
			return true
		}
	}
	return false
}

// isOwner matches the bare address case-insensitively, independent of
// display-name formatting.
func (s *Syncer) isOwner(from string) bool {
	addr := strings.ToLower(bareAddress(from))
	for _, owner := range s.owners {
		if addr == owner {
			return true
		}
	}
	return false
}

// buildRecord converts a raw message into the immutable cleaned record
func (s *Syncer) buildRecord(account gateway.Account, raw gateway.RawMessage, threadLen int) model.MessageRecord {
	return model.MessageRecord{
		MessageID:      raw.MessageID,
		ThreadID:       raw.ThreadID,
		Account:        account.Address,
		From:           raw.From,
		To:             raw.To,
		Subject:        raw.Subject,
		Date:           raw.Date,
		Body:           cleaner.Clean(raw.Body, s.opts.MaxBodyLen),
		ThreadLen:      threadLen,
		HasAttachments: raw.HasAttachments,
	}
}

// bareAddress extracts box@host from "Name <box@host>" formatting
func bareAddress(addr string) string {
	if start := strings.LastIndex(addr, "<"); start >= 0 {
		if end := strings.Index(addr[start:], ">"); end > 0 {
			return strings.TrimSpace(addr[start+1 : start+end])
		}
	}
	return strings.TrimSpace(addr)
}
