// Package digest implements the lifecycle-managed worklist of
// unresolved important messages.
//
// The engine is a raw state store: transition methods mutate
// unconditionally and are no-ops on unknown ids. The policy of which
// transitions are legal from which state is enforced at the consumer
// boundary (API handlers, CLI), not here.
package digest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mailminder/core/internal/model"
	"github.com/mailminder/core/internal/store"
)

var (
	// ErrLoadFailed indicates the digest file could not be parsed
	ErrLoadFailed = errors.New("digest load failed")
)

// StatusAll selects every entry regardless of lifecycle state
const StatusAll = "all"

// Engine owns the digest entries and their persistence. Entries are
// never deleted; terminal entries stay until consumer-level archival.
type Engine struct {
	path    string
	mu      sync.RWMutex
	entries map[string]*model.DigestEntry

	// saveMu serializes overlapping Save calls: a caller arriving while
	// a save is in flight queues behind it instead of racing the rename,
	// so the on-disk file is always a complete snapshot and no save is
	// silently dropped.
	saveMu sync.Mutex
}

// NewEngine creates a digest Engine backed by the given file path
func NewEngine(path string) *Engine {
	return &Engine{
		path:    path,
		entries: make(map[string]*model.DigestEntry),
	}
}

// Load replaces in-memory state with the on-disk snapshot. A missing
// file loads as an empty digest.
func (e *Engine) Load() error {
	data, ok, err := store.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !ok {
		e.entries = make(map[string]*model.DigestEntry)
		return nil
	}

	loaded := make(map[string]*model.DigestEntry)
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	e.entries = loaded
	return nil
}

// Save writes the full digest through the durable store
func (e *Engine) Save() error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.RLock()
	data, err := json.MarshalIndent(e.entries, "", "  ")
	e.mu.RUnlock()
	if err != nil {
		return err
	}
	return store.WriteFileAtomic(e.path, data)
}

// Add upserts an entry keyed by message id
func (e *Engine) Add(entry model.DigestEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	copied := entry
	e.entries[entry.MessageID] = &copied
}

// Get returns a copy of the entry, if present
func (e *Engine) Get(messageID string) (model.DigestEntry, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entry, ok := e.entries[messageID]
	if !ok {
		return model.DigestEntry{}, false
	}
	return *entry, true
}

// Has reports whether the id is already tracked
func (e *Engine) Has(messageID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, ok := e.entries[messageID]
	return ok
}

// Len returns the number of tracked entries
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entries)
}

// ByStatus returns entries matching the status (or StatusAll), newest
// first by message date.
func (e *Engine) ByStatus(status string) []model.DigestEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []model.DigestEntry
	for _, entry := range e.entries {
		if status == StatusAll || string(entry.Status) == status {
			out = append(out, *entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})
	return out
}

// GroupedByAccount returns matching entries grouped by source account
func (e *Engine) GroupedByAccount(status string) map[string][]model.DigestEntry {
	grouped := make(map[string][]model.DigestEntry)
	for _, entry := range e.ByStatus(status) {
		grouped[entry.Account] = append(grouped[entry.Account], entry)
	}
	return grouped
}

// ActiveEntries returns every entry in surfaced or deferred: exactly
// the set eligible for automatic owner-reply resolution.
func (e *Engine) ActiveEntries() []model.DigestEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []model.DigestEntry
	for _, entry := range e.entries {
		if entry.Active() {
			out = append(out, *entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})
	return out
}

// MarkSurfaced sets status surfaced and records the timestamp.
// No-op on unknown id.
func (e *Engine) MarkSurfaced(messageID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries[messageID]
	if !ok {
		return
	}
	now := time.Now()
	entry.Status = model.StatusSurfaced
	entry.SurfacedAt = &now
}

// MarkHandled sets status handled and records the resolution time.
// No-op on unknown id.
func (e *Engine) MarkHandled(messageID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries[messageID]
	if !ok {
		return
	}
	now := time.Now()
	entry.Status = model.StatusHandled
	entry.ResolvedAt = &now
}

// Defer sets status deferred with a deadline the given number of
// minutes from now. No-op on unknown id.
func (e *Engine) Defer(messageID string, minutes int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries[messageID]
	if !ok {
		return
	}
	until := time.Now().Add(time.Duration(minutes) * time.Minute)
	entry.Status = model.StatusDeferred
	entry.DeferredUntil = &until
}

// Dismiss sets status dismissed with an optional reason.
// No-op on unknown id.
func (e *Engine) Dismiss(messageID, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries[messageID]
	if !ok {
		return
	}
	now := time.Now()
	entry.Status = model.StatusDismissed
	entry.ResolvedAt = &now
	entry.DismissReason = reason
}

// ExpireDeferrals resets every deferred entry whose deadline is at or
// before now back to new, clearing the deadline. The transitioned
// entries are returned for logging only; correctness never depends on
// the return value.
func (e *Engine) ExpireDeferrals(now time.Time) []model.DigestEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	var expired []model.DigestEntry
	for _, entry := range e.entries {
		if entry.Status != model.StatusDeferred || entry.DeferredUntil == nil {
			continue
		}
		if entry.DeferredUntil.After(now) {
			continue
		}
		entry.Status = model.StatusNew
		entry.DeferredUntil = nil
		expired = append(expired, *entry)
	}
	return expired
}

// Tally returns entry counts per lifecycle state
func (e *Engine) Tally() map[model.Status]int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tally := make(map[model.Status]int)
	for _, entry := range e.entries {
		tally[entry.Status]++
	}
	return tally
}
