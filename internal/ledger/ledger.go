// Package ledger implements the append-only record of every processed
// message. The ledger is the global dedup source across cycles and the
// audit trail; it is a superset of the digest (low importance entries
// are logged here but never become digest entries).
package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mailminder/core/internal/model"
	"github.com/mailminder/core/internal/store"
)

var (
	// ErrAppendFailed indicates a ledger append could not complete
	ErrAppendFailed = errors.New("ledger append failed")
)

// RetentionAge is how long rotated-out entries must have been kept.
// Rotation never removes entries younger than this.
const RetentionAge = 30 * 24 * time.Hour

// Ledger is a line-delimited JSON file, one entry per line. Appends are
// write-amplifying but simple: no read-modify-write on the hot path.
type Ledger struct {
	path string
	mu   sync.Mutex
}

// New creates a Ledger backed by the given file path
func New(path string) *Ledger {
	return &Ledger{path: path}
}

// Append durably writes one entry. The file is synced before returning
// so a crash after Append never loses the entry.
func (l *Ledger) Append(entry model.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}
	return nil
}

// ReadAll returns every entry in append order. A missing file yields an
// empty slice, not an error. Unparseable lines are skipped: a corrupt
// line is treated as no information, never as a hard failure.
func (l *Ledger) ReadAll() ([]model.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readAllLocked()
}

func (l *Ledger) readAllLocked() ([]model.LedgerEntry, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return []model.LedgerEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []model.LedgerEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry model.LedgerEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	return entries, nil
}

// ExistsByID reports whether any ledger entry matches the message id
func (l *Ledger) ExistsByID(messageID string) (bool, error) {
	entries, err := l.ReadAll()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Message.MessageID == messageID {
			return true, nil
		}
	}
	return false, nil
}

// Seen returns the full set of logged message ids. The orchestrator
// builds this once per cycle instead of scanning the file per message.
func (l *Ledger) Seen() (map[string]bool, error) {
	entries, err := l.ReadAll()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e.Message.MessageID] = true
	}
	return seen, nil
}

// Rotate bounds the ledger file. When the entry count is at or below
// maxEntries it is a no-op returning 0. Otherwise it retains the most
// recent maxEntries entries that are also younger than RetentionAge and
// rewrites the file atomically, returning the number removed. Callers
// must rotate only between cycles: entries still inside an open dedup
// window must not disappear mid-cycle.
func (l *Ledger) Rotate(maxEntries int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readAllLocked()
	if err != nil {
		return 0, err
	}
	if len(entries) <= maxEntries {
		return 0, nil
	}

	// Newest first, keep up to maxEntries within the retention age.
	sorted := make([]model.LedgerEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LoggedAt.After(sorted[j].LoggedAt)
	})

	cutoff := time.Now().Add(-RetentionAge)
	var kept []model.LedgerEntry
	for _, e := range sorted {
		if len(kept) >= maxEntries {
			break
		}
		if e.LoggedAt.Before(cutoff) {
			break
		}
		kept = append(kept, e)
	}

	// Restore append order for the rewrite.
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].LoggedAt.Before(kept[j].LoggedAt)
	})

	var buf []byte
	for _, e := range kept {
		line, err := json.Marshal(e)
		if err != nil {
			return 0, err
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	if err := store.WriteFileAtomic(l.path, buf); err != nil {
		return 0, err
	}
	return len(entries) - len(kept), nil
}
