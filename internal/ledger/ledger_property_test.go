package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/mailminder/core/internal/model"
)

func makeEntry(id string, loggedAt time.Time) model.LedgerEntry {
	return model.LedgerEntry{
		Message: model.MessageRecord{
			MessageID: id,
			Account:   "test@example.com",
			From:      "sender@example.com",
			Subject:   "subject for " + id,
			Date:      loggedAt.Add(-time.Hour),
		},
		Verdict: model.Verdict{
			MessageID:  id,
			Importance: model.ImportanceMedium,
			Reason:     "test verdict",
		},
		LoggedAt: loggedAt,
	}
}

// Property: append order preservation
// For any sequence of appended entries, ReadAll returns them all in
// append order, and every appended id is reported by ExistsByID and Seen.

func TestProperty_AppendReadRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	countGen := gen.IntRange(1, 30)

	properties.Property("read_all_preserves_append_order", prop.ForAll(
		func(count int) bool {
			l := New(filepath.Join(t.TempDir(), "ledger.jsonl"))

			base := time.Now().Add(-time.Duration(count) * time.Minute)
			for i := 0; i < count; i++ {
				entry := makeEntry(fmt.Sprintf("msg-%03d", i), base.Add(time.Duration(i)*time.Minute))
				if err := l.Append(entry); err != nil {
					return false
				}
			}

			entries, err := l.ReadAll()
			if err != nil || len(entries) != count {
				return false
			}
			for i, e := range entries {
				if e.Message.MessageID != fmt.Sprintf("msg-%03d", i) {
					return false
				}
			}
			return true
		},
		countGen,
	))

	properties.Property("appended_ids_are_seen", prop.ForAll(
		func(count int) bool {
			l := New(filepath.Join(t.TempDir(), "ledger.jsonl"))

			for i := 0; i < count; i++ {
				if err := l.Append(makeEntry(fmt.Sprintf("msg-%d", i), time.Now())); err != nil {
					return false
				}
			}

			seen, err := l.Seen()
			if err != nil || len(seen) != count {
				return false
			}
			for i := 0; i < count; i++ {
				exists, err := l.ExistsByID(fmt.Sprintf("msg-%d", i))
				if err != nil || !exists {
					return false
				}
			}
			exists, err := l.ExistsByID("never-appended")
			return err == nil && !exists
		},
		countGen,
	))

	properties.TestingRun(t)
}

// Property: rotation bound
// Rotate is a no-op when the ledger holds at or below maxEntries, and
// otherwise leaves exactly the newest maxEntries (within the retention
// age) while reporting the removed count.

func TestProperty_RotateBoundsLedger(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("rotate_noop_at_or_below_max", prop.ForAll(
		func(count int) bool {
			l := New(filepath.Join(t.TempDir(), "ledger.jsonl"))
			for i := 0; i < count; i++ {
				if err := l.Append(makeEntry(fmt.Sprintf("msg-%d", i), time.Now())); err != nil {
					return false
				}
			}

			removed, err := l.Rotate(count)
			if err != nil || removed != 0 {
				return false
			}
			entries, err := l.ReadAll()
			return err == nil && len(entries) == count
		},
		gen.IntRange(0, 20),
	))

	properties.Property("rotate_keeps_newest_max", prop.ForAll(
		func(extra int) bool {
			maxEntries := 10
			total := maxEntries + extra
			l := New(filepath.Join(t.TempDir(), "ledger.jsonl"))

			base := time.Now().Add(-time.Duration(total) * time.Minute)
			for i := 0; i < total; i++ {
				entry := makeEntry(fmt.Sprintf("msg-%03d", i), base.Add(time.Duration(i)*time.Minute))
				if err := l.Append(entry); err != nil {
					return false
				}
			}

			removed, err := l.Rotate(maxEntries)
			if err != nil || removed != extra {
				return false
			}

			entries, err := l.ReadAll()
			if err != nil || len(entries) != maxEntries {
				return false
			}
			// The oldest `extra` entries are gone; the survivors keep order.
			for i, e := range entries {
				if e.Message.MessageID != fmt.Sprintf("msg-%03d", extra+i) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 15),
	))

	properties.TestingRun(t)
}

func TestReadAll_MissingFile(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "ledger.jsonl"))

	entries, err := l.ReadAll()
	if err != nil {
		t.Fatalf("missing ledger should not error, got: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("missing ledger should be empty, got %d entries", len(entries))
	}
}

func TestReadAll_SkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.jsonl")
	l := New(path)

	if err := l.Append(makeEntry("msg-1", time.Now())); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	// Simulate a torn write from a crash mid-append.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := f.WriteString("{\"message\": {\"message_id\": \"torn\n"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	f.Close()

	if err := l.Append(makeEntry("msg-2", time.Now())); err != nil {
		t.Fatalf("append after corruption failed: %v", err)
	}

	entries, err := l.ReadAll()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 parseable entries, got %d", len(entries))
	}
	if entries[0].Message.MessageID != "msg-1" || entries[1].Message.MessageID != "msg-2" {
		t.Fatalf("unexpected entries: %s, %s", entries[0].Message.MessageID, entries[1].Message.MessageID)
	}
}

func TestRotate_DropsEntriesPastRetention(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "ledger.jsonl"))

	ancient := time.Now().Add(-RetentionAge - 24*time.Hour)
	for i := 0; i < 5; i++ {
		if err := l.Append(makeEntry(fmt.Sprintf("old-%d", i), ancient)); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	if err := l.Append(makeEntry("fresh", time.Now())); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	removed, err := l.Rotate(3)
	if err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if removed != 5 {
		t.Fatalf("expected 5 removed (all past retention), got %d", removed)
	}

	entries, err := l.ReadAll()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Message.MessageID != "fresh" {
		t.Fatalf("expected only the fresh entry to survive, got %d entries", len(entries))
	}
}
