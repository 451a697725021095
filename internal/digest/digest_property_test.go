package digest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/mailminder/core/internal/model"
)

func makeEntry(id string, status model.Status) model.DigestEntry {
	return model.DigestEntry{
		MessageID:   id,
		ThreadID:    "thread-" + id,
		Account:     "test@example.com",
		From:        "sender@example.com",
		Subject:     "subject " + id,
		Date:        time.Now().Add(-time.Hour),
		Body:        "body text",
		Importance:  model.ImportanceHigh,
		Reason:      "test",
		Notify:      true,
		Status:      status,
		FirstSeenAt: time.Now(),
	}
}

var idGen = gen.SliceOfN(10, gen.AlphaLowerChar()).Map(func(chars []rune) string {
	return "msg-" + string(chars)
})

// Property: deferral expiry
// A deferred entry whose deadline has passed always comes back as new
// with the deadline cleared; a deferral still in the future is untouched.

func TestProperty_DeferralExpiry(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("past_deadline_returns_to_new", prop.ForAll(
		func(id string, minutes int) bool {
			e := NewEngine(filepath.Join(t.TempDir(), "digest.json"))
			e.Add(makeEntry(id, model.StatusNew))
			e.Defer(id, minutes)

			expired := e.ExpireDeferrals(time.Now().Add(time.Duration(minutes+1) * time.Minute))
			if len(expired) != 1 || expired[0].MessageID != id {
				return false
			}
			entry, ok := e.Get(id)
			return ok && entry.Status == model.StatusNew && entry.DeferredUntil == nil
		},
		idGen,
		gen.IntRange(1, 120),
	))

	properties.Property("future_deadline_untouched", prop.ForAll(
		func(id string, minutes int) bool {
			e := NewEngine(filepath.Join(t.TempDir(), "digest.json"))
			e.Add(makeEntry(id, model.StatusNew))
			e.Defer(id, minutes)

			expired := e.ExpireDeferrals(time.Now())
			if len(expired) != 0 {
				return false
			}
			entry, ok := e.Get(id)
			return ok && entry.Status == model.StatusDeferred && entry.DeferredUntil != nil
		},
		idGen,
		gen.IntRange(1, 120),
	))

	properties.TestingRun(t)
}

// Property: transition totality on unknown ids
// Every transition method is a silent no-op for ids the engine does not
// track; nothing panics and nothing appears.

func TestProperty_UnknownIDNoOps(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("transitions_on_unknown_id_do_nothing", prop.ForAll(
		func(id string) bool {
			e := NewEngine(filepath.Join(t.TempDir(), "digest.json"))

			e.MarkSurfaced(id)
			e.MarkHandled(id)
			e.Defer(id, 10)
			e.Dismiss(id, "noise")

			return e.Len() == 0 && !e.Has(id)
		},
		idGen,
	))

	properties.TestingRun(t)
}

// Property: persistence round-trip
// Saving and reloading preserves every entry field, including optional
// timestamps set by transitions.

func TestProperty_SaveLoadRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("entries_survive_reload", prop.ForAll(
		func(id string, surfaced bool) bool {
			path := filepath.Join(t.TempDir(), "digest.json")
			e := NewEngine(path)
			e.Add(makeEntry(id, model.StatusNew))
			if surfaced {
				e.MarkSurfaced(id)
			}
			if err := e.Save(); err != nil {
				return false
			}

			reloaded := NewEngine(path)
			if err := reloaded.Load(); err != nil {
				return false
			}
			before, _ := e.Get(id)
			after, ok := reloaded.Get(id)
			if !ok {
				return false
			}
			// JSON round-trips time at RFC 3339 precision.
			return after.MessageID == before.MessageID &&
				after.Status == before.Status &&
				after.Importance == before.Importance &&
				(after.SurfacedAt != nil) == (before.SurfacedAt != nil)
		},
		idGen,
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestActiveEntries(t *testing.T) {
	e := NewEngine(filepath.Join(t.TempDir(), "digest.json"))

	e.Add(makeEntry("a-new", model.StatusNew))
	e.Add(makeEntry("b-surfaced", model.StatusNew))
	e.Add(makeEntry("c-deferred", model.StatusNew))
	e.Add(makeEntry("d-handled", model.StatusNew))
	e.Add(makeEntry("e-dismissed", model.StatusNew))

	e.MarkSurfaced("b-surfaced")
	e.Defer("c-deferred", 60)
	e.MarkHandled("d-handled")
	e.Dismiss("e-dismissed", "")

	active := e.ActiveEntries()
	got := make(map[string]bool)
	for _, entry := range active {
		got[entry.MessageID] = true
	}
	want := map[string]bool{"b-surfaced": true, "c-deferred": true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("active set mismatch (-want +got):\n%s", diff)
	}
}

func TestByStatus_SortsNewestFirst(t *testing.T) {
	e := NewEngine(filepath.Join(t.TempDir(), "digest.json"))

	older := makeEntry("older", model.StatusNew)
	older.Date = time.Now().Add(-48 * time.Hour)
	newer := makeEntry("newer", model.StatusNew)
	newer.Date = time.Now().Add(-time.Hour)
	e.Add(older)
	e.Add(newer)

	entries := e.ByStatus(string(model.StatusNew))
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].MessageID != "newer" {
		t.Fatalf("expected newest first, got %s", entries[0].MessageID)
	}
}

func TestAdd_UpsertsByMessageID(t *testing.T) {
	e := NewEngine(filepath.Join(t.TempDir(), "digest.json"))

	first := makeEntry("dup", model.StatusNew)
	first.Subject = "first"
	second := makeEntry("dup", model.StatusNew)
	second.Subject = "second"

	e.Add(first)
	e.Add(second)

	if e.Len() != 1 {
		t.Fatalf("expected 1 entry after upsert, got %d", e.Len())
	}
	entry, _ := e.Get("dup")
	if entry.Subject != "second" {
		t.Fatalf("expected latest upsert to win, got %q", entry.Subject)
	}
}

func TestDismiss_RecordsReason(t *testing.T) {
	e := NewEngine(filepath.Join(t.TempDir(), "digest.json"))
	e.Add(makeEntry("m", model.StatusNew))

	e.Dismiss("m", "recruiter spam")

	entry, _ := e.Get("m")
	if entry.Status != model.StatusDismissed {
		t.Fatalf("expected dismissed, got %s", entry.Status)
	}
	if entry.DismissReason != "recruiter spam" {
		t.Fatalf("expected reason recorded, got %q", entry.DismissReason)
	}
	if entry.ResolvedAt == nil {
		t.Fatal("expected resolution time recorded")
	}
}

func TestTally(t *testing.T) {
	e := NewEngine(filepath.Join(t.TempDir(), "digest.json"))

	e.Add(makeEntry("a", model.StatusNew))
	e.Add(makeEntry("b", model.StatusNew))
	e.Add(makeEntry("c", model.StatusNew))
	e.MarkSurfaced("b")
	e.MarkHandled("c")

	want := map[model.Status]int{
		model.StatusNew:      1,
		model.StatusSurfaced: 1,
		model.StatusHandled:  1,
	}
	if diff := cmp.Diff(want, e.Tally()); diff != "" {
		t.Fatalf("tally mismatch (-want +got):\n%s", diff)
	}
}
