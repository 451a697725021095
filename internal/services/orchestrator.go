// Package services ties the stores, syncer, judge and notifier together
// into the per-cycle orchestration and its adaptive schedule.
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mailminder/core/internal/gateway"
	"github.com/mailminder/core/internal/model"
	"github.com/mailminder/core/internal/syncer"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrCycleInFlight indicates a cycle is already running
	ErrCycleInFlight = errors.New("cycle already in flight")
)

// Poller fetches new messages and checks threads for owner replies
type Poller interface {
	SyncAccount(ctx context.Context, account gateway.Account, cursor string, known func(id string) bool) (*syncer.Result, error)
	HasOwnerReply(ctx context.Context, account gateway.Account, threadID string) (bool, error)
}

// Classifier produces one verdict per input message, always
type Classifier interface {
	Classify(ctx context.Context, batch []model.MessageRecord) []model.Verdict
}

// EventLog is the append-only dedup and audit record
type EventLog interface {
	Append(entry model.LedgerEntry) error
	Seen() (map[string]bool, error)
	Rotate(maxEntries int) (int, error)
}

// Checkpoints tracks per-account sync positions and failure counts
type Checkpoints interface {
	Load() error
	Save() error
	Get(account string) (model.Checkpoint, bool)
	RecordSuccess(account, cursor string)
	RecordFailure(account string) int
}

// DigestStore is the lifecycle-managed worklist
type DigestStore interface {
	Load() error
	Save() error
	Has(messageID string) bool
	Add(entry model.DigestEntry)
	ActiveEntries() []model.DigestEntry
	MarkHandled(messageID string)
	ExpireDeferrals(now time.Time) []model.DigestEntry
}

// Pusher delivers outbound notifications, best-effort
type Pusher interface {
	Enabled() bool
	Push(ctx context.Context, title, body string) error
}

// Options bound one cycle's behavior
type Options struct {
	AlertThreshold   int
	BatchSize        int
	LedgerMaxEntries int
}

// Orchestrator runs one full poll -> classify -> update -> notify pass
// across all accounts. Cycles never overlap; accounts fetch in parallel
// but verdict fan-out into the shared stores is sequential.
type Orchestrator struct {
	accounts    []gateway.Account
	poller      Poller
	classifier  Classifier
	eventLog    EventLog
	checkpoints Checkpoints
	digest      DigestStore
	pusher      Pusher
	opts        Options

	cycleMu sync.Mutex
}

// NewOrchestrator creates an Orchestrator with injected capabilities
func NewOrchestrator(accounts []gateway.Account, poller Poller, classifier Classifier, eventLog EventLog, checkpoints Checkpoints, digest DigestStore, pusher Pusher, opts Options) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	return &Orchestrator{
		accounts:    accounts,
		poller:      poller,
		classifier:  classifier,
		eventLog:    eventLog,
		checkpoints: checkpoints,
		digest:      digest,
		pusher:      pusher,
		opts:        opts,
	}
}

// accountResult carries one account's sync outcome across the
// parallel-fetch / sequential-merge boundary.
type accountResult struct {
	result *syncer.Result
	err    error
}

// RunCycle executes one complete cycle. Per-account failures are
// isolated; classification failures are absorbed fail-open; only
// persistence failures abort the cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	if !o.cycleMu.TryLock() {
		return ErrCycleInFlight
	}
	defer o.cycleMu.Unlock()

	started := time.Now()

	// State is reloaded from disk each cycle so a failed save in the
	// previous cycle degrades to lost changes, never corruption.
	if err := o.checkpoints.Load(); err != nil {
		return err
	}
	if err := o.digest.Load(); err != nil {
		return err
	}

	if expired := o.digest.ExpireDeferrals(time.Now()); len(expired) > 0 {
		for _, entry := range expired {
			log.Printf("[Cycle] Deferral expired, back to new: %s (%s)", entry.MessageID, entry.Subject)
		}
	}

	o.resolveActive(ctx)

	seen, err := o.eventLog.Seen()
	if err != nil {
		return err
	}

	survivors := o.syncAccounts(ctx, seen)

	if len(survivors) == 0 {
		// Deferral expiry and auto-resolution still have to commit.
		if err := o.persist(); err != nil {
			return err
		}
		log.Printf("[Cycle] No new messages (%v)", time.Since(started).Round(time.Millisecond))
		return nil
	}

	if err := o.classifyAndFanOut(ctx, survivors); err != nil {
		return err
	}

	if err := o.persist(); err != nil {
		return err
	}

	if o.opts.LedgerMaxEntries > 0 {
		if removed, err := o.eventLog.Rotate(o.opts.LedgerMaxEntries); err != nil {
			log.Printf("[Cycle] Ledger rotation failed: %v", err)
		} else if removed > 0 {
			log.Printf("[Cycle] Ledger rotated, %d entries removed", removed)
		}
	}

	log.Printf("[Cycle] Completed: %d new messages (%v)", len(survivors), time.Since(started).Round(time.Millisecond))
	return nil
}

// resolveActive re-checks surfaced and deferred entries for owner
// replies. Best-effort: errors leave the entry untouched and never
// abort the cycle.
func (o *Orchestrator) resolveActive(ctx context.Context) {
	for _, entry := range o.digest.ActiveEntries() {
		account, ok := o.accountFor(entry.Account)
		if !ok {
			continue
		}
		replied, err := o.poller.HasOwnerReply(ctx, account, entry.ThreadID)
		if err != nil || !replied {
			continue
		}
		o.digest.MarkHandled(entry.MessageID)
		log.Printf("[Cycle] Auto-resolved %s: owner replied in thread", entry.MessageID)
	}
}

// syncAccounts fetches all accounts in parallel, then merges
// sequentially: failures update counters and may alert, successes
// advance cursors and contribute deduplicated survivors.
func (o *Orchestrator) syncAccounts(ctx context.Context, seen map[string]bool) []model.MessageRecord {
	known := func(id string) bool {
		return seen[id] || o.digest.Has(id)
	}

	results := make([]accountResult, len(o.accounts))
	grp, grpCtx := errgroup.WithContext(ctx)
	for i, account := range o.accounts {
		i, account := i, account
		grp.Go(func() error {
			cp, _ := o.checkpoints.Get(account.Address)
			res, err := o.poller.SyncAccount(grpCtx, account, cp.Cursor, known)
			// Failures are isolated per account; never cancel siblings.
			results[i] = accountResult{result: res, err: err}
			return nil
		})
	}
	grp.Wait()

	var survivors []model.MessageRecord
	for i, account := range o.accounts {
		res := results[i]
		if res.err != nil {
			fails := o.checkpoints.RecordFailure(account.Address)
			log.Printf("[Cycle] Account %s sync failed (%d consecutive): %v", account.Address, fails, res.err)
			if fails >= o.opts.AlertThreshold {
				o.alert(ctx, fmt.Sprintf("Account %s failing", account.Address),
					fmt.Sprintf("%d consecutive sync failures for %s. Last error: %v", fails, account.Address, res.err))
			}
			continue
		}

		// Never regress to no cursor: a sync that reported none keeps
		// the prior position.
		cursor := res.result.Cursor
		if cursor == "" {
			if prior, ok := o.checkpoints.Get(account.Address); ok {
				cursor = prior.Cursor
			}
		}
		o.checkpoints.RecordSuccess(account.Address, cursor)

		for _, msg := range res.result.Messages {
			if known(msg.MessageID) {
				continue
			}
			survivors = append(survivors, msg)
		}
	}
	return survivors
}

// classifyAndFanOut judges survivors in capped batches and fans the
// verdicts out: every verdict is appended to the ledger, high and
// medium create digest entries, high with notify pushes an alert.
func (o *Orchestrator) classifyAndFanOut(ctx context.Context, survivors []model.MessageRecord) error {
	for start := 0; start < len(survivors); start += o.opts.BatchSize {
		end := start + o.opts.BatchSize
		if end > len(survivors) {
			end = len(survivors)
		}
		batch := survivors[start:end]
		verdicts := o.classifier.Classify(ctx, batch)

		for i, verdict := range verdicts {
			msg := batch[i]
			if err := o.eventLog.Append(model.LedgerEntry{
				Message:  msg,
				Verdict:  verdict,
				LoggedAt: time.Now(),
			}); err != nil {
				return err
			}

			if verdict.Importance == model.ImportanceLow {
				continue
			}

			o.digest.Add(model.DigestEntry{
				MessageID:   msg.MessageID,
				ThreadID:    msg.ThreadID,
				Account:     msg.Account,
				From:        msg.From,
				Subject:     msg.Subject,
				Date:        msg.Date,
				Body:        msg.Body,
				Importance:  verdict.Importance,
				Reason:      verdict.Reason,
				Notify:      verdict.Notify,
				Status:      model.StatusNew,
				FirstSeenAt: time.Now(),
			})

			if verdict.Importance == model.ImportanceHigh && verdict.Notify {
				o.alert(ctx, fmt.Sprintf("Important: %s", msg.Subject),
					fmt.Sprintf("From: %s\nAccount: %s\nReason: %s\nId: %s", msg.From, msg.Account, verdict.Reason, msg.MessageID))
			}
		}
	}
	return nil
}

// persist commits checkpoints and digest through the durable store.
// Errors propagate and abort the cycle's save.
func (o *Orchestrator) persist() error {
	if err := o.checkpoints.Save(); err != nil {
		return err
	}
	return o.digest.Save()
}

// alert pushes a notification; delivery failure is logged, never fatal
func (o *Orchestrator) alert(ctx context.Context, title, body string) {
	if o.pusher == nil || !o.pusher.Enabled() {
		return
	}
	if err := o.pusher.Push(ctx, title, body); err != nil {
		log.Printf("[Cycle] Notification failed: %v", err)
	}
}

func (o *Orchestrator) accountFor(address string) (gateway.Account, bool) {
	for _, account := range o.accounts {
		if account.Address == address {
			return account, true
		}
	}
	return gateway.Account{}, false
}
