// Package checkpoint persists the per-account sync cursor and failure
// counter, enabling incremental resume after restarts and crashes.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mailminder/core/internal/model"
	"github.com/mailminder/core/internal/store"
)

var (
	// ErrLoadFailed indicates the checkpoint file could not be parsed
	ErrLoadFailed = errors.New("checkpoint load failed")
)

// Store holds the account -> checkpoint mapping. A missing backing file
// loads as an empty mapping, not an error.
type Store struct {
	path string
	mu   sync.Mutex
	data map[string]*model.Checkpoint
}

// NewStore creates a checkpoint Store backed by the given file path
func NewStore(path string) *Store {
	return &Store{
		path: path,
		data: make(map[string]*model.Checkpoint),
	}
}

// Load replaces in-memory state with the on-disk snapshot
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok, err := store.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	if !ok {
		s.data = make(map[string]*model.Checkpoint)
		return nil
	}

	loaded := make(map[string]*model.Checkpoint)
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}
	s.data = loaded
	return nil
}

// Save writes the full mapping through the durable store
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	return store.WriteFileAtomic(s.path, data)
}

// Get returns a copy of the checkpoint for an account, if present
func (s *Store) Get(account string) (model.Checkpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.data[account]
	if !ok {
		return model.Checkpoint{}, false
	}
	return *cp, true
}

// All returns a copy of the full mapping
func (s *Store) All() map[string]model.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]model.Checkpoint, len(s.data))
	for account, cp := range s.data {
		out[account] = *cp
	}
	return out
}

// RecordSuccess sets the cursor and poll timestamp and resets the
// failure counter to zero.
func (s *Store) RecordSuccess(account, cursor string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.data[account]
	if !ok {
		cp = &model.Checkpoint{}
		s.data[account] = cp
	}
	cp.Cursor = cursor
	cp.LastPollAt = time.Now()
	cp.FailCount = 0
}

// RecordFailure increments and returns the failure counter. The cursor
// is preserved: incremental sync must resume from the last known-good
// point, never restart.
func (s *Store) RecordFailure(account string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.data[account]
	if !ok {
		cp = &model.Checkpoint{}
		s.data[account] = cp
	}
	cp.FailCount++
	cp.LastPollAt = time.Now()
	return cp.FailCount
}
