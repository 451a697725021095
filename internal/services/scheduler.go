package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mailminder/core/internal/config"
)

// CycleRunner is what the scheduler fires on every tick
type CycleRunner interface {
	RunCycle(ctx context.Context) error
}

// Scheduler is the adaptive clock: a single perpetual timer that polls
// faster inside the configured active window and slower outside it.
// Cycles run sequentially; a new tick is only scheduled after the
// previous cycle fully completed.
type Scheduler struct {
	runner   CycleRunner
	active   time.Duration
	inactive time.Duration
	window   config.Window

	stopChan chan struct{}
	running  bool
	mu       sync.Mutex
}

// NewScheduler creates a Scheduler around a cycle runner
func NewScheduler(runner CycleRunner, active, inactive time.Duration, window config.Window) *Scheduler {
	return &Scheduler{
		runner:   runner,
		active:   active,
		inactive: inactive,
		window:   window,
	}
}

// Start begins ticking. A second Start while running is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	stopChan := s.stopChan
	s.mu.Unlock()

	log.Printf("[Scheduler] Starting (active %v / inactive %v, window %02d-%02d %s)",
		s.active, s.inactive, s.window.StartHour, s.window.EndHour, s.window.Timezone)

	go func() {
		for {
			interval := s.NextInterval(time.Now())
			select {
			case <-time.After(interval):
				s.runProtected()
			case <-stopChan:
				log.Println("[Scheduler] Stopping")
				return
			}
		}
	}()
}

// Stop cancels the pending tick. The in-flight cycle, if any, finishes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	close(s.stopChan)
	s.running = false
}

// runProtected runs one cycle, swallowing errors and panics: the
// orchestrator owns its own error handling, the clock's only job is to
// never stop ticking.
func (s *Scheduler) runProtected() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Scheduler] Cycle panicked: %v", r)
		}
	}()

	if err := s.runner.RunCycle(context.Background()); err != nil {
		log.Printf("[Scheduler] Cycle failed: %v", err)
	}
}

// NextInterval returns the polling interval for the given moment
func (s *Scheduler) NextInterval(now time.Time) time.Duration {
	if IsActiveWindow(now, s.window) {
		return s.active
	}
	return s.inactive
}

// IsActiveWindow reports whether now falls inside the window, start
// hour inclusive, end hour exclusive, evaluated in the window's
// timezone. A window whose start is after its end wraps overnight.
func IsActiveWindow(now time.Time, window config.Window) bool {
	loc := time.Local
	if window.Timezone != "" && window.Timezone != "Local" {
		if parsed, err := time.LoadLocation(window.Timezone); err == nil {
			loc = parsed
		}
	}
	hour := now.In(loc).Hour()

	if window.StartHour == window.EndHour {
		return false
	}
	if window.StartHour < window.EndHour {
		return hour >= window.StartHour && hour < window.EndHour
	}
	return hour >= window.StartHour || hour < window.EndHour
}
