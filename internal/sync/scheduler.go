package sync

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"
)

// DefaultDebounceWindow is the quiet window applied to Debounced triggers.
const DefaultDebounceWindow = 100 * time.Millisecond

// RunFunc is the work the Scheduler dispatches: one reconciliation attempt
// for one course.
type RunFunc func(ctx context.Context, courseID string)

// Scheduler funnels all reconciliation triggers into one worker goroutine per
// course, guaranteeing at-most-one in-flight attempt per course. A trigger
// arriving while an attempt is running becomes at most one pending attempt;
// further triggers coalesce into it. Create one with [NewScheduler] and stop
// it with [Scheduler.Close].
type Scheduler struct {
	run    RunFunc
	window time.Duration
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       stdsync.Mutex
	workers  map[string]chan struct{}
	timers   map[string]*time.Timer
	draining bool
	inflight stdsync.WaitGroup
	loops    stdsync.WaitGroup
}

// NewScheduler creates a Scheduler dispatching to run. window <= 0 selects
// [DefaultDebounceWindow].
func NewScheduler(run RunFunc, window time.Duration, logger *slog.Logger) *Scheduler {
	if window <= 0 {
		window = DefaultDebounceWindow
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		run:     run,
		window:  window,
		log:     logger,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]chan struct{}),
		timers:  make(map[string]*time.Timer),
	}
}

// Immediate requests a reconciliation for the course as soon as its worker is
// free. If an attempt is already pending the trigger coalesces into it.
func (s *Scheduler) Immediate(courseID string) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	trigger, ok := s.workers[courseID]
	if !ok {
		trigger = make(chan struct{}, 1)
		s.workers[courseID] = trigger
		s.loops.Add(1)
		go s.loop(courseID, trigger)
	}
	s.mu.Unlock()

	select {
	case trigger <- struct{}{}:
	default:
		// An attempt is already pending; this trigger coalesces.
	}
}

// Debounced requests a reconciliation after the quiet window elapses with no
// further Debounced trigger for the same course.
func (s *Scheduler) Debounced(courseID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return
	}
	if t, ok := s.timers[courseID]; ok {
		t.Stop()
	}
	s.timers[courseID] = time.AfterFunc(s.window, func() {
		s.mu.Lock()
		delete(s.timers, courseID)
		s.mu.Unlock()
		s.Immediate(courseID)
	})
}

// Quiesce stops trigger intake and waits for all in-flight attempts to
// finish, or for ctx to expire. Intake stays stopped until [Scheduler.Resume]
// is called. Used by the global disable flow so the shared calendar is never
// written to while it is being deleted.
func (s *Scheduler) Quiesce(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining in-flight syncs: %w", ctx.Err())
	}
}

// Resume re-opens trigger intake after a Quiesce.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.draining = false
	s.mu.Unlock()
}

// Close stops all workers and waits for them to exit. The Scheduler must not
// be used afterwards.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.draining = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.loops.Wait()
}

func (s *Scheduler) loop(courseID string, trigger <-chan struct{}) {
	defer s.loops.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-trigger:
			if !s.begin() {
				continue
			}
			s.run(s.ctx, courseID)
			s.inflight.Done()
		}
	}
}

// begin registers an attempt with the drain barrier. It refuses when a
// Quiesce is in progress, dropping the trigger.
func (s *Scheduler) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.draining {
		return false
	}
	s.inflight.Add(1)
	return true
}
