package sync

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule is the periodic drift-check cadence.
const DefaultSweepSchedule = "@every 1h"

// Engine drives the long-running daemon: a periodic drift sweep on a cron
// schedule plus routing of filesystem schedule-change notifications into the
// Scheduler. Create one with [NewEngine] and start it with [Engine.Run].
type Engine struct {
	service   *Service
	sched     *Scheduler
	sweepSpec string
	log       *slog.Logger

	mu     stdsync.Mutex
	runCtx context.Context
}

// NewEngine creates an Engine. sweepSpec is a cron expression (robfig/cron
// syntax, descriptors allowed); empty selects [DefaultSweepSchedule].
func NewEngine(service *Service, sched *Scheduler, sweepSpec string, logger *slog.Logger) *Engine {
	if sweepSpec == "" {
		sweepSpec = DefaultSweepSchedule
	}
	return &Engine{
		service:   service,
		sched:     sched,
		sweepSpec: sweepSpec,
		log:       logger,
		runCtx:    context.Background(),
	}
}

// OnScheduleChange routes a schedule-data change notification: an empty
// courseID means the enrollment listing changed (full sweep), anything else
// is a single course's dates file (debounced targeted sync).
func (e *Engine) OnScheduleChange(courseID string) {
	if courseID == "" {
		e.log.Info("enrollment data changed, sweeping")
		if err := e.service.Sweep(e.ctx()); err != nil {
			e.log.Error("sweep failed", "error", err)
		}
		return
	}
	e.log.Debug("schedule data changed", "course_id", courseID)
	e.sched.Debounced(courseID)
}

// Run starts the periodic sweep and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.runCtx = ctx
	e.mu.Unlock()

	c := cron.New()
	if _, err := c.AddFunc(e.sweepSpec, func() {
		if err := e.service.Sweep(ctx); err != nil {
			e.log.Error("periodic sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("registering sweep schedule %q: %w", e.sweepSpec, err)
	}
	c.Start()
	defer c.Stop()

	e.log.Info("engine started", "sweep_schedule", e.sweepSpec)

	// Run an immediate first sweep.
	if err := e.service.Sweep(ctx); err != nil {
		e.log.Error("initial sweep failed", "error", err)
	}

	<-ctx.Done()
	e.log.Info("engine shutting down")
	return ctx.Err()
}

func (e *Engine) ctx() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runCtx
}
