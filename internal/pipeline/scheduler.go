package pipeline

// scheduler.go rescans the raw data directory on a fixed interval.
//
// The scheduler is long-running and context-aware. It runs once on start,
// then on every tick. A tick that finds the gate taken is skipped rather
// than queued. A failed run is logged; it never stops the scheduler.

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/txnetl/internal/core"
	"github.com/JonMunkholm/txnetl/internal/logging"
)

// DefaultWatchInterval applies when SchedulerConfig.Interval is zero.
const DefaultWatchInterval = 5 * time.Minute

// SchedulerConfig holds configuration for the directory scheduler.
type SchedulerConfig struct {
	Dir      string        // directory to scan
	Interval time.Duration // how often to run (default: 5m)
}

// Scheduler runs a Pipeline over one directory, sharing a Gate with manual
// triggers.
type Scheduler struct {
	p    *Pipeline
	gate *Gate
	cfg  SchedulerConfig

	mu      sync.RWMutex
	last    *core.Summary
	lastErr error
}

// NewScheduler creates a scheduler for cfg.Dir.
func NewScheduler(p *Pipeline, gate *Gate, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultWatchInterval
	}
	return &Scheduler{p: p, gate: gate, cfg: cfg}
}

// Start runs immediately, then every Interval, until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("scheduler started", "dir", s.cfg.Dir, "interval", s.cfg.Interval)

	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.gate.TryAcquire() {
		slog.Debug("scheduled run skipped, another run is in progress")
		return
	}
	defer s.gate.Release()
	s.run(ctx)
}

// Trigger runs the directory now, waiting for an in-flight run up to the
// gate's timeout.
func (s *Scheduler) Trigger(ctx context.Context) (core.Summary, error) {
	if err := s.gate.Acquire(ctx); err != nil {
		return core.Summary{}, err
	}
	defer s.gate.Release()
	return s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) (core.Summary, error) {
	summary, err := s.p.RunDir(ctx, s.cfg.Dir)
	if err != nil {
		logging.FromContext(ctx).Error("scheduled run failed", "dir", s.cfg.Dir, "error", err)
	}

	s.mu.Lock()
	s.last = &summary
	s.lastErr = err
	s.mu.Unlock()
	return summary, err
}

// Last returns the most recent run summary, or nil before the first run.
func (s *Scheduler) Last() (*core.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.lastErr
}

// Gate returns the scheduler's run gate.
func (s *Scheduler) Gate() *Gate {
	return s.gate
}

// Status is a snapshot of the scheduler for the ops server.
type Status struct {
	Gate      GateStatus
	Last      *core.Summary
	LastError error
}

// Status returns the gate state and the most recent run.
func (s *Scheduler) Status() Status {
	last, err := s.Last()
	return Status{Gate: s.gate.Status(), Last: last, LastError: err}
}
