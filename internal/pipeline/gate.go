package pipeline

// gate.go serializes pipeline runs within one process.
//
// The scheduler and a manual trigger from the ops server share one Gate so
// two directory runs never overlap. Triggers wait up to maxWait for the
// running batch before failing with ErrRunInProgress; scheduler ticks use
// TryAcquire and simply skip.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRunInProgress is returned when another run holds the gate past the
// wait timeout.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// DefaultMaxWaitTime is how long Acquire waits for the running batch.
const DefaultMaxWaitTime = 10 * time.Second

// Gate is a single-slot semaphore guarding pipeline runs.
type Gate struct {
	slot    chan struct{}
	maxWait time.Duration

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewGate creates a gate whose waiters give up after maxWait.
func NewGate(maxWait time.Duration) *Gate {
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &Gate{
		slot:    make(chan struct{}, 1),
		maxWait: maxWait,
	}
}

// Acquire waits for the gate. Returns ErrRunInProgress if the wait times
// out, or the context error if ctx ends first.
// The caller MUST call Release when the run completes.
func (g *Gate) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, g.maxWait)
	defer cancel()

	select {
	case g.slot <- struct{}{}:
		g.markRunning()
		return nil
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrRunInProgress
	}
}

// TryAcquire takes the gate without blocking.
func (g *Gate) TryAcquire() bool {
	select {
	case g.slot <- struct{}{}:
		g.markRunning()
		return true
	default:
		return false
	}
}

// Release frees the gate. Must be called exactly once per successful
// Acquire or TryAcquire.
func (g *Gate) Release() {
	g.mu.Lock()
	g.running = false
	g.startedAt = time.Time{}
	g.mu.Unlock()

	<-g.slot
}

func (g *Gate) markRunning() {
	g.mu.Lock()
	g.running = true
	g.startedAt = time.Now()
	g.mu.Unlock()
}

// GateStatus is a snapshot of the gate.
type GateStatus struct {
	Running   bool       `json:"running"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
}

// Status returns the current gate state for the ops server.
func (g *Gate) Status() GateStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()

	st := GateStatus{Running: g.running}
	if g.running {
		started := g.startedAt
		st.StartedAt = &started
	}
	return st
}

// WaitForIdle blocks until no run holds the gate or ctx ends. Used on
// shutdown so an in-flight file finishes its bookkeeping.
func (g *Gate) WaitForIdle(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !g.Status().Running {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
