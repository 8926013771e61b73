package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsOnStartAndStops(t *testing.T) {
	h := newHarness(t, nil)
	writeFile(t, h.raw, "vendas.csv", salesFile)

	sched := NewScheduler(h.p, NewGate(time.Second), SchedulerConfig{Dir: h.raw, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	require.Eventually(t, func() bool {
		last, _ := sched.Last()
		return last != nil
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	wg.Wait()

	last, err := sched.Last()
	require.NoError(t, err)
	assert.Equal(t, 1, last.FilesSucceeded)
	assert.Equal(t, 2, last.RecordsLoaded)
	assert.False(t, sched.Gate().Status().Running)
}

func TestScheduler_TriggerWaitsForGate(t *testing.T) {
	h := newHarness(t, nil)
	gate := NewGate(30 * time.Millisecond)
	sched := NewScheduler(h.p, gate, SchedulerConfig{Dir: h.raw})

	require.True(t, gate.TryAcquire())
	_, err := sched.Trigger(context.Background())
	assert.True(t, errors.Is(err, ErrRunInProgress))
	gate.Release()

	writeFile(t, h.raw, "vendas.csv", salesFile)
	summary, err := sched.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesTotal)
	assert.False(t, summary.Failed())
}

func TestScheduler_TickSkipsWhenBusy(t *testing.T) {
	h := newHarness(t, nil)
	gate := NewGate(time.Second)
	sched := NewScheduler(h.p, gate, SchedulerConfig{Dir: h.raw})

	require.True(t, gate.TryAcquire())
	sched.tick(context.Background())
	gate.Release()

	last, _ := sched.Last()
	assert.Nil(t, last)
}

func TestScheduler_RecordsScanError(t *testing.T) {
	h := newHarness(t, nil)
	sched := NewScheduler(h.p, NewGate(time.Second), SchedulerConfig{Dir: filepath.Join(h.raw, "missing")})

	_, err := sched.Trigger(context.Background())
	require.Error(t, err)

	_, lastErr := sched.Last()
	assert.Equal(t, err, lastErr)
}
