package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rokoss21/IOSM/internal/history"
	"github.com/rokoss21/IOSM/internal/orchestrator"
)

// blockingRun returns when release is closed or ctx is cancelled.
func blockingRun(release <-chan struct{}, calls *atomic.Int32) RunFunc {
	return func(ctx context.Context, systemID string, _ ...orchestrator.RunOption) (*orchestrator.RunResult, error) {
		calls.Add(1)
		select {
		case <-release:
			return &orchestrator.RunResult{SystemID: systemID, Cycles: 1}, nil
		case <-ctx.Done():
			return nil, &orchestrator.CancelledError{Phase: orchestrator.PhaseImprove, Cycle: 1, Err: ctx.Err()}
		}
	}
}

func TestScheduler_OneRunPerSystem(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	s := New(blockingRun(release, &calls), nil, nil)

	id, err := s.Trigger(context.Background(), "billing", false)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	active, ok := s.Active("billing")
	require.True(t, ok)
	assert.Equal(t, id, active)

	_, err = s.Trigger(context.Background(), "billing", false)
	assert.ErrorIs(t, err, ErrRunInProgress)

	other, err := s.Trigger(context.Background(), "search", false)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)

	close(release)
	s.Wait()

	_, ok = s.Active("billing")
	assert.False(t, ok)
	last, ok := s.Last("billing")
	require.True(t, ok)
	assert.Equal(t, id, last.RunID)
	assert.NoError(t, last.Err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestScheduler_Resume(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemoryStore()
	require.NoError(t, store.Append(ctx, orchestrator.HistoryEntry{
		RunID:      "run-7",
		SystemID:   "billing",
		Cycle:      1,
		Index:      0.4,
		Decision:   orchestrator.VerdictContinue,
		RecordedAt: time.Now(),
	}))

	release := make(chan struct{})
	close(release)
	var calls atomic.Int32
	s := New(blockingRun(release, &calls), store, nil)

	id, err := s.Trigger(ctx, "billing", true)
	require.NoError(t, err)
	assert.Equal(t, "run-7", id)
	s.Wait()

	id, err = s.Trigger(ctx, "billing", false)
	require.NoError(t, err)
	assert.NotEqual(t, "run-7", id)
	s.Wait()
}

func TestScheduler_Shutdown(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	s := New(blockingRun(release, &calls), nil, nil)

	_, err := s.Trigger(context.Background(), "billing", false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	last, ok := s.Last("billing")
	require.True(t, ok)
	assert.True(t, errors.Is(last.Err, orchestrator.ErrCancelled))

	_, err = s.Trigger(context.Background(), "billing", false)
	assert.ErrorIs(t, err, ErrShuttingDown)
}
