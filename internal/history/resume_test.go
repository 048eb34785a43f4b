package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rokoss21/IOSM/internal/orchestrator"
)

func TestResumeOptions(t *testing.T) {
	ctx := context.Background()

	t.Run("no history", func(t *testing.T) {
		id, opts, err := ResumeOptions(ctx, NewMemoryStore(), "billing")
		require.NoError(t, err)
		assert.Empty(t, id)
		assert.Nil(t, opts)
	})

	t.Run("last run stopped", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Append(ctx, entry("run-1", "billing", 1, 0.5, orchestrator.VerdictContinue)))
		require.NoError(t, store.Append(ctx, entry("run-1", "billing", 2, 0.99, orchestrator.VerdictStop)))

		_, opts, err := ResumeOptions(ctx, store, "billing")
		require.NoError(t, err)
		assert.Nil(t, opts)
	})

	t.Run("last run unfinished", func(t *testing.T) {
		store := NewMemoryStore()
		require.NoError(t, store.Append(ctx, entry("run-1", "billing", 1, 0.99, orchestrator.VerdictStop)))
		later := entry("run-2", "billing", 1, 0.4, orchestrator.VerdictContinue)
		later.RecordedAt = later.RecordedAt.Add(time.Hour)
		require.NoError(t, store.Append(ctx, later))

		id, opts, err := ResumeOptions(ctx, store, "billing")
		require.NoError(t, err)
		assert.Equal(t, "run-2", id)
		assert.Len(t, opts, 2)
	})
}
