package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rokoss21/IOSM/internal/config"
	"github.com/rokoss21/IOSM/internal/history"
	"github.com/rokoss21/IOSM/internal/orchestrator"
)

func testDocument() *config.Config {
	doc := config.Default()
	doc.System = "billing-api"
	doc.QualityGates = map[string]map[string]any{
		"gate_I": {"tests_pass": true},
		"gate_O": {"latency_ms_max": 200},
		"gate_S": {"coverage": 0.8},
		"gate_M": {"coupling_max": 0.3},
	}
	doc.IndexWeights = map[string]float64{
		"semantic": 0.15, "logic": 0.20, "performance": 0.25,
		"simplicity": 0.15, "modularity": 0.15, "flow": 0.10,
	}
	return doc
}

func appendEntry(t *testing.T, store history.Store, runID string, cycle int, verdict orchestrator.Verdict) {
	t.Helper()
	require.NoError(t, store.Append(context.Background(), orchestrator.HistoryEntry{
		RunID:    runID,
		SystemID: "billing-api",
		Cycle:    cycle,
		Index:    0.5,
		Decision: verdict,
	}))
}

func TestWorkflowID(t *testing.T) {
	assert.Equal(t, "iosm-billing-api", WorkflowID("billing-api"))
}

func TestBuildInput(t *testing.T) {
	ctx := context.Background()

	t.Run("fresh run", func(t *testing.T) {
		in, err := buildInput(ctx, testDocument(), history.NewMemoryStore(), "billing-api", false)
		require.NoError(t, err)
		assert.Equal(t, "billing-api", in.SystemID)
		assert.NotEmpty(t, in.RunID)
		assert.Empty(t, in.Prior)
		assert.Len(t, in.Config.Gates, 4)
	})

	t.Run("resume continues unfinished run", func(t *testing.T) {
		store := history.NewMemoryStore()
		appendEntry(t, store, "run-1", 1, orchestrator.VerdictContinue)
		appendEntry(t, store, "run-1", 2, orchestrator.VerdictContinue)

		in, err := buildInput(ctx, testDocument(), store, "billing-api", true)
		require.NoError(t, err)
		assert.Equal(t, "run-1", in.RunID)
		assert.Len(t, in.Prior, 2)
	})

	t.Run("resume after stopped run starts fresh", func(t *testing.T) {
		store := history.NewMemoryStore()
		appendEntry(t, store, "run-1", 1, orchestrator.VerdictStop)

		in, err := buildInput(ctx, testDocument(), store, "billing-api", true)
		require.NoError(t, err)
		assert.NotEqual(t, "run-1", in.RunID)
		assert.Empty(t, in.Prior)
	})

	t.Run("invalid document", func(t *testing.T) {
		doc := testDocument()
		delete(doc.QualityGates, "gate_S")

		_, err := buildInput(ctx, doc, history.NewMemoryStore(), "billing-api", false)
		assert.ErrorIs(t, err, orchestrator.ErrConfig)
	})
}
