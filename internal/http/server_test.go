package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rokoss21/IOSM/internal/history"
	"github.com/rokoss21/IOSM/internal/logging"
	"github.com/rokoss21/IOSM/internal/orchestrator"
	"github.com/rokoss21/IOSM/internal/scheduler"
	"github.com/rokoss21/IOSM/internal/telemetry"
)

type MockRunController struct {
	mock.Mock
}

func (m *MockRunController) Trigger(ctx context.Context, systemID string, resume bool) (string, error) {
	args := m.Called(ctx, systemID, resume)
	return args.String(0), args.Error(1)
}

func (m *MockRunController) Active(systemID string) (string, bool) {
	args := m.Called(systemID)
	return args.String(0), args.Bool(1)
}

var recorded = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func seededStore(t *testing.T) history.Store {
	t.Helper()
	store := history.NewMemoryStore()
	ctx := context.Background()
	for i, idx := range []float64{0.6, 0.8} {
		require.NoError(t, store.Append(ctx, orchestrator.HistoryEntry{
			RunID:      "run-1",
			SystemID:   "billing",
			Cycle:      i + 1,
			Index:      idx,
			Decision:   orchestrator.VerdictContinue,
			RecordedAt: recorded.Add(time.Duration(i) * time.Minute),
		}))
	}
	return store
}

func setupTestServer(t *testing.T, runs RunController) (*Server, *Tracker) {
	t.Helper()
	tracker := NewTracker()
	server, err := NewServer(Deps{
		History:  seededStore(t),
		Runs:     runs,
		Tracker:  tracker,
		Gatherer: prometheus.NewRegistry(),
		Version:  "1.2.3",
	}, logging.NewNop(), nil)
	require.NoError(t, err)
	return server, tracker
}

func serve(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, _ := setupTestServer(t, nil)
		assert.Equal(t, "127.0.0.1", server.config.Host)
		assert.Equal(t, 9464, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(Deps{History: history.NewMemoryStore()}, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when history is nil", func(t *testing.T) {
		_, err := NewServer(Deps{}, logging.NewNop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "history store cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	server, _ := setupTestServer(t, nil)

	rec := serve(server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Nil(t, resp.Telemetry)
}

func TestHandleHealth_ReportsTelemetry(t *testing.T) {
	tel, err := telemetry.New(context.Background(), telemetry.NewDefaultConfig())
	require.NoError(t, err)

	server, err := NewServer(Deps{History: seededStore(t), Telemetry: tel}, logging.NewNop(), nil)
	require.NoError(t, err)

	rec := serve(server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.NotNil(t, resp.Telemetry)
	assert.True(t, resp.Telemetry.Healthy)
	assert.False(t, resp.Telemetry.Degraded)
}

func TestHandleMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "iosm_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	server, err := NewServer(Deps{History: history.NewMemoryStore(), Gatherer: reg}, logging.NewNop(), nil)
	require.NoError(t, err)

	rec := serve(server, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "iosm_test_total 1")
}

func TestHandleStatus(t *testing.T) {
	t.Run("combines live and persisted state", func(t *testing.T) {
		runs := new(MockRunController)
		runs.On("Active", "billing").Return("run-2", true)
		server, tracker := setupTestServer(t, runs)

		tracker.OnEvent(context.Background(), orchestrator.Event{
			Type:      orchestrator.EventPhaseStarted,
			RunID:     "run-2",
			SystemID:  "billing",
			Cycle:     1,
			Phase:     orchestrator.PhaseShrink,
			Attempt:   2,
			Timestamp: recorded,
		})

		rec := serve(server, http.MethodGet, "/api/v1/systems/billing/status", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp StatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Running)
		require.NotNil(t, resp.Live)
		assert.Equal(t, orchestrator.PhaseShrink, resp.Live.Phase)
		assert.Equal(t, 2, resp.Live.Attempt)
		require.NotNil(t, resp.LastRun)
		assert.Equal(t, "run-1", resp.LastRun.RunID)
		assert.Equal(t, 2, resp.LastRun.Cycles)
		assert.Equal(t, 0.8, resp.LastRun.LastIndex)
		runs.AssertExpectations(t)
	})

	t.Run("unknown system", func(t *testing.T) {
		server, _ := setupTestServer(t, nil)
		rec := serve(server, http.MethodGet, "/api/v1/systems/nope/status", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleHistory(t *testing.T) {
	server, _ := setupTestServer(t, nil)

	t.Run("latest run by default", func(t *testing.T) {
		rec := serve(server, http.MethodGet, "/api/v1/systems/billing/history", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp HistoryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Runs, 1)
		require.Len(t, resp.Entries, 2)
		assert.Equal(t, []float64{0.6, 0.8}, resp.Entries.Indices())
	})

	t.Run("unknown run", func(t *testing.T) {
		rec := serve(server, http.MethodGet, "/api/v1/systems/billing/history?run_id=missing", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp HistoryResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Empty(t, resp.Entries)
	})

	t.Run("system without history", func(t *testing.T) {
		rec := serve(server, http.MethodGet, "/api/v1/systems/search/history", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.Contains(rec.Body.String(), `"runs":[]`))
	})
}

func TestHandleRun(t *testing.T) {
	t.Run("starts a run", func(t *testing.T) {
		runs := new(MockRunController)
		runs.On("Trigger", mock.Anything, "billing", true).Return("run-9", nil)
		server, _ := setupTestServer(t, runs)

		rec := serve(server, http.MethodPost, "/api/v1/systems/billing/runs", []byte(`{"resume": true}`))
		require.Equal(t, http.StatusAccepted, rec.Code)

		var resp RunResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "run-9", resp.RunID)
		runs.AssertExpectations(t)
	})

	t.Run("empty body starts a fresh run", func(t *testing.T) {
		runs := new(MockRunController)
		runs.On("Trigger", mock.Anything, "billing", false).Return("run-10", nil)
		server, _ := setupTestServer(t, runs)

		rec := serve(server, http.MethodPost, "/api/v1/systems/billing/runs", nil)
		assert.Equal(t, http.StatusAccepted, rec.Code)
		runs.AssertExpectations(t)
	})

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"in progress", scheduler.ErrRunInProgress, http.StatusConflict},
		{"shutting down", scheduler.ErrShuttingDown, http.StatusServiceUnavailable},
		{"other failure", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs := new(MockRunController)
			runs.On("Trigger", mock.Anything, "billing", false).Return("", tt.err)
			server, _ := setupTestServer(t, runs)

			rec := serve(server, http.MethodPost, "/api/v1/systems/billing/runs", nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	t.Run("invalid body", func(t *testing.T) {
		server, _ := setupTestServer(t, new(MockRunController))
		rec := serve(server, http.MethodPost, "/api/v1/systems/billing/runs", []byte("{not json"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("runs disabled", func(t *testing.T) {
		server, _ := setupTestServer(t, nil)
		rec := serve(server, http.MethodPost, "/api/v1/systems/billing/runs", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestTracker_KeepsIndexWithinRun(t *testing.T) {
	tracker := NewTracker()
	ctx := context.Background()

	tracker.OnEvent(ctx, orchestrator.Event{
		Type:     orchestrator.EventCycleScored,
		RunID:    "run-1",
		SystemID: "billing",
		Entry:    &orchestrator.HistoryEntry{Index: 0.7},
	})
	tracker.OnEvent(ctx, orchestrator.Event{Type: orchestrator.EventCycleStarted, RunID: "run-1", SystemID: "billing", Cycle: 2})

	st, ok := tracker.Status("billing")
	require.True(t, ok)
	require.NotNil(t, st.Index)
	assert.Equal(t, 0.7, *st.Index)
	assert.Equal(t, 2, st.Cycle)

	tracker.OnEvent(ctx, orchestrator.Event{Type: orchestrator.EventRunStarted, RunID: "run-2", SystemID: "billing"})
	st, _ = tracker.Status("billing")
	assert.Nil(t, st.Index)
}
