package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rokoss21/IOSM/internal/history"
	iosmhttp "github.com/rokoss21/IOSM/internal/http"
	"github.com/rokoss21/IOSM/internal/logging"
	"github.com/rokoss21/IOSM/internal/orchestrator"
)

type stubRuns struct {
	triggered []string
}

func (s *stubRuns) Trigger(_ context.Context, systemID string, _ bool) (string, error) {
	s.triggered = append(s.triggered, systemID)
	return "run-new", nil
}

func (s *stubRuns) Active(string) (string, bool) { return "", false }

// startAPI serves the real iosmd API over a memory store seeded with one run.
func startAPI(t *testing.T, runs iosmhttp.RunController) *httptest.Server {
	t.Helper()
	store := history.NewMemoryStore()
	ctx := context.Background()
	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	for i, idx := range []float64{0.62, 0.75, 0.91} {
		entry := orchestrator.HistoryEntry{
			RunID:      "run-1",
			SystemID:   "billing",
			Cycle:      i + 1,
			Index:      idx,
			Metrics:    orchestrator.CycleMetrics{orchestrator.DimensionFlow: idx},
			Decision:   orchestrator.VerdictContinue,
			RecordedAt: start.Add(time.Duration(i) * time.Minute),
		}
		if i == 2 {
			entry.Decision = orchestrator.VerdictStop
			entry.Reason = orchestrator.StopReasonThreshold
		}
		require.NoError(t, store.Append(ctx, entry))
	}

	server, err := iosmhttp.NewServer(iosmhttp.Deps{
		History: store,
		Runs:    runs,
		Tracker: iosmhttp.NewTracker(),
		Version: "test",
	}, logging.NewNop(), nil)
	require.NoError(t, err)

	ts := httptest.NewServer(server.Echo())
	t.Cleanup(ts.Close)
	return ts
}

func TestNewClient(t *testing.T) {
	client := NewClient("http://localhost:9464/")
	assert.Equal(t, "http://localhost:9464", client.baseURL)
	assert.NotNil(t, client.client)
}

func TestClient_Health(t *testing.T) {
	ts := startAPI(t, nil)

	health, err := NewClient(ts.URL).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
}

func TestClient_StatusAndHistory(t *testing.T) {
	ts := startAPI(t, nil)
	client := NewClient(ts.URL)
	ctx := context.Background()

	status, err := client.Status(ctx, "billing")
	require.NoError(t, err)
	require.NotNil(t, status.LastRun)
	assert.Equal(t, "run-1", status.LastRun.RunID)
	assert.True(t, status.LastRun.Stopped())

	hist, err := client.History(ctx, "billing")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.62, 0.75, 0.91}, hist.Entries.Indices())
}

func TestClient_UnknownSystem(t *testing.T) {
	ts := startAPI(t, nil)

	_, err := NewClient(ts.URL).Status(context.Background(), "search")
	assert.ErrorIs(t, err, ErrUnknownSystem)
}

func TestClient_Trigger(t *testing.T) {
	runs := &stubRuns{}
	ts := startAPI(t, runs)

	resp, err := NewClient(ts.URL).Trigger(context.Background(), "billing", false)
	require.NoError(t, err)
	assert.Equal(t, "run-new", resp.RunID)
	assert.Equal(t, []string{"billing"}, runs.triggered)
}

func TestClient_TriggerWithoutScheduler(t *testing.T) {
	ts := startAPI(t, nil)

	_, err := NewClient(ts.URL).Trigger(context.Background(), "billing", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status code 503")
}

func TestClient_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewClient(server.URL).Health(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context deadline exceeded")
}

func TestClient_MalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{invalid json"))
	}))
	defer server.Close()

	_, err := NewClient(server.URL).Health(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode response")
}
