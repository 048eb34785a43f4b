package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zapcore"

	"github.com/rokoss21/IOSM/internal/logging"
	"github.com/rokoss21/IOSM/internal/telemetry"
)

// scriptedBacklog returns one backlog per call, repeating the last one.
type scriptedBacklog struct {
	mu    sync.Mutex
	calls int
	lists [][]BacklogItem
	err   error
}

func (b *scriptedBacklog) Backlog(context.Context, string) ([]BacklogItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	i := b.calls
	if i >= len(b.lists) {
		i = len(b.lists) - 1
	}
	b.calls++
	return b.lists[i], nil
}

// scriptedCollector returns one metrics set per call, repeating the last one.
type scriptedCollector struct {
	mu    sync.Mutex
	calls int
	sets  []CycleMetrics
	err   error
}

func (c *scriptedCollector) Collect(context.Context, string) (CycleMetrics, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	i := c.calls
	if i >= len(c.sets) {
		i = len(c.sets) - 1
	}
	c.calls++
	return c.sets[i], nil
}

type memoryLog struct {
	mu      sync.Mutex
	entries History
	err     error
}

func (l *memoryLog) Append(_ context.Context, entry HistoryEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.entries = append(l.entries, entry)
	return nil
}

// countingExecutor reports quality 0.9 and counts invocations per phase.
type countingExecutor struct {
	mu    sync.Mutex
	calls map[Phase]int
	goals [][]string
}

func newCountingExecutor() *countingExecutor {
	return &countingExecutor{calls: make(map[Phase]int)}
}

func (c *countingExecutor) Execute(_ context.Context, req PhaseRequest) (*PhaseResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[req.Phase]++
	if req.Phase == PhaseImprove {
		c.goals = append(c.goals, GoalIDs(req.Goals))
	}
	return measured(map[string]float64{"quality": 0.9}), nil
}

func (c *countingExecutor) Calls(p Phase) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[p]
}

func testEngineConfig(t *testing.T) *Config {
	t.Helper()
	gates := make(map[Phase]GateConfig)
	for _, p := range AllPhases() {
		gate, err := ParseGateConfig(p, map[string]any{"quality": 0.5})
		require.NoError(t, err)
		gates[p] = gate
	}
	return &Config{
		Planning: PlanningOptions{UseEconomicDecision: true},
		Gates:    gates,
		Weights:  standardWeights(),
		Decision: DefaultDecisionPolicy(),
		Retry:    testRetryPolicy(),
	}
}

func executorsFor(exec PhaseExecutor) map[Phase]PhaseExecutor {
	m := make(map[Phase]PhaseExecutor)
	for _, p := range AllPhases() {
		m[p] = exec
	}
	return m
}

func oneItemBacklog() *scriptedBacklog {
	return &scriptedBacklog{lists: [][]BacklogItem{{{ID: "task-1", Cost: 1, Value: 1}}}}
}

func newTestEngine(t *testing.T, cfg *Config, backlog BacklogProvider, exec PhaseExecutor, collector MetricsCollector, opts ...Option) *Engine {
	t.Helper()
	sleep := &recordingSleep{}
	opts = append([]Option{WithSleep(sleep.Sleep)}, opts...)
	e, err := NewEngine(cfg, backlog, executorsFor(exec), collector, opts...)
	require.NoError(t, err)
	return e
}

func TestEngine_EmptyBacklogStopsImmediately(t *testing.T) {
	exec := newCountingExecutor()
	collector := &scriptedCollector{sets: []CycleMetrics{uniformMetrics(0.5)}}
	e := newTestEngine(t, testEngineConfig(t), &scriptedBacklog{lists: [][]BacklogItem{nil}}, exec, collector)

	result, err := e.Run(context.Background(), "sys")

	require.NoError(t, err)
	assert.True(t, result.Converged())
	assert.Equal(t, StopReasonBacklogEmpty, result.Decision.Reason)
	assert.Zero(t, result.Cycles)
	assert.Empty(t, result.History)
	assert.NotEmpty(t, result.RunID)
	for _, p := range AllPhases() {
		assert.Zero(t, exec.Calls(p))
	}
	assert.Zero(t, collector.calls)
}

func TestEngine_StopsOnThreshold(t *testing.T) {
	exec := newCountingExecutor()
	backlog := oneItemBacklog()
	collector := &scriptedCollector{sets: []CycleMetrics{uniformMetrics(0.99)}}
	log := &memoryLog{}
	e := newTestEngine(t, testEngineConfig(t), backlog, exec, collector,
		WithHistoryLog(log),
		WithRevision(func(context.Context) (string, error) { return "abc123", nil }),
	)

	result, err := e.Run(context.Background(), "sys", WithRunID("run-42"))

	require.NoError(t, err)
	assert.Equal(t, "run-42", result.RunID)
	assert.Equal(t, StopReasonThreshold, result.Decision.Reason)
	assert.Equal(t, 1, result.Cycles)
	assert.InDelta(t, 0.99, result.FinalIndex, 1e-9)
	require.Len(t, result.History, 1)

	entry := result.History[0]
	assert.Equal(t, 1, entry.Cycle)
	assert.Equal(t, "run-42", entry.RunID)
	assert.Equal(t, "sys", entry.SystemID)
	assert.Equal(t, []string{"task-1"}, entry.Goals)
	assert.Equal(t, "abc123", entry.Revision)
	assert.Equal(t, VerdictStop, entry.Decision)
	assert.Equal(t, StopReasonThreshold, entry.Reason)

	for _, p := range AllPhases() {
		assert.Equal(t, 1, exec.Calls(p))
	}
	// The backlog is not refetched once the threshold is reached.
	assert.Equal(t, 1, backlog.calls)
	assert.Equal(t, result.History, log.entries)
}

func TestEngine_StopsOnStagnation(t *testing.T) {
	exec := newCountingExecutor()
	collector := &scriptedCollector{sets: []CycleMetrics{uniformMetrics(0.8)}}
	e := newTestEngine(t, testEngineConfig(t), oneItemBacklog(), exec, collector)

	result, err := e.Run(context.Background(), "sys")

	require.NoError(t, err)
	assert.Equal(t, StopReasonStagnation, result.Decision.Reason)
	assert.Equal(t, 3, result.Cycles)
	require.Len(t, result.History, 3)
	for i, entry := range result.History {
		assert.Equal(t, i+1, entry.Cycle)
		assert.InDelta(t, 0.8, entry.Index, 1e-9)
	}
	assert.Equal(t, VerdictContinue, result.History[0].Decision)
	assert.Equal(t, 3, exec.Calls(PhaseModularize))
}

func TestEngine_StopsWhenBacklogDrains(t *testing.T) {
	exec := newCountingExecutor()
	backlog := &scriptedBacklog{lists: [][]BacklogItem{
		{{ID: "b", Cost: 2, Value: 1}, {ID: "a", Cost: 1, Value: 1}},
		{{ID: "b", Cost: 2, Value: 1}},
		nil,
	}}
	collector := &scriptedCollector{sets: []CycleMetrics{uniformMetrics(0.5), uniformMetrics(0.6)}}
	e := newTestEngine(t, testEngineConfig(t), backlog, exec, collector)

	result, err := e.Run(context.Background(), "sys")

	require.NoError(t, err)
	assert.Equal(t, StopReasonBacklogEmpty, result.Decision.Reason)
	assert.Equal(t, 2, result.Cycles)
	assert.Equal(t, [][]string{{"a", "b"}, {"b"}}, exec.goals)
}

func TestEngine_MaxCycles(t *testing.T) {
	cfg := testEngineConfig(t)
	cfg.Decision.MaxCycles = 2
	collector := &scriptedCollector{sets: []CycleMetrics{uniformMetrics(0.1), uniformMetrics(0.3), uniformMetrics(0.5)}}
	e := newTestEngine(t, cfg, oneItemBacklog(), newCountingExecutor(), collector)

	result, err := e.Run(context.Background(), "sys")

	require.NoError(t, err)
	assert.Equal(t, StopReasonMaxCycles, result.Decision.Reason)
	assert.Equal(t, 2, result.Cycles)
}

func TestEngine_RetriesGateWithinCycle(t *testing.T) {
	var mu sync.Mutex
	attempts := make(map[Phase]int)
	exec := PhaseExecutorFunc(func(_ context.Context, req PhaseRequest) (*PhaseResult, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts[req.Phase]++
		if req.Phase == PhaseShrink && req.Attempt == 1 {
			return measured(map[string]float64{"quality": 0.1}), nil
		}
		return measured(map[string]float64{"quality": 0.9}), nil
	})

	var events []EventType
	observer := ObserverFunc(func(_ context.Context, ev Event) { events = append(events, ev.Type) })
	collector := &scriptedCollector{sets: []CycleMetrics{uniformMetrics(0.99)}}
	e := newTestEngine(t, testEngineConfig(t), oneItemBacklog(), exec, collector, WithObserver(observer))

	result, err := e.Run(context.Background(), "sys")

	require.NoError(t, err)
	assert.Equal(t, 1, result.Cycles)
	assert.Equal(t, 2, attempts[PhaseShrink])
	assert.Equal(t, 1, attempts[PhaseModularize])
	assert.Contains(t, events, EventGateFailed)
	assert.Equal(t, EventRunStarted, events[0])
	assert.Equal(t, EventRunStopped, events[len(events)-1])
}

func TestEngine_GateExhaustedReturnsPartialResult(t *testing.T) {
	exec := PhaseExecutorFunc(func(_ context.Context, req PhaseRequest) (*PhaseResult, error) {
		if req.Phase == PhaseOptimize && req.Cycle == 2 {
			return measured(map[string]float64{"quality": 0.1}), nil
		}
		return measured(map[string]float64{"quality": 0.9}), nil
	})
	collector := &scriptedCollector{sets: []CycleMetrics{uniformMetrics(0.4)}}
	logger := logging.NewTestLogger()
	e := newTestEngine(t, testEngineConfig(t), oneItemBacklog(), exec, collector, WithLogger(logger.Logger))

	result, err := e.Run(context.Background(), "sys")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGateExhausted)
	phase, cycle, ok := ErrorPhase(err)
	require.True(t, ok)
	assert.Equal(t, PhaseOptimize, phase)
	assert.Equal(t, 2, cycle)

	require.NotNil(t, result)
	assert.Equal(t, 1, result.Cycles)
	require.Len(t, result.History, 1)
	assert.False(t, result.Converged())
	logger.AssertLogged(t, zapcore.ErrorLevel, "run aborted")
}

func TestEngine_MissingMeasurementIsFatal(t *testing.T) {
	exec := PhaseExecutorFunc(func(context.Context, PhaseRequest) (*PhaseResult, error) {
		return measured(map[string]float64{"other": 1}), nil
	})
	collector := &scriptedCollector{sets: []CycleMetrics{uniformMetrics(0.4)}}
	e := newTestEngine(t, testEngineConfig(t), oneItemBacklog(), exec, collector)

	_, err := e.Run(context.Background(), "sys")

	assert.ErrorIs(t, err, ErrMissingMeasurement)
	phase, cycle, _ := ErrorPhase(err)
	assert.Equal(t, PhaseImprove, phase)
	assert.Equal(t, 1, cycle)
}

func TestEngine_WeightMismatchIsConfigError(t *testing.T) {
	metrics := uniformMetrics(0.9)
	delete(metrics, DimensionFlow)
	collector := &scriptedCollector{sets: []CycleMetrics{metrics}}
	e := newTestEngine(t, testEngineConfig(t), oneItemBacklog(), newCountingExecutor(), collector)

	_, err := e.Run(context.Background(), "sys")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
	phase, cycle, ok := ErrorPhase(err)
	require.True(t, ok)
	assert.Equal(t, PhaseScore, phase)
	assert.Equal(t, 1, cycle)
}

func TestEngine_CollectorFailure(t *testing.T) {
	collector := &scriptedCollector{err: errors.New("metrics unavailable")}
	e := newTestEngine(t, testEngineConfig(t), oneItemBacklog(), newCountingExecutor(), collector)

	_, err := e.Run(context.Background(), "sys")

	assert.ErrorIs(t, err, ErrExecution)
	phase, _, _ := ErrorPhase(err)
	assert.Equal(t, PhaseScore, phase)
}

func TestEngine_BacklogFailure(t *testing.T) {
	backlog := &scriptedBacklog{err: errors.New("backlog offline")}
	e := newTestEngine(t, testEngineConfig(t), backlog, newCountingExecutor(), &scriptedCollector{sets: []CycleMetrics{uniformMetrics(1)}})

	_, err := e.Run(context.Background(), "sys")

	assert.ErrorIs(t, err, ErrExecution)
	phase, cycle, _ := ErrorPhase(err)
	assert.Equal(t, PhasePlan, phase)
	assert.Equal(t, 1, cycle)
}

func TestEngine_HistoryPersistFailure(t *testing.T) {
	log := &memoryLog{err: errors.New("disk full")}
	collector := &scriptedCollector{sets: []CycleMetrics{uniformMetrics(0.2)}}
	e := newTestEngine(t, testEngineConfig(t), oneItemBacklog(), newCountingExecutor(), collector, WithHistoryLog(log))

	result, err := e.Run(context.Background(), "sys")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExecution)
	assert.Contains(t, err.Error(), "disk full")
	// The completed cycle is still reported.
	assert.Len(t, result.History, 1)
}

// flakyBacklog serves one item on the first call and fails every later call.
type flakyBacklog struct {
	calls  int
	err    error
	cancel context.CancelFunc
}

func (b *flakyBacklog) Backlog(ctx context.Context, _ string) ([]BacklogItem, error) {
	b.calls++
	if b.calls == 1 {
		return []BacklogItem{{ID: "task-1", Cost: 1, Value: 1}}, nil
	}
	if b.cancel != nil {
		b.cancel()
		return nil, ctx.Err()
	}
	return nil, b.err
}

func TestEngine_RefetchFailureKeepsCompletedCycle(t *testing.T) {
	tests := []struct {
		name    string
		cancel  bool
		wantErr error
	}{
		{name: "provider error", wantErr: ErrExecution},
		{name: "cancelled", cancel: true, wantErr: ErrCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			backlog := &flakyBacklog{err: errors.New("provider down")}
			if tt.cancel {
				backlog.cancel = cancel
			}
			log := &memoryLog{}
			collector := &scriptedCollector{sets: []CycleMetrics{uniformMetrics(0.5)}}
			e := newTestEngine(t, testEngineConfig(t), backlog, newCountingExecutor(), collector, WithHistoryLog(log))

			result, err := e.Run(ctx, "sys")

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			phase, cycle, _ := ErrorPhase(err)
			assert.Equal(t, PhasePlan, phase)
			assert.Equal(t, 2, cycle)

			require.Len(t, result.History, 1)
			assert.Equal(t, 1, result.Cycles)
			assert.Equal(t, VerdictContinue, result.History[0].Decision)
			require.Len(t, log.entries, 1)
			assert.Equal(t, 1, log.entries[0].Cycle)
		})
	}
}

func TestEngine_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec := PhaseExecutorFunc(func(_ context.Context, req PhaseRequest) (*PhaseResult, error) {
		if req.Phase == PhaseModularize {
			cancel()
		}
		return measured(map[string]float64{"quality": 0.9}), nil
	})
	collector := &scriptedCollector{sets: []CycleMetrics{uniformMetrics(0.5)}}
	e := newTestEngine(t, testEngineConfig(t), oneItemBacklog(), exec, collector)

	result, err := e.Run(ctx, "sys")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, result.History)
	assert.Zero(t, collector.calls)
}

func TestEngine_ResumeFromPriorHistory(t *testing.T) {
	prior := History{
		{RunID: "run-7", SystemID: "sys", Cycle: 1, Index: 0.8},
		{RunID: "run-7", SystemID: "sys", Cycle: 2, Index: 0.8},
	}
	collector := &scriptedCollector{sets: []CycleMetrics{uniformMetrics(0.8)}}
	e := newTestEngine(t, testEngineConfig(t), oneItemBacklog(), newCountingExecutor(), collector)

	result, err := e.Run(context.Background(), "sys", WithRunID("run-7"), WithPriorHistory(prior))

	require.NoError(t, err)
	assert.Equal(t, StopReasonStagnation, result.Decision.Reason)
	assert.Equal(t, 1, result.Cycles)
	require.Len(t, result.History, 3)
	assert.Equal(t, 3, result.History[2].Cycle)
	assert.Len(t, prior, 2, "prior history must not be modified")
}

func TestEngine_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	collector := &scriptedCollector{sets: []CycleMetrics{uniformMetrics(0.99)}}
	e := newTestEngine(t, testEngineConfig(t), oneItemBacklog(), newCountingExecutor(), collector,
		WithMeter(mp.Meter(instrumentationName)))

	_, err := e.Run(context.Background(), "sys")
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			found[m.Name] = true
			if m.Name == "iosm.index" {
				gauge, ok := m.Data.(metricdata.Gauge[float64])
				require.True(t, ok)
				require.Len(t, gauge.DataPoints, 1)
				assert.InDelta(t, 0.99, gauge.DataPoints[0].Value, 1e-9)
			}
		}
	}
	assert.True(t, found["iosm.runs"])
	assert.True(t, found["iosm.cycles"])
	assert.True(t, found["iosm.phase.attempts"])
	assert.True(t, found["iosm.index"])
	assert.True(t, found["iosm.cycle.duration"])
}

func TestNewEngine_Validation(t *testing.T) {
	cfg := testEngineConfig(t)
	collector := &scriptedCollector{sets: []CycleMetrics{uniformMetrics(1)}}
	exec := newCountingExecutor()

	_, err := NewEngine(cfg, nil, executorsFor(exec), collector)
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewEngine(cfg, oneItemBacklog(), executorsFor(exec), nil)
	assert.ErrorIs(t, err, ErrConfig)

	partial := executorsFor(exec)
	delete(partial, PhaseShrink)
	_, err = NewEngine(cfg, oneItemBacklog(), partial, collector)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shrink")

	bad := testEngineConfig(t)
	delete(bad.Gates, PhaseModularize)
	_, err = NewEngine(bad, oneItemBacklog(), executorsFor(exec), collector)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gate_M")
}

func TestEngine_ConcurrentSystems(t *testing.T) {
	collector := &scriptedCollector{sets: []CycleMetrics{uniformMetrics(0.99)}}
	e := newTestEngine(t, testEngineConfig(t), oneItemBacklog(), newCountingExecutor(), collector)

	var wg sync.WaitGroup
	results := make([]*RunResult, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := e.Run(context.Background(), "sys-"+string(rune('a'+i)))
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		require.NotNil(t, r)
		assert.Len(t, r.History, 1)
		assert.Equal(t, r.SystemID, r.History[0].SystemID)
	}
}

func TestEngine_Spans(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	collector := &scriptedCollector{sets: []CycleMetrics{uniformMetrics(0.99)}}
	e := newTestEngine(t, testEngineConfig(t), oneItemBacklog(), newCountingExecutor(), collector,
		WithTracer(tt.Tracer(instrumentationName)),
		WithMeter(tt.Meter(instrumentationName)),
	)

	_, err := e.Run(context.Background(), "sys", WithRunID("run-span"))
	require.NoError(t, err)

	tt.AssertSpanExists(t, "iosm.run")
	tt.AssertSpanAttribute(t, "iosm.run", "iosm.run_id", "run-span")
	tt.AssertSpanAttribute(t, "iosm.run", "iosm.stop_reason", string(StopReasonThreshold))
	tt.AssertSpanAttribute(t, "iosm.cycle", "iosm.cycle", int64(1))
	assert.Len(t, tt.SpansByName("iosm.phase"), 4)

	names, err := tt.MetricNames(context.Background())
	require.NoError(t, err)
	assert.Contains(t, names, "iosm.cycles")
}
