package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rokoss21/IOSM/internal/logging"
)

const instrumentationName = "github.com/rokoss21/IOSM/internal/orchestrator"

// RevisionFunc returns an identifier of the code revision a cycle was scored at.
type RevisionFunc func(ctx context.Context) (string, error)

// RunResult is returned by Engine.Run, also alongside a fatal error so callers keep
// the history accumulated before the failure.
type RunResult struct {
	RunID        string       `json:"run_id"`
	SystemID     string       `json:"system_id"`
	FinalIndex   float64      `json:"final_index"`
	FinalMetrics CycleMetrics `json:"final_metrics,omitempty"`
	History      History      `json:"history"`
	Decision     Decision     `json:"decision"`

	// Cycles counts the cycles completed by this invocation, excluding prior history.
	Cycles int `json:"cycles"`
}

// Converged reports whether the run ended on a STOP decision.
func (r *RunResult) Converged() bool {
	return r != nil && r.Decision.Stop()
}

// Engine is the cycle orchestrator for one system at a time. An Engine holds no
// per-run state, so one Engine may serve concurrent runs for different systems.
type Engine struct {
	cfg       *Config
	backlog   BacklogProvider
	executors map[Phase]PhaseExecutor
	collector MetricsCollector

	history   HistoryLog
	observers Observers
	revision  RevisionFunc
	logger    *logging.Logger
	tracer    trace.Tracer
	meter     metric.Meter
	sleep     SleepFunc
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithObserver adds an observer for lifecycle events.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithHistoryLog persists every completed cycle to log.
func WithHistoryLog(log HistoryLog) Option {
	return func(e *Engine) { e.history = log }
}

// WithRevision stamps history entries with the revision returned by fn.
func WithRevision(fn RevisionFunc) Option {
	return func(e *Engine) { e.revision = fn }
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithMeter overrides the global OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(e *Engine) { e.meter = m }
}

// WithSleep replaces the backoff sleep. Intended for tests.
func WithSleep(fn SleepFunc) Option {
	return func(e *Engine) { e.sleep = fn }
}

// NewEngine validates cfg and wires the collaborators. Every gated phase needs an executor.
func NewEngine(cfg *Config, backlog BacklogProvider, executors map[Phase]PhaseExecutor, collector MetricsCollector, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if backlog == nil {
		return nil, NewConfigError("backlog", "backlog provider is required")
	}
	if collector == nil {
		return nil, NewConfigError("metrics", "metrics collector is required")
	}
	for _, p := range AllPhases() {
		if executors[p] == nil {
			return nil, NewConfigError("executors."+string(p), "no executor registered for phase %s", p)
		}
	}

	e := &Engine{
		cfg:       cfg,
		backlog:   backlog,
		executors: executors,
		collector: collector,
		logger:    logging.NewNop(),
		tracer:    otel.Tracer(instrumentationName),
		meter:     otel.Meter(instrumentationName),
		sleep:     sleepContext,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.NewNop()
	}

	inst, err := newInstruments(e.meter)
	if err != nil {
		return nil, fmt.Errorf("creating engine instruments: %w", err)
	}
	e.observers = append(Observers{inst}, e.observers...)
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() *Config { return e.cfg }

type runOptions struct {
	runID string
	prior History
}

// RunOption configures a single run.
type RunOption func(*runOptions)

// WithRunID sets the run identifier instead of generating one.
func WithRunID(id string) RunOption {
	return func(o *runOptions) { o.runID = id }
}

// WithPriorHistory resumes a run: cycle numbering continues after the last prior entry
// and the stagnation window sees the prior indices.
func WithPriorHistory(h History) RunOption {
	return func(o *runOptions) { o.prior = h }
}

// Run drives the system through cycles until the decision policy says STOP.
//
// An empty backlog at the start returns immediately without running any phase.
// A fatal error returns the partial result together with the error.
func (e *Engine) Run(ctx context.Context, systemID string, opts ...RunOption) (*RunResult, error) {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.runID == "" {
		ro.runID = uuid.NewString()
	}

	history := make(History, len(ro.prior))
	copy(history, ro.prior)
	result := &RunResult{RunID: ro.runID, SystemID: systemID, History: history}
	cycle := 1
	if last, ok := history.Last(); ok {
		result.FinalIndex = last.Index
		result.FinalMetrics = last.Metrics
		cycle = last.Cycle + 1
	}

	ctx = logging.WithRun(ctx, ro.runID, systemID)
	ctx, span := e.tracer.Start(ctx, "iosm.run", trace.WithAttributes(
		attribute.String("iosm.run_id", ro.runID),
		attribute.String("iosm.system_id", systemID),
	))
	defer span.End()

	runner := &PhaseRunner{logger: e.logger, sleep: e.sleep, observer: e.observers}
	e.emit(ctx, Event{Type: EventRunStarted, RunID: ro.runID, SystemID: systemID, Cycle: cycle})
	e.logger.Info(ctx, "run started", zap.Int("first_cycle", cycle), zap.Int("prior_cycles", len(history)))

	backlog, err := e.fetchBacklog(ctx, systemID, cycle)
	if err != nil {
		return e.fail(ctx, span, result, err)
	}
	if len(backlog) == 0 {
		result.Decision = stop(StopReasonBacklogEmpty)
		return e.finish(ctx, span, result)
	}

	for {
		goals := Prioritize(backlog, e.cfg.Planning)
		cycleStarted := e.now()

		entry, err := e.runCycle(ctx, runner, ro.runID, systemID, cycle, goals)
		if err != nil {
			return e.fail(ctx, span, result, err)
		}

		next := backlog
		var fetchErr error
		if entry.Index < e.cfg.Decision.StopThreshold {
			next, fetchErr = e.fetchBacklog(ctx, systemID, cycle+1)
		}
		// An unknown next backlog counts as non-empty: the completed cycle is
		// still recorded before the fetch error is returned.
		hasBacklog := fetchErr != nil || len(next) > 0
		decision := e.cfg.Decision.Decide(entry.Index, append(history[:len(history):len(history)], entry), hasBacklog)
		entry.Decision = decision.Verdict
		entry.Reason = decision.Reason

		history = append(history, entry)
		result.History = history
		result.FinalIndex = entry.Index
		result.FinalMetrics = entry.Metrics
		result.Decision = decision
		result.Cycles++

		if err := e.record(ctx, entry, decision, cycleStarted); err != nil {
			return e.fail(ctx, span, result, err)
		}
		if fetchErr != nil {
			return e.fail(ctx, span, result, fetchErr)
		}

		if decision.Stop() {
			return e.finish(ctx, span, result)
		}
		backlog = next
		cycle++
	}
}

// record persists a scored cycle and announces it. Persistence ignores run
// cancellation so a completed cycle is never lost.
func (e *Engine) record(ctx context.Context, entry HistoryEntry, decision Decision, cycleStarted time.Time) error {
	if e.history != nil {
		if err := e.history.Append(context.WithoutCancel(ctx), entry); err != nil {
			return &ExecutionError{
				Phase: PhaseScore,
				Cycle: entry.Cycle,
				Err:   fmt.Errorf("persisting history: %w", err),
			}
		}
	}

	e.emit(ctx, Event{
		Type:     EventCycleScored,
		RunID:    entry.RunID,
		SystemID: entry.SystemID,
		Cycle:    entry.Cycle,
		Phase:    PhaseScore,
		Entry:    &entry,
		Decision: &decision,
		Duration: e.now().Sub(cycleStarted),
	})
	e.logger.Info(ctx, "cycle scored",
		zap.Int("cycle", entry.Cycle),
		zap.Float64("index", entry.Index),
		zap.String("decision", string(decision.Verdict)),
		zap.String("reason", string(decision.Reason)),
	)
	return nil
}

// runCycle drives the phase state machine from IMPROVE to SCORE and scores the cycle.
func (e *Engine) runCycle(ctx context.Context, runner *PhaseRunner, runID, systemID string, cycle int, goals []Goal) (HistoryEntry, error) {
	started := e.now()
	ctx = logging.WithCycle(ctx, cycle)
	ctx, span := e.tracer.Start(ctx, "iosm.cycle", trace.WithAttributes(
		attribute.Int("iosm.cycle", cycle),
		attribute.Int("iosm.goals", len(goals)),
	))
	defer span.End()

	e.emit(ctx, Event{Type: EventCycleStarted, RunID: runID, SystemID: systemID, Cycle: cycle})

	state := NewCycleState(cycle)
	for !state.Done() {
		phase := state.Current
		phaseCtx, phaseSpan := e.tracer.Start(ctx, "iosm.phase", trace.WithAttributes(
			attribute.String("iosm.phase", string(phase)),
		))

		outcome, err := runner.Run(phaseCtx, PhaseRequest{
			Phase:    phase,
			SystemID: systemID,
			RunID:    runID,
			Cycle:    cycle,
			Goals:    goals,
		}, e.executors[phase], e.cfg.Gates[phase], e.cfg.Retry)
		if err != nil {
			phaseSpan.RecordError(err)
			phaseSpan.SetStatus(codes.Error, err.Error())
			phaseSpan.End()
			span.SetStatus(codes.Error, "phase failed")
			return HistoryEntry{}, err
		}
		phaseSpan.SetAttributes(attribute.Int("iosm.attempts", outcome.Attempts))
		phaseSpan.End()

		if err := state.Advance(outcome.Report); err != nil {
			return HistoryEntry{}, &ExecutionError{Phase: phase, Cycle: cycle, Err: err}
		}
	}

	if err := ctx.Err(); err != nil {
		return HistoryEntry{}, &CancelledError{Phase: PhaseScore, Cycle: cycle, Err: err}
	}
	metrics, err := e.collector.Collect(ctx, systemID)
	if err != nil {
		if ctx.Err() != nil {
			return HistoryEntry{}, &CancelledError{Phase: PhaseScore, Cycle: cycle, Err: ctx.Err()}
		}
		return HistoryEntry{}, &ExecutionError{Phase: PhaseScore, Cycle: cycle, Err: fmt.Errorf("collecting metrics: %w", err)}
	}

	index, err := ComputeIndex(metrics, e.cfg.Weights)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			scoped := *cfgErr
			scoped.Phase, scoped.Cycle = PhaseScore, cycle
			return HistoryEntry{}, &scoped
		}
		return HistoryEntry{}, &ExecutionError{Phase: PhaseScore, Cycle: cycle, Err: err}
	}
	span.SetAttributes(attribute.Float64("iosm.index", index))

	entry := HistoryEntry{
		RunID:      runID,
		SystemID:   systemID,
		Cycle:      cycle,
		Index:      index,
		Metrics:    metrics.Clamped(),
		Goals:      GoalIDs(goals),
		Revision:   e.stampRevision(ctx),
		RecordedAt: e.now().UTC(),
	}
	e.logger.Debug(ctx, "cycle completed", zap.Duration("duration", e.now().Sub(started)))
	return entry, nil
}

func (e *Engine) fetchBacklog(ctx context.Context, systemID string, cycle int) ([]BacklogItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, &CancelledError{Phase: PhasePlan, Cycle: cycle, Err: err}
	}
	items, err := e.backlog.Backlog(ctx, systemID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &CancelledError{Phase: PhasePlan, Cycle: cycle, Err: ctx.Err()}
		}
		return nil, &ExecutionError{Phase: PhasePlan, Cycle: cycle, Err: fmt.Errorf("fetching backlog: %w", err)}
	}
	return items, nil
}

func (e *Engine) stampRevision(ctx context.Context) string {
	if e.revision == nil {
		return ""
	}
	rev, err := e.revision(ctx)
	if err != nil {
		e.logger.Warn(ctx, "could not resolve revision", zap.Error(err))
		return ""
	}
	return rev
}

func (e *Engine) finish(ctx context.Context, span trace.Span, result *RunResult) (*RunResult, error) {
	span.SetAttributes(
		attribute.String("iosm.stop_reason", string(result.Decision.Reason)),
		attribute.Int("iosm.cycles", result.Cycles),
	)
	e.emit(ctx, Event{
		Type:     EventRunStopped,
		RunID:    result.RunID,
		SystemID: result.SystemID,
		Cycle:    len(result.History),
		Decision: &result.Decision,
	})
	e.logger.Info(ctx, "run stopped",
		zap.String("reason", string(result.Decision.Reason)),
		zap.Int("cycles", result.Cycles),
		zap.Float64("final_index", result.FinalIndex),
	)
	return result, nil
}

func (e *Engine) fail(ctx context.Context, span trace.Span, result *RunResult, err error) (*RunResult, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	phase, cycle, _ := ErrorPhase(err)
	e.emit(ctx, Event{
		Type:     EventRunFailed,
		RunID:    result.RunID,
		SystemID: result.SystemID,
		Cycle:    cycle,
		Phase:    phase,
		Error:    err.Error(),
	})
	if errors.Is(err, ErrCancelled) {
		e.logger.Warn(ctx, "run cancelled", zap.Error(err))
	} else {
		e.logger.Error(ctx, "run aborted", zap.Error(err), zap.Int("completed_cycles", result.Cycles))
	}
	return result, err
}

func (e *Engine) emit(ctx context.Context, ev Event) {
	e.observers.OnEvent(ctx, ev)
}
