package orchestrator

import (
	"context"
	"fmt"
	"time"
)

// Phase identifies one state of the per-cycle state machine.
type Phase string

const (
	// PhaseImprove raises semantic clarity and removes duplication.
	PhaseImprove Phase = "improve"

	// PhaseOptimize tunes performance and resilience.
	PhaseOptimize Phase = "optimize"

	// PhaseShrink reduces the API surface and dependency footprint.
	PhaseShrink Phase = "shrink"

	// PhaseModularize enforces module contracts and coupling limits.
	PhaseModularize Phase = "modularize"

	// PhaseScore is the terminal state of a cycle: metrics are collected and indexed.
	PhaseScore Phase = "score"

	// PhasePlan names the backlog fetch and prioritization step in errors and events.
	// It is not a state of the machine.
	PhasePlan Phase = "plan"
)

// AllPhases returns the four gated phases in execution order.
func AllPhases() []Phase {
	return []Phase{PhaseImprove, PhaseOptimize, PhaseShrink, PhaseModularize}
}

// Next returns the state that follows p, or PhaseScore when p is terminal.
func (p Phase) Next() Phase {
	switch p {
	case PhaseImprove:
		return PhaseOptimize
	case PhaseOptimize:
		return PhaseShrink
	case PhaseShrink:
		return PhaseModularize
	default:
		return PhaseScore
	}
}

// GateKey returns the configuration key of the phase's gate (gate_I, gate_O, ...).
func (p Phase) GateKey() string {
	switch p {
	case PhaseImprove:
		return "gate_I"
	case PhaseOptimize:
		return "gate_O"
	case PhaseShrink:
		return "gate_S"
	case PhaseModularize:
		return "gate_M"
	default:
		return ""
	}
}

// PhaseForGateKey maps a gate configuration key back to its phase.
func PhaseForGateKey(key string) (Phase, bool) {
	for _, p := range AllPhases() {
		if p.GateKey() == key {
			return p, true
		}
	}
	return "", false
}

// PhaseStatus represents the completion status of a phase
type PhaseStatus string

const (
	StatusPending    PhaseStatus = "pending"
	StatusInProgress PhaseStatus = "in_progress"
	StatusCompleted  PhaseStatus = "completed"
	StatusFailed     PhaseStatus = "failed"
)

// BacklogItem is a candidate unit of work returned by a BacklogProvider.
type BacklogItem struct {
	ID          string   `json:"id" yaml:"id" toml:"id"`
	Description string   `json:"description,omitempty" yaml:"description" toml:"description"`
	Cost        float64  `json:"cost" yaml:"cost" toml:"cost"`
	Value       float64  `json:"value" yaml:"value" toml:"value"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty" toml:"tags"`
}

// Goal is a backlog item selected for the current cycle.
type Goal struct {
	BacklogItem
	Rank int `json:"rank"`
}

// GoalIDs returns the identifiers of goals in rank order.
func GoalIDs(goals []Goal) []string {
	ids := make([]string, len(goals))
	for i, g := range goals {
		ids[i] = g.ID
	}
	return ids
}

// PhaseResult carries the raw measurements a phase executor produced.
// Boolean measurements are encoded as 0 (false) and any other value (true).
type PhaseResult struct {
	Phase        Phase              `json:"phase"`
	Measurements map[string]float64 `json:"measurements"`
	Attempt      int                `json:"attempt"`
	StartedAt    time.Time          `json:"started_at"`
	CompletedAt  time.Time          `json:"completed_at,omitempty"`
}

// Measurement looks up a named measurement.
func (r *PhaseResult) Measurement(name string) (float64, bool) {
	if r == nil || r.Measurements == nil {
		return 0, false
	}
	v, ok := r.Measurements[name]
	return v, ok
}

// PhaseRequest is handed to a PhaseExecutor for one attempt.
type PhaseRequest struct {
	Phase    Phase         `json:"phase"`
	SystemID string        `json:"system_id"`
	RunID    string        `json:"run_id"`
	Cycle    int           `json:"cycle"`
	Attempt  int           `json:"attempt"`
	Goals    []Goal        `json:"goals"`
	Timeout  time.Duration `json:"timeout"`
}

// PhaseOutcome is what the Phase Runner returns for a passed phase.
type PhaseOutcome struct {
	Result   *PhaseResult `json:"result"`
	Report   GateReport   `json:"report"`
	Attempts int          `json:"attempts"`
}

// CycleState tracks the position of one cycle in the phase state machine.
type CycleState struct {
	Cycle   int                   `json:"cycle"`
	Current Phase                 `json:"current_phase"`
	Reports map[Phase]GateReport  `json:"reports"`
	Status  map[Phase]PhaseStatus `json:"status"`
}

// NewCycleState creates a state positioned at PhaseImprove.
func NewCycleState(cycle int) *CycleState {
	s := &CycleState{
		Cycle:   cycle,
		Current: PhaseImprove,
		Reports: make(map[Phase]GateReport),
		Status:  make(map[Phase]PhaseStatus),
	}
	for _, p := range AllPhases() {
		s.Status[p] = StatusPending
	}
	return s
}

// Done reports whether the cycle reached its terminal state.
func (s *CycleState) Done() bool {
	return s.Current == PhaseScore
}

// Advance records a passing gate report for the current phase and moves one step forward.
func (s *CycleState) Advance(report GateReport) error {
	if s.Done() {
		return fmt.Errorf("cycle %d already at %s", s.Cycle, PhaseScore)
	}
	if report.Phase != s.Current {
		return fmt.Errorf("cannot apply %s report while in phase %s", report.Phase, s.Current)
	}
	if !report.Pass {
		s.Status[s.Current] = StatusFailed
		return fmt.Errorf("cannot transition: gate for phase %s not passed", s.Current)
	}
	s.Reports[s.Current] = report
	s.Status[s.Current] = StatusCompleted
	s.Current = s.Current.Next()
	return nil
}

// BacklogProvider returns candidate work items for a system.
type BacklogProvider interface {
	Backlog(ctx context.Context, systemID string) ([]BacklogItem, error)
}

// PhaseExecutor runs one attempt of a phase and returns its measurements.
// Implementations must honour ctx cancellation and deadline.
type PhaseExecutor interface {
	Execute(ctx context.Context, req PhaseRequest) (*PhaseResult, error)
}

// PhaseExecutorFunc adapts a function to PhaseExecutor.
type PhaseExecutorFunc func(ctx context.Context, req PhaseRequest) (*PhaseResult, error)

// Execute calls f.
func (f PhaseExecutorFunc) Execute(ctx context.Context, req PhaseRequest) (*PhaseResult, error) {
	return f(ctx, req)
}

// MetricsCollector returns the six dimension scores of a system after a cycle.
type MetricsCollector interface {
	Collect(ctx context.Context, systemID string) (CycleMetrics, error)
}

// HistoryLog persists history entries. Append must be idempotent on (RunID, Cycle).
type HistoryLog interface {
	Append(ctx context.Context, entry HistoryEntry) error
}
