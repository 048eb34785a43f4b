package orchestrator

import (
	"math"
	"time"
)

// Verdict is the outcome of the decision policy.
type Verdict string

const (
	VerdictContinue Verdict = "continue"
	VerdictStop     Verdict = "stop"
)

// StopReason explains a STOP verdict.
type StopReason string

const (
	// StopReasonNone accompanies CONTINUE.
	StopReasonNone StopReason = ""
	// StopReasonThreshold means the index reached the stop threshold.
	StopReasonThreshold StopReason = "threshold"
	// StopReasonBacklogEmpty means there is no work left to select.
	StopReasonBacklogEmpty StopReason = "backlog_empty"
	// StopReasonStagnation means the index stopped moving across the stagnation window.
	StopReasonStagnation StopReason = "stagnation"
	// StopReasonMaxCycles means the cycle cap was reached.
	StopReasonMaxCycles StopReason = "max_cycles"
)

// Decision is the policy's answer after a cycle.
type Decision struct {
	Verdict Verdict    `json:"verdict"`
	Reason  StopReason `json:"reason,omitempty"`
}

// Stop reports whether the decision ends the run.
func (d Decision) Stop() bool { return d.Verdict == VerdictStop }

func stop(reason StopReason) Decision { return Decision{Verdict: VerdictStop, Reason: reason} }

// HistoryEntry records one completed cycle.
type HistoryEntry struct {
	RunID      string       `json:"run_id"`
	SystemID   string       `json:"system_id"`
	Cycle      int          `json:"cycle"`
	Index      float64      `json:"index"`
	Metrics    CycleMetrics `json:"metrics"`
	Goals      []string     `json:"goals,omitempty"`
	Decision   Verdict      `json:"decision,omitempty"`
	Reason     StopReason   `json:"reason,omitempty"`
	Revision   string       `json:"revision,omitempty"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// History is the ordered, append-only record of completed cycles.
type History []HistoryEntry

// Last returns the most recent entry.
func (h History) Last() (HistoryEntry, bool) {
	if len(h) == 0 {
		return HistoryEntry{}, false
	}
	return h[len(h)-1], true
}

// Indices returns the index series in cycle order.
func (h History) Indices() []float64 {
	out := make([]float64, len(h))
	for i, e := range h {
		out[i] = e.Index
	}
	return out
}

// DecisionPolicy holds the stop/continue parameters.
type DecisionPolicy struct {
	// StopThreshold ends the run once the index reaches it.
	StopThreshold float64 `json:"stop_threshold"`

	// StagnationWindow is the number of trailing history entries inspected for
	// stagnation. 0 disables the check.
	StagnationWindow int `json:"stagnation_window"`

	// StagnationEpsilon is the spread below which the window counts as stagnant.
	StagnationEpsilon float64 `json:"stagnation_epsilon"`

	// MaxCycles caps the number of cycles in a run. 0 means no cap.
	MaxCycles int `json:"max_cycles"`
}

// DefaultDecisionPolicy returns the documented defaults.
func DefaultDecisionPolicy() DecisionPolicy {
	return DecisionPolicy{
		StopThreshold:     0.98,
		StagnationWindow:  3,
		StagnationEpsilon: 0.001,
	}
}

// Validate checks the policy parameters.
func (p DecisionPolicy) Validate() error {
	if math.IsNaN(p.StopThreshold) || p.StopThreshold < 0 || p.StopThreshold > 1 {
		return NewConfigError("decision.stop_threshold", "must be within [0,1], got %g", p.StopThreshold)
	}
	if p.StagnationWindow < 0 || p.StagnationWindow == 1 {
		return NewConfigError("decision.stagnation_window", "must be 0 (disabled) or at least 2, got %d", p.StagnationWindow)
	}
	if math.IsNaN(p.StagnationEpsilon) || p.StagnationEpsilon < 0 {
		return NewConfigError("decision.stagnation_epsilon", "must be non-negative, got %g", p.StagnationEpsilon)
	}
	if p.MaxCycles < 0 {
		return NewConfigError("decision.max_cycles", "must be non-negative, got %d", p.MaxCycles)
	}
	return nil
}

// Decide returns STOP or CONTINUE for the cycle that produced index.
// history must already include that cycle's entry.
func (p DecisionPolicy) Decide(index float64, history History, backlogNonEmpty bool) Decision {
	if index >= p.StopThreshold {
		return stop(StopReasonThreshold)
	}
	if !backlogNonEmpty {
		return stop(StopReasonBacklogEmpty)
	}
	if p.stagnant(history) {
		return stop(StopReasonStagnation)
	}
	if p.MaxCycles > 0 && len(history) >= p.MaxCycles {
		return stop(StopReasonMaxCycles)
	}
	return Decision{Verdict: VerdictContinue}
}

func (p DecisionPolicy) stagnant(history History) bool {
	if p.StagnationWindow < 2 || len(history) < p.StagnationWindow {
		return false
	}
	window := history[len(history)-p.StagnationWindow:]
	lo, hi := window[0].Index, window[0].Index
	for _, e := range window[1:] {
		lo = math.Min(lo, e.Index)
		hi = math.Max(hi, e.Index)
	}
	return hi-lo < p.StagnationEpsilon
}
