// Package orchestrator implements the IOSM cycle engine: gated phases, scoring and
// the continue/stop policy.
//
// # Overview
//
// An IOSM cycle drives a system through four ordered phases, each guarded by a
// quality gate, then scores the result as a single IOSM-Index:
//
//	Improve → Optimize → Shrink → Modularize → Score
//
// The Engine repeats cycles until the decision policy returns STOP.
//
// # Key Components
//
// ## Gate Evaluator
//
// Evaluate compares the measurements of a PhaseResult against a GateConfig.
// Threshold keys ending in "_max" are upper bounds on the measurement named
// without the suffix; other numeric keys are lower bounds; boolean keys require
// an exact match. A threshold whose measurement is absent yields the
// "missing-measurement" diagnostic.
//
// ## Phase Runner
//
// PhaseRunner invokes a PhaseExecutor under a per-attempt timeout and retries the
// phase on gate failure or execution failure, with exponential backoff, until
// RetryPolicy.MaxAttempts is spent.
//
// ## Phase State Machine
//
// CycleState only advances one phase forward and only on a passing GateReport.
//
// ## Economic Prioritizer
//
// Prioritize orders backlog items by value/cost when planning is economic.
// Uncosted items sort last. Ties break on ID so ordering is reproducible.
//
// ## Index Calculator
//
// ComputeIndex is the weighted sum of the six CycleMetrics dimensions. Weights are
// validated, never normalized.
//
// ## Decision Policy
//
// DecisionPolicy.Decide stops on threshold, empty backlog, stagnation across the
// trailing window or the optional cycle cap.
//
// # Errors
//
// Fatal errors are typed and name the phase and cycle where they happened:
// ConfigError, ExecutionError, GateExhaustedError, MissingMeasurementError and
// CancelledError. Each matches a sentinel (ErrConfig, ErrExecution, ...) with
// errors.Is. Gate failures below the retry bound never reach the caller.
//
// # Usage Example
//
//	engine, err := orchestrator.NewEngine(cfg, backlog, map[orchestrator.Phase]orchestrator.PhaseExecutor{
//	    orchestrator.PhaseImprove:    improve,
//	    orchestrator.PhaseOptimize:   optimize,
//	    orchestrator.PhaseShrink:     shrink,
//	    orchestrator.PhaseModularize: modularize,
//	}, collector, orchestrator.WithLogger(logger), orchestrator.WithHistoryLog(store))
//	if err != nil {
//	    return err
//	}
//	result, err := engine.Run(ctx, "billing-api")
//	if err != nil {
//	    // result still holds the cycles completed before the failure
//	}
//
// # Design Decisions
//
// 1. History is owned by each run and passed explicitly; the engine keeps no
// per-run state and can serve several systems concurrently.
//
// 2. Execution failures and gate failures share one attempt budget per phase.
//
// 3. Metrics normalization belongs to the MetricsCollector. The engine only clamps
// values to [0,1].
package orchestrator
