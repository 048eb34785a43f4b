// Package workflows runs IOSM cycles as durable Temporal workflows.
//
// CycleWorkflow is the Temporal rendition of orchestrator.Engine.Run: the pure
// parts (prioritization, gate evaluation, scoring, the decision policy and the
// phase state machine) run inside the workflow, every side effect runs as an
// activity. Gate retries are workflow timers, so a worker restart resumes a
// run at the attempt it was waiting on.
package workflows

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/rokoss21/IOSM/internal/orchestrator"
)

// DefaultContinueAfter is the number of cycles one workflow execution runs
// before it continues as new to bound its event history.
const DefaultContinueAfter = 50

// Application error types returned by CycleWorkflow.
const (
	ErrTypeConfig             = "IOSMConfigError"
	ErrTypeExecution          = "IOSMExecutionError"
	ErrTypeGateExhausted      = "IOSMGateExhausted"
	ErrTypeMissingMeasurement = "IOSMMissingMeasurement"
)

// CycleWorkflowInput starts or continues a run.
type CycleWorkflowInput struct {
	SystemID string              `json:"system_id"`
	RunID    string              `json:"run_id"`
	Config   orchestrator.Config `json:"config"`

	// Prior is the history of the run so far; cycle numbering continues after it.
	Prior orchestrator.History `json:"prior,omitempty"`

	// ContinueAfter overrides DefaultContinueAfter.
	ContinueAfter int `json:"continue_after,omitempty"`
}

// CycleWorkflowResult mirrors orchestrator.RunResult.
type CycleWorkflowResult struct {
	RunID      string                `json:"run_id"`
	SystemID   string                `json:"system_id"`
	Cycles     int                   `json:"cycles"`
	FinalIndex float64               `json:"final_index"`
	Decision   orchestrator.Decision `json:"decision"`
	History    orchestrator.History  `json:"history"`
}

// CycleWorkflow drives a system through IOSM cycles until the decision policy stops it.
func CycleWorkflow(ctx workflow.Context, in CycleWorkflowInput) (*CycleWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)

	cfg := in.Config
	cfg.Retry.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, applicationError(err)
	}
	if in.RunID == "" {
		in.RunID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}
	continueAfter := in.ContinueAfter
	if continueAfter <= 0 {
		continueAfter = DefaultContinueAfter
	}

	ioCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	})
	// Phase attempts are counted by the workflow itself so execution and gate
	// failures share one budget.
	phaseCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: cfg.Retry.PhaseTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	history := append(orchestrator.History(nil), in.Prior...)
	result := &CycleWorkflowResult{RunID: in.RunID, SystemID: in.SystemID, History: history}
	cycle := 1
	if last, ok := history.Last(); ok {
		cycle = last.Cycle + 1
		result.FinalIndex = last.Index
	}

	logger.Info("Starting IOSM run", "system", in.SystemID, "run_id", in.RunID, "first_cycle", cycle)

	var a *Activities
	var backlog []orchestrator.BacklogItem
	if err := workflow.ExecuteActivity(ioCtx, a.FetchBacklog, in.SystemID).Get(ctx, &backlog); err != nil {
		return result, stageError(orchestrator.PhasePlan, cycle, "fetching backlog", err)
	}
	if len(backlog) == 0 {
		result.Decision = orchestrator.Decision{Verdict: orchestrator.VerdictStop, Reason: orchestrator.StopReasonBacklogEmpty}
		return result, nil
	}

	for executed := 1; ; executed++ {
		goals := orchestrator.Prioritize(backlog, cfg.Planning)

		state := orchestrator.NewCycleState(cycle)
		for !state.Done() {
			phase := state.Current
			report, err := runPhase(ctx, phaseCtx, cfg, orchestrator.PhaseRequest{
				Phase:    phase,
				SystemID: in.SystemID,
				RunID:    in.RunID,
				Cycle:    cycle,
				Goals:    goals,
			})
			if err != nil {
				return result, err
			}
			if err := state.Advance(report); err != nil {
				return result, applicationError(&orchestrator.ExecutionError{Phase: phase, Cycle: cycle, Err: err})
			}
		}

		var metrics orchestrator.CycleMetrics
		if err := workflow.ExecuteActivity(ioCtx, a.CollectMetrics, in.SystemID).Get(ctx, &metrics); err != nil {
			return result, stageError(orchestrator.PhaseScore, cycle, "collecting metrics", err)
		}
		index, err := orchestrator.ComputeIndex(metrics, cfg.Weights)
		if err != nil {
			var cfgErr *orchestrator.ConfigError
			if errors.As(err, &cfgErr) {
				scoped := *cfgErr
				scoped.Phase, scoped.Cycle = orchestrator.PhaseScore, cycle
				return result, applicationError(&scoped)
			}
			return result, applicationError(&orchestrator.ExecutionError{Phase: orchestrator.PhaseScore, Cycle: cycle, Err: err})
		}

		next := backlog
		var fetchErr error
		if index < cfg.Decision.StopThreshold {
			next = nil
			fetchErr = workflow.ExecuteActivity(ioCtx, a.FetchBacklog, in.SystemID).Get(ctx, &next)
		}

		entry := orchestrator.HistoryEntry{
			RunID:      in.RunID,
			SystemID:   in.SystemID,
			Cycle:      cycle,
			Index:      index,
			Metrics:    metrics.Clamped(),
			Goals:      orchestrator.GoalIDs(goals),
			RecordedAt: workflow.Now(ctx).UTC(),
		}
		// An unknown next backlog counts as non-empty so the completed cycle is
		// recorded before the fetch error is returned.
		decision := cfg.Decision.Decide(index, append(history[:len(history):len(history)], entry), fetchErr != nil || len(next) > 0)
		entry.Decision = decision.Verdict
		entry.Reason = decision.Reason

		recordErr := workflow.ExecuteActivity(ioCtx, a.RecordCycle, entry).Get(ctx, &entry)

		history = append(history, entry)
		result.History = history
		result.Cycles++
		result.FinalIndex = index
		result.Decision = decision

		if recordErr != nil {
			return result, stageError(orchestrator.PhaseScore, cycle, "persisting history", recordErr)
		}
		if fetchErr != nil {
			return result, stageError(orchestrator.PhasePlan, cycle+1, "fetching backlog", fetchErr)
		}

		logger.Info("Cycle scored", "cycle", cycle, "index", index, "decision", decision.Verdict, "reason", decision.Reason)

		if decision.Stop() {
			return result, nil
		}
		backlog = next
		cycle++

		if executed >= continueAfter {
			logger.Info("Continuing as new", "cycles", len(history))
			return result, workflow.NewContinueAsNewError(ctx, CycleWorkflow, CycleWorkflowInput{
				SystemID:      in.SystemID,
				RunID:         in.RunID,
				Config:        in.Config,
				Prior:         history,
				ContinueAfter: in.ContinueAfter,
			})
		}
	}
}

// runPhase executes one phase until its gate passes or the attempt budget is spent.
func runPhase(ctx, phaseCtx workflow.Context, cfg orchestrator.Config, req orchestrator.PhaseRequest) (orchestrator.GateReport, error) {
	logger := workflow.GetLogger(ctx)
	policy := cfg.Retry
	gate := cfg.Gates[req.Phase]

	var a *Activities
	var last orchestrator.GateReport
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		req.Attempt = attempt
		req.Timeout = policy.PhaseTimeout

		var res orchestrator.PhaseResult
		err := workflow.ExecuteActivity(phaseCtx, a.ExecutePhase, req).Get(ctx, &res)
		if err != nil {
			if temporal.IsCanceledError(err) {
				return last, err
			}
			logger.Warn("Phase execution failed", "phase", req.Phase, "attempt", attempt, "error", err)
			if attempt == policy.MaxAttempts {
				return last, applicationError(&orchestrator.ExecutionError{
					Phase:   req.Phase,
					Cycle:   req.Cycle,
					Attempt: attempt,
					Timeout: temporal.IsTimeoutError(err),
					Err:     err,
				})
			}
			if err := workflow.Sleep(ctx, policy.Backoff(attempt)); err != nil {
				return last, err
			}
			continue
		}

		res.Phase, res.Attempt = req.Phase, attempt
		report := orchestrator.Evaluate(&res, gate)
		if missing := report.MissingMeasurements(); len(missing) > 0 {
			return report, applicationError(&orchestrator.MissingMeasurementError{
				Phase:        req.Phase,
				Cycle:        req.Cycle,
				Measurements: missing,
				Report:       report,
			})
		}
		if report.Pass {
			return report, nil
		}

		last = report
		logger.Info("Phase gate failed", "phase", req.Phase, "attempt", attempt, "violations", report.Summary())
		if attempt == policy.MaxAttempts {
			break
		}
		if err := workflow.Sleep(ctx, policy.Backoff(attempt)); err != nil {
			return last, err
		}
	}

	return last, applicationError(&orchestrator.GateExhaustedError{
		Phase:    req.Phase,
		Cycle:    req.Cycle,
		Attempts: policy.MaxAttempts,
		Report:   last,
	})
}

// stageError classifies a failed plan or score activity.
func stageError(phase orchestrator.Phase, cycle int, stage string, err error) error {
	if temporal.IsCanceledError(err) {
		return err
	}
	return applicationError(&orchestrator.ExecutionError{Phase: phase, Cycle: cycle, Err: fmt.Errorf("%s: %w", stage, err)})
}

// applicationError converts an engine error into a non-retryable application
// error whose type names the error kind.
func applicationError(err error) error {
	errType := ErrTypeExecution
	switch {
	case errors.Is(err, orchestrator.ErrConfig):
		errType = ErrTypeConfig
	case errors.Is(err, orchestrator.ErrGateExhausted):
		errType = ErrTypeGateExhausted
	case errors.Is(err, orchestrator.ErrMissingMeasurement):
		errType = ErrTypeMissingMeasurement
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), errType, nil)
}
