package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/rokoss21/IOSM/internal/logging"
)

// RetryPolicy bounds the per-phase self-loop.
type RetryPolicy struct {
	// MaxAttempts is the total number of executor invocations allowed for one phase,
	// shared between execution failures and gate failures.
	// Default: 3
	MaxAttempts int `json:"max_attempts"`

	// InitialBackoff is the delay before the second attempt.
	// Default: 1 second
	InitialBackoff time.Duration `json:"initial_backoff"`

	// MaxBackoff caps the delay between attempts.
	// Default: 30 seconds
	MaxBackoff time.Duration `json:"max_backoff"`

	// Multiplier grows the delay after each failed attempt.
	// Default: 2
	Multiplier float64 `json:"multiplier"`

	// PhaseTimeout bounds a single executor invocation.
	// Default: 10 minutes
	PhaseTimeout time.Duration `json:"phase_timeout"`
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		PhaseTimeout:   10 * time.Minute,
	}
}

// ApplyDefaults sets default values for unset fields.
func (p *RetryPolicy) ApplyDefaults() {
	defaults := DefaultRetryPolicy()

	if p.MaxAttempts == 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.InitialBackoff == 0 {
		p.InitialBackoff = defaults.InitialBackoff
	}
	if p.MaxBackoff == 0 {
		p.MaxBackoff = defaults.MaxBackoff
	}
	if p.Multiplier == 0 {
		p.Multiplier = defaults.Multiplier
	}
	if p.PhaseTimeout == 0 {
		p.PhaseTimeout = defaults.PhaseTimeout
	}
}

// Validate checks the policy after defaults are applied.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return NewConfigError("retry.max_attempts", "must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialBackoff < 0 || p.MaxBackoff < 0 {
		return NewConfigError("retry", "backoff durations must be non-negative")
	}
	if p.Multiplier < 1 {
		return NewConfigError("retry.multiplier", "must be at least 1, got %g", p.Multiplier)
	}
	if p.PhaseTimeout <= 0 {
		return NewConfigError("retry.phase_timeout", "must be positive")
	}
	return nil
}

// Backoff returns the delay to wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxBackoff > 0 && d > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PhaseRunner runs a single phase until its gate passes or the retry bound is hit.
type PhaseRunner struct {
	logger   *logging.Logger
	sleep    SleepFunc
	observer Observer
}

// NewPhaseRunner creates a runner. A nil logger disables logging.
func NewPhaseRunner(logger *logging.Logger) *PhaseRunner {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &PhaseRunner{logger: logger, sleep: sleepContext, observer: nopObserver{}}
}

// Run executes req.Phase with executor and evaluates gate after every attempt.
// It returns an outcome only when the gate passed.
func (r *PhaseRunner) Run(ctx context.Context, req PhaseRequest, executor PhaseExecutor, gate GateConfig, policy RetryPolicy) (*PhaseOutcome, error) {
	policy.ApplyDefaults()
	if err := policy.Validate(); err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			cfgErr.Phase, cfgErr.Cycle = req.Phase, req.Cycle
		}
		return nil, err
	}
	if executor == nil {
		return nil, &ExecutionError{Phase: req.Phase, Cycle: req.Cycle, Err: errors.New("no executor registered")}
	}

	ctx = logging.WithPhase(ctx, string(req.Phase))
	var lastReport *GateReport

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &CancelledError{Phase: req.Phase, Cycle: req.Cycle, Err: err}
		}

		req.Attempt = attempt
		req.Timeout = policy.PhaseTimeout
		r.observer.OnEvent(ctx, Event{
			Type:     EventPhaseStarted,
			RunID:    req.RunID,
			SystemID: req.SystemID,
			Cycle:    req.Cycle,
			Phase:    req.Phase,
			Attempt:  attempt,
		})

		result, execErr := r.invoke(ctx, req, executor)
		if execErr != nil {
			if errors.Is(execErr, ErrCancelled) {
				return nil, execErr
			}
			r.logger.Warn(ctx, "phase execution failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", policy.MaxAttempts),
				zap.Error(execErr),
			)
			if attempt == policy.MaxAttempts {
				return nil, execErr
			}
			if err := r.backoff(ctx, req, policy, attempt); err != nil {
				return nil, err
			}
			continue
		}

		report := Evaluate(result, gate)
		if missing := report.MissingMeasurements(); len(missing) > 0 {
			return nil, &MissingMeasurementError{
				Phase:        req.Phase,
				Cycle:        req.Cycle,
				Measurements: missing,
				Report:       report,
			}
		}

		if report.Pass {
			if attempt > 1 {
				r.logger.Info(ctx, "phase gate passed after retries", zap.Int("attempts", attempt))
			}
			r.observer.OnEvent(ctx, Event{
				Type:     EventPhasePassed,
				RunID:    req.RunID,
				SystemID: req.SystemID,
				Cycle:    req.Cycle,
				Phase:    req.Phase,
				Attempt:  attempt,
				Report:   &report,
			})
			return &PhaseOutcome{Result: result, Report: report, Attempts: attempt}, nil
		}

		lastReport = &report
		r.logger.Info(ctx, "phase gate failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
			zap.String("violations", report.Summary()),
		)
		r.observer.OnEvent(ctx, Event{
			Type:     EventGateFailed,
			RunID:    req.RunID,
			SystemID: req.SystemID,
			Cycle:    req.Cycle,
			Phase:    req.Phase,
			Attempt:  attempt,
			Report:   &report,
		})

		if attempt == policy.MaxAttempts {
			break
		}
		if err := r.backoff(ctx, req, policy, attempt); err != nil {
			return nil, err
		}
	}

	return nil, &GateExhaustedError{
		Phase:    req.Phase,
		Cycle:    req.Cycle,
		Attempts: policy.MaxAttempts,
		Report:   *lastReport,
	}
}

// invoke runs one attempt under the phase timeout and classifies its failure.
func (r *PhaseRunner) invoke(ctx context.Context, req PhaseRequest, executor PhaseExecutor) (*PhaseResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	started := time.Now()
	result, err := executor.Execute(attemptCtx, req)

	if ctx.Err() != nil {
		return nil, &CancelledError{Phase: req.Phase, Cycle: req.Cycle, Err: ctx.Err()}
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return nil, &ExecutionError{
			Phase:   req.Phase,
			Cycle:   req.Cycle,
			Attempt: req.Attempt,
			Timeout: true,
			Err:     fmt.Errorf("no result within %s", req.Timeout),
		}
	}
	if err != nil {
		return nil, &ExecutionError{Phase: req.Phase, Cycle: req.Cycle, Attempt: req.Attempt, Err: err}
	}
	if result == nil {
		return nil, &ExecutionError{Phase: req.Phase, Cycle: req.Cycle, Attempt: req.Attempt, Err: errors.New("executor returned no result")}
	}

	result.Phase = req.Phase
	result.Attempt = req.Attempt
	if result.StartedAt.IsZero() {
		result.StartedAt = started
	}
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now()
	}
	return result, nil
}

func (r *PhaseRunner) backoff(ctx context.Context, req PhaseRequest, policy RetryPolicy, attempt int) error {
	delay := policy.Backoff(attempt)
	r.logger.Debug(ctx, "backing off before retry", zap.Duration("backoff", delay))
	if err := r.sleep(ctx, delay); err != nil {
		return &CancelledError{Phase: req.Phase, Cycle: req.Cycle, Err: err}
	}
	return nil
}
