package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors matched with errors.Is against the typed errors below.
var (
	ErrConfig             = errors.New("invalid configuration")
	ErrExecution          = errors.New("phase execution failed")
	ErrGateExhausted      = errors.New("gate retries exhausted")
	ErrMissingMeasurement = errors.New("missing measurement")
	ErrCancelled          = errors.New("run cancelled")
)

// ConfigError reports malformed or inconsistent configuration.
// Phase and Cycle are set when the inconsistency surfaced during a run.
type ConfigError struct {
	Field  string
	Reason string
	Phase  Phase
	Cycle  int
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "config error"
	if e.Phase != "" {
		msg = fmt.Sprintf("cycle %d phase %s: %s", e.Cycle, e.Phase, msg)
	}
	if e.Field != "" {
		msg += " in " + e.Field
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Is matches ErrConfig.
func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// NewConfigError creates a ConfigError for a field.
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ExecutionError reports that a collaborator failed or timed out.
type ExecutionError struct {
	Phase   Phase
	Cycle   int
	Attempt int
	Timeout bool
	Err     error
}

func (e *ExecutionError) Error() string {
	cause := "failed"
	if e.Timeout {
		cause = "timed out"
	}
	msg := fmt.Sprintf("cycle %d phase %s: execution %s", e.Cycle, e.Phase, cause)
	if e.Attempt > 0 {
		msg += fmt.Sprintf(" on attempt %d", e.Attempt)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Is matches ErrExecution.
func (e *ExecutionError) Is(target error) bool { return target == ErrExecution }

// GateExhaustedError reports a gate that kept failing until the retry bound.
type GateExhaustedError struct {
	Phase    Phase
	Cycle    int
	Attempts int
	Report   GateReport
}

func (e *GateExhaustedError) Error() string {
	return fmt.Sprintf("cycle %d phase %s: gate failed after %d attempts: %s",
		e.Cycle, e.Phase, e.Attempts, e.Report.Summary())
}

// Is matches ErrGateExhausted.
func (e *GateExhaustedError) Is(target error) bool { return target == ErrGateExhausted }

// MissingMeasurementError reports gate thresholds with no matching measurement.
type MissingMeasurementError struct {
	Phase        Phase
	Cycle        int
	Measurements []string
	Report       GateReport
}

func (e *MissingMeasurementError) Error() string {
	return fmt.Sprintf("cycle %d phase %s: executor did not report %s",
		e.Cycle, e.Phase, strings.Join(e.Measurements, ", "))
}

// Is matches ErrMissingMeasurement.
func (e *MissingMeasurementError) Is(target error) bool { return target == ErrMissingMeasurement }

// CancelledError reports caller-initiated cancellation at a suspension point.
type CancelledError struct {
	Phase Phase
	Cycle int
	Err   error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("cycle %d phase %s: cancelled: %v", e.Cycle, e.Phase, e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

// Is matches ErrCancelled.
func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

// ErrorPhase extracts the phase and cycle named by an engine error.
func ErrorPhase(err error) (Phase, int, bool) {
	var (
		cfgErr     *ConfigError
		execErr    *ExecutionError
		gateErr    *GateExhaustedError
		missingErr *MissingMeasurementError
		cancelErr  *CancelledError
	)
	switch {
	case errors.As(err, &gateErr):
		return gateErr.Phase, gateErr.Cycle, true
	case errors.As(err, &missingErr):
		return missingErr.Phase, missingErr.Cycle, true
	case errors.As(err, &execErr):
		return execErr.Phase, execErr.Cycle, true
	case errors.As(err, &cancelErr):
		return cancelErr.Phase, cancelErr.Cycle, true
	case errors.As(err, &cfgErr) && cfgErr.Phase != "":
		return cfgErr.Phase, cfgErr.Cycle, true
	}
	return "", 0, false
}
