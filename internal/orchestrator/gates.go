package orchestrator

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ThresholdKind selects the comparison a threshold applies.
type ThresholdKind string

const (
	// ThresholdMin passes when the measurement is at least the bound.
	ThresholdMin ThresholdKind = "min"

	// ThresholdMax passes when the measurement is at most the bound.
	ThresholdMax ThresholdKind = "max"

	// ThresholdExact passes when the boolean measurement equals the bound.
	ThresholdExact ThresholdKind = "exact"
)

const (
	suffixMax = "_max"
	suffixMin = "_min"
)

// Threshold is one named bound of a gate.
type Threshold struct {
	Key         string        `json:"key"`
	Measurement string        `json:"measurement"`
	Kind        ThresholdKind `json:"kind"`
	Bound       float64       `json:"bound,omitempty"`
	Want        bool          `json:"want,omitempty"`
}

// String renders the threshold as "name <= bound".
func (t Threshold) String() string {
	switch t.Kind {
	case ThresholdMax:
		return fmt.Sprintf("%s <= %g", t.Measurement, t.Bound)
	case ThresholdExact:
		return fmt.Sprintf("%s == %t", t.Measurement, t.Want)
	default:
		return fmt.Sprintf("%s >= %g", t.Measurement, t.Bound)
	}
}

// GateConfig is the immutable set of thresholds guarding exit from a phase.
type GateConfig struct {
	Phase      Phase       `json:"phase"`
	Thresholds []Threshold `json:"thresholds"`
}

// ParseGateConfig builds a gate from its raw configuration mapping.
// Values must be numbers or booleans; keys ending in _max are upper bounds,
// _min and unsuffixed numeric keys are lower bounds, booleans require an exact match.
func ParseGateConfig(phase Phase, raw map[string]any) (GateConfig, error) {
	field := "quality_gates." + phase.GateKey()
	if len(raw) == 0 {
		return GateConfig{}, NewConfigError(field, "gate has no thresholds")
	}

	gate := GateConfig{Phase: phase, Thresholds: make([]Threshold, 0, len(raw))}
	for key, value := range raw {
		if strings.TrimSpace(key) == "" {
			return GateConfig{}, NewConfigError(field, "empty threshold name")
		}
		t := Threshold{Key: key, Measurement: key}

		switch v := value.(type) {
		case bool:
			t.Kind = ThresholdExact
			t.Want = v
		default:
			f, ok := toFloat(value)
			if !ok {
				return GateConfig{}, NewConfigError(field+"."+key, "unsupported threshold value %v (%T)", value, value)
			}
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return GateConfig{}, NewConfigError(field+"."+key, "threshold must be finite")
			}
			t.Bound = f
			switch {
			case strings.HasSuffix(key, suffixMax) && len(key) > len(suffixMax):
				t.Kind = ThresholdMax
				t.Measurement = strings.TrimSuffix(key, suffixMax)
			case strings.HasSuffix(key, suffixMin) && len(key) > len(suffixMin):
				t.Kind = ThresholdMin
				t.Measurement = strings.TrimSuffix(key, suffixMin)
			default:
				t.Kind = ThresholdMin
			}
		}
		gate.Thresholds = append(gate.Thresholds, t)
	}

	sort.Slice(gate.Thresholds, func(i, j int) bool {
		return gate.Thresholds[i].Key < gate.Thresholds[j].Key
	})
	return gate, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint:
		return float64(n), true
	default:
		return 0, false
	}
}

// Diagnostic classifies the outcome of one threshold check.
type Diagnostic string

const (
	DiagnosticOK                 Diagnostic = "ok"
	DiagnosticViolated           Diagnostic = "violated"
	DiagnosticMissingMeasurement Diagnostic = "missing-measurement"
)

// GateCheck is the per-threshold result inside a GateReport.
type GateCheck struct {
	Threshold  Threshold  `json:"threshold"`
	Actual     float64    `json:"actual"`
	Present    bool       `json:"present"`
	Pass       bool       `json:"pass"`
	Margin     float64    `json:"margin"`
	Diagnostic Diagnostic `json:"diagnostic"`
}

// Describe renders the check for logs and error messages.
func (c GateCheck) Describe() string {
	switch c.Diagnostic {
	case DiagnosticMissingMeasurement:
		return fmt.Sprintf("%s: measurement %q missing", c.Threshold.Key, c.Threshold.Measurement)
	case DiagnosticViolated:
		if c.Threshold.Kind == ThresholdExact {
			return fmt.Sprintf("%s: got %t, want %t", c.Threshold.Key, c.Actual != 0, c.Threshold.Want)
		}
		return fmt.Sprintf("%s: got %g, want %s (off by %g)", c.Threshold.Key, c.Actual, c.Threshold, math.Abs(c.Margin))
	default:
		return fmt.Sprintf("%s: ok", c.Threshold.Key)
	}
}

// GateReport is the immutable verdict of one gate evaluation.
type GateReport struct {
	Phase  Phase       `json:"phase"`
	Pass   bool        `json:"pass"`
	Checks []GateCheck `json:"checks"`
}

// Failed returns the checks that did not pass.
func (r GateReport) Failed() []GateCheck {
	var failed []GateCheck
	for _, c := range r.Checks {
		if !c.Pass {
			failed = append(failed, c)
		}
	}
	return failed
}

// MissingMeasurements returns the names of measurements the gate needed but did not get.
func (r GateReport) MissingMeasurements() []string {
	var missing []string
	for _, c := range r.Checks {
		if c.Diagnostic == DiagnosticMissingMeasurement {
			missing = append(missing, c.Threshold.Measurement)
		}
	}
	return missing
}

// Summary joins the failing checks into one line.
func (r GateReport) Summary() string {
	if r.Pass {
		return "all thresholds met"
	}
	failed := r.Failed()
	parts := make([]string, len(failed))
	for i, c := range failed {
		parts[i] = c.Describe()
	}
	return strings.Join(parts, "; ")
}

// Evaluate compares a phase result against a gate. It has no side effects.
//
// Margin is signed so that a positive value means headroom and a negative value
// is the amount by which the bound was missed.
func Evaluate(result *PhaseResult, gate GateConfig) GateReport {
	report := GateReport{
		Phase:  gate.Phase,
		Pass:   true,
		Checks: make([]GateCheck, 0, len(gate.Thresholds)),
	}

	for _, t := range gate.Thresholds {
		check := GateCheck{Threshold: t}

		actual, ok := result.Measurement(t.Measurement)
		if !ok && t.Measurement != t.Key {
			actual, ok = result.Measurement(t.Key)
		}
		if !ok || math.IsNaN(actual) {
			check.Diagnostic = DiagnosticMissingMeasurement
			report.Pass = false
			report.Checks = append(report.Checks, check)
			continue
		}

		check.Present = true
		check.Actual = actual
		switch t.Kind {
		case ThresholdMax:
			check.Margin = t.Bound - actual
			check.Pass = actual <= t.Bound
		case ThresholdExact:
			check.Pass = (actual != 0) == t.Want
			if !check.Pass {
				check.Margin = -1
			}
		default:
			check.Margin = actual - t.Bound
			check.Pass = actual >= t.Bound
		}

		if check.Pass {
			check.Diagnostic = DiagnosticOK
		} else {
			check.Diagnostic = DiagnosticViolated
			report.Pass = false
		}
		report.Checks = append(report.Checks, check)
	}

	return report
}
