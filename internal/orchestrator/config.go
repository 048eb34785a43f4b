package orchestrator

import "errors"

// Config is the validated, read-only engine configuration for a run.
// It is safe to share one Config between engines orchestrating different systems.
type Config struct {
	Planning PlanningOptions      `json:"planning"`
	Gates    map[Phase]GateConfig `json:"quality_gates"`
	Weights  IndexWeights         `json:"index_weights"`
	Decision DecisionPolicy       `json:"decision"`
	Retry    RetryPolicy          `json:"retry"`
}

// Validate checks that all four gates are present and the weights and policies are sound.
func (c *Config) Validate() error {
	if c == nil {
		return NewConfigError("", "config is nil")
	}
	var errs []error
	for _, p := range AllPhases() {
		gate, ok := c.Gates[p]
		if !ok {
			errs = append(errs, NewConfigError("quality_gates."+p.GateKey(), "gate is required"))
			continue
		}
		if gate.Phase != p {
			errs = append(errs, NewConfigError("quality_gates."+p.GateKey(), "gate is bound to phase %q", gate.Phase))
		}
		if len(gate.Thresholds) == 0 {
			errs = append(errs, NewConfigError("quality_gates."+p.GateKey(), "gate has no thresholds"))
		}
	}
	if err := c.Weights.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Decision.Validate(); err != nil {
		errs = append(errs, err)
	}
	retry := c.Retry
	retry.ApplyDefaults()
	if err := retry.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Planning.MaxGoals < 0 {
		errs = append(errs, NewConfigError("planning.max_goals", "must be non-negative"))
	}
	return errors.Join(errs...)
}
