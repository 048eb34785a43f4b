package orchestrator

import (
	"errors"
	"sort"
	"strings"

	"github.com/rokoss21/IOSM/internal/config"
)

// FromDocument builds and validates the engine configuration from a loaded document.
// Gate keys are matched case-insensitively because environment overrides arrive lowercased.
func FromDocument(doc *config.Config) (*Config, error) {
	if doc == nil {
		return nil, NewConfigError("", "config is nil")
	}

	cfg := &Config{
		Planning: PlanningOptions{
			UseEconomicDecision: doc.Planning.UseEconomicDecision,
			MaxGoals:            doc.Planning.MaxGoals,
		},
		Gates:   make(map[Phase]GateConfig, len(doc.QualityGates)),
		Weights: make(IndexWeights, len(doc.IndexWeights)),
		Decision: DecisionPolicy{
			StopThreshold:     doc.Decision.StopThreshold,
			StagnationWindow:  doc.Decision.StagnationWindow,
			StagnationEpsilon: doc.Decision.StagnationEpsilon,
			MaxCycles:         doc.Decision.MaxCycles,
		},
		Retry: RetryPolicy{
			MaxAttempts:    doc.Retry.MaxAttempts,
			InitialBackoff: doc.Retry.InitialBackoff.Duration(),
			MaxBackoff:     doc.Retry.MaxBackoff.Duration(),
			Multiplier:     doc.Retry.Multiplier,
			PhaseTimeout:   doc.Retry.PhaseTimeout.Duration(),
		},
	}

	var errs []error
	keys := make([]string, 0, len(doc.QualityGates))
	for key := range doc.QualityGates {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		phase, ok := gatePhase(key)
		if !ok {
			errs = append(errs, NewConfigError("quality_gates."+key, "unknown gate, want one of gate_I, gate_O, gate_S, gate_M"))
			continue
		}
		if _, dup := cfg.Gates[phase]; dup {
			errs = append(errs, NewConfigError("quality_gates."+key, "gate for phase %s defined twice", phase))
			continue
		}
		gate, err := ParseGateConfig(phase, doc.QualityGates[key])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		cfg.Gates[phase] = gate
	}

	for name, w := range doc.IndexWeights {
		cfg.Weights[Dimension(strings.ToLower(name))] = w
	}
	cfg.Retry.ApplyDefaults()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func gatePhase(key string) (Phase, bool) {
	for _, p := range AllPhases() {
		if strings.EqualFold(p.GateKey(), key) {
			return p, true
		}
	}
	return "", false
}
