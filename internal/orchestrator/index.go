package orchestrator

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Dimension names one axis of the IOSM-Index.
type Dimension string

const (
	DimensionSemantic    Dimension = "semantic"
	DimensionLogic       Dimension = "logic"
	DimensionPerformance Dimension = "performance"
	DimensionSimplicity  Dimension = "simplicity"
	DimensionModularity  Dimension = "modularity"
	DimensionFlow        Dimension = "flow"
)

// WeightTolerance is the allowed deviation of the weight sum from 1.
const WeightTolerance = 1e-6

// AllDimensions returns the six index dimensions in canonical order.
func AllDimensions() []Dimension {
	return []Dimension{
		DimensionSemantic,
		DimensionLogic,
		DimensionPerformance,
		DimensionSimplicity,
		DimensionModularity,
		DimensionFlow,
	}
}

func knownDimension(d Dimension) bool {
	for _, k := range AllDimensions() {
		if k == d {
			return true
		}
	}
	return false
}

// CycleMetrics holds the normalized dimension scores collected after a cycle.
type CycleMetrics map[Dimension]float64

// Clamped returns a copy with every value limited to [0,1].
func (m CycleMetrics) Clamped() CycleMetrics {
	out := make(CycleMetrics, len(m))
	for d, v := range m {
		out[d] = clamp01(v)
	}
	return out
}

// IndexWeights assigns each dimension its share of the index.
type IndexWeights map[Dimension]float64

// Validate checks that weights cover exactly the six dimensions, are non-negative
// and sum to 1 within WeightTolerance. Weights are never normalized.
func (w IndexWeights) Validate() error {
	const field = "index_weights"
	for d := range w {
		if !knownDimension(d) {
			return NewConfigError(field, "unknown dimension %q", d)
		}
	}
	var missing []string
	for _, d := range AllDimensions() {
		if _, ok := w[d]; !ok {
			missing = append(missing, string(d))
		}
	}
	if len(missing) > 0 {
		return NewConfigError(field, "missing dimensions %s", strings.Join(missing, ", "))
	}

	sum := 0.0
	for _, d := range AllDimensions() {
		v := w[d]
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return NewConfigError(field+"."+string(d), "weight must be a non-negative number, got %g", v)
		}
		sum += v
	}
	if math.Abs(sum-1) > WeightTolerance {
		return NewConfigError(field, "weights sum to %.9f, want 1 ± %g", sum, WeightTolerance)
	}
	return nil
}

// ComputeIndex returns the weighted sum of metrics clamped to [0,1].
func ComputeIndex(metrics CycleMetrics, weights IndexWeights) (float64, error) {
	if err := weights.Validate(); err != nil {
		return 0, err
	}
	if !sameDimensions(metrics, weights) {
		return 0, NewConfigError("index_weights", "metric dimensions %s do not match weight dimensions %s",
			dimensionList(metrics), dimensionList(weights))
	}

	index := 0.0
	for _, d := range AllDimensions() {
		v := metrics[d]
		if math.IsNaN(v) {
			return 0, fmt.Errorf("metric %s is not a number", d)
		}
		index += weights[d] * clamp01(v)
	}
	return clamp01(index), nil
}

func sameDimensions(m CycleMetrics, w IndexWeights) bool {
	if len(m) != len(w) {
		return false
	}
	for d := range m {
		if _, ok := w[d]; !ok {
			return false
		}
	}
	return true
}

func dimensionList[V any](m map[Dimension]V) string {
	names := make([]string, 0, len(m))
	for d := range m {
		names = append(names, string(d))
	}
	sort.Strings(names)
	return "[" + strings.Join(names, ",") + "]"
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
