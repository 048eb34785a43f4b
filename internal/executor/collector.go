package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rokoss21/IOSM/internal/config"
	"github.com/rokoss21/IOSM/internal/orchestrator"
)

// MetricsCommand implements orchestrator.MetricsCollector with an external command.
//
// Output is either {"metrics": {...}} or a flat object with the six dimensions.
type MetricsCommand struct {
	cmd    Command
	runner *Runner
}

var _ orchestrator.MetricsCollector = (*MetricsCommand)(nil)

// NewMetricsCommand creates a metrics collector.
func NewMetricsCommand(cmd Command, runner *Runner) *MetricsCommand {
	return &MetricsCommand{cmd: cmd, runner: runner}
}

// FromMetrics builds the collector from the document.
func FromMetrics(cfg config.ExecutorsConfig, runner *Runner) (*MetricsCommand, error) {
	cc, ok := cfg.Command("metrics")
	if !ok {
		return nil, orchestrator.NewConfigError("executors.metrics", "command is required")
	}
	cmd, err := FromConfig(cc)
	if err != nil {
		return nil, orchestrator.NewConfigError("executors.metrics", "%v", err)
	}
	return NewMetricsCommand(cmd, runner), nil
}

// Collect runs the command and decodes the dimension scores.
func (m *MetricsCommand) Collect(ctx context.Context, systemID string) (orchestrator.CycleMetrics, error) {
	stdin, err := json.Marshal(map[string]string{"system_id": systemID})
	if err != nil {
		return nil, err
	}
	out, err := m.runner.Run(ctx, m.cmd, stdin, map[string]string{"IOSM_SYSTEM_ID": systemID})
	if err != nil {
		return nil, err
	}
	metrics, err := ParseMetrics(out)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.cmd.Name, err)
	}
	return metrics, nil
}

// ParseMetrics decodes command output into cycle metrics. Dimension names are
// kept as printed; the index calculator rejects unknown or missing ones.
func ParseMetrics(out []byte) (orchestrator.CycleMetrics, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("output is not a JSON object: %w", err)
	}
	if nested, ok := raw["metrics"]; ok {
		raw = nil
		if err := json.Unmarshal(nested, &raw); err != nil {
			return nil, fmt.Errorf("metrics is not a JSON object: %w", err)
		}
	}

	metrics := make(orchestrator.CycleMetrics, len(raw))
	for name, value := range raw {
		var v float64
		if err := json.Unmarshal(value, &v); err != nil {
			return nil, fmt.Errorf("metric %q must be a number, got %s", name, value)
		}
		metrics[orchestrator.Dimension(name)] = v
	}
	return metrics, nil
}
