package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rokoss21/IOSM/internal/config"
	"github.com/rokoss21/IOSM/internal/orchestrator"
)

// PhaseCommand implements orchestrator.PhaseExecutor with an external command.
//
// Output is either {"measurements": {...}} or a flat object of measurements.
// Numbers are used as is; booleans become 1 and 0.
type PhaseCommand struct {
	cmd    Command
	runner *Runner
}

var _ orchestrator.PhaseExecutor = (*PhaseCommand)(nil)

// NewPhaseCommand creates a phase executor.
func NewPhaseCommand(cmd Command, runner *Runner) *PhaseCommand {
	return &PhaseCommand{cmd: cmd, runner: runner}
}

// Execute runs the command for one attempt.
func (p *PhaseCommand) Execute(ctx context.Context, req orchestrator.PhaseRequest) (*orchestrator.PhaseResult, error) {
	stdin, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding phase request: %w", err)
	}
	started := time.Now()
	out, err := p.runner.Run(ctx, p.cmd, stdin, requestEnv(req))
	if err != nil {
		return nil, err
	}
	measurements, err := ParseMeasurements(out)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.cmd.Name, err)
	}
	return &orchestrator.PhaseResult{
		Phase:        req.Phase,
		Measurements: measurements,
		StartedAt:    started,
		CompletedAt:  time.Now(),
	}, nil
}

func requestEnv(req orchestrator.PhaseRequest) map[string]string {
	return map[string]string{
		"IOSM_PHASE":     string(req.Phase),
		"IOSM_SYSTEM_ID": req.SystemID,
		"IOSM_RUN_ID":    req.RunID,
		"IOSM_CYCLE":     strconv.Itoa(req.Cycle),
		"IOSM_ATTEMPT":   strconv.Itoa(req.Attempt),
	}
}

// ParseMeasurements decodes command output into named measurements.
func ParseMeasurements(out []byte) (map[string]float64, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("output is not a JSON object: %w", err)
	}
	if nested, ok := raw["measurements"]; ok {
		raw = nil
		if err := json.Unmarshal(nested, &raw); err != nil {
			return nil, fmt.Errorf("measurements is not a JSON object: %w", err)
		}
	}

	measurements := make(map[string]float64, len(raw))
	for name, value := range raw {
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return nil, fmt.Errorf("measurement %q: %w", name, err)
		}
		switch n := v.(type) {
		case float64:
			measurements[name] = n
		case bool:
			if n {
				measurements[name] = 1
			} else {
				measurements[name] = 0
			}
		default:
			return nil, fmt.Errorf("measurement %q must be a number or boolean, got %s", name, value)
		}
	}
	return measurements, nil
}

// FromExecutors builds one executor per gated phase from the document.
func FromExecutors(cfg config.ExecutorsConfig, runner *Runner) (map[orchestrator.Phase]orchestrator.PhaseExecutor, error) {
	out := make(map[orchestrator.Phase]orchestrator.PhaseExecutor, 4)
	for _, phase := range orchestrator.AllPhases() {
		cc, ok := cfg.Command(string(phase))
		if !ok {
			return nil, orchestrator.NewConfigError("executors."+string(phase), "command is required")
		}
		cmd, err := FromConfig(cc)
		if err != nil {
			return nil, orchestrator.NewConfigError("executors."+string(phase), "%v", err)
		}
		out[phase] = NewPhaseCommand(cmd, runner)
	}
	return out, nil
}
