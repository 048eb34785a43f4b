package history

import (
	"context"
	"fmt"

	"github.com/rokoss21/IOSM/internal/orchestrator"
)

// ResumeOptions returns the id and run options that continue the last unfinished
// run of a system. Options are nil when the system has no run or the last run stopped.
func ResumeOptions(ctx context.Context, s Store, systemID string) (string, []orchestrator.RunOption, error) {
	last, ok, err := LastRun(ctx, s, systemID)
	if err != nil {
		return "", nil, fmt.Errorf("finding last run: %w", err)
	}
	if !ok || last.Stopped() {
		return "", nil, nil
	}
	prior, err := s.Load(ctx, Filter{SystemID: systemID, RunID: last.RunID})
	if err != nil {
		return "", nil, fmt.Errorf("loading run %s: %w", last.RunID, err)
	}
	return last.RunID, []orchestrator.RunOption{
		orchestrator.WithRunID(last.RunID),
		orchestrator.WithPriorHistory(prior),
	}, nil
}
