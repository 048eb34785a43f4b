package workflows

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/rokoss21/IOSM/internal/orchestrator"
)

// Activities holds the side effects of CycleWorkflow. Register a populated
// instance with the worker; the workflow refers to the methods by name.
type Activities struct {
	Backlog   orchestrator.BacklogProvider
	Executors map[orchestrator.Phase]orchestrator.PhaseExecutor
	Collector orchestrator.MetricsCollector
	History   orchestrator.HistoryLog
	Revision  orchestrator.RevisionFunc
}

// FetchBacklog returns the open backlog of a system.
func (a *Activities) FetchBacklog(ctx context.Context, systemID string) (items []orchestrator.BacklogItem, err error) {
	defer func(started time.Time) { recordActivity(ctx, "fetch_backlog", started, err) }(time.Now())
	return a.Backlog.Backlog(ctx, systemID)
}

// ExecutePhase runs one attempt of a phase. The workflow owns retries.
func (a *Activities) ExecutePhase(ctx context.Context, req orchestrator.PhaseRequest) (result *orchestrator.PhaseResult, err error) {
	defer func(started time.Time) { recordActivity(ctx, "execute_phase", started, err) }(time.Now())
	executor, ok := a.Executors[req.Phase]
	if !ok {
		return nil, fmt.Errorf("no executor registered for phase %s", req.Phase)
	}
	activity.GetLogger(ctx).Info("Executing phase", "phase", req.Phase, "cycle", req.Cycle, "attempt", req.Attempt)

	result, err = executor.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("executor for phase %s returned no result", req.Phase)
	}
	return result, nil
}

// CollectMetrics returns the six dimension scores of a system.
func (a *Activities) CollectMetrics(ctx context.Context, systemID string) (metrics orchestrator.CycleMetrics, err error) {
	defer func(started time.Time) { recordActivity(ctx, "collect_metrics", started, err) }(time.Now())
	return a.Collector.Collect(ctx, systemID)
}

// RecordCycle stamps the revision and appends the entry to the history log.
// The stamped entry is returned so the workflow keeps what was persisted.
func (a *Activities) RecordCycle(ctx context.Context, entry orchestrator.HistoryEntry) (_ orchestrator.HistoryEntry, err error) {
	defer func(started time.Time) { recordActivity(ctx, "record_cycle", started, err) }(time.Now())
	if a.Revision != nil && entry.Revision == "" {
		rev, err := a.Revision(ctx)
		if err != nil {
			activity.GetLogger(ctx).Warn("Failed to read revision", "error", err)
		} else {
			entry.Revision = rev
		}
	}
	if a.History != nil {
		if err = a.History.Append(ctx, entry); err != nil {
			return entry, err
		}
	}
	return entry, nil
}
