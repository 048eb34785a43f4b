// Package history persists IOSM cycle history.
//
// Every store is idempotent on (run_id, cycle): appending an entry that is already
// stored is a no-op, so a resumed run can safely replay its last cycle.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rokoss21/IOSM/internal/config"
	"github.com/rokoss21/IOSM/internal/orchestrator"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("history store closed")

// Filter selects entries. Empty fields match everything.
type Filter struct {
	SystemID string
	RunID    string
}

func (f Filter) match(e orchestrator.HistoryEntry) bool {
	return (f.SystemID == "" || e.SystemID == f.SystemID) &&
		(f.RunID == "" || e.RunID == f.RunID)
}

// RunSummary describes one run as recorded in the store.
type RunSummary struct {
	RunID      string                  `json:"run_id" db:"run_id"`
	SystemID   string                  `json:"system_id" db:"system_id"`
	Cycles     int                     `json:"cycles" db:"cycles"`
	LastIndex  float64                 `json:"last_index" db:"last_index"`
	Decision   orchestrator.Verdict    `json:"decision" db:"decision"`
	Reason     orchestrator.StopReason `json:"reason,omitempty" db:"reason"`
	StartedAt  time.Time               `json:"started_at" db:"started_at"`
	FinishedAt time.Time               `json:"finished_at" db:"finished_at"`
}

// Stopped reports whether the last recorded cycle ended the run.
func (r RunSummary) Stopped() bool { return r.Decision == orchestrator.VerdictStop }

// Store is a persisted history log.
type Store interface {
	orchestrator.HistoryLog

	// Load returns matching entries ordered by run start, then cycle.
	Load(ctx context.Context, f Filter) (orchestrator.History, error)

	// Runs summarizes the runs recorded for a system, most recent first.
	Runs(ctx context.Context, systemID string) ([]RunSummary, error)

	Close() error
}

// Open creates the store selected by cfg.Driver.
func Open(cfg config.HistoryConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "jsonl":
		return OpenJSONL(cfg.Path)
	case "sqlite":
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}

// LastRun returns the most recent run of a system, or false when there is none.
func LastRun(ctx context.Context, s Store, systemID string) (RunSummary, bool, error) {
	runs, err := s.Runs(ctx, systemID)
	if err != nil || len(runs) == 0 {
		return RunSummary{}, false, err
	}
	return runs[0], true, nil
}

type entryKey struct {
	runID string
	cycle int
}

func keyOf(e orchestrator.HistoryEntry) entryKey {
	return entryKey{runID: e.RunID, cycle: e.Cycle}
}

func validateEntry(e orchestrator.HistoryEntry) error {
	if e.RunID == "" {
		return errors.New("history entry has no run id")
	}
	if e.Cycle < 1 {
		return fmt.Errorf("history entry has invalid cycle %d", e.Cycle)
	}
	return nil
}

// summarize groups entries into runs, most recently started first.
func summarize(entries orchestrator.History) []RunSummary {
	byRun := make(map[string]*RunSummary)
	var order []string
	for _, e := range entries {
		s, ok := byRun[e.RunID]
		if !ok {
			s = &RunSummary{RunID: e.RunID, SystemID: e.SystemID, StartedAt: e.RecordedAt}
			byRun[e.RunID] = s
			order = append(order, e.RunID)
		}
		s.Cycles++
		if e.RecordedAt.Before(s.StartedAt) {
			s.StartedAt = e.RecordedAt
		}
		if !e.RecordedAt.Before(s.FinishedAt) {
			s.FinishedAt = e.RecordedAt
			s.LastIndex = e.Index
			s.Decision = e.Decision
			s.Reason = e.Reason
		}
	}

	out := make([]RunSummary, 0, len(order))
	for _, id := range order {
		out = append(out, *byRun[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// sortEntries orders entries by run start, then cycle.
func sortEntries(entries orchestrator.History) {
	started := make(map[string]time.Time)
	for _, e := range entries {
		if t, ok := started[e.RunID]; !ok || e.RecordedAt.Before(t) {
			started[e.RunID] = e.RecordedAt
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.RunID != b.RunID {
			return started[a.RunID].Before(started[b.RunID])
		}
		return a.Cycle < b.Cycle
	})
}
