package http

import (
	"context"
	"sync"

	"github.com/rokoss21/IOSM/internal/orchestrator"
)

// Tracker remembers the last engine event per system for the status endpoint.
type Tracker struct {
	mu     sync.RWMutex
	status map[string]LiveStatus
}

var _ orchestrator.Observer = (*Tracker)(nil)

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{status: make(map[string]LiveStatus)}
}

// OnEvent implements orchestrator.Observer.
func (t *Tracker) OnEvent(_ context.Context, ev orchestrator.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.status[ev.SystemID]
	next := LiveStatus{
		RunID:     ev.RunID,
		Event:     ev.Type,
		Cycle:     ev.Cycle,
		Phase:     ev.Phase,
		Attempt:   ev.Attempt,
		Error:     ev.Error,
		UpdatedAt: ev.Timestamp,
	}
	if prev.RunID == ev.RunID {
		next.Index = prev.Index
	}
	if ev.Entry != nil {
		index := ev.Entry.Index
		next.Index = &index
	}
	t.status[ev.SystemID] = next
}

// Status returns the last event seen for a system.
func (t *Tracker) Status(systemID string) (LiveStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.status[systemID]
	return s, ok
}
