package orchestrator

import (
	"context"
	"time"
)

// EventType names a lifecycle event emitted by the engine.
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventCycleStarted EventType = "cycle_started"
	EventPhaseStarted EventType = "phase_started"
	EventGateFailed   EventType = "gate_failed"
	EventPhasePassed  EventType = "phase_passed"
	EventCycleScored  EventType = "cycle_scored"
	EventRunStopped   EventType = "run_stopped"
	EventRunFailed    EventType = "run_failed"
)

// Event reports progress during a run. Fields irrelevant to the event type are zero.
type Event struct {
	Type      EventType     `json:"type"`
	RunID     string        `json:"run_id"`
	SystemID  string        `json:"system_id"`
	Cycle     int           `json:"cycle,omitempty"`
	Phase     Phase         `json:"phase,omitempty"`
	Attempt   int           `json:"attempt,omitempty"`
	Report    *GateReport   `json:"report,omitempty"`
	Entry     *HistoryEntry `json:"entry,omitempty"`
	Decision  *Decision     `json:"decision,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Observer receives engine events. Implementations must not block for long;
// they run on the engine goroutine.
type Observer interface {
	OnEvent(ctx context.Context, event Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, event Event)

// OnEvent calls f.
func (f ObserverFunc) OnEvent(ctx context.Context, event Event) { f(ctx, event) }

// Observers fans an event out to several observers in order.
type Observers []Observer

// OnEvent forwards the event to every observer.
func (o Observers) OnEvent(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for _, obs := range o {
		if obs != nil {
			obs.OnEvent(ctx, event)
		}
	}
}

type nopObserver struct{}

func (nopObserver) OnEvent(context.Context, Event) {}
