package orchestrator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instruments records engine events as OpenTelemetry metrics.
type instruments struct {
	runs          metric.Int64Counter
	cycles        metric.Int64Counter
	gateFailures  metric.Int64Counter
	phaseAttempts metric.Int64Histogram
	cycleDuration metric.Float64Histogram
	index         metric.Float64Gauge
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	var (
		inst instruments
		err  error
	)

	inst.runs, err = meter.Int64Counter(
		"iosm.runs",
		metric.WithDescription("Runs finished, by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create runs counter: %w", err)
	}

	inst.cycles, err = meter.Int64Counter(
		"iosm.cycles",
		metric.WithDescription("Completed cycles"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cycles counter: %w", err)
	}

	inst.gateFailures, err = meter.Int64Counter(
		"iosm.gate.failures",
		metric.WithDescription("Gate evaluations that did not pass"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gate failure counter: %w", err)
	}

	inst.phaseAttempts, err = meter.Int64Histogram(
		"iosm.phase.attempts",
		metric.WithDescription("Attempts needed for a phase gate to pass"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create phase attempts histogram: %w", err)
	}

	inst.cycleDuration, err = meter.Float64Histogram(
		"iosm.cycle.duration",
		metric.WithDescription("Wall time from planning to decision for one cycle"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cycle duration histogram: %w", err)
	}

	inst.index, err = meter.Float64Gauge(
		"iosm.index",
		metric.WithDescription("Most recent IOSM-Index per system"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create index gauge: %w", err)
	}

	return &inst, nil
}

// OnEvent implements Observer.
func (i *instruments) OnEvent(ctx context.Context, ev Event) {
	system := attribute.String("system_id", ev.SystemID)
	switch ev.Type {
	case EventGateFailed:
		i.gateFailures.Add(ctx, 1, metric.WithAttributes(system, attribute.String("phase", string(ev.Phase))))
	case EventPhasePassed:
		i.phaseAttempts.Record(ctx, int64(ev.Attempt), metric.WithAttributes(system, attribute.String("phase", string(ev.Phase))))
	case EventCycleScored:
		i.cycles.Add(ctx, 1, metric.WithAttributes(system))
		i.cycleDuration.Record(ctx, ev.Duration.Seconds(), metric.WithAttributes(system))
		if ev.Entry != nil {
			i.index.Record(ctx, ev.Entry.Index, metric.WithAttributes(system))
		}
	case EventRunStopped:
		i.runs.Add(ctx, 1, metric.WithAttributes(system, attribute.String("outcome", "stopped")))
	case EventRunFailed:
		i.runs.Add(ctx, 1, metric.WithAttributes(system, attribute.String("outcome", "failed")))
	}
}
