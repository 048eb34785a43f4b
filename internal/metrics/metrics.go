// Package metrics exposes engine events as Prometheus metrics for iosmd's /metrics endpoint.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rokoss21/IOSM/internal/orchestrator"
)

// Collector turns engine events into Prometheus series.
//
// Metrics:
//   - iosm_runs_total{system,outcome} - finished runs, outcome is stopped or failed
//   - iosm_cycles_total{system} - scored cycles
//   - iosm_gate_failures_total{system,phase} - failed gate evaluations
//   - iosm_phase_attempts{system,phase} - attempts needed for a gate to pass
//   - iosm_index{system} - latest IOSM-Index
//   - iosm_decisions_total{system,decision,reason} - decisions taken
//   - iosm_cycle_duration_seconds{system} - wall time of a scored cycle
type Collector struct {
	RunsTotal         *prometheus.CounterVec
	CyclesTotal       *prometheus.CounterVec
	GateFailuresTotal *prometheus.CounterVec
	PhaseAttempts     *prometheus.HistogramVec
	Index             *prometheus.GaugeVec
	DecisionsTotal    *prometheus.CounterVec
	CycleDuration     *prometheus.HistogramVec
}

var _ orchestrator.Observer = (*Collector)(nil)

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iosm_runs_total",
				Help: "Total number of finished runs",
			},
			[]string{"system", "outcome"},
		),
		CyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iosm_cycles_total",
				Help: "Total number of scored cycles",
			},
			[]string{"system"},
		),
		GateFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iosm_gate_failures_total",
				Help: "Total number of failed gate evaluations",
			},
			[]string{"system", "phase"},
		),
		PhaseAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "iosm_phase_attempts",
				Help:    "Attempts needed for a phase gate to pass",
				Buckets: []float64{1, 2, 3, 5, 8},
			},
			[]string{"system", "phase"},
		),
		Index: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "iosm_index",
				Help: "Most recent IOSM-Index",
			},
			[]string{"system"},
		),
		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iosm_decisions_total",
				Help: "Total number of continue/stop decisions",
			},
			[]string{"system", "decision", "reason"},
		),
		CycleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "iosm_cycle_duration_seconds",
				Help:    "Wall time of a scored cycle in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"system"},
		),
	}
}

// OnEvent implements orchestrator.Observer.
func (c *Collector) OnEvent(_ context.Context, ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventGateFailed:
		c.GateFailuresTotal.WithLabelValues(ev.SystemID, string(ev.Phase)).Inc()
	case orchestrator.EventPhasePassed:
		c.PhaseAttempts.WithLabelValues(ev.SystemID, string(ev.Phase)).Observe(float64(ev.Attempt))
	case orchestrator.EventCycleScored:
		c.CyclesTotal.WithLabelValues(ev.SystemID).Inc()
		if ev.Entry != nil {
			c.Index.WithLabelValues(ev.SystemID).Set(ev.Entry.Index)
		}
		if ev.Duration > 0 {
			c.CycleDuration.WithLabelValues(ev.SystemID).Observe(ev.Duration.Seconds())
		}
		if ev.Decision != nil {
			c.DecisionsTotal.WithLabelValues(ev.SystemID, string(ev.Decision.Verdict), string(ev.Decision.Reason)).Inc()
		}
	case orchestrator.EventRunStopped:
		c.RunsTotal.WithLabelValues(ev.SystemID, "stopped").Inc()
	case orchestrator.EventRunFailed:
		c.RunsTotal.WithLabelValues(ev.SystemID, "failed").Inc()
	}
}

