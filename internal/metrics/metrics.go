// Package metrics exposes Prometheus collectors for task execution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	dispatchDuration *prometheus.HistogramVec
	tasksTotal       *prometheus.CounterVec
	delegationsTotal *prometheus.CounterVec
	tasksActive      prometheus.Gauge
}

// MustNewMetrics registers the collectors with reg, reusing any that are
// already registered. Other registration errors panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	dispatchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "camdoctor",
			Subsystem: "engine",
			Name:      "agent_dispatch_duration_seconds",
			Help:      "Time spent running a single agent, local or remote.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"agent", "mode", "status"},
	)
	tasksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camdoctor",
			Subsystem: "engine",
			Name:      "tasks_total",
			Help:      "Top-level tasks finished, by entry agent and final status.",
		},
		[]string{"agent", "status"},
	)
	delegationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "camdoctor",
			Subsystem: "engine",
			Name:      "delegations_total",
			Help:      "Delegations to a downstream agent.",
		},
		[]string{"to"},
	)
	tasksActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "camdoctor",
			Subsystem: "engine",
			Name:      "tasks_active",
			Help:      "Top-level tasks currently executing.",
		},
	)

	collectors := []prometheus.Collector{dispatchDuration, tasksTotal, delegationsTotal, tasksActive}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch target := collector.(type) {
				case *prometheus.HistogramVec:
					dispatchDuration = already.ExistingCollector.(*prometheus.HistogramVec)
				case *prometheus.CounterVec:
					switch target {
					case tasksTotal:
						tasksTotal = already.ExistingCollector.(*prometheus.CounterVec)
					case delegationsTotal:
						delegationsTotal = already.ExistingCollector.(*prometheus.CounterVec)
					}
				case prometheus.Gauge:
					tasksActive = already.ExistingCollector.(prometheus.Gauge)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		dispatchDuration: dispatchDuration,
		tasksTotal:       tasksTotal,
		delegationsTotal: delegationsTotal,
		tasksActive:      tasksActive,
	}
}

// ObserveDispatch records one agent run. mode is "local" or "remote".
func (m *Metrics) ObserveDispatch(agent, mode, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.WithLabelValues(agent, mode, status).Observe(d.Seconds())
}

func (m *Metrics) IncDelegation(to string) {
	if m == nil {
		return
	}
	m.delegationsTotal.WithLabelValues(to).Inc()
}

func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.tasksActive.Inc()
}

func (m *Metrics) TaskFinished(agent, status string) {
	if m == nil {
		return
	}
	m.tasksActive.Dec()
	m.tasksTotal.WithLabelValues(agent, status).Inc()
}
