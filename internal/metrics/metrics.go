// Package metrics exposes medialoader's Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/viperadnan-git/medialoader/internal/core/engine"
	"github.com/viperadnan-git/medialoader/internal/core/event"
)

const namespace = "medialoader"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	jobEvents          *prometheus.CounterVec
	enrichmentFailures *prometheus.CounterVec
	engineErrors       *prometheus.CounterVec
	pollDuration       *prometheus.HistogramVec
	supervisedJobs     prometheus.Gauge
	broadcastJobs      prometheus.Gauge
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		jobEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_events_total",
			Help:      "Job lifecycle events by type.",
		}, []string{"event"}),
		enrichmentFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichment_failures_total",
			Help:      "Best-effort post-processing steps that failed.",
		}, []string{"step"}),
		engineErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "engine_errors_total",
			Help:      "Engine calls that failed, by engine, operation and class.",
		}, []string{"engine", "op", "class"}),
		pollDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "engine_poll_duration_seconds",
			Help:      "Latency of one engine status poll.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"engine"}),
		supervisedJobs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "supervised_jobs",
			Help:      "Job tasks currently running.",
		}),
		broadcastJobs: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "broadcast_jobs",
			Help:      "Jobs in the latest status snapshot.",
		}),
	}
}

// Subscribe counts job and enrichment events from bus.
func (m *Metrics) Subscribe(bus event.Bus) func() {
	if m == nil {
		return func() {}
	}
	return bus.Subscribe(func(_ context.Context, e event.Event) error {
		if e.Type == event.EventEnrichmentFailed {
			if p, ok := e.Payload.(event.EnrichmentEvent); ok {
				m.enrichmentFailures.WithLabelValues(p.Step).Inc()
			}
			return nil
		}
		m.jobEvents.WithLabelValues(string(e.Type)).Inc()
		return nil
	},
		event.EventJobCreated,
		event.EventJobDispatched,
		event.EventJobPaused,
		event.EventJobResumed,
		event.EventJobTransferDone,
		event.EventJobCompleted,
		event.EventJobDeleted,
		event.EventEnrichmentFailed,
	)
}

func (m *Metrics) EngineError(engineName, op string, err error) {
	if m == nil || err == nil {
		return
	}
	m.engineErrors.WithLabelValues(engineName, op, errorClass(err)).Inc()
}

func (m *Metrics) ObservePoll(engineName string, d time.Duration) {
	if m == nil {
		return
	}
	m.pollDuration.WithLabelValues(engineName).Observe(d.Seconds())
}

func (m *Metrics) SetSupervised(n int) {
	if m == nil {
		return
	}
	m.supervisedJobs.Set(float64(n))
}

func (m *Metrics) SetBroadcastJobs(n int) {
	if m == nil {
		return
	}
	m.broadcastJobs.Set(float64(n))
}

func errorClass(err error) string {
	switch {
	case errors.Is(err, engine.ErrTransferNotFound):
		return "not_found"
	case errors.Is(err, engine.ErrUnsupported):
		return "unsupported"
	case errors.Is(err, engine.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "other"
}
