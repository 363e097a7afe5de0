// Package observability expone métricas Prometheus del tracker.
package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/calltracker/internal/domain"
)

const namespace = "calltracker"

// Metrics agrupa las métricas. Se alimenta de dos fuentes: los eventos del
// core (EventSubscriber) y los intentos contra proveedores (retriever.Observer).
type Metrics struct {
	registry *prometheus.Registry

	// Proveedores
	ProviderAttempts *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	CacheLookups     *prometheus.CounterVec

	// Ciclo de vida
	ActiveSignals      prometheus.Gauge
	SignalsStarted     prometheus.Counter
	CheckpointsReached *prometheus.CounterVec
	CheckpointUpdates  prometheus.Counter
	Completions        *prometheus.CounterVec

	// Reputación
	ReputationScore *prometheus.GaugeVec
	TierChanges     prometheus.Counter

	// Jobs
	JobRuns     *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
}

// New registra las métricas en reg. Con reg nil crea un registry propio.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ProviderAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "attempts_total",
			Help:      "Upstream provider attempts by operation and outcome",
		}, []string{"provider", "op", "outcome"}),
		ProviderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "latency_seconds",
			Help:      "Upstream provider call latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 12},
		}, []string{"provider", "op"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Price window cache lookups by result",
		}, []string{"result"}),

		ActiveSignals: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "active_signals",
			Help:      "Signals currently in TRACKING",
		}),
		SignalsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "signals_started_total",
			Help:      "Signals created or restarted",
		}),
		CheckpointsReached: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "checkpoints_reached_total",
			Help:      "Checkpoints reached by the live evaluator",
		}, []string{"checkpoint"}),
		CheckpointUpdates: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "checkpoint_updates_total",
			Help:      "Signals changed by back-fill reconciliation",
		}),
		Completions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "completions_total",
			Help:      "Completed signals by category",
		}, []string{"category"}),

		ReputationScore: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reputation",
			Name:      "score",
			Help:      "Channel reputation score (0-100)",
		}, []string{"channel"}),
		TierChanges: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reputation",
			Name:      "tier_changes_total",
			Help:      "Reputation tier transitions",
		}),

		JobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Scheduled job runs by status",
		}, []string{"job", "status"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "duration_seconds",
			Help:      "Scheduled job duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"job"}),
	}
}

// Handle implementa ports.EventSubscriber.
func (m *Metrics) Handle(_ context.Context, e domain.Event) {
	switch ev := e.(type) {
	case domain.SignalStarted:
		m.SignalsStarted.Inc()
		m.ActiveSignals.Inc()
	case domain.CheckpointReached:
		m.CheckpointsReached.WithLabelValues(string(ev.Checkpoint.Name)).Inc()
	case domain.CheckpointUpdated:
		m.CheckpointUpdates.Inc()
	case domain.SignalCompleted:
		m.ActiveSignals.Dec()
		m.Completions.WithLabelValues(string(ev.Outcome.Category)).Inc()
	case domain.ReputationChanged:
		m.ReputationScore.WithLabelValues(ev.Channel).Set(ev.NewScore)
		if ev.OldTier != ev.NewTier {
			m.TierChanges.Inc()
		}
	}
}

// ObserveAttempt implementa retriever.Observer.
func (m *Metrics) ObserveAttempt(provider, op, outcome string, elapsed time.Duration) {
	m.ProviderAttempts.WithLabelValues(provider, op, outcome).Inc()
	m.ProviderLatency.WithLabelValues(provider, op).Observe(elapsed.Seconds())
}

// ObserveCache implementa retriever.Observer.
func (m *Metrics) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// SetActive fija el gauge de señales activas (tras cargar el estado).
func (m *Metrics) SetActive(n int) {
	m.ActiveSignals.Set(float64(n))
}

// SetReputations publica el score de cada canal (tras cargar el estado).
func (m *Metrics) SetReputations(reps []domain.ChannelReputation) {
	for _, r := range reps {
		m.ReputationScore.WithLabelValues(r.Channel).Set(r.Score)
	}
}

// RecordJob registra una ejecución de un job del scheduler.
func (m *Metrics) RecordJob(job string, elapsed time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.JobRuns.WithLabelValues(job, status).Inc()
	m.JobDuration.WithLabelValues(job).Observe(elapsed.Seconds())
}

// Handler devuelve el handler HTTP para /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
