package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "schemabridge"

// SyncMetrics records flush-cycle, dependency-wait and relay activity.
type SyncMetrics struct {
	cycleDuration *prometheus.HistogramVec
	cycles        *prometheus.CounterVec
	produced      *prometheus.CounterVec
	dependency    *prometheus.CounterVec
	deadLetters   *prometheus.CounterVec
	relayed       *prometheus.CounterVec
	deferred      prometheus.Gauge
}

// NewSyncMetrics registers the sync metrics on the provided registerer. A nil
// registerer yields a no-op recorder.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		return &SyncMetrics{}
	}
	cycleDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "flush_cycle_duration_seconds",
		Help:      "Duration of flush cycles in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})
	cycles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "flush_cycles_total",
		Help:      "Flush cycles by outcome.",
	}, []string{"outcome"})
	produced := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_produced_total",
		Help:      "Events produced to destination topics.",
	}, []string{"direction", "aggregate_type"})
	dependency := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dependency_waits_total",
		Help:      "Dependency wait results by outcome.",
	}, []string{"outcome"})
	deadLetters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dead_letters_total",
		Help:      "Events diverted to the dead letter table.",
	}, []string{"reason"})
	relayed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_relayed_total",
		Help:      "Source events relayed into the buffer topic.",
	}, []string{"direction"})
	deferred := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "deferred_queue_depth",
		Help:      "Messages held for the next flush cycle.",
	})
	reg.MustRegister(cycleDuration, cycles, produced, dependency, deadLetters, relayed, deferred)
	return &SyncMetrics{
		cycleDuration: cycleDuration,
		cycles:        cycles,
		produced:      produced,
		dependency:    dependency,
		deadLetters:   deadLetters,
		relayed:       relayed,
		deferred:      deferred,
	}
}

// ObserveCycle records one flush cycle and its duration.
func (m *SyncMetrics) ObserveCycle(outcome string, duration time.Duration) {
	if m == nil || m.cycles == nil {
		return
	}
	outcome = normalizeLabel(outcome)
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *SyncMetrics) IncProduced(direction, aggregateType string) {
	if m == nil || m.produced == nil {
		return
	}
	m.produced.WithLabelValues(normalizeLabel(direction), normalizeLabel(aggregateType)).Inc()
}

func (m *SyncMetrics) IncDependencyOutcome(outcome string) {
	if m == nil || m.dependency == nil {
		return
	}
	m.dependency.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *SyncMetrics) IncDeadLetter(reason string) {
	if m == nil || m.deadLetters == nil {
		return
	}
	m.deadLetters.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *SyncMetrics) IncRelayed(direction string) {
	if m == nil || m.relayed == nil {
		return
	}
	m.relayed.WithLabelValues(normalizeLabel(direction)).Inc()
}

func (m *SyncMetrics) SetDeferredDepth(n int) {
	if m == nil || m.deferred == nil {
		return
	}
	m.deferred.Set(float64(n))
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
