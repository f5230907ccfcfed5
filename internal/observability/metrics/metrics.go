package metrics

import "github.com/prometheus/client_golang/prometheus"

// SchedulingMetrics exposes counters/histograms for the scheduling client.
type SchedulingMetrics struct {
	fetchTotal     *prometheus.CounterVec
	mutationTotal  *prometheus.CounterVec
	mutationLag    *prometheus.HistogramVec
	surfaceEvents  *prometheus.CounterVec
	cacheRollbacks prometheus.Counter
}

func NewSchedulingMetrics(reg prometheus.Registerer) *SchedulingMetrics {
	m := &SchedulingMetrics{
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "staffbook",
			Subsystem: "scheduling",
			Name:      "fetch_total",
			Help:      "Total authority reads by endpoint and outcome",
		}, []string{"endpoint", "status"}),
		mutationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "staffbook",
			Subsystem: "scheduling",
			Name:      "mutation_total",
			Help:      "Total optimistic mutations by kind and outcome",
		}, []string{"kind", "outcome"}),
		mutationLag: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "staffbook",
			Subsystem: "scheduling",
			Name:      "mutation_roundtrip_seconds",
			Help:      "Latency between optimistic apply and authority response",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		surfaceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "staffbook",
			Subsystem: "scheduling",
			Name:      "surface_events_total",
			Help:      "Total inbound rendering-surface events by type",
		}, []string{"event"}),
		cacheRollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "staffbook",
			Subsystem: "scheduling",
			Name:      "rollback_total",
			Help:      "Total optimistic applies reverted after rejection",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.fetchTotal, m.mutationTotal, m.mutationLag, m.surfaceEvents, m.cacheRollbacks)
	return m
}

func (m *SchedulingMetrics) ObserveFetch(endpoint, status string) {
	if m == nil {
		return
	}
	m.fetchTotal.WithLabelValues(endpoint, status).Inc()
}

func (m *SchedulingMetrics) ObserveMutation(kind, outcome string) {
	if m == nil {
		return
	}
	m.mutationTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *SchedulingMetrics) ObserveMutationLag(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.mutationLag.WithLabelValues(kind).Observe(seconds)
}

func (m *SchedulingMetrics) ObserveSurfaceEvent(event string) {
	if m == nil {
		return
	}
	m.surfaceEvents.WithLabelValues(event).Inc()
}

func (m *SchedulingMetrics) ObserveRollback() {
	if m == nil {
		return
	}
	m.cacheRollbacks.Inc()
}
