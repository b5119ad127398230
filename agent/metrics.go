package agent

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine's Prometheus instrumentation: retry counts,
// certificate verification outcomes, and NodeKey cache effectiveness.
type Metrics struct {
	retries          *prometheus.CounterVec
	verifyFailures   *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	timeSyncs        prometheus.Counter
}

// NewMetrics registers the engine's metrics with reg. Passing nil skips
// registration (callers that already embed a Metrics elsewhere in a
// shared registry, or run multiple engines in one process, construct one
// Metrics and share it across engines instead).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_retries_total",
			Help: "Count of request retries, by reason.",
		}, []string{"reason"}),
		verifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_certificate_verify_failures_total",
			Help: "Count of certificate verification failures, by kind.",
		}, []string{"kind"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_cache_hits_total",
			Help: "Count of NodeKey/subnet cache hits, by cache.",
		}, []string{"cache"}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_cache_misses_total",
			Help: "Count of NodeKey/subnet cache misses, by cache.",
		}, []string{"cache"}),
		timeSyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_time_syncs_total",
			Help: "Count of completed time-sync operations.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.retries, m.verifyFailures, m.cacheHits, m.cacheMisses, m.timeSyncs)
	}
	return m
}

func (m *Metrics) retry(reason string) {
	if m == nil {
		return
	}
	m.retries.With(prometheus.Labels{"reason": reason}).Inc()
}

func (m *Metrics) verifyFailure(kind Kind) {
	if m == nil {
		return
	}
	m.verifyFailures.With(prometheus.Labels{"kind": kind.String()}).Inc()
}

func (m *Metrics) cacheHit(cache string) {
	if m == nil {
		return
	}
	m.cacheHits.With(prometheus.Labels{"cache": cache}).Inc()
}

func (m *Metrics) cacheMiss(cache string) {
	if m == nil {
		return
	}
	m.cacheMisses.With(prometheus.Labels{"cache": cache}).Inc()
}

func (m *Metrics) timeSync() {
	if m == nil {
		return
	}
	m.timeSyncs.Inc()
}
