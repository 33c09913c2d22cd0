package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angeloszaimis/mesh-gateway/internal/circuitbreaker"
	"github.com/angeloszaimis/mesh-gateway/internal/registry"
)

const namespace = "gateway"

// Upstream call outcomes.
const (
	OutcomeSuccess     = "success"
	OutcomeUpstream    = "upstream_error"
	OutcomeFailure     = "failure"
	OutcomeUnavailable = "unavailable"
	OutcomeRejected    = "breaker_open"
)

type Metrics struct {
	registry *prometheus.Registry

	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
	breakerRejections  *prometheus.CounterVec
	upstreamCalls      *prometheus.CounterVec
	upstreamDuration   *prometheus.HistogramVec
	probes             *prometheus.CounterVec
	evictions          *prometheus.CounterVec
	droppedEvents      prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per service (0 closed, 1 open, 2 half-open).",
		}, []string{"service"}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Circuit breaker state transitions.",
		}, []string{"service", "from", "to"}),
		breakerRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_rejections_total",
			Help:      "Calls rejected without being attempted because the breaker was open.",
		}, []string{"service"}),
		upstreamCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_calls_total",
			Help:      "Calls dispatched to downstream services by outcome.",
		}, []string{"service", "outcome"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_call_duration_seconds",
			Help:      "Latency of calls to downstream services.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "outcome"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_probes_total",
			Help:      "Liveness probes by result.",
		}, []string{"service", "result"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_evictions_total",
			Help:      "Records removed for missing heartbeats.",
		}, []string{"service"}),
		droppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metrics_events_dropped_total",
			Help:      "Instrumentation events dropped because the collector buffer was full.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.breakerState,
		m.breakerTransitions,
		m.breakerRejections,
		m.upstreamCalls,
		m.upstreamDuration,
		m.probes,
		m.evictions,
		m.droppedEvents,
	)
	return m
}

// Registry exposes the underlying prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// InitBreakers publishes a closed state for every known breaker so the
// gauge exists before the first transition.
func (m *Metrics) InitBreakers(snapshots []circuitbreaker.Snapshot) {
	for _, snap := range snapshots {
		m.breakerState.WithLabelValues(snap.Name).Set(float64(snap.State))
	}
}

// BreakerTransition satisfies circuitbreaker.Observer.
func (m *Metrics) BreakerTransition(name string, from, to circuitbreaker.State) {
	m.breakerState.WithLabelValues(name).Set(float64(to))
	m.breakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
}

// UpstreamCompleted records one dispatched call. Rejections by an open
// breaker are also counted against the breaker.
func (m *Metrics) UpstreamCompleted(service, outcome string, duration time.Duration) {
	if outcome == OutcomeRejected {
		m.breakerRejections.WithLabelValues(service).Inc()
	}
	m.upstreamCalls.WithLabelValues(service, outcome).Inc()
	m.upstreamDuration.WithLabelValues(service, outcome).Observe(duration.Seconds())
}

// ProbeCompleted satisfies registry.Recorder.
func (m *Metrics) ProbeCompleted(name string, healthy bool) {
	result := "healthy"
	if !healthy {
		result = "unhealthy"
	}
	m.probes.WithLabelValues(name, result).Inc()
}

// Evicted satisfies registry.Recorder.
func (m *Metrics) Evicted(name string) {
	m.evictions.WithLabelValues(name).Inc()
}

// WatchRegistry publishes the registry size by status, read from list at
// scrape time.
func (m *Metrics) WatchRegistry(list func() []registry.Record) {
	m.registry.MustRegister(&registryCollector{list: list})
}

var registrySizeDesc = prometheus.NewDesc(
	prometheus.BuildFQName(namespace, "registry", "services"),
	"Registered services by status.",
	[]string{"status"}, nil,
)

type registryCollector struct {
	list func() []registry.Record
}

func (c *registryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- registrySizeDesc
}

func (c *registryCollector) Collect(ch chan<- prometheus.Metric) {
	counts := map[registry.Status]int{
		registry.StatusHealthy:   0,
		registry.StatusUnhealthy: 0,
	}
	for _, rec := range c.list() {
		counts[rec.Status]++
	}
	for status, n := range counts {
		ch <- prometheus.MustNewConstMetric(registrySizeDesc, prometheus.GaugeValue, float64(n), string(status))
	}
}
