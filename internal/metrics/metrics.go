package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medisos"

// Metrics holds the dispatch collectors. A nil *Metrics is valid and records
// nothing, so callers never need to guard.
type Metrics struct {
	registry *prometheus.Registry

	sosSubmitted      *prometheus.CounterVec
	sosTransitions    *prometheus.CounterVec
	deliveryFailures  *prometheus.CounterVec
	activeConnections *prometheus.GaugeVec
	locationUpdates   prometheus.Counter
	dispatchDuration  prometheus.Histogram
	expirySweeps      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sosSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sos_submitted_total",
			Help:      "SOS submissions by outcome.",
		}, []string{"outcome"}),
		sosTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sos_transitions_total",
			Help:      "SOS lifecycle transitions by resulting status.",
		}, []string{"status"}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Pushes that could not be handed to a live connection.",
		}, []string{"event"}),
		activeConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Registered live connections by role.",
		}, []string{"role"}),
		locationUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "location_updates_total",
			Help:      "Accepted patient location updates.",
		}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sos_dispatch_duration_seconds",
			Help:      "Time spent handling an SOS submission.",
			Buckets:   prometheus.DefBuckets,
		}),
		expirySweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "expiry_sweeps_total",
			Help:      "Scheduled expiry sweeps by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.sosSubmitted,
		m.sosTransitions,
		m.deliveryFailures,
		m.activeConnections,
		m.locationUpdates,
		m.dispatchDuration,
		m.expirySweeps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveSubmission(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sosSubmitted.WithLabelValues(outcome).Inc()
	m.dispatchDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) IncTransition(status string) {
	if m == nil {
		return
	}
	m.sosTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) IncDeliveryFailure(event string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(event).Inc()
}

func (m *Metrics) SetActiveConnections(role string, count int) {
	if m == nil {
		return
	}
	m.activeConnections.WithLabelValues(role).Set(float64(count))
}

func (m *Metrics) IncLocationUpdate() {
	if m == nil {
		return
	}
	m.locationUpdates.Inc()
}

func (m *Metrics) IncExpirySweep(result string) {
	if m == nil {
		return
	}
	m.expirySweeps.WithLabelValues(result).Inc()
}
