// Package metrics provides Prometheus instrumentation for the
// concentrator: scheduler throughput, backend circuit state, and the
// resource gauges a production deployment scrapes alongside health.
package metrics

import (
	"time"

	"github.com/benkietzman/portconcentrator/pkg/backendhealth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the concentrator registers.
type Metrics struct {
	// Scheduler (pkg/engine)
	ActiveBridges  *prometheus.GaugeVec
	QueuedBridges  *prometheus.GaugeVec
	ServiceCount   prometheus.Gauge
	PromotionsTotal *prometheus.CounterVec
	ReapedTotal     *prometheus.CounterVec
	BridgeDuration  *prometheus.HistogramVec

	// Ingress (pkg/ingress)
	EnvelopesAccepted *prometheus.CounterVec
	EnvelopesRejected *prometheus.CounterVec

	// Bridge worker (pkg/bridgeworker)
	ConnectErrors   *prometheus.CounterVec
	TransferBytes   *prometheus.CounterVec
	LifetimeExceeded prometheus.Counter

	// Backend health (pkg/backendhealth)
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec

	// Resource gauges, sampled by the health checker.
	GoroutinesActive *prometheus.GaugeVec
	MemoryAllocated  *prometheus.GaugeVec
}

// New creates a Metrics instance with every collector registered under
// namespace (empty defaults to "concentrator").
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "concentrator"
	}

	return &Metrics{
		ActiveBridges: promauto.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "active_bridges", Help: "Currently active bridges per service."},
			[]string{"service"},
		),
		QueuedBridges: promauto.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "queued_bridges", Help: "Currently queued bridges per service."},
			[]string{"service"},
		),
		ServiceCount: promauto.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "service_count", Help: "Number of services currently tracked by the scheduler."},
		),
		PromotionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "promotions_total", Help: "Total bridges promoted from queued to active, per service."},
			[]string{"service"},
		),
		ReapedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "reaped_total", Help: "Total bridges reaped, per service and outcome."},
			[]string{"service", "outcome"},
		),
		BridgeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bridge_active_duration_seconds",
				Help:      "Active-phase duration of reaped bridges.",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"service"},
		),
		EnvelopesAccepted: promauto.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "envelopes_accepted_total", Help: "Request envelopes that passed validation."},
			[]string{"service"},
		),
		EnvelopesRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "envelopes_rejected_total", Help: "Request envelopes rejected at ingress, by reason."},
			[]string{"reason"},
		),
		ConnectErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "connect_errors_total", Help: "Outbound connect failures, by backend host."},
			[]string{"host"},
		),
		TransferBytes: promauto.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "transfer_bytes_total", Help: "Bytes pumped, by direction."},
			[]string{"direction"},
		),
		LifetimeExceeded: promauto.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "lifetime_exceeded_total", Help: "Bridges terminated for exceeding the 600s lifetime cap."},
		),
		CircuitBreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "circuit_breaker_state", Help: "Circuit breaker state per backend host (0=closed, 1=half_open, 2=open)."},
			[]string{"host"},
		),
		CircuitBreakerTrips: promauto.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "circuit_breaker_trips_total", Help: "Total circuit breaker trips, per backend host."},
			[]string{"host"},
		),
		GoroutinesActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "goroutines_active", Help: "Number of active goroutines by component."},
			[]string{"component"},
		),
		MemoryAllocated: promauto.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "memory_allocated_bytes", Help: "Memory allocated in bytes."},
			[]string{"type"},
		),
	}
}

// SetActive implements engine.MetricsSink.
func (m *Metrics) SetActive(service string, n int) {
	m.ActiveBridges.WithLabelValues(service).Set(float64(n))
}

// SetQueued implements engine.MetricsSink.
func (m *Metrics) SetQueued(service string, n int) {
	m.QueuedBridges.WithLabelValues(service).Set(float64(n))
}

// IncPromoted implements engine.MetricsSink.
func (m *Metrics) IncPromoted(service string) {
	m.PromotionsTotal.WithLabelValues(service).Inc()
}

// IncReaped implements engine.MetricsSink.
func (m *Metrics) IncReaped(service string, hasError bool) {
	outcome := "success"
	if hasError {
		outcome = "error"
	}
	m.ReapedTotal.WithLabelValues(service, outcome).Inc()
}

// SetCircuitState implements backendhealth.MetricsSink.
func (m *Metrics) SetCircuitState(host string, state backendhealth.State) {
	m.CircuitBreakerState.WithLabelValues(host).Set(float64(state))
}

// IncCircuitTrip implements backendhealth.MetricsSink.
func (m *Metrics) IncCircuitTrip(host string) {
	m.CircuitBreakerTrips.WithLabelValues(host).Inc()
}

// ObserveBridge implements engine.MetricsSink. It records a completed
// bridge's active-phase duration.
func (m *Metrics) ObserveBridge(service string, active time.Duration) {
	m.BridgeDuration.WithLabelValues(service).Observe(active.Seconds())
}

// ObserveTransfer implements bridgeworker.MetricsSink. It adds n bytes to
// the named direction's running total. The conventional directions are
// "in_recv", "in_send", "out_recv", "out_send".
func (m *Metrics) ObserveTransfer(direction string, n uint64) {
	m.TransferBytes.WithLabelValues(direction).Add(float64(n))
}

// IncConnectError implements bridgeworker.MetricsSink.
func (m *Metrics) IncConnectError(host string) {
	m.ConnectErrors.WithLabelValues(host).Inc()
}

// IncLifetimeExceeded implements bridgeworker.MetricsSink.
func (m *Metrics) IncLifetimeExceeded() {
	m.LifetimeExceeded.Inc()
}

// IncEnvelopeAccepted implements ingress.MetricsSink.
func (m *Metrics) IncEnvelopeAccepted(service string) {
	m.EnvelopesAccepted.WithLabelValues(service).Inc()
}

// IncEnvelopeRejected implements ingress.MetricsSink.
func (m *Metrics) IncEnvelopeRejected(reason string) {
	m.EnvelopesRejected.WithLabelValues(reason).Inc()
}
