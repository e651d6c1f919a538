// Package metrics exposes Prometheus instrumentation for the event bus.
//
// All Observe methods are safe on a nil *Recorder so components can be
// built without metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the lendbus collectors.
type Recorder struct {
	published        *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	connections      prometheus.Gauge
	authFailures     prometheus.Counter
	inboundFrames    *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	transitionErrors *prometheus.CounterVec
	tokenizations    *prometheus.CounterVec
	exports          *prometheus.CounterVec
}

// NewRecorder registers metrics with the provided registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lendbus_events_published_total",
			Help: "Events handed to the dispatcher, by event name",
		}, []string{"event"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lendbus_deliveries_total",
			Help: "Per-connection delivery attempts, by event name and result",
		}, []string{"event", "result"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lendbus_dispatch_duration_seconds",
			Help:    "Time to fan one event out to every target",
			Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lendbus_connections",
			Help: "Live WebSocket connections",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lendbus_auth_failures_total",
			Help: "Handshakes and requests refused for a bad token",
		}),
		inboundFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lendbus_inbound_frames_total",
			Help: "Frames received from clients, by event name",
		}, []string{"event"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lendbus_loan_transitions_total",
			Help: "Committed loan status transitions",
		}, []string{"from", "to"}),
		transitionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lendbus_transition_errors_total",
			Help: "Refused transitions, by error kind",
		}, []string{"kind"}),
		tokenizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lendbus_tokenizations_total",
			Help: "Collateral tokenization attempts, by result",
		}, []string{"result"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lendbus_ledger_exports_total",
			Help: "Loan ledger export runs, by result",
		}, []string{"result"}),
	}

	reg.MustRegister(
		r.published,
		r.deliveries,
		r.dispatchDuration,
		r.connections,
		r.authFailures,
		r.inboundFrames,
		r.transitions,
		r.transitionErrors,
		r.tokenizations,
		r.exports,
	)
	return r
}

// Handler returns the HTTP handler serving /metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// ObservePublished records one event entering the dispatcher and how long
// its fan-out took.
func (r *Recorder) ObservePublished(event string, d time.Duration) {
	if r == nil {
		return
	}
	r.published.WithLabelValues(event).Inc()
	r.dispatchDuration.Observe(d.Seconds())
}

// ObserveDelivery records one per-connection delivery attempt.
func (r *Recorder) ObserveDelivery(event string, ok bool) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	r.deliveries.WithLabelValues(event, result).Inc()
}

// SetConnections sets the live connection gauge.
func (r *Recorder) SetConnections(n int) {
	if r == nil {
		return
	}
	r.connections.Set(float64(n))
}

// ObserveAuthFailure increments the refused-token counter.
func (r *Recorder) ObserveAuthFailure() {
	if r == nil {
		return
	}
	r.authFailures.Inc()
}

// ObserveInbound records a frame received from a client.
func (r *Recorder) ObserveInbound(event string) {
	if r == nil {
		return
	}
	r.inboundFrames.WithLabelValues(event).Inc()
}

// ObserveTransition records a committed status change.
func (r *Recorder) ObserveTransition(from, to string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(from, to).Inc()
}

// ObserveTransitionError records a refused transition.
func (r *Recorder) ObserveTransitionError(kind string) {
	if r == nil {
		return
	}
	r.transitionErrors.WithLabelValues(kind).Inc()
}

// ObserveTokenization records a tokenization attempt.
func (r *Recorder) ObserveTokenization(ok bool) {
	if r == nil {
		return
	}
	if ok {
		r.tokenizations.WithLabelValues("success").Inc()
		return
	}
	r.tokenizations.WithLabelValues("error").Inc()
}

// ObserveExport records a ledger export run.
func (r *Recorder) ObserveExport(ok bool) {
	if r == nil {
		return
	}
	if ok {
		r.exports.WithLabelValues("success").Inc()
		return
	}
	r.exports.WithLabelValues("error").Inc()
}
