package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	messagesSent *prometheus.CounterVec
	streamEvents *prometheus.CounterVec
	errorsTotal  *prometheus.CounterVec
	reconnects   *prometheus.CounterVec
	lastPrice    *prometheus.GaugeVec
	latency      *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		messagesSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpull_messages_sent_total",
				Help: "Total number of bars sent to backend",
			},
			[]string{"backend", "symbol"},
		),
		streamEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpull_stream_events_total",
				Help: "Total number of normalized stream events received",
			},
			[]string{"kind", "symbol"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		reconnects: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketpull_stream_reconnects_total",
				Help: "Total number of stream reconnect attempts",
			},
			[]string{"symbol", "kind"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketpull_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "marketpull_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordMessageSent records a bar routed to a backend.
func (r *Recorder) RecordMessageSent(backend, symbol string) {
	r.messagesSent.WithLabelValues(backend, symbol).Inc()
}

// RecordStreamEvent records a normalized event delivered to handlers.
func (r *Recorder) RecordStreamEvent(kind, symbol string) {
	r.streamEvents.WithLabelValues(kind, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordReconnect records a stream reconnect attempt.
func (r *Recorder) RecordReconnect(symbol, kind string) {
	r.reconnects.WithLabelValues(symbol, kind).Inc()
}
