package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the webhook dispatch subsystem.
type Metrics struct {
	// Events accepted for dispatch, by event type
	EventsDispatched *prometheus.CounterVec

	// Delivery records created by fan-out, by event type
	RecordsCreated *prometheus.CounterVec

	// Attempt outcomes by result: delivered, retrying, exhausted
	AttemptOutcomes *prometheus.CounterVec

	// End-to-end latency of one delivery attempt
	AttemptLatency prometheus.Histogram

	// Records claimed per retry batch
	RetryBatchSize prometheus.Histogram

	// Records currently awaiting retry, sampled per scheduler pass
	RetryBacklog prometheus.Gauge
}

// New creates a Metrics instance with all webhook metrics registered on the
// default registry.
func New() *Metrics {
	return &Metrics{
		EventsDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "incentra_webhook_events_dispatched_total",
			Help: "Total domain events accepted for webhook dispatch by event type",
		}, []string{"event_type"}),

		RecordsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "incentra_webhook_delivery_records_total",
			Help: "Total delivery records created by fan-out by event type",
		}, []string{"event_type"}),

		AttemptOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "incentra_webhook_attempt_outcomes_total",
			Help: "Total delivery attempt outcomes by resulting status",
		}, []string{"outcome"}), // outcome: "delivered", "retrying", "exhausted"

		AttemptLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "incentra_webhook_attempt_duration_seconds",
			Help:    "Duration of one webhook delivery attempt including the HTTP round trip",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		RetryBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "incentra_webhook_retry_batch_size",
			Help:    "Number of due delivery records claimed per scheduler pass",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		}),

		RetryBacklog: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "incentra_webhook_retry_backlog",
			Help: "Delivery records in retrying status observed by the last scheduler pass",
		}),
	}
}

// IncrementDispatched records an accepted dispatch.
func (m *Metrics) IncrementDispatched(eventType string) {
	if m != nil {
		m.EventsDispatched.WithLabelValues(eventType).Inc()
	}
}

// AddRecordsCreated records fan-out volume for one dispatch.
func (m *Metrics) AddRecordsCreated(eventType string, n int) {
	if m != nil {
		m.RecordsCreated.WithLabelValues(eventType).Add(float64(n))
	}
}

// IncrementOutcome records one attempt outcome.
func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.AttemptOutcomes.WithLabelValues(outcome).Inc()
	}
}

// ObserveAttemptLatency records the duration of one delivery attempt.
func (m *Metrics) ObserveAttemptLatency(d time.Duration) {
	if m != nil {
		m.AttemptLatency.Observe(d.Seconds())
	}
}

// ObserveRetryBatch records the size of one scheduler batch.
func (m *Metrics) ObserveRetryBatch(n int) {
	if m != nil {
		m.RetryBatchSize.Observe(float64(n))
	}
}

// SetRetryBacklog records the awaiting-retry count seen by a scheduler pass.
func (m *Metrics) SetRetryBacklog(n int) {
	if m != nil {
		m.RetryBacklog.Set(float64(n))
	}
}
