package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "events_received_total",
			Help: "Total number of events accepted at intake (excludes duplicates).",
		},
	)

	DeliveriesSucceededTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deliveries_succeeded_total",
			Help: "Total number of events reaching status=DELIVERED.",
		},
	)

	DeliveriesFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliveries_failed_total",
			Help: "Total number of events reaching status=FAILED_PERMANENTLY, by reason.",
		},
		[]string{"reason"}, // permanent_4xx, attempts_exhausted
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retryable attempts recorded, by reason.",
		},
		[]string{"reason"}, // http_5xx, http_429, network (includes timeouts), rate_limited
	)

	DeliveryLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_latency_seconds",
			Help:    "Latency of a single downstream POST attempt.",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueueBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "queue_backlog",
			Help: "Summed depth of all channels on the deliveries topic as last observed by the backlog monitor.",
		},
	)

	NSQChannelDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nsq_channel_depth",
			Help: "Per topic/channel queue depth as reported by nsqd stats.",
		},
		[]string{"topic", "channel"},
	)
)

// MustRegister registers every metric in this package against reg.
func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		EventsReceivedTotal,
		DeliveriesSucceededTotal,
		DeliveriesFailedTotal,
		RetryAttemptsTotal,
		DeliveryLatencySeconds,
		QueueBacklog,
		NSQChannelDepth,
	)
}

// RecordEventReceived increments the intake counter for one freshly inserted event.
func RecordEventReceived() {
	EventsReceivedTotal.Inc()
}

// RecordDeliverySucceeded increments the success counter and observes the
// latency of the final, successful attempt.
func RecordDeliverySucceeded(latency time.Duration) {
	DeliveriesSucceededTotal.Inc()
	DeliveryLatencySeconds.Observe(latency.Seconds())
}

// RecordDeliveryFailed increments the terminal-failure counter for reason.
func RecordDeliveryFailed(reason string) {
	DeliveriesFailedTotal.WithLabelValues(reason).Inc()
}

// RecordRetryAttempt increments the retry counter for reason and observes the
// attempt's latency.
func RecordRetryAttempt(reason string, latency time.Duration) {
	RetryAttemptsTotal.WithLabelValues(reason).Inc()
	DeliveryLatencySeconds.Observe(latency.Seconds())
}

// UpdateQueueBacklog sets the current deliveries-topic backlog gauge.
func UpdateQueueBacklog(depth float64) {
	QueueBacklog.Set(depth)
}

// UpdateNSQChannelDepth sets the per topic/channel depth gauge.
func UpdateNSQChannelDepth(topic, channel string, depth float64) {
	NSQChannelDepth.WithLabelValues(topic, channel).Set(depth)
}
