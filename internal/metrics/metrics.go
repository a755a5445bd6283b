package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the Prometheus instruments for the dispatch pipeline.
// These are operational counters, orthogonal to the 24-hour product metrics
// kept in Redis: Prometheus answers "is the service healthy", Redis answers
// "what did we deliver last day".
type Metrics struct {
	Sent           *prometheus.CounterVec
	Throttled      *prometheus.CounterVec
	Failed         *prometheus.CounterVec
	RateLimited    *prometheus.CounterVec
	StaleDiscarded *prometheus.CounterVec
	QueueDepth     *prometheus.GaugeVec
	SendLatency    *prometheus.HistogramVec
}

// New registers all instruments with the given registerer. A custom registry
// keeps tests isolated from global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "otp_dispatch_sent_total",
			Help: "Total OTP messages accepted by the provider.",
		}, []string{"channel"}),

		Throttled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "otp_dispatch_provider_throttled_total",
			Help: "Total provider-side rate rejections (HTTP 429).",
		}, []string{"channel"}),

		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "otp_dispatch_failed_total",
			Help: "Total non-throttle transport failures.",
		}, []string{"channel"}),

		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "otp_dispatch_rate_limited_total",
			Help: "Total local admission denials that caused a reschedule.",
		}, []string{"channel"}),

		StaleDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "otp_dispatch_stale_discarded_total",
			Help: "Total jobs discarded because their entry was superseded or already served.",
		}, []string{"channel"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "otp_dispatch_queue_depth",
			Help: "Current number of pending entries per channel.",
		}, []string{"channel"}),

		SendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "otp_dispatch_send_seconds",
			Help:    "Transport call latency from admission to provider ack.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
	}

	reg.MustRegister(
		m.Sent,
		m.Throttled,
		m.Failed,
		m.RateLimited,
		m.StaleDiscarded,
		m.QueueDepth,
		m.SendLatency,
	)

	return m
}
