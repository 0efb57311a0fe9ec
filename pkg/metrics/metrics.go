package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Send pipeline metrics
	SendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sendgate_sends_total",
			Help: "Total number of upstream sends by bot, priority and outcome",
		},
		[]string{"bot", "priority", "outcome"},
	)

	SendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sendgate_send_latency_seconds",
			Help:    "Upstream send duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"priority"},
	)

	QueueWait = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sendgate_queue_wait_seconds",
			Help:    "Time items spend in the send queue before dispatch",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"priority"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sendgate_queue_depth",
			Help: "Items currently queued by priority",
		},
		[]string{"priority"},
	)

	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sendgate_rate_limit_hits_total",
			Help: "Total number of upstream 429 responses by bot",
		},
		[]string{"bot"},
	)

	// Inbound metrics
	WebhookUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sendgate_webhook_updates_total",
			Help: "Total number of webhook updates by bot and kind",
		},
		[]string{"bot", "kind"},
	)

	// Worker metrics
	WarmupJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sendgate_warmup_jobs_total",
			Help: "Total number of media warm-up jobs by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	DownsellRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sendgate_downsell_rows_total",
			Help: "Total number of settled downsell schedule rows by outcome",
		},
		[]string{"outcome"},
	)

	BroadcastRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sendgate_broadcast_rows_total",
			Help: "Total number of settled broadcast queue rows by outcome",
		},
		[]string{"outcome"},
	)

	// API metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sendgate_http_requests_total",
			Help: "Total number of HTTP requests by method and status",
		},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(SendsTotal)
	prometheus.MustRegister(SendLatency)
	prometheus.MustRegister(QueueWait)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(RateLimitHits)
	prometheus.MustRegister(WebhookUpdates)
	prometheus.MustRegister(WarmupJobs)
	prometheus.MustRegister(DownsellRows)
	prometheus.MustRegister(BroadcastRows)
	prometheus.MustRegister(HTTPRequestsTotal)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
