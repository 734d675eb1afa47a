package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequestsTotal  *prometheus.CounterVec
	httpLatencySeconds *prometheus.HistogramVec
	httpErrorsTotal    *prometheus.CounterVec

	realtimeEventsTotal    *prometheus.CounterVec
	realtimePollsTotal     *prometheus.CounterVec
	realtimeTogglesTotal   *prometheus.CounterVec
	realtimeReadMarksTotal *prometheus.CounterVec
	realtimeFeedDrops      *prometheus.CounterVec
	realtimeSessions       prometheus.Gauge
	realtimeViews          *prometheus.GaugeVec
	feedRelayedTotal       *prometheus.CounterVec
	assistantRequestsTotal *prometheus.CounterVec

	messagesSentTotal           prometheus.Counter
	notificationsPublishedTotal *prometheus.CounterVec
	sseClientsActive            prometheus.Gauge

	uploadRequestsTotal *prometheus.CounterVec
	uploadRejectedTotal *prometheus.CounterVec
	uploadLatency       prometheus.Histogram
)

// RegisterMetrics initialises the Prometheus collectors used across the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		realtimeEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_events_total",
			Help: "Change events merged into session caches, by outcome.",
		}, []string{"record", "source", "outcome"})

		realtimePollsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_polls_total",
			Help: "Polling fallback fetches, by view and outcome.",
		}, []string{"view", "outcome"})

		realtimeTogglesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_toggles_total",
			Help: "Optimistic relation toggles, by kind and outcome.",
		}, []string{"kind", "outcome"})

		realtimeReadMarksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_read_marks_total",
			Help: "Read-receipt reconciliations, by scope and outcome.",
		}, []string{"scope", "outcome"})

		realtimeFeedDrops = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_feed_drops_total",
			Help: "Change feed subscriptions that ended unexpectedly.",
		}, []string{"view"})

		realtimeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_sessions_active",
			Help: "Number of live sync sessions.",
		})

		realtimeViews = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "realtime_views_active",
			Help: "Number of open sync views.",
		}, []string{"view"})

		feedRelayedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_relayed_total",
			Help: "Change envelopes received from external transports, by outcome.",
		}, []string{"transport", "outcome"})

		assistantRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_requests_total",
			Help: "Assistant chat completions, by outcome.",
		}, []string{"outcome"})

		messagesSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messages_sent_total",
			Help: "Direct messages persisted.",
		})

		notificationsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_published_total",
			Help: "Notifications created, by type.",
		}, []string{"type"})

		sseClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sse_clients_active",
			Help: "Connected notification stream clients.",
		})

		uploadRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_requests_total",
			Help: "Accepted media uploads, by mime type.",
		}, []string{"mime"})

		uploadRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_rejected_total",
			Help: "Rejected media uploads, by reason.",
		}, []string{"reason"})

		uploadLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upload_latency_seconds",
			Help:    "Latency of media uploads.",
			Buckets: prometheus.DefBuckets,
		})

		prometheus.MustRegister(
			httpRequestsTotal, httpLatencySeconds, httpErrorsTotal,
			realtimeEventsTotal, realtimePollsTotal, realtimeTogglesTotal, realtimeReadMarksTotal,
			realtimeFeedDrops, realtimeSessions, realtimeViews, feedRelayedTotal, assistantRequestsTotal,
			messagesSentTotal, notificationsPublishedTotal, sseClientsActive,
			uploadRequestsTotal, uploadRejectedTotal, uploadLatency,
		)
	})
}

// HTTPRequests exposes the request counter.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the request latency histogram.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the error response counter.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// RealtimeEvents counts merged change events.
func RealtimeEvents() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeEventsTotal
}

// RealtimePolls counts poll cycles.
func RealtimePolls() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimePollsTotal
}

// RealtimeToggles counts optimistic toggles.
func RealtimeToggles() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeTogglesTotal
}

// RealtimeReadMarks counts read reconciliations.
func RealtimeReadMarks() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeReadMarksTotal
}

// RealtimeFeedDrops counts dropped feed subscriptions.
func RealtimeFeedDrops() *prometheus.CounterVec {
	RegisterMetrics()
	return realtimeFeedDrops
}

// RealtimeSessions tracks live sessions.
func RealtimeSessions() prometheus.Gauge {
	RegisterMetrics()
	return realtimeSessions
}

// RealtimeViews tracks open views.
func RealtimeViews() *prometheus.GaugeVec {
	RegisterMetrics()
	return realtimeViews
}

// FeedRelayed counts envelopes received from Redis, NATS or an upstream websocket.
func FeedRelayed() *prometheus.CounterVec {
	RegisterMetrics()
	return feedRelayedTotal
}

// AssistantRequests counts assistant completions.
func AssistantRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return assistantRequestsTotal
}

// MessagesSent counts persisted direct messages.
func MessagesSent() prometheus.Counter {
	RegisterMetrics()
	return messagesSentTotal
}

// NotificationsPublishedTotal counts created notifications.
func NotificationsPublishedTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsPublishedTotal
}

// SSEClientsActive tracks notification stream clients.
func SSEClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return sseClientsActive
}

// UploadRequests counts accepted uploads.
func UploadRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadRequestsTotal
}

// UploadRejected counts rejected uploads.
func UploadRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadRejectedTotal
}

// UploadLatency observes upload latency.
func UploadLatency() prometheus.Histogram {
	RegisterMetrics()
	return uploadLatency
}
