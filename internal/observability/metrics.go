package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	jobsCaptured = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printsink",
			Subsystem: "capture",
			Name:      "jobs_total",
			Help:      "Captured jobs stored in the history.",
		},
		[]string{"source", "status"},
	)
	bytesCaptured = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "printsink",
			Subsystem: "capture",
			Name:      "bytes_total",
			Help:      "Raw bytes stored across all captured jobs.",
		},
	)
	noiseDiscarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "printsink",
			Subsystem: "capture",
			Name:      "noise_discarded_total",
			Help:      "Connections dropped by the noise filter.",
		},
	)
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "printsink",
			Subsystem: "capture",
			Name:      "active_connections",
			Help:      "Open capture connections.",
		},
	)
	historyJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "printsink",
			Subsystem: "history",
			Name:      "jobs",
			Help:      "Jobs currently held in the history.",
		},
	)
	historyBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "printsink",
			Subsystem: "history",
			Name:      "bytes",
			Help:      "Raw bytes currently held in the history.",
		},
	)
	eventClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "printsink",
			Subsystem: "events",
			Name:      "clients",
			Help:      "Connected WebSocket event clients.",
		},
	)
	webhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printsink",
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook delivery attempts by final outcome.",
		},
		[]string{"event", "success"},
	)
	archivedJobs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "printsink",
			Subsystem: "archive",
			Name:      "jobs_total",
			Help:      "Jobs written to the archive.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "printsink",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "printsink",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			jobsCaptured, bytesCaptured, noiseDiscarded, activeConnections,
			historyJobs, historyBytes, eventClients,
			webhookDeliveries, archivedJobs, httpRequests, httpDuration,
		)
	})
}

func RecordJobCaptured(source, status string, bytes int) {
	RegisterMetrics()
	jobsCaptured.WithLabelValues(source, status).Inc()
	bytesCaptured.Add(float64(bytes))
}

func RecordNoiseDiscarded() {
	RegisterMetrics()
	noiseDiscarded.Inc()
}

func ConnectionOpened() {
	RegisterMetrics()
	activeConnections.Inc()
}

func ConnectionClosed() {
	RegisterMetrics()
	activeConnections.Dec()
}

func SetHistorySize(jobs int, bytes int64) {
	RegisterMetrics()
	historyJobs.Set(float64(jobs))
	historyBytes.Set(float64(bytes))
}

func EventClientConnected() {
	RegisterMetrics()
	eventClients.Inc()
}

func EventClientDisconnected() {
	RegisterMetrics()
	eventClients.Dec()
}

func RecordWebhookDelivery(event string, success bool) {
	RegisterMetrics()
	webhookDeliveries.WithLabelValues(event, strconv.FormatBool(success)).Inc()
}

func RecordArchivedJob() {
	RegisterMetrics()
	archivedJobs.Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
