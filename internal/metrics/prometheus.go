package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the ingestion service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	// Session metrics
	SessionsCreated prometheus.Counter
	SessionsEnded   *prometheus.CounterVec
	TrackedSessions prometheus.Gauge

	// Chunk metrics
	ChunksIngested *prometheus.CounterVec
	ChunkDuration  prometheus.Histogram
	ChunkSize      prometheus.Histogram

	// Transcription metrics
	TranscriptionDuration *prometheus.HistogramVec
	TranscriptionFailures *prometheus.CounterVec

	// Store and publisher metrics
	StoreErrors     *prometheus.CounterVec
	EventsPublished prometheus.Counter
	PublishFailures prometheus.Counter

	// WebSocket metrics
	ActiveConnections prometheus.Gauge
	WSMessages        *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Passing a fresh
// prometheus.NewRegistry() keeps tests independent of the global registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		gatherer: reg,

		// Session metrics
		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "indicvoice_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "indicvoice_sessions_ended_total",
			Help: "Total number of sessions ended, by reason",
		}, []string{"reason"}),
		TrackedSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "indicvoice_tracked_sessions",
			Help: "Sessions with recent activity watched by the idle reaper",
		}),

		// Chunk metrics
		ChunksIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "indicvoice_chunks_ingested_total",
			Help: "Total number of audio chunks ingested, by outcome",
		}, []string{"outcome"}),
		ChunkDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "indicvoice_chunk_duration_seconds",
			Help:    "Audio duration of ingested chunks",
			Buckets: prometheus.ExponentialBuckets(0.125, 2, 10), // 125ms to ~1 minute
		}),
		ChunkSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "indicvoice_chunk_size_bytes",
			Help:    "Size of decoded audio chunks in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),

		// Transcription metrics
		TranscriptionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "indicvoice_transcription_duration_seconds",
			Help:    "Duration of transcription engine calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}, []string{"engine"}),
		TranscriptionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "indicvoice_transcription_failures_total",
			Help: "Total number of failed transcription engine calls",
		}, []string{"engine"}),

		// Store and publisher metrics
		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "indicvoice_store_errors_total",
			Help: "Total number of durable store errors, by operation",
		}, []string{"operation"}),
		EventsPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "indicvoice_events_published_total",
			Help: "Total number of result events published",
		}),
		PublishFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "indicvoice_publish_failures_total",
			Help: "Total number of result events that could not be published",
		}),

		// WebSocket metrics
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "indicvoice_ws_active_connections",
			Help: "Current number of open WebSocket connections",
		}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "indicvoice_ws_messages_total",
			Help: "Total number of WebSocket messages, by direction and type",
		}, []string{"direction", "type"}),

		// HTTP API metrics
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "indicvoice_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "indicvoice_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "indicvoice_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// Handler serves the registry the metrics were created with.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// RecordSessionEnded increments the sessions ended counter
func (m *Metrics) RecordSessionEnded(reason string) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(reason).Inc()
}

// SetTrackedSessions sets the number of sessions watched for idleness
func (m *Metrics) SetTrackedSessions(count int) {
	if m == nil {
		return
	}
	m.TrackedSessions.Set(float64(count))
}

// RecordChunk records an ingested chunk
func (m *Metrics) RecordChunk(outcome string, durationSeconds float64, sizeBytes int) {
	if m == nil {
		return
	}
	m.ChunksIngested.WithLabelValues(outcome).Inc()
	m.ChunkDuration.Observe(durationSeconds)
	m.ChunkSize.Observe(float64(sizeBytes))
}

// RecordTranscription records one engine call
func (m *Metrics) RecordTranscription(engine string, durationSeconds float64, failed bool) {
	if m == nil {
		return
	}
	m.TranscriptionDuration.WithLabelValues(engine).Observe(durationSeconds)
	if failed {
		m.TranscriptionFailures.WithLabelValues(engine).Inc()
	}
}

// RecordStoreError increments the store error counter
func (m *Metrics) RecordStoreError(operation string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(operation).Inc()
}

// RecordPublish records the outcome of publishing one event
func (m *Metrics) RecordPublish(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PublishFailures.Inc()
		return
	}
	m.EventsPublished.Inc()
}

// ConnectionOpened increments the active WebSocket connections gauge
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

// ConnectionClosed decrements the active WebSocket connections gauge
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

// RecordWSMessage records a WebSocket message; direction is "in" or "out"
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
