package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session close reasons used as label values
const (
	ReasonIdle          = "idle"
	ReasonNetworkClosed = "network_closed"
	ReasonWriteError    = "write_error"
	ReasonShutdown      = "shutdown"
)

// Metrics contains all Prometheus metrics for the recorder
type Metrics struct {
	// Network link metrics
	NetworkUp          *prometheus.GaugeVec
	NetworkConnects    *prometheus.CounterVec
	NetworkDisconnects *prometheus.CounterVec

	// Packet metrics
	PacketsReceived *prometheus.CounterVec
	BytesWritten    *prometheus.CounterVec
	PacketErrors    *prometheus.CounterVec

	// Recording session metrics
	ActiveSessions  *prometheus.GaugeVec
	SessionsOpened  *prometheus.CounterVec
	SessionsClosed  *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	FinalizeErrors  *prometheus.CounterVec

	// Catalog metrics
	CatalogRefreshes  prometheus.Counter
	CatalogCacheHits  prometheus.Counter
	CatalogSkipped    prometheus.Counter
	CatalogRecordings prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg.
// Passing nil uses the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		NetworkUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "recorder_network_up",
			Help: "Whether the network session is currently established (1) or not (0)",
		}, []string{"network"}),
		NetworkConnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_network_connects_total",
			Help: "Total number of established network sessions",
		}, []string{"network"}),
		NetworkDisconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_network_disconnects_total",
			Help: "Total number of closed network sessions",
		}, []string{"network"}),

		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_audio_packets_total",
			Help: "Total number of audio packets received",
		}, []string{"network"}),
		BytesWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_audio_bytes_written_total",
			Help: "Total number of PCM bytes written to recordings",
		}, []string{"network"}),
		PacketErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_audio_packet_errors_total",
			Help: "Total number of audio packets that could not be recorded",
		}, []string{"network"}),

		ActiveSessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "recorder_active_sessions",
			Help: "Current number of open recording sessions",
		}, []string{"network"}),
		SessionsOpened: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_sessions_opened_total",
			Help: "Total number of recording sessions opened",
		}, []string{"network"}),
		SessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_sessions_closed_total",
			Help: "Total number of recording sessions finalized",
		}, []string{"network", "reason"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "recorder_session_duration_seconds",
			Help:    "Wall-clock length of recorded transmissions",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2 minutes
		}),
		FinalizeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_finalize_errors_total",
			Help: "Total number of recordings that failed to finalize cleanly",
		}, []string{"network"}),

		CatalogRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Name: "recorder_catalog_refreshes_total",
			Help: "Total number of recordings directory scans",
		}),
		CatalogCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "recorder_catalog_cache_hits_total",
			Help: "Total number of listings served from cache",
		}),
		CatalogSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "recorder_catalog_skipped_entries_total",
			Help: "Total number of unreadable entries skipped while listing",
		}),
		CatalogRecordings: factory.NewGauge(prometheus.GaugeOpts{
			Name: "recorder_catalog_recordings",
			Help: "Number of recordings found by the last scan",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "recorder_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// SetNetworkUp records whether a network session is established
func (m *Metrics) SetNetworkUp(network string, up bool) {
	if up {
		m.NetworkUp.WithLabelValues(network).Set(1)
		m.NetworkConnects.WithLabelValues(network).Inc()
		return
	}
	m.NetworkUp.WithLabelValues(network).Set(0)
	m.NetworkDisconnects.WithLabelValues(network).Inc()
}

// RecordPacket counts one audio packet and the bytes written for it
func (m *Metrics) RecordPacket(network string, bytes int) {
	m.PacketsReceived.WithLabelValues(network).Inc()
	m.BytesWritten.WithLabelValues(network).Add(float64(bytes))
}

// RecordPacketError counts a packet that could not be recorded
func (m *Metrics) RecordPacketError(network string) {
	m.PacketErrors.WithLabelValues(network).Inc()
}

// RecordSessionOpened increments opened sessions and the active gauge
func (m *Metrics) RecordSessionOpened(network string) {
	m.SessionsOpened.WithLabelValues(network).Inc()
	m.ActiveSessions.WithLabelValues(network).Inc()
}

// RecordSessionClosed records a finalized session and its duration
func (m *Metrics) RecordSessionClosed(network, reason string, durationSeconds float64) {
	m.SessionsClosed.WithLabelValues(network, reason).Inc()
	m.ActiveSessions.WithLabelValues(network).Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordFinalizeError counts a recording whose container could not be finalized
func (m *Metrics) RecordFinalizeError(network string) {
	m.FinalizeErrors.WithLabelValues(network).Inc()
}

// RecordCatalogRefresh records a directory scan result
func (m *Metrics) RecordCatalogRefresh(recordings, skipped int) {
	m.CatalogRefreshes.Inc()
	m.CatalogRecordings.Set(float64(recordings))
	m.CatalogSkipped.Add(float64(skipped))
}

// RecordCatalogCacheHit counts a listing served from cache
func (m *Metrics) RecordCatalogCacheHit() {
	m.CatalogCacheHits.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
