package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once

	metricsEnabled     = true
	defaultMetricsPath = "/metrics"

	// Capture metrics
	CaptureBuffersProcessed prometheus.Counter
	CaptureBuffersDropped   prometheus.Counter
	CaptureSessionsStarted  prometheus.Counter

	// Scoring metrics
	ScoresComputed      *prometheus.CounterVec
	FinalScoreValue     prometheus.Histogram
	InsufficientSamples prometheus.Counter

	// Calibration metrics
	CalibrationRuns *prometheus.CounterVec

	// Analysis session metrics
	AnalysisSessionsActive  prometheus.Gauge
	AnalysisSessionDuration prometheus.Histogram
	SilenceEvents           *prometheus.CounterVec

	// STT metrics
	STTRequestsTotal *prometheus.CounterVec
	STTLatency       *prometheus.HistogramVec
	STTErrors        *prometheus.CounterVec

	// Cache metrics
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions *prometheus.CounterVec
	CacheSizeBytes prometheus.Gauge
	CacheEntries   prometheus.Gauge

	// Event hub metrics
	WSClientsConnected prometheus.Gauge
	EventsBroadcast    *prometheus.CounterVec

	// AMQP metrics
	AMQPPublishedMessages *prometheus.CounterVec
	AMQPConnectionErrors  *prometheus.CounterVec
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		CaptureBuffersProcessed = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "resonance_capture_buffers_processed_total",
				Help: "Total number of analyzed audio buffers produced by the capture manager",
			},
		)

		CaptureBuffersDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "resonance_capture_buffers_dropped_total",
				Help: "Total number of audio buffers dropped because consumers were too slow",
			},
		)

		CaptureSessionsStarted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "resonance_capture_sessions_started_total",
				Help: "Total number of capture sessions started",
			},
		)

		ScoresComputed = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resonance_scores_computed_total",
				Help: "Total number of resonance scores computed",
			},
			[]string{"kind", "mode"},
		)

		FinalScoreValue = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "resonance_final_score",
				Help:    "Distribution of final composite resonance scores",
				Buckets: prometheus.LinearBuckets(0, 0.1, 11),
			},
		)

		InsufficientSamples = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "resonance_insufficient_samples_total",
				Help: "Total number of sessions ending without enough samples to score",
			},
		)

		CalibrationRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resonance_calibration_runs_total",
				Help: "Total number of calibration runs by outcome",
			},
			[]string{"outcome"},
		)

		AnalysisSessionsActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "resonance_analysis_sessions_active",
				Help: "Number of currently active analysis sessions",
			},
		)

		AnalysisSessionDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "resonance_analysis_session_duration_seconds",
				Help:    "Duration of completed analysis sessions",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
		)

		SilenceEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resonance_silence_events_total",
				Help: "Total number of silence transition events emitted",
			},
			[]string{"transition"},
		)

		STTRequestsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resonance_stt_requests_total",
				Help: "Total number of STT streaming requests",
			},
			[]string{"vendor", "status"},
		)

		STTLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "resonance_stt_latency_seconds",
				Help:    "Latency of STT streaming sessions",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"vendor"},
		)

		STTErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resonance_stt_errors_total",
				Help: "Total number of STT errors",
			},
			[]string{"vendor", "error_type"},
		)

		CacheHits = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "resonance_audio_cache_hits_total",
				Help: "Total number of audio cache hits",
			},
		)

		CacheMisses = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "resonance_audio_cache_misses_total",
				Help: "Total number of audio cache misses",
			},
		)

		CacheEvictions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resonance_audio_cache_evictions_total",
				Help: "Total number of audio cache entries removed",
			},
			[]string{"reason"},
		)

		CacheSizeBytes = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "resonance_audio_cache_size_bytes",
				Help: "Current total size of the audio cache in bytes",
			},
		)

		CacheEntries = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "resonance_audio_cache_entries",
				Help: "Current number of entries in the audio cache",
			},
		)

		WSClientsConnected = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "resonance_ws_clients_connected",
				Help: "Number of WebSocket clients connected to the event hub",
			},
		)

		EventsBroadcast = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resonance_events_broadcast_total",
				Help: "Total number of events broadcast to WebSocket clients",
			},
			[]string{"type"},
		)

		AMQPPublishedMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resonance_amqp_published_messages_total",
				Help: "Total number of messages published to AMQP",
			},
			[]string{"queue", "status"},
		)

		AMQPConnectionErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resonance_amqp_connection_errors_total",
				Help: "Total number of AMQP connection errors",
			},
			[]string{"error_type"},
		)

		registry.MustRegister(
			CaptureBuffersProcessed,
			CaptureBuffersDropped,
			CaptureSessionsStarted,

			ScoresComputed,
			FinalScoreValue,
			InsufficientSamples,

			CalibrationRuns,

			AnalysisSessionsActive,
			AnalysisSessionDuration,
			SilenceEvents,

			STTRequestsTotal,
			STTLatency,
			STTErrors,

			CacheHits,
			CacheMisses,
			CacheEvictions,
			CacheSizeBytes,
			CacheEntries,

			WSClientsConnected,
			EventsBroadcast,

			AMQPPublishedMessages,
			AMQPConnectionErrors,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// EnableMetrics enables or disables metrics collection
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IsMetricsEnabled returns whether metrics are enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// RegisterHandler registers the metrics HTTP handler
func RegisterHandler(mux *http.ServeMux) {
	if metricsEnabled && registry != nil {
		handler := promhttp.HandlerFor(
			registry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          registry,
			},
		)
		mux.Handle(defaultMetricsPath, handler)
	}
}

// StartMetrics initializes the metrics service
func StartMetrics(logger *logrus.Logger, enabled bool) {
	if !enabled {
		EnableMetrics(false)
		logger.Info("Metrics collection is disabled")
		return
	}

	Init(logger)
	EnableMetrics(true)
	logger.WithField("metrics_path", defaultMetricsPath).Info("Metrics endpoint initialized")
}
