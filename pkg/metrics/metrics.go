package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics are constructed eagerly so instrumented packages can record
// before Init registers them; unregistered metrics simply never export.
var (
	registry     = prometheus.NewRegistry()
	registryOnce sync.Once

	// Audio / STT metrics
	AudioFramesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livecoach_audio_frames_received_total",
			Help: "Total number of audio frames received from the media stream",
		},
		[]string{"track"},
	)
	AudioBytesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livecoach_audio_bytes_received_total",
			Help: "Total number of audio bytes received from the media stream",
		},
		[]string{"track"},
	)
	AudioFramesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livecoach_audio_frames_dropped_total",
			Help: "Audio frames dropped because no open transcription stream existed",
		},
		[]string{"reason"},
	)
	TranscriptFragments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livecoach_transcript_fragments_total",
			Help: "Transcript fragments received from the speech provider",
		},
		[]string{"provider", "kind"},
	)
	UtteranceBoundaries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livecoach_utterance_boundaries_total",
			Help: "Utterance boundary events received from the speech provider",
		},
		[]string{"provider"},
	)
	STTStreamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livecoach_stt_stream_errors_total",
			Help: "Errors surfaced by speech provider streams",
		},
		[]string{"provider"},
	)
	STTStreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "livecoach_stt_streams_active",
			Help: "Currently open speech provider streams",
		},
	)

	// Coaching metrics
	TurnsAccumulated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livecoach_turns_total",
			Help: "Completed speaker turns accumulated",
		},
		[]string{"speaker"},
	)
	TipsGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "livecoach_tips_generated_total",
			Help: "Coaching tips accepted into tip history",
		},
	)
	TipsSkippedRateLimit = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "livecoach_tips_skipped_rate_limit_total",
			Help: "Tip generation requests skipped by the minimum interval",
		},
	)
	TipsDeduplicated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "livecoach_tips_deduplicated_total",
			Help: "Generated tips discarded as duplicates or sentinel results",
		},
	)
	RequirementsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "livecoach_requirements_accepted_total",
			Help: "Client requirements accepted above the confidence threshold",
		},
	)
	StrategyVersions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "livecoach_strategy_versions_total",
			Help: "Call strategy regenerations",
		},
	)
	LLMRequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "livecoach_llm_request_duration_seconds",
			Help:    "Latency of language model requests",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"kind"},
	)
	LLMRequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livecoach_llm_request_errors_total",
			Help: "Language model request failures by kind",
		},
		[]string{"kind"},
	)

	// Session metrics
	ActiveCalls = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "livecoach_active_calls",
			Help: "Number of active call sessions",
		},
	)
	CallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "livecoach_call_duration_seconds",
			Help:    "Duration of completed calls",
			Buckets: prometheus.ExponentialBuckets(30, 2, 8),
		},
	)
	ReportsCompiled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "livecoach_reports_compiled_total",
			Help: "Post-call feedback reports compiled",
		},
	)

	// Fan-out metrics
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "livecoach_events_published_total",
			Help: "Events published to call-scoped topics",
		},
		[]string{"event_type"},
	)
	PublishErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "livecoach_publish_errors_total",
			Help: "Failed event publishes",
		},
	)
	SubscribersConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "livecoach_subscribers_connected",
			Help: "Connected live-view websocket subscribers",
		},
	)
)

// Init registers all metrics with the server registry. Safe to call more
// than once.
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry.MustRegister(
			AudioFramesReceived, AudioBytesReceived, AudioFramesDropped,
			TranscriptFragments, UtteranceBoundaries, STTStreamErrors, STTStreamsActive,
			TurnsAccumulated, TipsGenerated, TipsSkippedRateLimit, TipsDeduplicated,
			RequirementsAccepted, StrategyVersions, LLMRequestLatency, LLMRequestErrors,
			ActiveCalls, CallDuration, ReportsCompiled,
			EventsPublished, PublishErrors, SubscribersConnected,
		)
		logger.Info("Prometheus metrics initialized")
	})
}

// Handler returns the HTTP handler serving the metrics registry
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveLLMRequest records latency and outcome for a language model request
func ObserveLLMRequest(kind string, start time.Time, err error) {
	LLMRequestLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		LLMRequestErrors.WithLabelValues(kind).Inc()
	}
}
