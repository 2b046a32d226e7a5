// Package metrics defines the Prometheus metrics exported by the daemon.
// A nil *Metrics receiver is valid and records nothing, so components can
// run without a registry in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the dictation daemon
type Metrics struct {
	// Recording lifecycle metrics
	RecordingActive    prometheus.Gauge
	RecordingsStarted  prometheus.Counter
	RecordingsStopped  prometheus.Counter
	RecordingsCanceled prometheus.Counter
	RecordingDuration  prometheus.Histogram

	// Streaming session metrics
	SessionsOpened     prometheus.Counter
	SessionFailures    prometheus.Counter
	FramesSent         prometheus.Counter
	FramesReceived     prometheus.Counter
	FrameParseErrors   prometheus.Counter
	AudioBytesCaptured prometheus.Counter

	// Transcript metrics
	TranscriptUpdates prometheus.Counter
	TranscriptLength  prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// Recording lifecycle metrics
		RecordingActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "doubaovoice_recording_active",
			Help: "Whether a recording is currently active (0 or 1)",
		}),
		RecordingsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "doubaovoice_recordings_started_total",
			Help: "Total number of recordings started",
		}),
		RecordingsStopped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "doubaovoice_recordings_stopped_total",
			Help: "Total number of recordings stopped normally",
		}),
		RecordingsCanceled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "doubaovoice_recordings_canceled_total",
			Help: "Total number of recordings canceled",
		}),
		RecordingDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "doubaovoice_recording_duration_seconds",
			Help:    "Duration of completed recordings in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~8.5 minutes
		}),

		// Streaming session metrics
		SessionsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "doubaovoice_sessions_opened_total",
			Help: "Total number of recognition sessions opened",
		}),
		SessionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "doubaovoice_session_failures_total",
			Help: "Total number of sessions that failed to open or errored mid-stream",
		}),
		FramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "doubaovoice_frames_sent_total",
			Help: "Total number of audio frames sent to the recognition endpoint",
		}),
		FramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "doubaovoice_frames_received_total",
			Help: "Total number of response frames received",
		}),
		FrameParseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "doubaovoice_frame_parse_errors_total",
			Help: "Total number of response frames that failed to parse",
		}),
		AudioBytesCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Name: "doubaovoice_audio_bytes_captured_total",
			Help: "Total number of raw PCM bytes captured from the microphone",
		}),

		// Transcript metrics
		TranscriptUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Name: "doubaovoice_transcript_updates_total",
			Help: "Total number of incremental transcript updates received",
		}),
		TranscriptLength: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "doubaovoice_transcript_length_chars",
			Help:    "Character count of final transcripts",
			Buckets: prometheus.ExponentialBuckets(4, 2, 10), // 4 to ~2000 chars
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "doubaovoice_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "doubaovoice_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "doubaovoice_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// SetRecordingActive sets the recording-active gauge
func (m *Metrics) SetRecordingActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.RecordingActive.Set(1)
	} else {
		m.RecordingActive.Set(0)
	}
}

// RecordRecordingStarted increments the recordings started counter
func (m *Metrics) RecordRecordingStarted() {
	if m == nil {
		return
	}
	m.RecordingsStarted.Inc()
}

// RecordRecordingStopped records a normally completed recording
func (m *Metrics) RecordRecordingStopped(durationSeconds float64, transcriptChars int) {
	if m == nil {
		return
	}
	m.RecordingsStopped.Inc()
	m.RecordingDuration.Observe(durationSeconds)
	m.TranscriptLength.Observe(float64(transcriptChars))
}

// RecordRecordingCanceled increments the recordings canceled counter
func (m *Metrics) RecordRecordingCanceled() {
	if m == nil {
		return
	}
	m.RecordingsCanceled.Inc()
}

// RecordSessionOpened increments the sessions opened counter
func (m *Metrics) RecordSessionOpened() {
	if m == nil {
		return
	}
	m.SessionsOpened.Inc()
}

// RecordSessionFailure increments the session failures counter
func (m *Metrics) RecordSessionFailure() {
	if m == nil {
		return
	}
	m.SessionFailures.Inc()
}

// RecordFrameSent increments the frames sent counter
func (m *Metrics) RecordFrameSent() {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
}

// RecordFrameReceived increments the frames received counter
func (m *Metrics) RecordFrameReceived() {
	if m == nil {
		return
	}
	m.FramesReceived.Inc()
}

// RecordFrameParseError increments the frame parse errors counter
func (m *Metrics) RecordFrameParseError() {
	if m == nil {
		return
	}
	m.FrameParseErrors.Inc()
}

// RecordAudioCaptured adds to the captured audio byte counter
func (m *Metrics) RecordAudioCaptured(bytes int) {
	if m == nil {
		return
	}
	m.AudioBytesCaptured.Add(float64(bytes))
}

// RecordTranscriptUpdate increments the transcript updates counter
func (m *Metrics) RecordTranscriptUpdate() {
	if m == nil {
		return
	}
	m.TranscriptUpdates.Inc()
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
