package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wbopan/DoubaoVoice/internal/metrics"
	"github.com/wbopan/DoubaoVoice/internal/recorder"
)

// Bounded waits for actor commands. A stop waits through the graceful
// finish ladder; a cancel only through forced teardown.
const (
	startWait  = 10 * time.Second
	stopWait   = 5 * time.Second
	cancelWait = 2 * time.Second
	statusWait = 2 * time.Second
)

// HTTPServer provides the HTTP control plane for the recorder
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	recorder *recorder.Recorder
	metrics  *metrics.Metrics
	port     int
}

// HTTPServerConfig contains HTTP server configuration
type HTTPServerConfig struct {
	Port    int
	Address string
}

// NewHTTPServer creates the control-plane server
func NewHTTPServer(cfg HTTPServerConfig, rec *recorder.Recorder, logger *slog.Logger, m *metrics.Metrics) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}

	h := &HTTPServer{
		logger:   logger,
		recorder: rec,
		metrics:  m,
		port:     cfg.Port,
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the route handler, for tests.
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures the control-plane routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Recording actions, GET or POST so hotkey tools can use either.
	mux.HandleFunc("/start", h.withMetrics("/start", h.handleStart))
	mux.HandleFunc("/stop", h.withMetrics("/stop", h.handleStop))
	mux.HandleFunc("/cancel", h.withMetrics("/cancel", h.handleCancel))
	mux.HandleFunc("/toggle", h.withMetrics("/toggle", h.handleToggle))

	// Queries.
	mux.HandleFunc("/status", h.withMetrics("/status", h.handleStatus))
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting control server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping control server...")

	return h.server.Shutdown(ctx)
}

// requireAction rejects methods other than GET and POST on action routes.
func requireAction(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, statusCode int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// handleStart implements the /start endpoint
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if !requireAction(w, r) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), startWait)
	defer cancel()

	outcome, err := h.recorder.Do(ctx, recorder.ActionStart)
	if err != nil {
		writeJSON(w, http.StatusGatewayTimeout, map[string]interface{}{
			"status": "error", "message": err.Error(),
		})
		return
	}
	h.writeStartOutcome(w, outcome)
}

func (h *HTTPServer) writeStartOutcome(w http.ResponseWriter, outcome recorder.Outcome) {
	switch {
	case outcome.Conflict:
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"status": "error", "message": "Already recording",
		})
	case outcome.Err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status": "error", "message": outcome.Err.Error(),
		})
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "started",
		})
	}
}

// handleStop implements the /stop endpoint
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if !requireAction(w, r) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), stopWait)
	defer cancel()

	outcome, err := h.recorder.Do(ctx, recorder.ActionStop)
	if err != nil {
		writeJSON(w, http.StatusGatewayTimeout, map[string]interface{}{
			"status": "error", "message": err.Error(),
		})
		return
	}
	h.writeStopOutcome(w, outcome)
}

func (h *HTTPServer) writeStopOutcome(w http.ResponseWriter, outcome recorder.Outcome) {
	if outcome.NoOp {
		// Idle stop still reports the retained last result, so a client
		// that missed the stopping response can fetch the transcript.
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":   "not_recording",
			"message":  "Not recording",
			"text":     outcome.Text,
			"duration": outcome.Duration,
		})
		return
	}

	body := map[string]interface{}{
		"status":   "stopped",
		"text":     outcome.Text,
		"duration": outcome.Duration,
		"chars":    len([]rune(outcome.Text)),
	}
	// A session error still returns the transcript collected so far.
	if outcome.Err != nil {
		body["message"] = outcome.Err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

// handleCancel implements the /cancel endpoint
func (h *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	if !requireAction(w, r) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), cancelWait)
	defer cancel()

	outcome, err := h.recorder.Do(ctx, recorder.ActionCancel)
	if err != nil {
		writeJSON(w, http.StatusGatewayTimeout, map[string]interface{}{
			"status": "error", "message": err.Error(),
		})
		return
	}

	if outcome.NoOp {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  "not_recording",
			"message": "Not recording",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "canceled",
		"duration": outcome.Duration,
	})
}

// handleToggle implements the /toggle endpoint
func (h *HTTPServer) handleToggle(w http.ResponseWriter, r *http.Request) {
	if !requireAction(w, r) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), stopWait)
	defer cancel()

	outcome, err := h.recorder.Do(ctx, recorder.ActionToggle)
	if err != nil {
		writeJSON(w, http.StatusGatewayTimeout, map[string]interface{}{
			"status": "error", "message": err.Error(),
		})
		return
	}

	if outcome.Performed == "stop" {
		if outcome.NoOp {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"status":   "not_recording",
				"action":   "stop",
				"message":  "Not recording",
				"text":     outcome.Text,
				"duration": outcome.Duration,
			})
			return
		}
		body := map[string]interface{}{
			"status":   "stopped",
			"action":   "stop",
			"text":     outcome.Text,
			"duration": outcome.Duration,
			"chars":    len([]rune(outcome.Text)),
		}
		if outcome.Err != nil {
			body["message"] = outcome.Err.Error()
		}
		writeJSON(w, http.StatusOK, body)
		return
	}

	if outcome.Err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status": "error", "action": "start", "message": outcome.Err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "started",
		"action": "start",
	})
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), statusWait)
	defer cancel()

	status, err := h.recorder.Status(ctx)
	if err != nil {
		writeJSON(w, http.StatusGatewayTimeout, map[string]interface{}{
			"status": "error", "message": err.Error(),
		})
		return
	}

	if status.Recording {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"recording": true,
			"text":      status.Text,
			"duration":  status.Duration,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recording":     false,
		"last_text":     status.LastText,
		"last_duration": status.LastDuration,
	})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), statusWait)
	defer cancel()

	recording := false
	if status, err := h.recorder.Status(ctx); err == nil {
		recording = status.Recording
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"port":      h.port,
		"recording": recording,
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "DoubaoVoice daemon",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET|POST /start":  "Start a recording",
			"GET|POST /stop":   "Stop the recording and return the transcript",
			"GET|POST /cancel": "Cancel the recording, discarding the transcript",
			"GET|POST /toggle": "Start or stop depending on current state",
			"GET /status":      "Recording state and transcript",
			"GET /health":      "Daemon health check",
			"GET /metrics":     "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
