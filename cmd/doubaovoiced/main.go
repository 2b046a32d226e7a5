package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wbopan/DoubaoVoice/internal/audio"
	"github.com/wbopan/DoubaoVoice/internal/config"
	"github.com/wbopan/DoubaoVoice/internal/metrics"
	"github.com/wbopan/DoubaoVoice/internal/protocol"
	"github.com/wbopan/DoubaoVoice/internal/recorder"
	"github.com/wbopan/DoubaoVoice/internal/server"
	"github.com/wbopan/DoubaoVoice/internal/stream"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "doubaovoiced"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envPath := flag.String("env", ".env", "Path to .env file with credentials")
	flag.Parse()

	// Credentials usually live in a .env next to the binary; a missing
	// file is fine.
	if err := godotenv.Load(*envPath); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envPath, err)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Daemon starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("port", cfg.Daemon.Port),
		slog.String("address", cfg.Daemon.Address),
		slog.String("asr_url", cfg.ASR.URL),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("segment_bytes", cfg.Audio.SegmentSizeBytes()),
		slog.String("log_level", cfg.Logging.Level),
	)
	if cfg.ASR.AppKey == "" || cfg.ASR.AccessKey == "" {
		logger.Warn("Recognition credentials not configured, recordings will fail to start",
			slog.String("app_key_env", config.EnvAppKey),
			slog.String("access_key_env", config.EnvAccessKey),
		)
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Each recording opens a fresh session against the endpoint.
	sessionConfig := stream.Config{
		URL:              cfg.ASR.URL,
		AppKey:           cfg.ASR.AppKey,
		AccessKey:        cfg.ASR.AccessKey,
		ResourceID:       cfg.ASR.ResourceID,
		RequestOptions:   protocol.DefaultRequestOptions(),
		SegmentSize:      cfg.Audio.SegmentSizeBytes(),
		HandshakeTimeout: cfg.Stream.GetHandshakeTimeout(),
		SendTimeout:      cfg.Stream.GetSendTimeout(),
		FinishTimeout:    cfg.Stream.GetFinishTimeout(),
		CleanupGrace:     cfg.Stream.GetCleanupGrace(),
		StopTimeout:      cfg.Stream.GetStopTimeout(),
	}
	sessionFactory := func(onText func(string)) (recorder.SessionHandle, error) {
		return stream.NewSession(sessionConfig, onText, logger, appMetrics)
	}

	micSource := audio.NewMicSource(cfg.Audio.FramesPerBuffer, logger)
	rec := recorder.New(sessionFactory, micSource, logger, appMetrics)

	recorderDone := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(recorderDone)
	}()
	logger.Info("Recorder initialized")

	// Initialize HTTP control server
	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Port:    cfg.Daemon.Port,
		Address: cfg.Daemon.Address,
	}, rec, logger, appMetrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start control server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Daemon started successfully, waiting for signals...",
		slog.String("control_address", fmt.Sprintf("%s:%d", cfg.Daemon.Address, cfg.Daemon.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping control server", slog.String("error", err.Error()))
	}

	// Stop the recorder actor; an active recording is cancelled.
	cancel()
	select {
	case <-recorderDone:
	case <-time.After(5 * time.Second):
		logger.Warn("Recorder did not shut down in time")
	}

	logger.Info("Daemon stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stdout":
		output = os.Stdout
	case "stderr", "":
		output = os.Stderr
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
