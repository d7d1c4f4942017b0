package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexiqai/voxrecorder/internal/capture"
	"github.com/lexiqai/voxrecorder/internal/config"
	"github.com/lexiqai/voxrecorder/internal/device"
	"github.com/lexiqai/voxrecorder/internal/observability"
	"github.com/lexiqai/voxrecorder/internal/persist"
	"github.com/lexiqai/voxrecorder/internal/resilience"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("output_dir", cfg.AbsOutputDir()).
		Str("input", inputName(cfg)).
		Int("sample_rate", cfg.SampleRate).
		Int("block_size", cfg.BlockSize).
		Int("threshold", cfg.Threshold).
		Dur("silence_timeout", cfg.SilenceTimeout).
		Int("max_segment_samples", cfg.MaxSegmentSamples).
		Str("version_tag", cfg.VersionTag).
		Str("log_level", cfg.LogLevel).
		Msg("Voice recorder starting")

	// Refuse to run without somewhere to put recordings
	if err := cfg.CheckOutputDir(); err != nil {
		logger.Fatal().Err(err).Msg("Output directory is not usable")
	}

	src, err := device.Open(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open audio input")
	}

	// Persistence runs beside capture and never feeds back into it
	writer := persist.NewWriter(persist.WriterConfig{
		Threshold:   cfg.Threshold,
		PadSamples:  cfg.PadSamples(),
		SampleRate:  cfg.SampleRate,
		SampleWidth: cfg.SampleWidth(),
		Namer: persist.Namer{
			Dir:     cfg.OutputDir,
			Prefix:  cfg.FilePrefix,
			Version: cfg.VersionTag,
		},
	})
	pool := persist.NewPool(writer, persist.PoolConfig{
		Workers:        cfg.WriterWorkers,
		QueueSize:      cfg.WriterQueueSize,
		Backpressure:   cfg.WriterBackpressure,
		EnqueueTimeout: cfg.WriterEnqueueTimeout,
		Retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    cfg.RetryBackoff(),
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
	})

	breaker := resilience.NewCircuitBreaker(persist.StorageService, cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerReset())
	supervisor := persist.NewSupervisor(breaker, cfg.SampleRate)
	supervisorDone := make(chan struct{})
	go func() {
		supervisor.Run(pool.Results())
		close(supervisorDone)
	}()

	loop := capture.NewLoop(src, pool, capture.LoopConfig{
		Segmenter: capture.SegmenterConfig{
			Threshold:      cfg.Threshold,
			SilenceTimeout: cfg.SilenceTimeout,
			MaxSamples:     cfg.MaxSegmentSamples,
		},
		ReadMaxFailures: cfg.ReadMaxFailures,
		ReadBackoff: &resilience.RetryConfig{
			InitialBackoff:    cfg.BlockDuration(),
			MaxBackoff:        time.Second,
			BackoffMultiplier: 2.0,
		},
		Reconnect: &resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     cfg.ReconnectDelay(),
			Multiplier:  2.0,
			MaxBackoff:  30 * time.Second,
		},
	})

	// Create HTTP server
	server := newServer(cfg, loop, supervisor)
	if server != nil {
		go func() {
			logger.Info().Str("port", cfg.Port).Msg("Server listening")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal().Err(err).Msg("Server failed to start")
			}
		}()
	}

	// Capture runs until a signal arrives, the input ends or the device is lost
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := loop.Run(ctx)
	stop()

	logger.Info().Int("queued", pool.QueueDepth()).Msg("Capture stopped, draining persistence queue")

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.WriterDrainTimeout)
	defer cancel()

	if err := pool.Close(drainCtx); err != nil {
		logger.Error().Err(err).Msg("Persistence queue not fully drained")
	}
	<-supervisorDone

	if err := src.Close(); err != nil {
		logger.Warn().Err(err).Msg("Closing audio input failed")
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Server forced to shutdown")
		}
	}

	logger.Info().
		Int64("written", supervisor.Count(persist.StatusWritten)).
		Int64("failed", supervisor.Count(persist.StatusFailed)).
		Int64("skipped", supervisor.Count(persist.StatusSkipped)).
		Msg("Voice recorder exited")

	if runErr != nil {
		logger.Error().Err(runErr).Msg("Capture failed")
		os.Exit(1)
	}
}

// newServer builds the health and metrics server, or returns nil when
// metrics are disabled.
func newServer(cfg *config.Config, loop *capture.Loop, supervisor *persist.Supervisor) *http.Server {
	if !cfg.MetricsEnabled {
		return nil
	}

	logger := observability.GetLogger()
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint: output dir writable, blocks arriving, storage healthy
	staleAfter := 10*cfg.BlockDuration() + 5*time.Second
	mux.HandleFunc("/ready", observability.ReadinessHandler(
		observability.Check{Name: "output_dir", Check: func(ctx context.Context) (bool, error) {
			if err := cfg.CheckOutputDir(); err != nil {
				return false, err
			}
			return true, nil
		}},
		observability.Check{Name: "capture", Check: func(ctx context.Context) (bool, error) {
			last := loop.LastReadAt()
			if last.IsZero() {
				return false, errors.New("no blocks read yet")
			}
			if age := time.Since(last); age > staleAfter {
				return false, fmt.Errorf("last block read %s ago", age.Round(time.Millisecond))
			}
			return true, nil
		}},
		observability.Check{Name: persist.StorageService, Check: func(ctx context.Context) (bool, error) {
			if err := supervisor.StorageError(); err != nil {
				return false, err
			}
			return true, nil
		}},
	))

	// Metrics endpoint (Prometheus)
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info().Msg("Prometheus metrics enabled at /metrics")

	// Create HTTP server with timeouts
	return &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func inputName(cfg *config.Config) string {
	switch cfg.InputFile {
	case "":
		if cfg.Device == "" {
			return "default input device"
		}
		return cfg.Device
	case device.StdinInput:
		return "stdin"
	default:
		return cfg.InputFile
	}
}
