package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/lexiqai/voxrecorder/internal/audio"
	"gopkg.in/yaml.v3"
)

// Backpressure policies for the persistence queue.
const (
	BackpressureBlock = "block"
	BackpressureDrop  = "drop"
)

// ConfigFileEnv names an optional YAML file of VARIABLE: value pairs.
const ConfigFileEnv = "VOX_CONFIG_FILE"

// Config holds all configuration for the recorder. It is read once at startup
// and never mutated afterwards.
type Config struct {
	// Voice activity detection
	Threshold         int           `envconfig:"VOX_THRESHOLD" default:"2000"`               // Absolute amplitude a sample must exceed
	SilenceTimeout    time.Duration `envconfig:"VOX_SILENCE_TIMEOUT" default:"5s"`           // Quiet time that ends an utterance
	MaxSegmentSamples int           `envconfig:"VOX_MAX_SEGMENT_SAMPLES" default:"10000000"` // Forced cutover size
	PadSeconds        float64       `envconfig:"VOX_PAD_SECONDS" default:"0.5"`              // Silence added to each end of a file

	// Output
	OutputDir  string `envconfig:"VOX_OUTPUT_DIR" default:"/mnt/ramdisk"`
	FilePrefix string `envconfig:"VOX_FILE_PREFIX" default:"voxrecord"`
	VersionTag string `envconfig:"VOX_VERSION_TAG" default:"v13.0"`

	// Capture format
	SampleRate int    `envconfig:"VOX_SAMPLE_RATE" default:"44100"`
	Channels   int    `envconfig:"VOX_CHANNELS" default:"1"`
	BitDepth   int    `envconfig:"VOX_BIT_DEPTH" default:"16"`
	BlockSize  int    `envconfig:"VOX_BLOCK_SIZE" default:"4096"` // Samples per device read
	Device     string `envconfig:"VOX_DEVICE" default:""`         // Device name substring; empty selects the default input
	InputFile  string `envconfig:"VOX_INPUT_FILE" default:""`     // Replay a WAV file instead of a live device

	// Persistence
	WriterWorkers        int           `envconfig:"WRITER_WORKERS" default:"2"`
	WriterQueueSize      int           `envconfig:"WRITER_QUEUE_SIZE" default:"8"`
	WriterBackpressure   string        `envconfig:"WRITER_BACKPRESSURE" default:"block"` // block or drop
	WriterEnqueueTimeout time.Duration `envconfig:"WRITER_ENQUEUE_TIMEOUT" default:"250ms"`
	WriterDrainTimeout   time.Duration `envconfig:"WRITER_DRAIN_TIMEOUT" default:"30s"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Consecutive write failures before storage is reported unhealthy
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before storage is probed again
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"2"`             // Persistence attempts per segment
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReadMaxFailures            int `envconfig:"READ_MAX_FAILURES" default:"10"`             // Consecutive read failures before reopening the device
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum device reopen attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reopen backoff in milliseconds

	// Observability configuration
	Port           string `envconfig:"PORT" default:"9090"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable /metrics, /health and /ready
}

// Load reads configuration from environment variables.
// It first loads .env and the optional YAML file named by VOX_CONFIG_FILE;
// neither overrides variables already present in the environment.
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	if path := GetEnv(ConfigFileEnv, ""); path != "" {
		if err := LoadFile(path); err != nil {
			return nil, err
		}
	}

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without consulting .env or a config file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFile applies a YAML mapping of variable names to values to the process
// environment. Keys that are already set keep their current value.
func LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %q: %w", path, err)
	}

	var vars map[string]string
	if err := yaml.Unmarshal(data, &vars); err != nil {
		return fmt.Errorf("config: decode yaml %q: %w", path, err)
	}

	for k, v := range vars {
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("config: set %s: %w", k, err)
		}
	}
	return nil
}

// Validate checks that the values form a usable configuration.
// It returns a joined error listing every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Threshold < 0 || c.Threshold > 32767 {
		errs = append(errs, fmt.Errorf("VOX_THRESHOLD must be within 0..32767, got %d", c.Threshold))
	}
	if c.SilenceTimeout <= 0 {
		errs = append(errs, fmt.Errorf("VOX_SILENCE_TIMEOUT must be positive, got %s", c.SilenceTimeout))
	}
	if c.MaxSegmentSamples <= 0 {
		errs = append(errs, fmt.Errorf("VOX_MAX_SEGMENT_SAMPLES must be positive, got %d", c.MaxSegmentSamples))
	}
	if c.PadSeconds < 0 {
		errs = append(errs, fmt.Errorf("VOX_PAD_SECONDS must not be negative, got %f", c.PadSeconds))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("VOX_OUTPUT_DIR is required"))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("VOX_SAMPLE_RATE must be positive, got %d", c.SampleRate))
	}
	if c.Channels != 1 {
		errs = append(errs, fmt.Errorf("VOX_CHANNELS must be 1 (mono), got %d", c.Channels))
	}
	if c.BitDepth != 16 {
		errs = append(errs, fmt.Errorf("VOX_BIT_DEPTH must be 16, got %d", c.BitDepth))
	}
	if c.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("VOX_BLOCK_SIZE must be positive, got %d", c.BlockSize))
	}
	if c.WriterWorkers <= 0 {
		errs = append(errs, fmt.Errorf("WRITER_WORKERS must be positive, got %d", c.WriterWorkers))
	}
	if c.WriterQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("WRITER_QUEUE_SIZE must be positive, got %d", c.WriterQueueSize))
	}
	if c.WriterBackpressure != BackpressureBlock && c.WriterBackpressure != BackpressureDrop {
		errs = append(errs, fmt.Errorf("WRITER_BACKPRESSURE must be %q or %q, got %q",
			BackpressureBlock, BackpressureDrop, c.WriterBackpressure))
	}
	if c.RetryMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive, got %d", c.RetryMaxAttempts))
	}
	if c.ReconnectMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be positive, got %d", c.ReconnectMaxAttempts))
	}
	if c.CircuitBreakerMaxFailures <= 0 {
		errs = append(errs, fmt.Errorf("CIRCUIT_BREAKER_MAX_FAILURES must be positive, got %d", c.CircuitBreakerMaxFailures))
	}
	if c.ReadMaxFailures <= 0 {
		errs = append(errs, fmt.Errorf("READ_MAX_FAILURES must be positive, got %d", c.ReadMaxFailures))
	}

	return errors.Join(errs...)
}

// CheckOutputDir verifies that OutputDir exists, is a directory and accepts new files.
func (c *Config) CheckOutputDir() error {
	info, err := os.Stat(c.OutputDir)
	if err != nil {
		return fmt.Errorf("output directory %s: %w", c.OutputDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output directory %s is not a directory", c.OutputDir)
	}

	probe, err := os.CreateTemp(c.OutputDir, ".voxprobe-*")
	if err != nil {
		return fmt.Errorf("output directory %s is not writable: %w", c.OutputDir, err)
	}
	name := probe.Name()
	probe.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("output directory %s: remove probe: %w", c.OutputDir, err)
	}
	return nil
}

// PadSamples returns the number of zero samples added to each end of a file.
func (c *Config) PadSamples() int {
	return audio.PadSampleCount(c.PadSeconds, c.SampleRate)
}

// SampleWidth returns the size of one sample in bytes.
func (c *Config) SampleWidth() int {
	return c.BitDepth / 8
}

// RetryBackoff returns the initial persistence retry backoff.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryInitialBackoff) * time.Millisecond
}

// CircuitBreakerReset returns how long an unhealthy storage breaker stays open.
func (c *Config) CircuitBreakerReset() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

// ReconnectDelay returns the initial device reopen backoff.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectBackoff) * time.Millisecond
}

// BlockDuration returns the wall-clock length of one device block.
func (c *Config) BlockDuration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.BlockSize) * time.Second / time.Duration(c.SampleRate)
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// AbsOutputDir returns OutputDir as an absolute path when it can be resolved.
func (c *Config) AbsOutputDir() string {
	if abs, err := filepath.Abs(c.OutputDir); err == nil {
		return abs
	}
	return c.OutputDir
}
