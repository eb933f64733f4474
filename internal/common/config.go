package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Queue       QueueConfig     `toml:"queue"`
	Storage     StorageConfig   `toml:"storage"`
	Ingest      IngestConfig    `toml:"ingest"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Metadata    MetadataConfig  `toml:"metadata"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Logging     LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"required,min=1,max=65535"`
	Host string `toml:"host" validate:"required"`
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`                    // e.g., "1s" - how often the consumer polls for messages
	VisibilityTimeout string `toml:"visibility_timeout"`               // e.g., "5m" - message visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive" validate:"min=1"`     // Max deliveries before a message is dropped
	StatusQueue       string `toml:"status_queue" validate:"required"` // Inbound progress report queue name
	SubmitQueue       string `toml:"submit_queue" validate:"required"` // Outbound submission batch queue name
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path" validate:"required"` // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"`         // Delete database on startup for clean test runs
}

// IngestConfig controls the status ingestion adapter
type IngestConfig struct {
	StoreRetries   int    `toml:"store_retries" validate:"min=0"` // Bounded retries on store write failure before dropping
	RetryBackoff   string `toml:"retry_backoff"`                  // e.g., "250ms" - delay between store retries
	StaleThreshold string `toml:"stale_threshold"`                // e.g., "3h" - processing age beyond which reset is permitted
}

// WebSocketConfig contains configuration for the viewer push surface
type WebSocketConfig struct {
	MinLevel        string   `toml:"min_level"`        // Minimum log level to broadcast ("debug", "info", "warn", "error")
	ExcludePatterns []string `toml:"exclude_patterns"` // Log message patterns to exclude from broadcasting
	LogThrottle     string   `toml:"log_throttle"`     // Min interval between broadcast log frames (e.g., "100ms")
}

// MetadataConfig controls the best-effort title enricher
type MetadataConfig struct {
	Enabled        bool          `toml:"enabled"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	BaseURL        string        `toml:"base_url"` // Override for tests; empty means youtube.com
}

// SchedulerConfig contains cron schedules for background audits
type SchedulerConfig struct {
	StaleAuditSchedule string `toml:"stale_audit_schedule"` // Cron expression for the stale-processing audit
	StatsSchedule      string `toml:"stats_schedule"`       // Cron expression for queue depth reporting
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// NewDefaultConfig creates a configuration with default values
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in specto.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			VisibilityTimeout: "5m",
			MaxReceive:        5,
			StatusQueue:       "video-status",
			SubmitQueue:       "video-submit",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Ingest: IngestConfig{
			StoreRetries:   3,
			RetryBackoff:   "250ms",
			StaleThreshold: "3h", // Processing records older than this may be reset
		},
		WebSocket: WebSocketConfig{
			MinLevel: "info",
			ExcludePatterns: []string{
				"WebSocket client connected",
				"WebSocket client disconnected",
				"HTTP request",
				"HTTP response",
				"Publishing event",
			},
			LogThrottle: "100ms", // Log storms never starve status frames
		},
		Metadata: MetadataConfig{
			Enabled:        true,
			RequestTimeout: 10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			StaleAuditSchedule: "*/15 * * * *", // Every 15 minutes
			StatsSchedule:      "* * * * *",    // Every minute
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env -> CLI. Later files override
// earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	// Start with defaults
	config := NewDefaultConfig()

	// Load and merge each config file in order (later files override earlier files)
	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		err = toml.Unmarshal(data, config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	// Apply environment variables (overrides all file configs)
	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the merged configuration against struct tags and the
// duration fields that toml keeps as strings.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	durations := map[string]string{
		"queue.poll_interval":      c.Queue.PollInterval,
		"queue.visibility_timeout": c.Queue.VisibilityTimeout,
		"ingest.retry_backoff":     c.Ingest.RetryBackoff,
		"ingest.stale_threshold":   c.Ingest.StaleThreshold,
		"websocket.log_throttle":   c.WebSocket.LogThrottle,
	}
	for field, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid configuration: %s %q: %w", field, value, err)
		}
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Environment configuration (highest priority: SPECTO_ENV, fallback: GO_ENV)
	if env := os.Getenv("SPECTO_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("SPECTO_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("SPECTO_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Queue configuration
	if pollInterval := os.Getenv("SPECTO_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if visibilityTimeout := os.Getenv("SPECTO_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}
	if maxReceive := os.Getenv("SPECTO_QUEUE_MAX_RECEIVE"); maxReceive != "" {
		if mr, err := strconv.Atoi(maxReceive); err == nil {
			config.Queue.MaxReceive = mr
		}
	}
	if statusQueue := os.Getenv("SPECTO_QUEUE_STATUS_QUEUE"); statusQueue != "" {
		config.Queue.StatusQueue = statusQueue
	}
	if submitQueue := os.Getenv("SPECTO_QUEUE_SUBMIT_QUEUE"); submitQueue != "" {
		config.Queue.SubmitQueue = submitQueue
	}

	// Storage configuration
	if badgerPath := os.Getenv("SPECTO_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if reset := os.Getenv("SPECTO_BADGER_RESET_ON_STARTUP"); reset != "" {
		if r, err := strconv.ParseBool(reset); err == nil {
			config.Storage.Badger.ResetOnStartup = r
		}
	}

	// Ingest configuration
	if retries := os.Getenv("SPECTO_INGEST_STORE_RETRIES"); retries != "" {
		if r, err := strconv.Atoi(retries); err == nil {
			config.Ingest.StoreRetries = r
		}
	}
	if backoff := os.Getenv("SPECTO_INGEST_RETRY_BACKOFF"); backoff != "" {
		config.Ingest.RetryBackoff = backoff
	}
	if threshold := os.Getenv("SPECTO_INGEST_STALE_THRESHOLD"); threshold != "" {
		config.Ingest.StaleThreshold = threshold
	}

	// WebSocket configuration
	if minLevel := os.Getenv("SPECTO_WEBSOCKET_MIN_LEVEL"); minLevel != "" {
		config.WebSocket.MinLevel = minLevel
	}
	if excludePatterns := os.Getenv("SPECTO_WEBSOCKET_EXCLUDE_PATTERNS"); excludePatterns != "" {
		patterns := []string{}
		for _, p := range strings.Split(excludePatterns, ",") {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				patterns = append(patterns, trimmed)
			}
		}
		if len(patterns) > 0 {
			config.WebSocket.ExcludePatterns = patterns
		}
	}
	if logThrottle := os.Getenv("SPECTO_WEBSOCKET_LOG_THROTTLE"); logThrottle != "" {
		if _, err := time.ParseDuration(logThrottle); err == nil {
			config.WebSocket.LogThrottle = logThrottle
		}
	}
	// Metadata configuration
	if enabled := os.Getenv("SPECTO_METADATA_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Metadata.Enabled = e
		}
	}
	if timeout := os.Getenv("SPECTO_METADATA_REQUEST_TIMEOUT"); timeout != "" {
		if t, err := time.ParseDuration(timeout); err == nil {
			config.Metadata.RequestTimeout = t
		}
	}

	// Scheduler configuration
	if schedule := os.Getenv("SPECTO_SCHEDULER_STALE_AUDIT_SCHEDULE"); schedule != "" {
		config.Scheduler.StaleAuditSchedule = schedule
	}
	if schedule := os.Getenv("SPECTO_SCHEDULER_STATS_SCHEDULE"); schedule != "" {
		config.Scheduler.StatsSchedule = schedule
	}

	// Logging configuration
	if level := os.Getenv("SPECTO_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("SPECTO_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("SPECTO_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			trimmed := strings.TrimSpace(o)
			if trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	// Command-line flags have highest priority
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// PollIntervalDuration returns the parsed consumer poll interval.
func (c *QueueConfig) PollIntervalDuration() time.Duration {
	return parseDurationOr(c.PollInterval, time.Second)
}

// VisibilityTimeoutDuration returns the parsed message visibility timeout.
func (c *QueueConfig) VisibilityTimeoutDuration() time.Duration {
	return parseDurationOr(c.VisibilityTimeout, 5*time.Minute)
}

// RetryBackoffDuration returns the parsed store retry backoff.
func (c *IngestConfig) RetryBackoffDuration() time.Duration {
	return parseDurationOr(c.RetryBackoff, 250*time.Millisecond)
}

// StaleThresholdDuration returns the parsed processing stale threshold.
func (c *IngestConfig) StaleThresholdDuration() time.Duration {
	return parseDurationOr(c.StaleThreshold, 3*time.Hour)
}

// LogThrottleDuration returns the parsed log frame throttle interval.
func (c *WebSocketConfig) LogThrottleDuration() time.Duration {
	return parseDurationOr(c.LogThrottle, 100*time.Millisecond)
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
