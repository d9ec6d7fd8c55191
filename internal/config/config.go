package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	// Watched files
	WatchFiles      []string // Paths tailed with default settings
	WatchConfigPath string   // YAML file with per-file settings
	Watches         []Watch  // Resolved watch definitions

	// Defaults applied to every watch
	DefaultDelay      time.Duration
	DefaultCharset    string
	DefaultFromStart  bool
	DefaultOnAbsence  string
	DefaultOnTruncate string

	// Worker pool
	PoolWorkers   int // 0 = one goroutine per tracker
	PoolQueueSize int

	// Observability
	LogLevel         string
	LogFile          string
	TracingEnabled   bool
	TracingEndpoint  string
	TracingProtocol  string
	ProgressInterval time.Duration // 0 disables progress reports
}

// Load loads configuration from environment variables and, when
// WATCH_CONFIG is set, from the referenced YAML file
func Load() (*Config, error) {
	cfg := &Config{
		WatchFiles:      parsePathList(getEnv("WATCH_FILES", "")),
		WatchConfigPath: getEnv("WATCH_CONFIG", ""),

		DefaultDelay:      getEnvDuration("DEFAULT_DELAY", time.Second),
		DefaultCharset:    getEnv("DEFAULT_CHARSET", "utf-8"),
		DefaultFromStart:  getEnvBool("DEFAULT_FROM_START", false),
		DefaultOnAbsence:  getEnv("DEFAULT_ON_ABSENCE", "wait_forever"),
		DefaultOnTruncate: getEnv("DEFAULT_ON_TRUNCATE", "rewind_to_head"),

		PoolWorkers:   getEnvInt("POOL_WORKERS", 0),
		PoolQueueSize: getEnvInt("POOL_QUEUE_SIZE", 100),

		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFile:          getEnv("LOG_FILE", ""),
		TracingEnabled:   getEnvBool("TRACING_ENABLED", false),
		TracingEndpoint:  getEnv("TRACING_ENDPOINT", ""),
		TracingProtocol:  getEnv("TRACING_PROTOCOL", "grpc"),
		ProgressInterval: getEnvDuration("PROGRESS_INTERVAL", 0),
	}

	defaults := cfg.DefaultWatch()
	for _, path := range cfg.WatchFiles {
		w := defaults
		w.Path = path
		cfg.Watches = append(cfg.Watches, w)
	}

	if cfg.WatchConfigPath != "" {
		watches, err := LoadWatches(cfg.WatchConfigPath, defaults)
		if err != nil {
			return nil, err
		}
		cfg.Watches = append(cfg.Watches, watches...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultWatch returns the watch settings used for fields a watch leaves empty
func (c *Config) DefaultWatch() Watch {
	return Watch{
		Charset:    c.DefaultCharset,
		Delay:      c.DefaultDelay,
		FromStart:  c.DefaultFromStart,
		OnAbsence:  c.DefaultOnAbsence,
		OnTruncate: c.DefaultOnTruncate,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Watches) == 0 {
		return fmt.Errorf("at least one of WATCH_FILES or WATCH_CONFIG must be specified")
	}
	if c.PoolWorkers < 0 {
		return fmt.Errorf("POOL_WORKERS must not be negative")
	}
	if c.PoolWorkers > 0 && c.PoolQueueSize < 1 {
		return fmt.Errorf("POOL_QUEUE_SIZE must be at least 1 for a bounded pool")
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("PROGRESS_INTERVAL must not be negative")
	}
	switch c.TracingProtocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("TRACING_PROTOCOL must be 'grpc' or 'http'")
	}

	seen := make(map[string]bool, len(c.Watches))
	for i, w := range c.Watches {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("watch %d: %w", i, err)
		}
		if seen[w.Path] {
			return fmt.Errorf("watch %d: path %s is configured twice", i, w.Path)
		}
		seen[w.Path] = true
	}

	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable ("500ms", "2s") or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// parsePathList parses a semicolon-separated list of paths
func parsePathList(pathsStr string) []string {
	if pathsStr == "" {
		return nil
	}

	paths := strings.Split(pathsStr, ";")
	result := make([]string, 0, len(paths))

	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
