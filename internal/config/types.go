package config

import (
	"time"

	"github.com/aristath/forge/internal/task"
)

// EngineConfig controls how runs are scheduled.
type EngineConfig struct {
	Manifest            string `json:"manifest"`             // Manifest path relative to the working directory
	MaxConcurrency      int    `json:"max_concurrency"`      // Parallel task limit
	ContinueOnError     bool   `json:"continue_on_error"`    // Keep building unrelated tasks after a failure
	ProcessDependencies bool   `json:"process_dependencies"` // Build the transitive closure of the targets
	Stamp               string `json:"stamp"`                // "mtime" or "hash"
	HashCacheSize       int    `json:"hash_cache_size"`      // Memoised content hashes
}

// StoreConfig selects where fingerprints are kept.
type StoreConfig struct {
	Backend string `json:"backend"`        // "file" (next to outputs) or "sqlite"
	Path    string `json:"path,omitempty"` // SQLite database path
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text or json
}

// ToolsConfig configures how external tools are launched.
type ToolsConfig struct {
	RetryInitialMS     int    `json:"retry_initial_ms"`
	RetryMaxMS         int    `json:"retry_max_ms"`
	RetryMaxElapsedMS  int    `json:"retry_max_elapsed_ms"`
	BreakerFailures    uint32 `json:"breaker_failures"`     // Launch failures before a tool is considered unavailable
	BreakerOpenSeconds int    `json:"breaker_open_seconds"` // Time before a tripped tool is retried
}

// ForgeConfig is the top-level configuration.
type ForgeConfig struct {
	Engine EngineConfig `json:"engine"`
	Store  StoreConfig  `json:"store"`
	Log    LogConfig    `json:"log"`
	Tools  ToolsConfig  `json:"tools"`
}

// Retry converts the tool settings into a launcher retry policy.
func (t ToolsConfig) Retry() task.RetryConfig {
	cfg := task.DefaultRetryConfig()
	if t.RetryInitialMS > 0 {
		cfg.InitialInterval = time.Duration(t.RetryInitialMS) * time.Millisecond
	}
	if t.RetryMaxMS > 0 {
		cfg.MaxInterval = time.Duration(t.RetryMaxMS) * time.Millisecond
	}
	if t.RetryMaxElapsedMS > 0 {
		cfg.MaxElapsedTime = time.Duration(t.RetryMaxElapsedMS) * time.Millisecond
	}
	return cfg
}

// Breaker converts the tool settings into breaker settings.
func (t ToolsConfig) Breaker() task.BreakerConfig {
	cfg := task.DefaultBreakerConfig()
	if t.BreakerFailures > 0 {
		cfg.ConsecutiveFailures = t.BreakerFailures
	}
	if t.BreakerOpenSeconds > 0 {
		cfg.OpenTimeout = time.Duration(t.BreakerOpenSeconds) * time.Second
	}
	return cfg
}
