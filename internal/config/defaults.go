package config

import "github.com/aristath/forge/internal/stamp"

// Store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *ForgeConfig {
	return &ForgeConfig{
		Engine: EngineConfig{
			Manifest:            "forge.hcl",
			MaxConcurrency:      1,
			ContinueOnError:     false,
			ProcessDependencies: true,
			Stamp:               stamp.StrategyModTime,
			HashCacheSize:       stamp.DefaultHashCacheSize,
		},
		Store: StoreConfig{
			Backend: BackendFile,
			Path:    ".forge/forge.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tools: ToolsConfig{
			RetryInitialMS:     100,
			RetryMaxMS:         2000,
			RetryMaxElapsedMS:  10000,
			BreakerFailures:    5,
			BreakerOpenSeconds: 30,
		},
	}
}
