// Package config loads forge's JSON configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aristath/forge/internal/stamp"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*ForgeConfig, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPaths returns the conventional config locations.
// Global: ~/.forge/config.json
// Project: .forge/config.json (relative to cwd)
func DefaultPaths() (global, project string, err error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".forge", "config.json"), filepath.Join(".forge", "config.json"), nil
}

// LoadDefault loads configuration from the conventional paths.
func LoadDefault() (*ForgeConfig, error) {
	global, project, err := DefaultPaths()
	if err != nil {
		return nil, err
	}
	return Load(global, project)
}

// mergeConfigFile overlays the keys present in a JSON file onto base.
// Missing files are silently skipped.
func mergeConfigFile(base *ForgeConfig, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, base); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Validate rejects values the engine cannot use.
func (c *ForgeConfig) Validate() error {
	switch c.Engine.Stamp {
	case stamp.StrategyModTime, stamp.StrategyContentHash:
	default:
		return fmt.Errorf("invalid engine.stamp %q (want %q or %q)", c.Engine.Stamp, stamp.StrategyModTime, stamp.StrategyContentHash)
	}
	switch c.Store.Backend {
	case BackendFile:
	case BackendSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s backend", BackendSQLite)
		}
	default:
		return fmt.Errorf("invalid store.backend %q (want %q or %q)", c.Store.Backend, BackendFile, BackendSQLite)
	}
	if c.Engine.MaxConcurrency < 0 {
		return fmt.Errorf("invalid engine.max_concurrency %d", c.Engine.MaxConcurrency)
	}
	return nil
}
