package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeJSON(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name          string
		global        string
		project       string
		expectJobs    int
		expectKeep    bool
		expectStamp   string
		expectBackend string
		expectLevel   string
		expectError   string
	}{
		{
			name:          "No config files - returns defaults",
			expectJobs:    1,
			expectStamp:   "mtime",
			expectBackend: "file",
			expectLevel:   "info",
		},
		{
			name:          "Global only - overrides engine",
			global:        `{"engine": {"max_concurrency": 3, "continue_on_error": true}}`,
			expectJobs:    3,
			expectKeep:    true,
			expectStamp:   "mtime",
			expectBackend: "file",
			expectLevel:   "info",
		},
		{
			name:          "Project only - switches store",
			project:       `{"store": {"backend": "sqlite"}}`,
			expectJobs:    1,
			expectStamp:   "mtime",
			expectBackend: "sqlite",
			expectLevel:   "info",
		},
		{
			name:          "Both - project wins on shared keys",
			global:        `{"engine": {"max_concurrency": 3, "stamp": "hash"}, "log": {"level": "debug"}}`,
			project:       `{"engine": {"max_concurrency": 8}}`,
			expectJobs:    8,
			expectStamp:   "hash",
			expectBackend: "file",
			expectLevel:   "debug",
		},
		{
			name:        "Malformed JSON",
			project:     `{"engine": `,
			expectError: "parsing",
		},
		{
			name:        "Invalid stamp strategy",
			global:      `{"engine": {"stamp": "crc"}}`,
			expectError: "engine.stamp",
		},
		{
			name:        "Invalid backend",
			project:     `{"store": {"backend": "redis"}}`,
			expectError: "store.backend",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			globalPath := filepath.Join(dir, "home", ".forge", "config.json")
			projectPath := filepath.Join(dir, "proj", ".forge", "config.json")
			if tt.global != "" {
				writeJSON(t, globalPath, tt.global)
			}
			if tt.project != "" {
				writeJSON(t, projectPath, tt.project)
			}

			cfg, err := Load(globalPath, projectPath)
			if tt.expectError != "" {
				if err == nil {
					t.Fatalf("Expected error containing %q, got nil", tt.expectError)
				}
				if !strings.Contains(err.Error(), tt.expectError) {
					t.Errorf("Expected error containing %q, got: %v", tt.expectError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}

			if cfg.Engine.MaxConcurrency != tt.expectJobs {
				t.Errorf("max_concurrency = %d, want %d", cfg.Engine.MaxConcurrency, tt.expectJobs)
			}
			if cfg.Engine.ContinueOnError != tt.expectKeep {
				t.Errorf("continue_on_error = %v, want %v", cfg.Engine.ContinueOnError, tt.expectKeep)
			}
			if cfg.Engine.Stamp != tt.expectStamp {
				t.Errorf("stamp = %q, want %q", cfg.Engine.Stamp, tt.expectStamp)
			}
			if cfg.Store.Backend != tt.expectBackend {
				t.Errorf("backend = %q, want %q", cfg.Store.Backend, tt.expectBackend)
			}
			if cfg.Log.Level != tt.expectLevel {
				t.Errorf("log level = %q, want %q", cfg.Log.Level, tt.expectLevel)
			}
			if !cfg.Engine.ProcessDependencies {
				t.Error("process_dependencies default lost during merge")
			}
		})
	}
}

func TestLoad_EmptyPaths(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.Manifest != "forge.hcl" {
		t.Errorf("manifest = %q, want forge.hcl", cfg.Engine.Manifest)
	}
}

func TestToolsConfig_Conversions(t *testing.T) {
	tools := ToolsConfig{RetryInitialMS: 20, RetryMaxMS: 400, RetryMaxElapsedMS: 3000, BreakerFailures: 2, BreakerOpenSeconds: 7}

	retry := tools.Retry()
	if retry.InitialInterval != 20*time.Millisecond || retry.MaxInterval != 400*time.Millisecond || retry.MaxElapsedTime != 3*time.Second {
		t.Errorf("retry = %+v", retry)
	}

	breaker := tools.Breaker()
	if breaker.ConsecutiveFailures != 2 || breaker.OpenTimeout != 7*time.Second {
		t.Errorf("breaker = %+v", breaker)
	}

	zero := ToolsConfig{}
	if zero.Retry().InitialInterval <= 0 || zero.Breaker().ConsecutiveFailures == 0 {
		t.Error("zero tool settings must fall back to defaults")
	}
}
