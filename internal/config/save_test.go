package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveCreatesFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Engine.MaxConcurrency = 6
	cfg.Store.Backend = BackendSQLite

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	var loaded ForgeConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Config file contains invalid JSON: %v", err)
	}
	if loaded.Engine.MaxConcurrency != 6 {
		t.Errorf("Expected max_concurrency 6, got %d", loaded.Engine.MaxConcurrency)
	}
	if loaded.Store.Backend != BackendSQLite {
		t.Errorf("Expected backend sqlite, got %q", loaded.Store.Backend)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.Engine.Stamp = "hash"
	cfg.Engine.ContinueOnError = true
	cfg.Log.Format = "json"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load("", path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", loaded, cfg)
	}
}

func TestSaveIsIndented(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	if len(data) == 0 || data[1] != '\n' {
		t.Errorf("expected indented JSON, got %q", data[:min(len(data), 20)])
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	for i := 0; i < 3; i++ {
		if err := Save(DefaultConfig(), path); err != nil {
			t.Fatalf("Save %d failed: %v", i, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "config.json" {
		t.Errorf("unexpected directory contents: %v", entries)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0644 {
		t.Errorf("mode = %v, want 0644", info.Mode().Perm())
	}
}

func TestInit(t *testing.T) {
	tests := []struct {
		name      string
		existing  string
		overwrite bool
		mutate    func(*ForgeConfig)
		wantErr   error
		wantJobs  int
	}{
		{name: "new file", wantJobs: 1},
		{name: "existing file kept", existing: `{"engine": {"max_concurrency": 7}}`, wantErr: ErrConfigExists, wantJobs: 7},
		{name: "existing file replaced", existing: `{"engine": {"max_concurrency": 7}}`, overwrite: true, wantJobs: 1},
		{
			name:     "invalid config rejected",
			mutate:   func(c *ForgeConfig) { c.Store.Backend = "etcd" },
			wantJobs: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), ".forge", "config.json")
			if tt.existing != "" {
				writeJSON(t, path, tt.existing)
			}
			cfg := DefaultConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}

			err := Init(cfg, path, tt.overwrite)
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Init error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantJobs < 0 {
				if err == nil {
					t.Fatal("expected a validation error")
				}
				if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
					t.Errorf("invalid config must not be written, stat: %v", statErr)
				}
				return
			}
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Init failed: %v", err)
			}

			loaded, err := Load("", path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded.Engine.MaxConcurrency != tt.wantJobs {
				t.Errorf("max_concurrency = %d, want %d", loaded.Engine.MaxConcurrency, tt.wantJobs)
			}
		})
	}
}
