package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/aristath/forge/internal/config"
	"github.com/aristath/forge/internal/scheduler"
	"github.com/aristath/forge/internal/task"
)

const pipeline = `
copy "src" {
  from = "in.txt"
  to   = "build/a.txt"
}

command "upper" {
  run     = ["sh", "-c", "tr a-z A-Z < build/a.txt > build/b.txt"]
  inputs  = ["build/a.txt"]
  outputs = ["build/b.txt"]
}
`

type project struct {
	t   *testing.T
	dir string
}

func newProject(t *testing.T, manifest string) *project {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "forge.hcl"), []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "in.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	return &project{t: t, dir: dir}
}

// forge runs the CLI against the project and returns its stdout.
func (p *project) forge(args ...string) (string, error) {
	p.t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(task.NewProcessManager(), &out, &errOut)
	base := []string{
		"-f", filepath.Join(p.dir, "forge.hcl"),
		"--global-config", "",
		"--project-config", "",
		"--log-level", "error",
	}
	root.SetArgs(append(args[:1:1], append(base, args[1:]...)...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (p *project) read(rel string) string {
	p.t.Helper()
	data, err := os.ReadFile(filepath.Join(p.dir, rel))
	if err != nil {
		p.t.Fatalf("reading %s: %v", rel, err)
	}
	return string(data)
}

func TestBuild_ThenUpToDate(t *testing.T) {
	p := newProject(t, pipeline)

	out, err := p.forge("build")
	if err != nil {
		t.Fatalf("first build failed: %v\n%s", err, out)
	}
	if got := p.read("build/b.txt"); got != "HELLO" {
		t.Errorf("b.txt = %q, want HELLO", got)
	}
	if !strings.Contains(out, "2 executed") {
		t.Errorf("expected 2 executed, got:\n%s", out)
	}

	out, err = p.forge("build")
	if err != nil {
		t.Fatalf("second build failed: %v", err)
	}
	if !strings.Contains(out, "0 executed, 2 up to date") {
		t.Errorf("expected everything up to date, got:\n%s", out)
	}
}

func TestBuild_NamedTarget(t *testing.T) {
	p := newProject(t, pipeline)

	out, err := p.forge("build", "src")
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if !strings.Contains(out, "1 executed") {
		t.Errorf("expected only the copy to run, got:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(p.dir, "build/b.txt")); !os.IsNotExist(err) {
		t.Error("b.txt must not be built for target src")
	}
}

func TestBuild_FailureReported(t *testing.T) {
	p := newProject(t, `
command "broken" {
  run     = ["sh", "-c", "echo 'syntax error' >&2; exit 2"]
  outputs = ["out.txt"]
}
`)

	out, err := p.forge("build")
	if !errors.Is(err, scheduler.ErrBuildFailed) {
		t.Fatalf("expected ErrBuildFailed, got: %v", err)
	}
	if !strings.Contains(out, "FAIL") || !strings.Contains(out, "syntax error") {
		t.Errorf("failure output missing:\n%s", out)
	}
}

func TestClean(t *testing.T) {
	p := newProject(t, pipeline)
	if _, err := p.forge("build"); err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if _, err := p.forge("clean"); err != nil {
		t.Fatalf("clean failed: %v", err)
	}
	for _, rel := range []string{"build/a.txt", "build/b.txt", "build/a.txt.deps", "build/b.txt.deps"} {
		if _, err := os.Stat(filepath.Join(p.dir, rel)); !os.IsNotExist(err) {
			t.Errorf("%s still exists after clean", rel)
		}
	}
	if p.read("in.txt") != "hello" {
		t.Error("clean must not touch sources")
	}
}

func TestSQLiteStoreAndHistory(t *testing.T) {
	p := newProject(t, pipeline)

	if _, err := p.forge("build", "--store", "sqlite", "--store-path", "state/forge.db"); err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(p.dir, "build/b.txt.deps")); !os.IsNotExist(err) {
		t.Error("sqlite store must not write fingerprint files")
	}

	out, err := p.forge("build", "--store", "sqlite", "--store-path", "state/forge.db")
	if err != nil || !strings.Contains(out, "2 up to date") {
		t.Fatalf("second build: %v\n%s", err, out)
	}

	out, err = p.forge("history", "--store", "sqlite", "--store-path", "state/forge.db")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if strings.Count(out, "build") != 2 {
		t.Errorf("expected two recorded builds, got:\n%s", out)
	}
}

func TestHistory_RequiresSQLite(t *testing.T) {
	p := newProject(t, pipeline)
	if _, err := p.forge("history"); err == nil {
		t.Fatal("history with the file store should fail")
	}
}

func TestMetricsFile(t *testing.T) {
	p := newProject(t, pipeline)
	metrics := filepath.Join(p.dir, "metrics.prom")

	if _, err := p.forge("build", "--metrics-file", metrics); err != nil {
		t.Fatalf("build failed: %v", err)
	}
	data, err := os.ReadFile(metrics)
	if err != nil {
		t.Fatalf("metrics file not written: %v", err)
	}
	for _, name := range []string{"forge_scheduler_tasks_total", "forge_stamp_stats_total"} {
		if !strings.Contains(string(data), name) {
			t.Errorf("metrics file missing %s", name)
		}
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	project := filepath.Join(dir, "config.json")
	if err := os.WriteFile(project, []byte(`{"engine": {"max_concurrency": 2, "stamp": "hash"}, "log": {"level": "warn"}}`), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FORGE_JOBS", "3")
	t.Setenv("FORGE_LOG_LEVEL", "debug")

	a, root := newApp(task.NewProcessManager(), &bytes.Buffer{}, &bytes.Buffer{})
	if err := root.PersistentFlags().Parse([]string{"--global-config", "", "--project-config", project, "-j", "5"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := a.loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Engine.MaxConcurrency != 5 {
		t.Errorf("jobs = %d, want 5 (flag beats env and file)", cfg.Engine.MaxConcurrency)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug (env beats file)", cfg.Log.Level)
	}
	if cfg.Engine.Stamp != "hash" {
		t.Errorf("stamp = %q, want hash (file beats default)", cfg.Engine.Stamp)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".forge", "config.json")
	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		root := newRootCmd(task.NewProcessManager(), &out, &bytes.Buffer{})
		root.SetArgs(append(args, "--global-config", "", "--project-config", path))
		err := root.ExecuteContext(context.Background())
		return out.String(), err
	}

	out, err := run("config", "init", "-j", "3", "--stamp", "hash")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "wrote "+path) {
		t.Errorf("unexpected output %q", out)
	}
	cfg, err := config.Load("", path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.MaxConcurrency != 3 || cfg.Engine.Stamp != "hash" {
		t.Errorf("written config = %+v", cfg.Engine)
	}

	if _, err := run("config", "init"); !errors.Is(err, config.ErrConfigExists) {
		t.Fatalf("second init: expected ErrConfigExists, got %v", err)
	}

	if _, err := run("config", "init", "--force", "-j", "2"); err != nil {
		t.Fatalf("forced init: %v", err)
	}
	out, err = run("config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, `"max_concurrency": 2`) || !strings.Contains(out, `"stamp": "hash"`) {
		t.Errorf("config show = %s", out)
	}
}

// TestProcessManagerKillAllOnShutdown verifies that KillAll terminates
// tracked processes during a simulated shutdown.
func TestProcessManagerKillAllOnShutdown(t *testing.T) {
	pm := task.NewProcessManager()

	cmd := exec.Command("sleep", "60")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start subprocess: %v", err)
	}
	pm.Track(cmd)

	if count := pm.Count(); count != 1 {
		t.Errorf("Expected 1 tracked process, got %d", count)
	}

	if err := pm.KillAll(); err != nil {
		t.Errorf("KillAll() failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected process to be killed (non-zero exit), got nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Process did not terminate after KillAll()")
	}
}
