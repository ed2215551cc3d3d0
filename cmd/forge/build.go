package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/aristath/forge/internal/config"
	"github.com/aristath/forge/internal/events"
	"github.com/aristath/forge/internal/fingerprint"
	"github.com/aristath/forge/internal/graph"
	"github.com/aristath/forge/internal/logging"
	"github.com/aristath/forge/internal/manifest"
	"github.com/aristath/forge/internal/persistence"
	"github.com/aristath/forge/internal/scheduler"
	"github.com/aristath/forge/internal/stamp"
	"github.com/aristath/forge/internal/task"
	"github.com/aristath/forge/internal/tui"
)

func (a *app) newBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build [targets...]",
		Short: "Bring targets (default: everything) up to date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), scheduler.ActionBuild, args)
		},
	}
}

func (a *app) newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [targets...]",
		Short: "Remove outputs, intermediates and fingerprints of targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), scheduler.ActionClean, args)
		},
	}
}

func (a *app) run(ctx context.Context, action scheduler.Action, args []string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, a.errOut)
	ctx = logging.WithLogger(ctx, logger)

	m, err := manifest.Load(cfg.Engine.Manifest)
	if err != nil {
		return err
	}

	bus := events.NewBus()
	defer bus.Close()

	// An interrupted run takes every tracked tool process group down with it.
	stopKill := context.AfterFunc(ctx, func() {
		if err := a.pm.KillAll(); err != nil {
			logger.Warn("killing subprocesses", "error", err)
		}
	})
	defer stopKill()

	launcher := task.NewLauncher(a.pm, task.NewBreakers(cfg.Tools.Breaker(), logger), cfg.Tools.Retry(),
		func(name, line string, stderr bool) {
			bus.Publish(events.TopicTask, events.TaskOutputEvent{Task: name, Line: line, Stderr: stderr, Timestamp: time.Now()})
		})

	reg, err := graph.NewRegistry(m.Tasks(launcher)...)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	stampMetrics := &stamp.Metrics{}
	schedMetrics := scheduler.NewMetrics()
	if err := stampMetrics.Register(promReg); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	if err := schedMetrics.Register(promReg); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	stamps, err := stamp.New(cfg.Engine.Stamp, stampMetrics, cfg.Engine.HashCacheSize)
	if err != nil {
		return err
	}

	store, history, err := openStore(ctx, cfg, m.Dir)
	if err != nil {
		return err
	}
	if history != nil {
		defer history.Close()
	}

	s, err := scheduler.New(scheduler.Config{
		Registry: reg,
		Store:    store,
		Stamps:   stamps,
		Bus:      bus,
		Metrics:  schedMetrics,
	})
	if err != nil {
		return err
	}

	req := scheduler.Request{
		Action:              action,
		Targets:             resolveTargets(m, args),
		ProcessDependencies: cfg.Engine.ProcessDependencies,
		MaxConcurrency:      cfg.Engine.MaxConcurrency,
		ContinueOnError:     cfg.Engine.ContinueOnError,
	}

	var res *scheduler.Results
	var runErr error
	if a.v.GetBool("tui") {
		res, runErr = a.runWithTUI(ctx, s, req, bus)
	} else {
		done := report(a.out, bus.Subscribe(events.TopicTask, 1024))
		res, runErr = s.Run(ctx, req)
		bus.Close()
		<-done
	}

	if history != nil && res != nil {
		// Record even interrupted runs; the parent context may be cancelled.
		if err := history.SaveRun(context.WithoutCancel(ctx), res); err != nil {
			logger.Warn("saving run history", "error", err)
		}
	}

	if path := a.v.GetString("metrics-file"); path != "" {
		if err := prometheus.WriteToTextfile(path, promReg); err != nil {
			logger.Warn("writing metrics", "path", path, "error", err)
		}
	}

	if res != nil {
		fmt.Fprintf(a.out, "%s: %d executed, %d up to date, %d failed, %d not run in %v\n",
			action, res.ExecutedCount, res.UpToDateCount, res.FailedCount, res.NotRunCount,
			res.Duration().Round(time.Millisecond))
	}
	if runErr != nil {
		return runErr
	}
	return res.Err()
}

func (a *app) runWithTUI(ctx context.Context, s *scheduler.Scheduler, req scheduler.Request, bus *events.Bus) (*scheduler.Results, error) {
	buildCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(tui.New(bus, false), tea.WithAltScreen(), tea.WithContext(ctx))
	tuiDone := make(chan error, 1)
	go func() {
		_, err := p.Run()
		// Quitting the view abandons the build.
		cancel()
		tuiDone <- err
	}()

	res, err := s.Run(buildCtx, req)
	bus.Close()
	if tuiErr := <-tuiDone; tuiErr != nil && err == nil {
		logging.FromContext(ctx).Warn("progress view exited with error", "error", tuiErr)
	}
	return res, err
}

// openStore returns the fingerprint store the config selects and, for
// SQLite, the same store as run history.
func openStore(ctx context.Context, cfg *config.ForgeConfig, manifestDir string) (fingerprint.Store, persistence.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		path := cfg.Store.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(manifestDir, path)
		}
		db, err := persistence.NewSQLiteStore(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	default:
		return fingerprint.NewFileStore(), nil, nil
	}
}

// resolveTargets accepts block names or output paths relative to the
// working directory.
func resolveTargets(m *manifest.Manifest, args []string) []string {
	names := m.Targets()
	targets := make([]string, 0, len(args))
	for _, arg := range args {
		if out, ok := names[arg]; ok {
			targets = append(targets, out)
			continue
		}
		if abs, err := filepath.Abs(arg); err == nil {
			arg = abs
		}
		targets = append(targets, arg)
	}
	return targets
}
