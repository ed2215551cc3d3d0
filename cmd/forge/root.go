package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aristath/forge/internal/config"
	"github.com/aristath/forge/internal/task"
)

// app carries what every subcommand shares.
type app struct {
	v      *viper.Viper
	pm     *task.ProcessManager
	out    io.Writer
	errOut io.Writer
}

func newRootCmd(pm *task.ProcessManager, out, errOut io.Writer) *cobra.Command {
	_, root := newApp(pm, out, errOut)
	return root
}

func newApp(pm *task.ProcessManager, out, errOut io.Writer) (*app, *cobra.Command) {
	a := &app{v: viper.New(), pm: pm, out: out, errOut: errOut}

	globalPath, projectPath, err := config.DefaultPaths()
	if err != nil {
		globalPath = ""
	}

	root := &cobra.Command{
		Use:           "forge",
		Short:         "Incremental build engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("loading .env: %w", err)
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringP("file", "f", "", "manifest file (default forge.hcl)")
	flags.IntP("jobs", "j", 0, "maximum parallel tasks (default 1)")
	flags.BoolP("keep-going", "k", false, "keep building unrelated tasks after a failure")
	flags.Bool("no-deps", false, "run only the named targets, assuming their inputs are current")
	flags.String("stamp", "", "file stamp strategy: mtime or hash")
	flags.String("store", "", "fingerprint store: file or sqlite")
	flags.String("store-path", "", "sqlite database path")
	flags.Bool("tui", false, "show an interactive progress view")
	flags.String("metrics-file", "", "write Prometheus metrics to this file after the run")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	flags.String("global-config", globalPath, "global config file")
	flags.String("project-config", projectPath, "project config file")

	a.v.SetEnvPrefix("FORGE")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(flags); err != nil {
		panic(err)
	}

	root.AddCommand(a.newBuildCmd(), a.newCleanCmd(), a.newHistoryCmd(), a.newConfigCmd())
	return a, root
}

// loadConfig merges file config with FORGE_* environment variables and
// flags; flags win over env, env over files.
func (a *app) loadConfig() (*config.ForgeConfig, error) {
	cfg, err := config.Load(a.v.GetString("global-config"), a.v.GetString("project-config"))
	if err != nil {
		return nil, err
	}

	v := a.v
	if v.IsSet("file") && v.GetString("file") != "" {
		cfg.Engine.Manifest = v.GetString("file")
	}
	if v.IsSet("jobs") && v.GetInt("jobs") > 0 {
		cfg.Engine.MaxConcurrency = v.GetInt("jobs")
	}
	if v.IsSet("keep-going") {
		cfg.Engine.ContinueOnError = v.GetBool("keep-going")
	}
	if v.IsSet("no-deps") {
		cfg.Engine.ProcessDependencies = !v.GetBool("no-deps")
	}
	if s := v.GetString("stamp"); s != "" {
		cfg.Engine.Stamp = s
	}
	if s := v.GetString("store"); s != "" {
		cfg.Store.Backend = s
	}
	if s := v.GetString("store-path"); s != "" {
		cfg.Store.Path = s
	}
	if s := v.GetString("log-level"); s != "" {
		cfg.Log.Level = s
	}
	if s := v.GetString("log-format"); s != "" {
		cfg.Log.Format = s
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
