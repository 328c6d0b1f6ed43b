// Package commands implements the gcompute command tree.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gogpu/gcompute"
	"github.com/gogpu/gcompute/backend/native"
	"github.com/gogpu/gcompute/internal/config"
)

// app carries state shared by subcommands of one command tree.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	log     *slog.Logger
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds a fresh command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: config.New()}
	def := config.DefaultConfig()

	root := &cobra.Command{
		Use:   "gcompute",
		Short: "Run GPU compute jobs",
		Long: `gcompute loads a job file describing buffers, compute pipelines and
pipeline groups, runs it on a GPU backend through a frame-driven engine and
reports the buffers copied back to the host.

Settings come from flags, GCOMPUTE_* environment variables and an optional
gcompute.yaml in the working directory.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.load,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is ./gcompute.yaml)")
	pf.String("backend", def.Backend, "GPU backend: auto, noop, sim, vulkan, metal, dx12, gl")
	pf.Duration("tick-interval", def.TickInterval, "time between engine ticks")
	pf.Int("admit-per-tick", def.AdmitPerTick, "requests admitted per tick")
	pf.String("log-level", def.LogLevel, "log level: debug, info, warn, error")
	pf.Int("max-ticks", def.MaxTicks, "fail a run after this many ticks (0 = no limit)")

	for key, flag := range map[string]string{
		"backend":        "backend",
		"tick_interval":  "tick-interval",
		"admit_per_tick": "admit-per-tick",
		"log_level":      "log-level",
		"max_ticks":      "max-ticks",
	} {
		_ = a.v.BindPFlag(key, pf.Lookup(flag))
	}

	root.AddCommand(a.runCommand(), a.validateCommand(), a.backendsCommand())
	return root
}

// load reads the configuration and installs the loggers.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.Level()}))
	gcompute.SetLogger(a.log)
	native.SetLogger(a.log)
	return nil
}

// engineOptions maps the configuration to engine options.
func (a *app) engineOptions() []gcompute.Option {
	return []gcompute.Option{
		gcompute.WithAdmitPerTick(a.cfg.AdmitPerTick),
		gcompute.WithPipelineCacheSize(a.cfg.PipelineCacheSize),
		gcompute.WithStagingPoolLimit(a.cfg.StagingPoolLimit),
	}
}
