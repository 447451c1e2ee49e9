package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hupe1980/consultmesh/config"
	"github.com/hupe1980/consultmesh/logging"
	"github.com/hupe1980/consultmesh/registry"
)

type globalFlags struct {
	configFile string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "consult",
		Short: "Multi-role ethics consultation engine",
		Long: `consult runs a structured deliberation among several stakeholder roles
over a case description. Every role answers once per round, sees a bounded
window of earlier contributions, and the engine tracks agreement, cost and
an evaluation of the finished discussion.

Configuration is read from an optional YAML file and CONSULT_* environment
variables (for example CONSULT_DELIBERATION_MAX_ROUNDS=5).`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&g.configFile, "config", "c", "", "config file (YAML)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "log format override (json, text)")

	root.AddCommand(newRunCmd(g), newRolesCmd(g), newValidateCmd(g))

	return root
}

// load resolves the configuration and applies the global overrides.
func (g *globalFlags) load() (*config.Config, error) {
	cfg, err := config.Load(g.configFile)
	if err != nil {
		return nil, err
	}

	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Logging.Format = g.logFormat
	}

	return cfg, nil
}

func newLogger(cfg *config.Config, out io.Writer) (*logging.DeliberationLogger, error) {
	level, err := logging.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	return logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Logging.Format,
		Output:    out,
		Component: "consult",
	}), nil
}

func newRegistry(cfg *config.Config) (*registry.Registry, error) {
	reg := registry.Default()
	if cfg.Deliberation.RolesFile != "" {
		if err := reg.LoadFile(cfg.Deliberation.RolesFile); err != nil {
			return nil, fmt.Errorf("load roles: %w", err)
		}
	}

	return reg, nil
}
