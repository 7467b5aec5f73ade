// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dpibridge/dpibridge/internal/bridge"
	"github.com/dpibridge/dpibridge/internal/config"
	"github.com/dpibridge/dpibridge/internal/logging"
)

// globalOptions holds flags shared by every subcommand.
type globalOptions struct {
	configFile string
}

// flagKeys maps harness flags onto config keys. Flags only override lower
// layers when the user sets them.
var flagKeys = map[string]string{
	"log-format":   "log.format",
	"log-level":    "log.level",
	"plugins-dir":  "plugins.dir",
	"base-path":    "script.base_paths",
	"unsafe-libs":  "script.open_unsafe_libs",
	"metrics-addr": "metrics.addr",
}

// NewRootCmd creates the root command for the dpibridge CLI.
func NewRootCmd() *cobra.Command {
	g := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "dpibridge",
		Short: "DPIBridge - scripted plugins for hardware simulators",
		Long: `DPIBridge connects a hardware simulator to Lua plugins. This harness
drives the bridge the way a simulator would, and checks plugin manifests.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&g.configFile, "config", "", "config file path (default: $DPIBRIDGE_CONFIG)")
	pf.String("log-format", "json", "log format (json or text)")
	pf.String("log-level", "info", "log level (debug, info, warn or error)")
	pf.String("plugins-dir", "", "plugin manifest directory")
	pf.StringSlice("base-path", nil, "module search directories")
	pf.Bool("unsafe-libs", false, "open the io, os and debug script libraries")

	cmd.AddCommand(newRunCmd(g))
	cmd.AddCommand(newSendCmd(g))
	cmd.AddCommand(newPluginsCmd(g))
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newSchemaCmd())

	return cmd
}

// loadConfig layers the config file, environment and flags, and builds the
// logger the command reports through.
func loadConfig(cmd *cobra.Command, g *globalOptions) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(config.LoadOptions{
		File:     g.configFile,
		Flags:    cmd.Flags(),
		FlagKeys: flagKeys,
	})
	if err != nil {
		return nil, nil, err
	}
	logger := logging.New(cmd.ErrOrStderr(), logging.Options{
		Service: "dpibridge",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})
	return cfg, logger, nil
}

// startBridge loads configuration and returns an initialized bridge. The
// caller must Finalize it.
func startBridge(cmd *cobra.Command, g *globalOptions, opts ...bridge.Option) (*bridge.Bridge, error) {
	cfg, logger, err := loadConfig(cmd, g)
	if err != nil {
		return nil, err
	}
	b := bridge.New(*cfg, append([]bridge.Option{bridge.WithLogger(logger)}, opts...)...)
	if err := b.Initialize(cmd.Context()); err != nil {
		return nil, err
	}
	return b, nil
}
