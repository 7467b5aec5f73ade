// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

// Package config loads bridge configuration from built-in defaults, an
// optional YAML file, DPIBRIDGE_* environment variables and command-line
// flags, in increasing order of precedence.
package config

import (
	"os"
	"slices"
	"strings"

	"github.com/gobwas/glob"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/dpibridge/dpibridge/internal/plugin"
	"github.com/dpibridge/dpibridge/internal/plugin/apb"
	"github.com/dpibridge/dpibridge/internal/plugin/generic"
	"github.com/dpibridge/dpibridge/internal/script"
	"github.com/dpibridge/dpibridge/internal/xdg"
)

// EnvPrefix prefixes every environment variable the loader reads. A double
// underscore separates key segments: DPIBRIDGE_PLUGINS__APB__MODULE sets
// plugins.apb.module.
const EnvPrefix = "DPIBRIDGE_"

// EnvConfigFile names the environment variable holding the config file path.
const EnvConfigFile = EnvPrefix + "CONFIG"

// CodeInvalidConfig is the oops code for configuration errors.
const CodeInvalidConfig = "INVALID_CONFIG"

// Config is the complete bridge configuration.
type Config struct {
	Log     LogConfig     `koanf:"log"`
	Script  ScriptConfig  `koanf:"script"`
	Plugins PluginsConfig `koanf:"plugins"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// LogConfig selects the log output.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// ScriptConfig configures the embedded runtime.
type ScriptConfig struct {
	BasePaths      []string `koanf:"base_paths"`
	OpenUnsafeLibs bool     `koanf:"open_unsafe_libs"`
}

// PluginsConfig configures the built-in plugins and manifest discovery.
type PluginsConfig struct {
	Dir     string        `koanf:"dir"`
	APB     APBConfig     `koanf:"apb"`
	Generic GenericConfig `koanf:"generic"`
}

// APBConfig binds the APB plugin.
type APBConfig struct {
	Enabled        bool   `koanf:"enabled"`
	Module         string `koanf:"module"`
	SearchPath     string `koanf:"search_path"`
	GetTransaction string `koanf:"get_transaction"`
	SendReadData   string `koanf:"send_read_data"`
}

// GenericConfig binds the built-in tag-dispatch plugin.
type GenericConfig struct {
	Enabled       bool     `koanf:"enabled"`
	Module        string   `koanf:"module"`
	SearchPath    string   `koanf:"search_path"`
	ReceiveObject string   `koanf:"receive_object"`
	Tags          []string `koanf:"tags"`
}

// MetricsConfig configures the harness observability server.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// Default returns the stock configuration.
func Default() Config {
	apbDefaults := apb.DefaultConfig()
	genericDefaults := generic.DefaultConfig()
	return Config{
		Log: LogConfig{
			Format: "json",
			Level:  "info",
		},
		Script: ScriptConfig{
			BasePaths: slices.Clone(script.DefaultBasePaths),
		},
		Plugins: PluginsConfig{
			Dir: "./dpi_bridge/plugins",
			APB: APBConfig{
				Enabled:        true,
				Module:         apbDefaults.Module,
				SearchPath:     apbDefaults.SearchPath,
				GetTransaction: apbDefaults.GetTransaction,
				SendReadData:   apbDefaults.SendReadData,
			},
			Generic: GenericConfig{
				Enabled:       true,
				Module:        genericDefaults.Module,
				SearchPath:    genericDefaults.SearchPath,
				ReceiveObject: genericDefaults.Function,
			},
		},
	}
}

// APB converts the section into the plugin's binding.
func (c APBConfig) APB() apb.Config {
	return apb.Config{
		Module:         c.Module,
		SearchPath:     c.SearchPath,
		GetTransaction: c.GetTransaction,
		SendReadData:   c.SendReadData,
	}
}

// Generic converts the section into the built-in plugin's binding.
func (c GenericConfig) Generic() generic.Config {
	cfg := generic.DefaultConfig()
	cfg.Module = c.Module
	cfg.SearchPath = c.SearchPath
	cfg.Function = c.ReceiveObject
	cfg.Tags = slices.Clone(c.Tags)
	return cfg
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	errb := oops.In("config").Code(CodeInvalidConfig)

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return errb.With("key", "log.format").Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errb.With("key", "log.level").Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}

	for i, p := range c.Script.BasePaths {
		if strings.TrimSpace(p) == "" {
			return errb.With("key", "script.base_paths").Errorf("script.base_paths[%d] is empty", i)
		}
	}

	if c.Plugins.APB.Enabled {
		if c.Plugins.APB.Module == "" {
			return errb.With("key", "plugins.apb.module").Errorf("plugins.apb.module is required")
		}
		if c.Plugins.APB.GetTransaction == "" || c.Plugins.APB.SendReadData == "" {
			return errb.With("key", "plugins.apb").Errorf("plugins.apb function names are required")
		}
	}
	if c.Plugins.Generic.Enabled {
		if c.Plugins.Generic.Module == "" {
			return errb.With("key", "plugins.generic.module").Errorf("plugins.generic.module is required")
		}
		if c.Plugins.Generic.ReceiveObject == "" {
			return errb.With("key", "plugins.generic.receive_object").Errorf("plugins.generic.receive_object is required")
		}
		for i, pattern := range c.Plugins.Generic.Tags {
			if pattern == "" {
				return errb.With("key", "plugins.generic.tags").Errorf("plugins.generic.tags[%d] is empty", i)
			}
			if _, err := glob.Compile(pattern, plugin.TagSeparator); err != nil {
				return errb.With("key", "plugins.generic.tags").Wrapf(err, "plugins.generic.tags[%d] %q is not a valid pattern", i, pattern)
			}
		}
	}

	return nil
}

// LoadOptions selects the sources Load reads.
type LoadOptions struct {
	// File is a YAML config file. When empty, $DPIBRIDGE_CONFIG is used if
	// set, then $XDG_CONFIG_HOME/dpibridge/config.yaml if it exists.
	File string

	// Flags are applied last. Only flags the user changed override lower
	// layers.
	Flags *pflag.FlagSet

	// FlagKeys maps flag names to config keys. Flags without an entry are
	// ignored.
	FlagKeys map[string]string
}

// listKeys are split on commas when they come from the environment.
var listKeys = map[string]bool{
	"script.base_paths":    true,
	"plugins.generic.tags": true,
}

// Load builds a validated Config from defaults, file, environment and flags.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := setDefaults(k); err != nil {
		return nil, err
	}

	path := opts.File
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path == "" {
		path = xdg.ConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.In("config").Code(CodeInvalidConfig).
				With("file", path).
				Wrapf(err, "load config file")
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.In("config").Code(CodeInvalidConfig).Wrapf(err, "load environment")
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := opts.FlagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.In("config").Code(CodeInvalidConfig).Wrapf(err, "load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.In("config").Code(CodeInvalidConfig).Wrapf(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps DPIBRIDGE_PLUGINS__APB__SEARCH_PATH to plugins.apb.search_path.
// DPIBRIDGE_CONFIG names the file and is not a key.
func envKey(name, value string) (string, any) {
	if name == EnvConfigFile {
		return "", nil
	}
	key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(name, EnvPrefix)), "__", ".")
	if listKeys[key] {
		parts := strings.Split(value, ",")
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return key, out
	}
	return key, value
}

// setDefaults seeds every key so the flag layer, which applies unchanged
// flags only to missing keys, never overrides a lower layer with a flag
// default.
func setDefaults(k *koanf.Koanf) error {
	d := Default()
	defaults := map[string]any{
		"log.format":                     d.Log.Format,
		"log.level":                      d.Log.Level,
		"script.base_paths":              d.Script.BasePaths,
		"script.open_unsafe_libs":        d.Script.OpenUnsafeLibs,
		"plugins.dir":                    d.Plugins.Dir,
		"plugins.apb.enabled":            d.Plugins.APB.Enabled,
		"plugins.apb.module":             d.Plugins.APB.Module,
		"plugins.apb.search_path":        d.Plugins.APB.SearchPath,
		"plugins.apb.get_transaction":    d.Plugins.APB.GetTransaction,
		"plugins.apb.send_read_data":     d.Plugins.APB.SendReadData,
		"plugins.generic.enabled":        d.Plugins.Generic.Enabled,
		"plugins.generic.module":         d.Plugins.Generic.Module,
		"plugins.generic.search_path":    d.Plugins.Generic.SearchPath,
		"plugins.generic.receive_object": d.Plugins.Generic.ReceiveObject,
		"plugins.generic.tags":           []string{},
		"metrics.addr":                   d.Metrics.Addr,
	}
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return oops.In("config").With("key", key).Wrapf(err, "set default")
		}
	}
	return nil
}
