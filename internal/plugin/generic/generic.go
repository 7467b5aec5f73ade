// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

// Package generic implements tag-dispatch plugins. The bridge hands a
// (tag, payload) pair of strings to a script function without looking at
// either, so a new wire protocol needs only a new script.
package generic

import (
	"context"
	"log/slog"
	"slices"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/dpibridge/dpibridge/internal/observability"
	"github.com/dpibridge/dpibridge/internal/plugin"
	"github.com/dpibridge/dpibridge/internal/script"
)

// Name is the registry key of the built-in generic plugin.
const Name = "generic"

// Config binds a tag-dispatch plugin to a script function.
type Config struct {
	Name       string
	Version    string
	Module     string
	SearchPath string
	Function   string
	// Tags are glob patterns over '.'-separated tags. No patterns means
	// the plugin accepts every tag.
	Tags []string
}

// DefaultConfig returns the built-in binding: object_receiver under the
// generic parsers directory.
func DefaultConfig() Config {
	return Config{
		Name:       Name,
		Version:    "1.0.0",
		Module:     "object_receiver",
		SearchPath: "./dpi_bridge/plugins/generic/parsers",
		Function:   plugin.DefaultReceiveFunction,
	}
}

// ConfigFromManifest binds a discovered manifest.
func ConfigFromManifest(d *plugin.Discovered) Config {
	return Config{
		Name:       d.Manifest.Name,
		Version:    d.Manifest.Version,
		Module:     d.Manifest.Module,
		SearchPath: d.SearchPath(),
		Function:   d.Manifest.FunctionName(),
		Tags:       slices.Clone(d.Manifest.Tags),
	}
}

// Plugin forwards tagged payloads to one script function. It is not safe for
// concurrent use.
type Plugin struct {
	rt       script.Runtime
	cfg      Config
	patterns []glob.Glob
	logger   *slog.Logger
	metrics  *observability.Metrics

	module  *script.Module
	receive *script.Callable
}

// Compile-time interface check.
var _ plugin.Plugin = (*Plugin)(nil)

// Option configures a Plugin.
type Option func(*Plugin)

// WithLogger sets the plugin logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Plugin) {
		p.logger = logger
	}
}

// WithMetrics counts forwarded objects.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(p *Plugin) {
		p.metrics = metrics
	}
}

// New creates an uninitialized tag-dispatch plugin. It fails when cfg has no
// name or module, or when a tag pattern does not compile.
func New(rt script.Runtime, cfg Config, opts ...Option) (*Plugin, error) {
	errb := oops.In("generic").Code(plugin.CodeInvalidPlugin).With("plugin", cfg.Name)
	if cfg.Name == "" {
		return nil, errb.Errorf("plugin name is required")
	}
	if cfg.Module == "" {
		return nil, errb.Errorf("module is required")
	}
	if cfg.Function == "" {
		cfg.Function = plugin.DefaultReceiveFunction
	}
	if cfg.Version == "" {
		cfg.Version = "0.0.0"
	}

	patterns := make([]glob.Glob, 0, len(cfg.Tags))
	for i, pattern := range cfg.Tags {
		g, err := glob.Compile(pattern, plugin.TagSeparator)
		if err != nil {
			return nil, errb.With("tag", pattern).Wrapf(err, "tag %d (%q)", i, pattern)
		}
		patterns = append(patterns, g)
	}

	p := &Plugin{
		rt:       rt,
		cfg:      cfg,
		patterns: patterns,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("plugin", cfg.Name)
	return p, nil
}

// Name returns the configured plugin name.
func (p *Plugin) Name() string { return p.cfg.Name }

// Module returns the script module the plugin loads.
func (p *Plugin) Module() string { return p.cfg.Module }

// Version returns the configured plugin version.
func (p *Plugin) Version() string { return p.cfg.Version }

// Tags returns the plugin's tag patterns.
func (p *Plugin) Tags() []string { return slices.Clone(p.cfg.Tags) }

// CatchAll reports whether the plugin declares no tag patterns.
func (p *Plugin) CatchAll() bool { return len(p.patterns) == 0 }

// Matches reports whether the plugin accepts tag.
func (p *Plugin) Matches(tag string) bool {
	if len(p.patterns) == 0 {
		return true
	}
	for _, g := range p.patterns {
		if g.Match(tag) {
			return true
		}
	}
	return false
}

// Initialized reports whether Init has bound the receive function.
func (p *Plugin) Initialized() bool {
	return p.receive.Valid()
}

// Init loads the module and resolves the receive function, releasing the
// module again if resolution fails.
func (p *Plugin) Init(ctx context.Context) error {
	if p.Initialized() {
		return nil
	}
	p.release()

	mod, err := p.rt.LoadModule(ctx, p.cfg.Module, p.cfg.SearchPath)
	if err != nil {
		return err
	}
	fn, err := p.rt.ResolveCallable(ctx, mod, p.cfg.Function)
	if err != nil {
		mod.Release()
		return err
	}
	p.module, p.receive = mod, fn

	p.logger.InfoContext(ctx, "tag-dispatch plugin ready",
		"module", p.cfg.Module,
		"function", p.cfg.Function,
		"tags", p.cfg.Tags)
	return nil
}

// Cleanup releases the plugin's handles. It is safe to call repeatedly.
func (p *Plugin) Cleanup(ctx context.Context) error {
	p.release()
	p.logger.DebugContext(ctx, "tag-dispatch plugin cleaned up")
	return nil
}

func (p *Plugin) release() {
	p.receive.Release()
	p.module.Release()
	p.receive, p.module = nil, nil
}

// SendObject passes tag and payload to the script verbatim. Whatever the
// script returns is ignored.
func (p *Plugin) SendObject(ctx context.Context, tag, payload string) error {
	if !p.Initialized() {
		return oops.In("generic").Code(plugin.CodeUninitializedUse).
			With("plugin", p.cfg.Name).
			With("tag", tag).
			Errorf("plugin %q used before initialization", p.cfg.Name)
	}

	if _, err := p.rt.Invoke(ctx, p.receive, tag, payload); err != nil {
		p.metrics.RecordObject(p.cfg.Name, "error")
		return oops.With("plugin", p.cfg.Name).With("tag", tag).Wrap(err)
	}
	p.metrics.RecordObject(p.cfg.Name, "ok")
	return nil
}
