// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

// Package bridge is the facade the simulator calls through. It sequences
// runtime and plugin lifecycles and turns every steady-state failure into a
// logged sentinel, so nothing a script does can fault the simulator.
//
// Entry points are meant to be called from the simulator thread and to return
// before simulation time advances. They are serialised by a mutex anyway.
package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/dpibridge/dpibridge/internal/config"
	"github.com/dpibridge/dpibridge/internal/observability"
	"github.com/dpibridge/dpibridge/internal/plugin"
	"github.com/dpibridge/dpibridge/internal/plugin/apb"
	"github.com/dpibridge/dpibridge/internal/plugin/generic"
	"github.com/dpibridge/dpibridge/internal/script"
	"github.com/dpibridge/dpibridge/pkg/errutil"
)

// Version is the bridge version manifests are checked against.
const Version = "1.0.0"

// PluginInfo describes a registered plugin.
type PluginInfo struct {
	Name    string
	Version string
	Status  plugin.Status
	Tags    []string
}

// Bridge owns one script runtime and the plugins bound to it.
type Bridge struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *observability.Metrics

	mu        sync.Mutex
	session   string
	log       *slog.Logger
	runtime   *script.Manager
	registry  *plugin.Registry
	apb       *apb.Plugin
	receivers []*generic.Plugin
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger. Every component logs through it.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithMetrics records runtime and plugin metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(b *Bridge) {
		b.metrics = metrics
	}
}

// New creates a bridge. Nothing is loaded until Initialize.
func New(cfg config.Config, opts ...Option) *Bridge {
	b := &Bridge{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.logger
	return b
}

// Ready reports whether Initialize has succeeded and Finalize has not run.
func (b *Bridge) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.registry != nil
}

// Session returns the ULID minted by the last successful Initialize, or ""
// when the bridge is not ready.
func (b *Bridge) Session() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// Initialize starts the runtime, registers the configured plugins and
// initializes them in registration order. Either every step succeeds or the
// bridge is left exactly as it was: plugins cleaned up, registry destroyed
// and runtime finalized. Calling it on a ready bridge is a no-op.
func (b *Bridge) Initialize(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.registry != nil {
		b.log.InfoContext(ctx, "bridge already initialized")
		return nil
	}

	session := ulid.Make().String()
	log := b.logger.With("session", session)
	log.InfoContext(ctx, "initializing bridge", "version", Version)

	rt := script.NewManager(
		script.WithBasePaths(b.cfg.Script.BasePaths...),
		script.WithUnsafeLibraries(b.cfg.Script.OpenUnsafeLibs),
		script.WithLogger(log),
		script.WithMetrics(b.metrics),
	)
	if err := rt.Initialize(ctx); err != nil {
		return b.initFailed(ctx, log, "start runtime", err)
	}

	reg := plugin.NewRegistry(plugin.WithLogger(log), plugin.WithMetrics(b.metrics))
	unwind := func(step string, err error) error {
		reg.CleanupAll(ctx)
		reg.Destroy()
		rt.Finalize(ctx)
		return b.initFailed(ctx, log, step, err)
	}

	var (
		apbPlugin *apb.Plugin
		receivers []*generic.Plugin
	)
	// modules maps each loaded module name to the plugin that owns it.
	modules := make(map[string]string)

	if b.cfg.Plugins.APB.Enabled {
		apbPlugin = apb.New(rt, b.cfg.Plugins.APB.APB(), apb.WithLogger(log), apb.WithMetrics(b.metrics))
		if err := reg.Add(apbPlugin); err != nil {
			return unwind("register apb", err)
		}
		modules[apbPlugin.Module()] = apbPlugin.Name()
	}

	if b.cfg.Plugins.Generic.Enabled {
		g, err := generic.New(rt, b.cfg.Plugins.Generic.Generic(), generic.WithLogger(log), generic.WithMetrics(b.metrics))
		if err != nil {
			return unwind("configure generic", err)
		}
		if err := reg.Add(g); err != nil {
			return unwind("register generic", err)
		}
		modules[g.Module()] = g.Name()
		receivers = append(receivers, g)
	}

	discovered, err := plugin.Discover(ctx, b.cfg.Plugins.Dir, Version, log)
	if err != nil {
		return unwind("discover plugins", err)
	}
	for _, d := range discovered {
		if owner, taken := modules[d.Manifest.Module]; taken {
			errutil.LogErrorContext(ctx, log, "skipping manifest plugin",
				oops.In("bridge").Code(plugin.CodeDuplicateModule).
					With("plugin", d.Manifest.Name).
					With("module", d.Manifest.Module).
					With("claimed_by", owner).
					Errorf("module %q is already provided by plugin %q", d.Manifest.Module, owner))
			continue
		}
		g, err := generic.New(rt, generic.ConfigFromManifest(d), generic.WithLogger(log), generic.WithMetrics(b.metrics))
		if err != nil {
			errutil.LogErrorContext(ctx, log, "skipping manifest plugin", err)
			continue
		}
		if err := reg.Add(g); err != nil {
			errutil.LogErrorContext(ctx, log, "skipping manifest plugin", oops.With("dir", d.Dir).Wrap(err))
			continue
		}
		modules[g.Module()] = g.Name()
		receivers = append(receivers, g)
	}

	if err := reg.InitAll(ctx); err != nil {
		return unwind("initialize plugins", err)
	}

	b.session = session
	b.log = log
	b.runtime = rt
	b.registry = reg
	b.apb = apbPlugin
	b.receivers = receivers

	log.InfoContext(ctx, "bridge initialized", "plugins", reg.Len())
	return nil
}

func (b *Bridge) initFailed(ctx context.Context, log *slog.Logger, step string, err error) error {
	werr := oops.In("bridge").Code(CodeBridgeInitFailed).
		With("step", step).
		Wrapf(err, "bridge initialization failed")
	errutil.LogErrorContext(ctx, log, "bridge initialization failed", werr)
	return werr
}

// Finalize cleans up every plugin, destroys the registry and finalizes the
// runtime. It is a no-op on a bridge that is not ready.
func (b *Bridge) Finalize(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.registry == nil {
		return
	}

	b.registry.CleanupAll(ctx)
	b.registry.Destroy()
	b.runtime.Finalize(ctx)

	b.log.InfoContext(ctx, "bridge finalized")

	b.session = ""
	b.log = b.logger
	b.runtime = nil
	b.registry = nil
	b.apb = nil
	b.receivers = nil
}

// Plugins lists the registered plugins in registration order.
func (b *Bridge) Plugins() []PluginInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.registry == nil {
		return nil
	}

	tags := make(map[string][]string, len(b.receivers))
	for _, r := range b.receivers {
		tags[r.Name()] = r.Tags()
	}

	descriptors := b.registry.Descriptors()
	out := make([]PluginInfo, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, PluginInfo{
			Name:    d.Name(),
			Version: d.Version(),
			Status:  d.Status(),
			Tags:    tags[d.Name()],
		})
	}
	return out
}

// GetTransaction polls the APB plugin. ok is false when there is no
// transaction and whenever anything went wrong; failures are logged.
func (b *Bridge) GetTransaction(ctx context.Context, simTime int64) (txn apb.Transaction, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.apb == nil {
		b.uninitialized(ctx, apb.Name, "get_transaction")
		return apb.Transaction{}, false
	}

	txn, ok, err := b.apb.GetTransaction(ctx, simTime)
	if err != nil {
		errutil.LogErrorContext(ctx, b.log, "get_transaction failed", err)
		return apb.Transaction{}, false
	}
	b.markActive(apb.Name)
	return txn, ok
}

// SendReadData passes read data to the APB plugin. Failures are logged.
func (b *Bridge) SendReadData(ctx context.Context, simTime, data int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.apb == nil {
		b.uninitialized(ctx, apb.Name, "send_read_data")
		return
	}

	if err := b.apb.SendReadData(ctx, simTime, data); err != nil {
		errutil.LogErrorContext(ctx, b.log, "send_read_data failed", err)
		return
	}
	b.markActive(apb.Name)
}

// SendObject routes a tagged payload to the first tag-dispatch plugin, in
// registration order, whose patterns match tag. Failures are logged.
func (b *Bridge) SendObject(ctx context.Context, tag, payload string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.registry == nil {
		b.uninitialized(ctx, generic.Name, "send_object")
		return
	}

	r := route(b.receivers, tag)
	if r == nil {
		errutil.LogErrorContext(ctx, b.log, "no plugin accepts tag",
			oops.In("bridge").Code(CodeNoRoute).With("tag", tag).Errorf("no plugin accepts tag %q", tag))
		return
	}
	b.send(ctx, r, tag, payload)
}

// SendObjectTo delivers a tagged payload to the named tag-dispatch plugin
// without consulting its patterns. Failures are logged.
func (b *Bridge) SendObjectTo(ctx context.Context, name, tag, payload string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.registry == nil {
		b.uninitialized(ctx, name, "send_object_to")
		return
	}

	if d, ok := b.registry.Find(name); ok {
		if r, ok := d.Plugin().(*generic.Plugin); ok {
			b.send(ctx, r, tag, payload)
			return
		}
	}
	errutil.LogErrorContext(ctx, b.log, "unknown plugin",
		oops.In("bridge").Code(CodeUnknownPlugin).
			With("plugin", name).
			With("tag", tag).
			Errorf("no tag-dispatch plugin named %q", name))
}

func (b *Bridge) send(ctx context.Context, r *generic.Plugin, tag, payload string) {
	if err := r.SendObject(ctx, tag, payload); err != nil {
		errutil.LogErrorContext(ctx, b.log, "send_object failed", err)
		return
	}
	b.markActive(r.Name())
}

func (b *Bridge) markActive(name string) {
	if d, ok := b.registry.Find(name); ok {
		d.MarkActive()
	}
}

func (b *Bridge) uninitialized(ctx context.Context, name, operation string) {
	errutil.LogErrorContext(ctx, b.log, "plugin used before initialization",
		oops.In("bridge").Code(plugin.CodeUninitializedUse).
			With("plugin", name).
			With("operation", operation).
			Errorf("plugin %q is not initialized", name))
}
