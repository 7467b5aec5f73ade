// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

package plugin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/oops"

	"github.com/dpibridge/dpibridge/internal/observability"
	"github.com/dpibridge/dpibridge/pkg/errutil"
)

// InitialCapacity is the number of descriptor slots a new registry holds
// before it first grows.
const InitialCapacity = 4

// Registry is an ordered collection of plugins. Insertion order is the order
// plugins are initialized and cleaned up in.
//
// Registry is not safe for concurrent use.
type Registry struct {
	descriptors []*Descriptor
	logger      *slog.Logger
	metrics     *observability.Metrics
	destroyed   bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithMetrics publishes plugin status changes.
func WithMetrics(metrics *observability.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = metrics
	}
}

// NewRegistry creates an empty registry with InitialCapacity slots.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		descriptors: make([]*Descriptor, 0, InitialCapacity),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger.Debug("registry created", "capacity", cap(r.descriptors))
	return r
}

// Add appends p, doubling the registry's capacity when it is full.
// Names are unique: registering a second plugin under an existing name fails
// with DUPLICATE_PLUGIN and leaves the registry unchanged.
func (r *Registry) Add(p Plugin) error {
	if r.destroyed {
		return oops.In("registry").Code(CodeRegistryDestroyed).Errorf("registry has been destroyed")
	}
	if p == nil || p.Name() == "" {
		return oops.In("registry").Code(CodeInvalidPlugin).Errorf("plugin is nil or has no name")
	}
	if _, ok := r.lookup(p.Name()); ok {
		return oops.In("registry").Code(CodeDuplicatePlugin).
			With("plugin", p.Name()).
			Errorf("plugin %q is already registered", p.Name())
	}

	if len(r.descriptors) == cap(r.descriptors) {
		grown := make([]*Descriptor, len(r.descriptors), 2*cap(r.descriptors))
		copy(grown, r.descriptors)
		r.descriptors = grown
	}

	d := &Descriptor{
		name:     p.Name(),
		version:  p.Version(),
		status:   StatusUninitialized,
		plugin:   p,
		onStatus: r.publishStatus,
	}
	r.descriptors = append(r.descriptors, d)
	r.publishStatus(d.name, d.status)

	r.logger.Info("registered plugin", "plugin", d.name, "version", d.version)
	return nil
}

// Find returns the descriptor registered under name.
func (r *Registry) Find(name string) (*Descriptor, bool) {
	d, ok := r.lookup(name)
	if !ok {
		r.logger.Error("plugin not found", "plugin", name)
	}
	return d, ok
}

func (r *Registry) lookup(name string) (*Descriptor, bool) {
	for _, d := range r.descriptors {
		if d.name == name {
			return d, true
		}
	}
	return nil, false
}

// InitAll initializes plugins in insertion order and stops at the first
// failure, marking that plugin StatusError. Plugins initialized before the
// failure stay initialized; unwinding them is the caller's job.
func (r *Registry) InitAll(ctx context.Context) error {
	r.logger.InfoContext(ctx, "initializing plugins", "count", len(r.descriptors))

	for _, d := range r.descriptors {
		if err := guard(func() error { return d.plugin.Init(ctx) }); err != nil {
			d.setStatus(StatusError)
			werr := oops.In("registry").Code(CodePluginInitFailed).
				With("plugin", d.name).
				Wrapf(err, "failed to initialize plugin %q", d.name)
			errutil.LogErrorContext(ctx, r.logger, "plugin init failed", werr)
			return werr
		}
		if d.status != StatusActive {
			d.setStatus(StatusInitialized)
		}
		r.logger.InfoContext(ctx, "plugin initialized", "plugin", d.name, "version", d.version)
	}
	return nil
}

// CleanupAll cleans plugins up in insertion order. Every plugin is visited
// even when an earlier cleanup fails; failures are logged and leave that
// plugin in StatusError.
//
// Insertion order is safe only while plugins hold no references to each
// other's resources. A plugin that depends on another must register after it
// and this loop must then run in reverse.
func (r *Registry) CleanupAll(ctx context.Context) {
	r.logger.InfoContext(ctx, "cleaning up plugins", "count", len(r.descriptors))

	for _, d := range r.descriptors {
		if err := guard(func() error { return d.plugin.Cleanup(ctx) }); err != nil {
			d.setStatus(StatusError)
			errutil.LogErrorContext(ctx, r.logger, "plugin cleanup failed",
				oops.In("registry").Code(CodePluginCleanupFailed).With("plugin", d.name).Wrap(err))
			continue
		}
		d.setStatus(StatusUninitialized)
	}
}

// Destroy drops the registry's storage. It does not clean plugins up; call
// CleanupAll first or their script handles stay held until the runtime is
// finalized.
func (r *Registry) Destroy() {
	if r.destroyed {
		return
	}
	r.descriptors = nil
	r.destroyed = true
	r.logger.Debug("registry destroyed")
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	return len(r.descriptors)
}

// Cap returns the number of slots before the registry next grows.
func (r *Registry) Cap() int {
	return cap(r.descriptors)
}

// Descriptors returns the registered descriptors in insertion order.
func (r *Registry) Descriptors() []*Descriptor {
	out := make([]*Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

func (r *Registry) publishStatus(name string, status Status) {
	r.metrics.SetPluginStatus(name, int(status))
}

// guard converts a panic in plugin code into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin panic: %v", rec)
		}
	}()
	return fn()
}
