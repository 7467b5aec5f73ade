// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

// Package script owns the embedded Lua runtime the bridge calls into.
//
// The runtime is process-wide: at most one Manager may hold a live Lua state
// at a time. gopher-lua states are not goroutine-safe and the Manager adds no
// locking of its own; callers must serialise every method call.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync/atomic"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dpibridge/dpibridge/internal/observability"
	"github.com/dpibridge/dpibridge/pkg/errutil"
)

// DefaultBasePaths are the directories every runtime searches for modules:
// the working directory, the simulation directory and the plugins directory.
var DefaultBasePaths = []string{".", "./sim", "./dpi_bridge/plugins"}

// live is the process-wide claim on the embedded runtime.
var live atomic.Pointer[Manager]

// Runtime is the view of the script runtime that plugins are given.
type Runtime interface {
	// LoadModule requires a module by name. A non-empty searchPath is
	// appended to the module search list first.
	LoadModule(ctx context.Context, name, searchPath string) (*Module, error)

	// ResolveCallable looks up a function exported by a module.
	ResolveCallable(ctx context.Context, module *Module, name string) (*Callable, error)

	// Invoke calls a function. Script errors come back as errors, never panics.
	Invoke(ctx context.Context, callable *Callable, args ...any) (Result, error)
}

// Compile-time interface check.
var _ Runtime = (*Manager)(nil)

// Manager is the lifecycle manager for the embedded Lua runtime.
type Manager struct {
	basePaths []string
	unsafe    bool
	logger    *slog.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer

	L       *lua.LState
	paths   []string
	handles map[uint64]handle
	nextID  uint64

	// defined records, per module name, the globals that module's chunk
	// assigned when it was first required.
	defined map[string]map[string]bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithBasePaths replaces DefaultBasePaths.
func WithBasePaths(paths ...string) Option {
	return func(m *Manager) {
		m.basePaths = slices.Clone(paths)
	}
}

// WithUnsafeLibraries opens the io, os and debug libraries.
func WithUnsafeLibraries(enabled bool) Option {
	return func(m *Manager) {
		m.unsafe = enabled
	}
}

// WithLogger sets the logger used for runtime and script output.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics records invocation counts.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = tracer
	}
}

// NewManager creates a manager. No runtime exists until Initialize.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		basePaths: slices.Clone(DefaultBasePaths),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer("github.com/dpibridge/dpibridge/internal/script")
	}
	return m
}

// Initialized reports whether the manager holds a live runtime.
func (m *Manager) Initialized() bool {
	return m.L != nil
}

// SearchPath returns the module search directories in lookup order.
func (m *Manager) SearchPath() []string {
	return slices.Clone(m.paths)
}

// Initialize starts the runtime. Calling it again on a live manager is a
// no-op. It fails if a different manager already owns the process runtime.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.L != nil {
		m.logger.InfoContext(ctx, "script runtime already initialized")
		return nil
	}

	if !live.CompareAndSwap(nil, m) {
		return oops.In("script").Code(CodeRuntimeAlreadyLive).
			With("operation", "initialize").
			Errorf("another script runtime is live in this process")
	}

	L, err := NewStateFactory(m.unsafe, m.logger).NewState(ctx)
	if err != nil {
		live.CompareAndSwap(m, nil)
		return oops.In("script").Code(CodeRuntimeInitFailed).
			With("operation", "initialize").
			Wrap(err)
	}

	m.L = L
	m.paths = slices.Clone(m.basePaths)
	m.handles = make(map[uint64]handle)
	m.defined = make(map[string]map[string]bool)
	setSearchPath(L, m.paths)

	m.logger.InfoContext(ctx, "script runtime initialized",
		"search_path", m.paths,
		"unsafe_libraries", m.unsafe)
	return nil
}

// Finalize releases every outstanding handle and then closes the runtime.
// It is a no-op on a manager that was never initialized.
func (m *Manager) Finalize(ctx context.Context) {
	if m.L == nil {
		return
	}

	leaked := m.releaseAll()
	if leaked > 0 {
		m.logger.WarnContext(ctx, "released handles still held at finalize", "count", leaked)
	}

	m.L.Close()
	m.L = nil
	m.paths = nil
	m.handles = nil
	m.defined = nil
	live.CompareAndSwap(m, nil)

	m.logger.InfoContext(ctx, "script runtime finalized")
}

// LoadModule requires name, appending searchPath to the search list first
// when it is non-empty and not already present.
func (m *Manager) LoadModule(ctx context.Context, name, searchPath string) (*Module, error) {
	if m.L == nil {
		return nil, m.notReady("load_module").With("module", name).Errorf("script runtime not initialized")
	}
	if name == "" {
		return nil, oops.In("script").Code(CodeModuleLoadFailed).
			With("operation", "load_module").
			Errorf("module name is empty")
	}

	if searchPath != "" {
		m.appendSearchPath(searchPath)
	}

	cached := m.loaded(name) != lua.LNil
	var before map[string]lua.LValue
	if !cached {
		before = m.globals()
	}

	rets, err := m.call(ctx, m.L.GetGlobal("require"), lua.LString(name))
	if err != nil {
		diag, _ := diagnose(err)
		werr := oops.In("script").Code(CodeModuleLoadFailed).
			With("module", name).
			With("search_path", m.SearchPath()).
			With("diagnostic", diag).
			Hint("check the module name and the search path").
			Wrapf(err, "failed to load module %q", name)
		errutil.LogErrorContext(ctx, m.logger, "failed to load module", werr)
		return nil, werr
	}

	var exports *lua.LTable
	if len(rets) > 0 {
		exports, _ = rets[0].(*lua.LTable)
	}

	if !cached {
		m.defined[name] = m.assignedSince(before)
	}

	mod := &Module{
		owner:   m,
		id:      m.allocID(),
		name:    name,
		exports: exports,
		globals: m.defined[name],
	}
	m.handles[mod.id] = mod

	m.logger.InfoContext(ctx, "loaded module", "module", name)
	return mod, nil
}

// ResolveCallable verifies name is a function exported by module. A module
// that returned a table exports exactly that table's fields; any other module
// exports the globals its own chunk assigned. Globals defined by other
// modules never resolve.
func (m *Manager) ResolveCallable(ctx context.Context, module *Module, name string) (*Callable, error) {
	if m.L == nil {
		return nil, m.notReady("resolve_callable").With("function", name).Errorf("script runtime not initialized")
	}

	errb := oops.In("script").Code(CodeCallableNotResolved).
		With("module", module.Name()).
		With("function", name)

	if !module.Valid() {
		err := errb.Hint("module handle is nil or released").Errorf("cannot find function %q: invalid module", name)
		errutil.LogErrorContext(ctx, m.logger, "failed to resolve function", err)
		return nil, err
	}

	var value lua.LValue = lua.LNil
	switch {
	case module.exports != nil:
		value = module.exports.RawGetString(name)
	case module.globals[name]:
		value = m.L.GetGlobal(name)
	}

	fn, ok := value.(*lua.LFunction)
	if !ok {
		var err error
		if value == lua.LNil {
			err = errb.Errorf("cannot find function %q in module %q", name, module.Name())
		} else {
			err = errb.With("type", value.Type().String()).
				Errorf("%q in module %q is a %s, not a function", name, module.Name(), value.Type())
		}
		errutil.LogErrorContext(ctx, m.logger, "failed to resolve function", err)
		return nil, err
	}

	c := &Callable{
		owner:  m,
		id:     m.allocID(),
		module: module.Name(),
		name:   name,
		fn:     fn,
	}
	m.handles[c.id] = c

	m.logger.DebugContext(ctx, "resolved function", "module", c.module, "function", name)
	return c, nil
}

// Invoke calls the function with args and decodes every return value.
// Script errors and Go panics raised from inside the call are returned as
// INVOCATION_FAILED errors carrying the script's diagnostic text.
func (m *Manager) Invoke(ctx context.Context, callable *Callable, args ...any) (Result, error) {
	ctx, span := m.tracer.Start(ctx, "script.invoke",
		trace.WithAttributes(
			attribute.String("script.module", callable.Module()),
			attribute.String("script.function", callable.Name()),
		))
	defer span.End()

	if m.L == nil {
		err := m.notReady("invoke").With("function", callable.Name()).Errorf("script runtime not initialized")
		span.SetStatus(codes.Error, "runtime not initialized")
		return Result{}, err
	}
	if !callable.Valid() {
		span.SetStatus(codes.Error, "handle released")
		return Result{}, oops.In("script").Code(CodeHandleReleased).
			With("module", callable.Module()).
			With("function", callable.Name()).
			Errorf("function handle is nil or released")
	}

	largs := make([]lua.LValue, 0, len(args))
	for _, arg := range args {
		lv, err := toLua(m.L, arg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "unsupported argument")
			m.metrics.RecordInvocation(callable.module, callable.name, "error")
			return Result{}, oops.In("script").Code(CodeInvocationFailed).
				With("module", callable.module).
				With("function", callable.name).
				Wrap(err)
		}
		largs = append(largs, lv)
	}

	rets, err := m.call(ctx, callable.fn, largs...)
	if err != nil {
		diag, traceback := diagnose(err)
		werr := oops.In("script").Code(CodeInvocationFailed).
			With("module", callable.module).
			With("function", callable.name).
			With("diagnostic", diag).
			Wrapf(err, "call to %s.%s failed", callable.module, callable.name)
		span.RecordError(werr)
		span.SetStatus(codes.Error, diag)
		m.metrics.RecordInvocation(callable.module, callable.name, "error")
		m.logger.DebugContext(ctx, "script traceback",
			"module", callable.module,
			"function", callable.name,
			"traceback", traceback)
		return Result{}, werr
	}

	values := make([]any, len(rets))
	for i, lv := range rets {
		values[i] = fromLua(lv)
	}
	m.metrics.RecordInvocation(callable.module, callable.name, "ok")
	return NewResult(values...), nil
}

// call runs fn in protected mode and returns all of its results, leaving the
// Lua stack as it found it.
func (m *Manager) call(ctx context.Context, fn lua.LValue, args ...lua.LValue) ([]lua.LValue, error) {
	L := m.L
	L.SetContext(ctx)
	defer L.RemoveContext()

	base := L.GetTop()
	defer L.SetTop(base)

	L.Push(fn)
	for _, arg := range args {
		L.Push(arg)
	}

	if err := protect(func() error {
		return L.PCall(len(args), lua.MultRet, nil)
	}); err != nil {
		return nil, err
	}

	n := L.GetTop() - base
	rets := make([]lua.LValue, n)
	for i := 0; i < n; i++ {
		rets[i] = L.Get(base + 1 + i)
	}
	return rets, nil
}

// protect turns a Go panic escaping fn into an error.
func protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// diagnose extracts the script error message and traceback.
func diagnose(err error) (diagnostic, traceback string) {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		if apiErr.Object != nil {
			diagnostic = apiErr.Object.String()
		}
		return diagnostic, apiErr.StackTrace
	}
	return err.Error(), ""
}

// loaded returns package.loaded[name].
func (m *Manager) loaded(name string) lua.LValue {
	pkg, ok := m.L.GetGlobal("package").(*lua.LTable)
	if !ok {
		return lua.LNil
	}
	loaded, ok := pkg.RawGetString("loaded").(*lua.LTable)
	if !ok {
		return lua.LNil
	}
	return loaded.RawGetString(name)
}

// globals snapshots the string-keyed globals.
func (m *Manager) globals() map[string]lua.LValue {
	out := make(map[string]lua.LValue)
	m.L.G.Global.ForEach(func(k, v lua.LValue) {
		if key, ok := k.(lua.LString); ok {
			out[string(key)] = v
		}
	})
	return out
}

// assignedSince returns the globals whose value differs from before.
func (m *Manager) assignedSince(before map[string]lua.LValue) map[string]bool {
	out := make(map[string]bool)
	m.L.G.Global.ForEach(func(k, v lua.LValue) {
		key, ok := k.(lua.LString)
		if !ok {
			return
		}
		if prev, seen := before[string(key)]; !seen || prev != v {
			out[string(key)] = true
		}
	})
	return out
}

func (m *Manager) notReady(operation string) oops.OopsErrorBuilder {
	return oops.In("script").Code(CodeRuntimeNotReady).With("operation", operation)
}

func (m *Manager) appendSearchPath(dir string) {
	if slices.Contains(m.paths, dir) {
		return
	}
	m.paths = append(m.paths, dir)
	setSearchPath(m.L, m.paths)
}

func (m *Manager) allocID() uint64 {
	m.nextID++
	return m.nextID
}

// forget drops h from the arena and invalidates it.
func (m *Manager) forget(h handle) {
	if m.handles != nil {
		delete(m.handles, h.handleID())
	}
	h.invalidate()
}

// releaseAll invalidates every live handle, callables before modules, and
// returns how many there were.
func (m *Manager) releaseAll() int {
	hs := make([]handle, 0, len(m.handles))
	for _, h := range m.handles {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool {
		if hs[i].isCallable() != hs[j].isCallable() {
			return hs[i].isCallable()
		}
		return hs[i].handleID() < hs[j].handleID()
	})
	for _, h := range hs {
		m.forget(h)
	}
	return len(hs)
}
