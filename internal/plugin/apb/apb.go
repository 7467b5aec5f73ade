// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

// Package apb implements the typed-tuple plugin that drives an APB bus
// functional model from a script: the simulator polls for the next
// transaction and posts read data back.
package apb

import (
	"context"
	"log/slog"
	"math"

	"github.com/samber/oops"

	"github.com/dpibridge/dpibridge/internal/observability"
	"github.com/dpibridge/dpibridge/internal/plugin"
	"github.com/dpibridge/dpibridge/internal/script"
)

// Name is the registry key of the APB plugin.
const Name = "apb"

// Version is the APB plugin version.
const Version = "1.0.0"

// Config names the script module and functions the plugin binds to.
type Config struct {
	Module         string
	SearchPath     string
	GetTransaction string
	SendReadData   string
}

// DefaultConfig returns the stock binding: apb_driver under ./tests.
func DefaultConfig() Config {
	return Config{
		Module:         "apb_driver",
		SearchPath:     "./tests",
		GetTransaction: "get_transaction",
		SendReadData:   "send_read_data",
	}
}

// Transaction is one bus operation requested by the script.
type Transaction struct {
	IsWrite bool
	Addr    int64
	Data    int64
}

// Plugin is the APB protocol plugin. It is not safe for concurrent use.
type Plugin struct {
	rt      script.Runtime
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics

	module       *script.Module
	getTxn       *script.Callable
	sendReadData *script.Callable
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

// WithMetrics counts transactions and malformed returns.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(p *Plugin) {
		p.metrics = metrics
	}
}

// New creates an uninitialized APB plugin bound to rt. An empty module or
// function name falls back to DefaultConfig; an empty SearchPath adds no
// directory.
func New(rt script.Runtime, cfg Config, opts ...Option) *Plugin {
	def := DefaultConfig()
	if cfg.Module == "" {
		cfg.Module = def.Module
	}
	if cfg.GetTransaction == "" {
		cfg.GetTransaction = def.GetTransaction
	}
	if cfg.SendReadData == "" {
		cfg.SendReadData = def.SendReadData
	}

	p := &Plugin{
		rt:     rt,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("plugin", Name)
	return p
}

// Name returns "apb".
func (p *Plugin) Name() string { return Name }

// Module returns the script module the plugin loads.
func (p *Plugin) Module() string { return p.cfg.Module }

// Version returns the plugin version.
func (p *Plugin) Version() string { return Version }

// Initialized reports whether Init has bound both functions.
func (p *Plugin) Initialized() bool {
	return p.getTxn.Valid() && p.sendReadData.Valid()
}

// Init loads the driver module and resolves both functions. On failure every
// handle acquired so far is released.
func (p *Plugin) Init(ctx context.Context) error {
	if p.Initialized() {
		return nil
	}
	p.release()

	mod, err := p.rt.LoadModule(ctx, p.cfg.Module, p.cfg.SearchPath)
	if err != nil {
		return err
	}
	p.module = mod

	p.getTxn, err = p.rt.ResolveCallable(ctx, mod, p.cfg.GetTransaction)
	if err != nil {
		p.release()
		return err
	}
	p.sendReadData, err = p.rt.ResolveCallable(ctx, mod, p.cfg.SendReadData)
	if err != nil {
		p.release()
		return err
	}

	p.logger.InfoContext(ctx, "apb plugin ready", "module", p.cfg.Module)
	return nil
}

// Cleanup releases the plugin's handles. It is safe to call repeatedly.
func (p *Plugin) Cleanup(ctx context.Context) error {
	p.release()
	p.logger.DebugContext(ctx, "apb plugin cleaned up")
	return nil
}

func (p *Plugin) release() {
	p.getTxn.Release()
	p.sendReadData.Release()
	p.module.Release()
	p.getTxn, p.sendReadData, p.module = nil, nil, nil
}

// GetTransaction asks the script for the transaction to issue at simTime.
// ok is false when the script has nothing to issue. A return value that is
// not a transaction yields a MALFORMED_RETURN_VALUE error.
func (p *Plugin) GetTransaction(ctx context.Context, simTime int64) (txn Transaction, ok bool, err error) {
	if !p.Initialized() {
		return Transaction{}, false, p.uninitialized("get_transaction")
	}

	res, err := p.rt.Invoke(ctx, p.getTxn, simTime)
	if err != nil {
		return Transaction{}, false, err
	}
	if res.IsNil() {
		p.metrics.RecordTransaction(Name, "none")
		return Transaction{}, false, nil
	}

	txn, err = decodeTransaction(res.Values())
	if err != nil {
		p.metrics.RecordMalformedReturn(Name)
		return Transaction{}, false, oops.In("apb").Code(plugin.CodeMalformedReturn).
			With("plugin", Name).
			With("function", p.cfg.GetTransaction).
			With("sim_time", simTime).
			Hint("return nil or (is_write, addr, data)").
			Wrap(err)
	}

	kind := "read"
	if txn.IsWrite {
		kind = "write"
	}
	p.metrics.RecordTransaction(Name, kind)
	return txn, true, nil
}

// SendReadData hands the data read at simTime back to the script.
func (p *Plugin) SendReadData(ctx context.Context, simTime, data int64) error {
	if !p.Initialized() {
		return p.uninitialized("send_read_data")
	}
	_, err := p.rt.Invoke(ctx, p.sendReadData, simTime, data)
	return err
}

func (p *Plugin) uninitialized(operation string) error {
	return oops.In("apb").Code(plugin.CodeUninitializedUse).
		With("plugin", Name).
		With("operation", operation).
		Errorf("apb plugin used before initialization")
}

// decodeTransaction accepts either three return values or one three-element
// sequence table.
func decodeTransaction(values []any) (Transaction, error) {
	fields := values
	if len(values) == 1 {
		seq, ok := values[0].([]any)
		if !ok {
			return Transaction{}, oops.Errorf("expected a 3-tuple, got %T", values[0])
		}
		fields = seq
	}
	if len(fields) != 3 {
		return Transaction{}, oops.Errorf("expected a 3-tuple, got %d values", len(fields))
	}

	var (
		txn  Transaction
		nums [3]int64
	)
	for i, f := range fields {
		n, err := toInt(f)
		if err != nil {
			return Transaction{}, oops.With("index", i).Wrap(err)
		}
		nums[i] = n
	}
	txn.IsWrite = nums[0] != 0
	txn.Addr = nums[1]
	txn.Data = nums[2]
	return txn, nil
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case int64:
		return n, nil
	case float64:
		if n == math.Trunc(n) && n >= math.MinInt64 && n < math.MaxInt64 {
			return int64(n), nil
		}
		return 0, oops.Errorf("%v is not an integer", n)
	default:
		return 0, oops.Errorf("%T is not an integer", v)
	}
}
