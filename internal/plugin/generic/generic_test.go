// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

package generic_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpibridge/dpibridge/internal/observability"
	"github.com/dpibridge/dpibridge/internal/plugin"
	"github.com/dpibridge/dpibridge/internal/plugin/generic"
	"github.com/dpibridge/dpibridge/internal/script"
	"github.com/dpibridge/dpibridge/pkg/errutil"
)

// recorder stores every object it receives in the global received table.
const recorder = `
received = {}
return {
  receive_object = function(tag, payload)
    received[#received + 1] = tag .. "=" .. payload
    return "ignored"
  end,
}
`

func newRuntime(t *testing.T, modules map[string]string) *script.Manager {
	t.Helper()
	dir := t.TempDir()
	for name, body := range modules {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".lua"), []byte(body), 0o600))
	}
	m := script.NewManager(script.WithBasePaths(dir))
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { m.Finalize(context.Background()) })
	return m
}

func received(t *testing.T, rt *script.Manager, ctx context.Context) []any {
	t.Helper()
	mod, err := rt.LoadModule(ctx, "inspect", "")
	require.NoError(t, err)
	defer mod.Release()
	fn, err := rt.ResolveCallable(ctx, mod, "dump")
	require.NoError(t, err)
	defer fn.Release()
	res, err := rt.Invoke(ctx, fn)
	require.NoError(t, err)
	if res.IsNil() {
		return nil
	}
	list, ok := res.Values()[0].([]any)
	require.True(t, ok)
	return list
}

const inspect = `return { dump = function() return received end }`

func TestPlugin_SendObjectForwardsVerbatim(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, map[string]string{"object_receiver": recorder, "inspect": inspect})
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	cfg := generic.DefaultConfig()
	cfg.SearchPath = ""
	p, err := generic.New(rt, cfg, generic.WithMetrics(metrics))
	require.NoError(t, err)
	require.NoError(t, p.Init(ctx))

	require.NoError(t, p.SendObject(ctx, "axi.write", `{"addr": 16}`))
	require.NoError(t, p.SendObject(ctx, "", ""))

	assert.Equal(t, []any{`axi.write={"addr": 16}`, "="}, received(t, rt, ctx))
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.ObjectsTotal.WithLabelValues("generic", "ok")), 0)
}

func TestPlugin_SendObjectBeforeInit(t *testing.T) {
	p, err := generic.New(nil, generic.DefaultConfig())
	require.NoError(t, err)

	var sendErr error
	require.NotPanics(t, func() {
		sendErr = p.SendObject(context.Background(), "x", "{}")
	})
	errutil.AssertErrorCode(t, sendErr, plugin.CodeUninitializedUse)
	errutil.AssertErrorContext(t, sendErr, "plugin", "generic")
}

func TestPlugin_ScriptErrorCounted(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, map[string]string{"object_receiver": `
return { receive_object = function(tag) error("cannot parse " .. tag) end }
`})
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	cfg := generic.DefaultConfig()
	cfg.SearchPath = ""
	p, err := generic.New(rt, cfg, generic.WithMetrics(metrics))
	require.NoError(t, err)
	require.NoError(t, p.Init(ctx))

	err = p.SendObject(ctx, "uart", "garbage")
	errutil.AssertErrorCode(t, err, script.CodeInvocationFailed)
	errutil.AssertErrorContext(t, err, "tag", "uart")
	assert.Contains(t, err.Error(), "cannot parse uart")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.ObjectsTotal.WithLabelValues("generic", "error")), 0)
}

func TestPlugin_InitMissingFunction(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t, map[string]string{"object_receiver": `return {}`})

	cfg := generic.DefaultConfig()
	cfg.SearchPath = ""
	p, err := generic.New(rt, cfg)
	require.NoError(t, err)

	err = p.Init(ctx)
	errutil.AssertErrorCode(t, err, script.CodeCallableNotResolved)
	assert.False(t, p.Initialized())
	require.NoError(t, p.Cleanup(ctx))
}

func TestPlugin_Matches(t *testing.T) {
	all, err := generic.New(nil, generic.DefaultConfig())
	require.NoError(t, err)
	assert.True(t, all.Matches("anything.at.all"))
	assert.True(t, all.Matches(""))
	assert.True(t, all.CatchAll())

	axi, err := generic.New(nil, generic.Config{
		Name:   "axi",
		Module: "axi_receiver",
		Tags:   []string{"axi.*", "stream.**"},
	})
	require.NoError(t, err)
	assert.False(t, axi.CatchAll())
	assert.True(t, axi.Matches("axi.write"))
	assert.False(t, axi.Matches("axi.write.burst"))
	assert.True(t, axi.Matches("stream.tx.burst"))
	assert.False(t, axi.Matches("uart"))
	assert.Equal(t, "0.0.0", axi.Version())
	assert.Equal(t, plugin.DefaultReceiveFunction, generic.DefaultConfig().Function)
}

func TestNew_Rejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  generic.Config
	}{
		{"no name", generic.Config{Module: "m"}},
		{"no module", generic.Config{Name: "x"}},
		{"bad pattern", generic.Config{Name: "x", Module: "m", Tags: []string{"axi.["}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := generic.New(nil, tt.cfg)
			errutil.AssertErrorCode(t, err, plugin.CodeInvalidPlugin)
		})
	}
}

func TestConfigFromManifest(t *testing.T) {
	d := &plugin.Discovered{
		Manifest: &plugin.Manifest{
			Name:    "axi",
			Version: "1.1.0",
			Module:  "axi_receiver",
			Tags:    []string{"axi.*"},
		},
		Dir: "/plugins/axi",
	}

	cfg := generic.ConfigFromManifest(d)
	assert.Equal(t, generic.Config{
		Name:       "axi",
		Version:    "1.1.0",
		Module:     "axi_receiver",
		SearchPath: "/plugins/axi",
		Function:   plugin.DefaultReceiveFunction,
		Tags:       []string{"axi.*"},
	}, cfg)
}
