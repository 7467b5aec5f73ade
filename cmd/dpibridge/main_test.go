// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simConfig writes a config file pointing at the sample simulation
// directory and returns its path.
func simConfig(t *testing.T) string {
	t.Helper()
	sim, err := filepath.Abs(filepath.Join("..", "..", "examples", "sim"))
	require.NoError(t, err)

	body := fmt.Sprintf(`log:
  format: text
  level: debug
script:
  base_paths: [%q]
plugins:
  dir: %q
  apb:
    search_path: %q
  generic:
    search_path: %q
`, sim,
		filepath.Join(sim, "dpi_bridge", "plugins"),
		filepath.Join(sim, "tests"),
		filepath.Join(sim, "dpi_bridge", "plugins", "generic", "parsers"))

	path := filepath.Join(t.TempDir(), "dpibridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// execute runs the root command and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCmd()
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	out, _, err := execute(t, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"run", "send", "plugins", "validate", "schema"} {
		assert.Contains(t, out, sub, "Help missing %q command", sub)
	}
}

func TestRootCommand_VersionFlag(t *testing.T) {
	cmd := NewRootCmd()
	cmd.Version = "test-version"
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "test-version")
}

func TestRootCommand_FlagKeysNameRealFlags(t *testing.T) {
	cmd := NewRootCmd()
	run, _, err := cmd.Find([]string{"run"})
	require.NoError(t, err)

	for flag := range flagKeys {
		defined := run.Flags().Lookup(flag) != nil || run.InheritedFlags().Lookup(flag) != nil
		assert.True(t, defined, "flag %q is not defined on run", flag)
	}
}

func TestRunCommand_DrivesRegisterFile(t *testing.T) {
	out, logs, err := execute(t, "run", "--config", simConfig(t), "--max-cycles", "100", "--idle-cycles", "4")
	require.NoError(t, err)

	// four transactions on cycles 0-3, then four empty polls
	assert.Equal(t, "cycles=8 writes=2 reads=2\n", out)
	assert.Contains(t, logs, "apb read @2: 0xDEADBEEF")
	assert.Contains(t, logs, "apb read @3: 0x00C0FFEE")
	assert.Contains(t, logs, "run complete")
}

func TestRunCommand_MaxCyclesBoundsTheRun(t *testing.T) {
	out, _, err := execute(t, "run", "--config", simConfig(t), "--max-cycles", "2")
	require.NoError(t, err)
	assert.Equal(t, "cycles=2 writes=2 reads=0\n", out)
}

func TestRunCommand_ServesMetrics(t *testing.T) {
	_, logs, err := execute(t, "run", "--config", simConfig(t), "--max-cycles", "8", "--metrics-addr", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Contains(t, logs, "observability server listening")
	assert.Contains(t, logs, "observability server stopped")
}

func TestRunConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     runConfig
		wantErr string
	}{
		{name: "defaults", cfg: runConfig{maxCycles: 1000, idleCycles: 16}},
		{name: "no idle limit", cfg: runConfig{maxCycles: 1}},
		{name: "zero cycles", cfg: runConfig{}, wantErr: "max-cycles must be positive"},
		{name: "negative idle", cfg: runConfig{maxCycles: 1, idleCycles: -1}, wantErr: "idle-cycles must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRunCommand_BadConfigFails(t *testing.T) {
	_, _, err := execute(t, "run", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestSendCommand(t *testing.T) {
	cfg := simConfig(t)

	t.Run("routes by tag", func(t *testing.T) {
		_, logs, err := execute(t, "send", "--config", cfg, "--tag", "axi.tdata", "--payload", "ff:1")
		require.NoError(t, err)
		assert.Contains(t, logs, "axi.tdata beat 1 data=ff last=1")
	})

	t.Run("falls back to the catch-all", func(t *testing.T) {
		_, logs, err := execute(t, "send", "--config", cfg, "--tag", "uart.rx", "--payload", "hello")
		require.NoError(t, err)
		assert.Contains(t, logs, "object uart.rx #1 (5 bytes)")
	})

	t.Run("explicit plugin", func(t *testing.T) {
		_, logs, err := execute(t, "send", "--config", cfg, "--plugin", "generic", "--tag", "axi.tdata", "--payload", "ff:1")
		require.NoError(t, err)
		assert.Contains(t, logs, "object axi.tdata #1 (4 bytes)")
	})

	t.Run("tag required", func(t *testing.T) {
		_, _, err := execute(t, "send", "--config", cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--tag is required")
	})
}

func TestPluginsCommand_ListsRegistrationOrder(t *testing.T) {
	out, _, err := execute(t, "plugins", "--config", simConfig(t))
	require.NoError(t, err)

	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "axi.*")
	apbAt := strings.Index(out, "apb")
	genericAt := strings.Index(out, "generic")
	axiAt := strings.Index(out, "axi-stream")
	assert.True(t, apbAt < genericAt && genericAt < axiAt, "unexpected order:\n%s", out)
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "plugin.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("name: Bad\nversion: 1.0.0\nmodule: m\n"), 0o600))
	good := filepath.Join("..", "..", "examples", "sim", "dpi_bridge", "plugins", "axi-stream", "plugin.yaml")

	out, _, err := execute(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "ok   "+good)

	out, _, err = execute(t, "validate", good, bad)
	require.Error(t, err)
	assert.Contains(t, out, "FAIL "+bad)
	assert.Contains(t, err.Error(), "1 of 2 manifests invalid")
}

func TestSchemaCommand(t *testing.T) {
	out, _, err := execute(t, "schema")
	require.NoError(t, err)
	assert.Contains(t, out, "https://dpibridge.dev/schemas/plugin.schema.json")

	path := filepath.Join(t.TempDir(), "schemas", "plugin.schema.json")
	out, _, err = execute(t, "schema", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Generated "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"title": "DPIBridge Plugin Manifest"`)
}
