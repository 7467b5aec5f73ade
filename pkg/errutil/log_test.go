// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

package errutil_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpibridge/dpibridge/pkg/errutil"
)

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.In("script").
		Code("MODULE_LOAD_FAILED").
		With("module", "apb_driver").
		Hint("check the search path").
		Errorf("module not found")

	errutil.LogError(logger, "plugin init failed", err)

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "ERROR", logEntry["level"])
	assert.Equal(t, "plugin init failed", logEntry["msg"])
	assert.Equal(t, "MODULE_LOAD_FAILED", logEntry["code"])
	assert.Equal(t, "script", logEntry["domain"])
	assert.Equal(t, "check the search path", logEntry["hint"])
	require.IsType(t, map[string]any{}, logEntry["context"])
	assert.Equal(t, "apb_driver", logEntry["context"].(map[string]any)["module"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := errors.New("standard error")

	errutil.LogError(logger, "operation failed", err)

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "ERROR", logEntry["level"])
	assert.Contains(t, logEntry["error"], "standard error")
	assert.NotContains(t, logEntry, "code")
}

func TestLogErrorContext_NilLoggerUsesDefault(t *testing.T) {
	var buf bytes.Buffer
	original := slog.Default()
	defer slog.SetDefault(original)
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))

	errutil.LogErrorContext(context.Background(), nil, "fallback", errors.New("boom"))

	assert.Contains(t, buf.String(), "fallback")
	assert.Contains(t, buf.String(), "boom")
}
