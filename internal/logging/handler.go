// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

// Package logging builds the bridge's slog loggers. Records logged with a
// context that carries an OpenTelemetry span gain trace_id and span_id.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Options selects what New writes.
type Options struct {
	Service string
	Version string
	// Format is "text" or "json". Anything else, including "", is json.
	Format string
	// Level is read with ParseLevel.
	Level string
}

// ParseLevel maps debug, info, warn or error to a slog level. Anything else,
// including the empty string, is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a logger writing to w, or to stderr when w is nil. Service
// and version are attached once at the top level of every record.
func New(w io.Writer, o Options) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	ho := &slog.HandlerOptions{Level: ParseLevel(o.Level)}

	var h slog.Handler
	if o.Format == "text" {
		h = slog.NewTextHandler(w, ho)
	} else {
		h = slog.NewJSONHandler(w, ho)
	}
	h = h.WithAttrs([]slog.Attr{
		slog.String("service", o.Service),
		slog.String("version", o.Version),
	})
	return slog.New(spanHandler{h})
}

// Install builds a stderr logger with New and makes it the slog default.
func Install(o Options) *slog.Logger {
	logger := New(nil, o)
	slog.SetDefault(logger)
	return logger
}

// spanHandler stamps the active span's IDs onto each record.
type spanHandler struct {
	slog.Handler
}

func (h spanHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	//nolint:wrapcheck // slog.Handler errors pass through unchanged
	return h.Handler.Handle(ctx, r)
}

func (h spanHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return spanHandler{h.Handler.WithAttrs(attrs)}
}

func (h spanHandler) WithGroup(name string) slog.Handler {
	return spanHandler{h.Handler.WithGroup(name)}
}
