// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

package bridge

import (
	"sync"

	"github.com/dpibridge/dpibridge/internal/config"
	"github.com/dpibridge/dpibridge/internal/logging"
)

var (
	defaultMu     sync.Mutex
	defaultBridge *Bridge
)

// Default returns the process-wide bridge used by the C entry points,
// building it on first use from $DPIBRIDGE_CONFIG and DPIBRIDGE_*
// variables. The configured logger also becomes the slog default for the
// library. A configuration error is returned and retried on the next call.
func Default() (*Bridge, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultBridge != nil {
		return defaultBridge, nil
	}

	cfg, err := config.Load(config.LoadOptions{})
	if err != nil {
		return nil, err
	}

	logger := logging.Install(logging.Options{
		Service: "dpibridge",
		Version: Version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})
	defaultBridge = New(*cfg, WithLogger(logger))
	return defaultBridge, nil
}
