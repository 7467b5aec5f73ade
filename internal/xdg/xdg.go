// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

// Package xdg provides XDG Base Directory paths for DPIBridge.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "dpibridge"

// configFileName is the file ConfigFile looks for in ConfigDir.
const configFileName = "config.yaml"

// ConfigDir returns the XDG config directory for dpibridge.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// ConfigFile returns the per-user config file path when that file exists,
// or "" when it does not.
func ConfigFile() string {
	path := filepath.Join(ConfigDir(), configFileName)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	return path
}
