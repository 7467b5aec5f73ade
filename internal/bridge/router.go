// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

package bridge

import (
	"github.com/dpibridge/dpibridge/internal/plugin/generic"
)

// route picks the receiver for tag. Receivers that declare patterns are
// tried first, in registration order; catch-all receivers only get tags no
// pattern claimed. Payloads are never consulted.
func route(receivers []*generic.Plugin, tag string) *generic.Plugin {
	var fallback *generic.Plugin
	for _, r := range receivers {
		if r.CatchAll() {
			if fallback == nil {
				fallback = r
			}
			continue
		}
		if r.Matches(tag) {
			return r
		}
	}
	return fallback
}
