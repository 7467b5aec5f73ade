// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

// Package plugin provides the protocol plugin contract and the registry that
// sequences plugin lifecycles.
package plugin

import (
	"context"
)

// Status is a plugin's position in its lifecycle.
type Status int

// Plugin lifecycle states.
const (
	StatusUninitialized Status = iota
	StatusInitialized
	StatusActive
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusInitialized:
		return "initialized"
	case StatusActive:
		return "active"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Plugin is the capability set every protocol plugin implements.
//
// Init acquires the plugin's script handles and Cleanup releases them. Both
// must be safe to call repeatedly, and Cleanup must be safe on a plugin whose
// Init failed or never ran.
type Plugin interface {
	// Name is the plugin's unique registry key.
	Name() string

	// Version is the plugin's semantic version.
	Version() string

	// Init loads the plugin's module and resolves its functions.
	Init(ctx context.Context) error

	// Cleanup releases every handle Init acquired.
	Cleanup(ctx context.Context) error
}

// Descriptor is a registered plugin together with its lifecycle status.
// The Plugin value doubles as the plugin's private state.
type Descriptor struct {
	name     string
	version  string
	status   Status
	plugin   Plugin
	onStatus func(name string, status Status)
}

// Name returns the plugin name.
func (d *Descriptor) Name() string {
	return d.name
}

// Version returns the plugin version.
func (d *Descriptor) Version() string {
	return d.version
}

// Status returns the current lifecycle status.
func (d *Descriptor) Status() Status {
	return d.status
}

// Plugin returns the registered plugin.
func (d *Descriptor) Plugin() Plugin {
	return d.plugin
}

// MarkActive records the first successful steady-state call. Only an
// initialized plugin can become active.
func (d *Descriptor) MarkActive() {
	if d.status == StatusInitialized {
		d.setStatus(StatusActive)
	}
}

func (d *Descriptor) setStatus(status Status) {
	d.status = status
	if d.onStatus != nil {
		d.onStatus(d.name, status)
	}
}
