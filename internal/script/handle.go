// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

package script

import (
	lua "github.com/yuin/gopher-lua"
)

// handle is an owned reference into the runtime. The manager keeps every
// live handle in its arena so Finalize can release whatever plugins forgot.
type handle interface {
	handleID() uint64
	isCallable() bool
	invalidate()
}

// Module is an owned reference to a loaded script module.
//
// A Module stays valid until Release is called or the runtime that loaded it
// is finalized, whichever comes first.
type Module struct {
	owner    *Manager
	id       uint64
	name     string
	exports  *lua.LTable // nil when the module returned a non-table value
	globals  map[string]bool
	released bool
}

// Name returns the module name the handle was loaded with.
func (m *Module) Name() string {
	if m == nil {
		return ""
	}
	return m.name
}

// Valid reports whether the handle may still be used.
func (m *Module) Valid() bool {
	return m != nil && !m.released
}

// Release gives the handle back to the runtime. Safe to call more than once.
func (m *Module) Release() {
	if !m.Valid() {
		return
	}
	m.owner.forget(m)
}

func (m *Module) handleID() uint64 { return m.id }
func (m *Module) isCallable() bool { return false }

func (m *Module) invalidate() {
	m.released = true
	m.exports = nil
}

// Callable is an owned reference to a script function resolved from a
// Module.
type Callable struct {
	owner    *Manager
	id       uint64
	module   string
	name     string
	fn       *lua.LFunction
	released bool
}

// Name returns the function name.
func (c *Callable) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Module returns the name of the module the function was resolved from.
func (c *Callable) Module() string {
	if c == nil {
		return ""
	}
	return c.module
}

// Valid reports whether the handle may still be invoked.
func (c *Callable) Valid() bool {
	return c != nil && !c.released
}

// Release gives the handle back to the runtime. Safe to call more than once.
func (c *Callable) Release() {
	if !c.Valid() {
		return
	}
	c.owner.forget(c)
}

func (c *Callable) handleID() uint64 { return c.id }
func (c *Callable) isCallable() bool { return true }

func (c *Callable) invalidate() {
	c.released = true
	c.fn = nil
}
