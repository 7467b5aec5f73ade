// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

package script

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// library represents a Lua standard library opened in every runtime state.
type library struct {
	name string
	fn   lua.LGFunction
}

// defaultLibraries returns the libraries a bridge runtime always needs.
// package must come first so require is wired before the rest load.
// Safe: package, base, table, string, math, coroutine.
// Opt-in: io, os, debug.
func defaultLibraries() []library {
	return []library{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.CoroutineLibName, lua.OpenCoroutine},
	}
}

func unsafeLibraries() []library {
	return []library{
		{lua.IoLibName, lua.OpenIo},
		{lua.OsLibName, lua.OpenOs},
		{lua.DebugLibName, lua.OpenDebug},
	}
}

// unsafeBaseFunctions lists base library functions that load code from disk
// outside the module search path.
var unsafeBaseFunctions = []string{"dofile", "loadfile"}

// StateFactory creates Lua states for the bridge runtime.
type StateFactory struct {
	libraries []library
	unsafe    bool
	logger    *slog.Logger
}

// NewStateFactory creates a factory. When unsafe is true the io, os and debug
// libraries are opened as well, which verification scripts reading stimulus
// files from disk may need.
func NewStateFactory(unsafe bool, logger *slog.Logger) *StateFactory {
	libs := defaultLibraries()
	if unsafe {
		libs = append(libs, unsafeLibraries()...)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StateFactory{
		libraries: libs,
		unsafe:    unsafe,
		logger:    logger,
	}
}

// NewState creates a fresh Lua state with the configured libraries loaded and
// print redirected to the bridge logger.
//
// The ctx parameter is reserved for future cancellation/timeout support.
func (f *StateFactory) NewState(_ context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		IncludeGoStackTrace: true,
	})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open library %s: %w", lib.name, err)
		}
	}

	if !f.unsafe {
		for _, fn := range unsafeBaseFunctions {
			L.SetGlobal(fn, lua.LNil)
		}
	}

	L.SetGlobal("print", L.NewFunction(luaPrint(f.logger)))

	return L, nil
}

// setSearchPath rewrites package.path so require resolves modules from dirs,
// in order.
func setSearchPath(L *lua.LState, dirs []string) {
	pkg, ok := L.GetGlobal("package").(*lua.LTable)
	if !ok {
		return
	}
	L.SetField(pkg, "path", lua.LString(packagePath(dirs)))
}

// packagePath renders dirs as a Lua package.path template list.
func packagePath(dirs []string) string {
	templates := make([]string, 0, len(dirs)*2)
	for _, dir := range dirs {
		dir = strings.TrimRight(dir, "/")
		if dir == "" {
			dir = "."
		}
		templates = append(templates, dir+"/?.lua", dir+"/?/init.lua")
	}
	return strings.Join(templates, ";")
}

// luaPrint routes script output through the structured logger instead of
// writing to the simulator's stdout.
func luaPrint(logger *slog.Logger) lua.LGFunction {
	return func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		ctx := L.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		logger.InfoContext(ctx, strings.Join(parts, "\t"), "source", "lua")
		return 0
	}
}
