// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

package script

// Error codes attached to oops errors raised by the runtime.
const (
	CodeRuntimeInitFailed   = "RUNTIME_INIT_FAILED"
	CodeRuntimeAlreadyLive  = "RUNTIME_ALREADY_LIVE"
	CodeRuntimeNotReady     = "RUNTIME_NOT_INITIALIZED"
	CodeModuleLoadFailed    = "MODULE_LOAD_FAILED"
	CodeCallableNotResolved = "CALLABLE_RESOLUTION_FAILED"
	CodeInvocationFailed    = "INVOCATION_FAILED"
	CodeHandleReleased      = "HANDLE_RELEASED"
	CodeUnsupportedArgument = "UNSUPPORTED_ARGUMENT"
)
