// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

package bridge

// Error codes raised by the facade itself. Plugin and runtime failures keep
// their own codes.
const (
	CodeBridgeInitFailed = "BRIDGE_INIT_FAILED"
	CodeNoRoute          = "NO_ROUTE"
	CodeUnknownPlugin    = "UNKNOWN_PLUGIN"
)
