// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

package plugin

// Error codes attached to oops errors raised by plugins and the registry.
const (
	CodeInvalidPlugin       = "INVALID_PLUGIN"
	CodeDuplicatePlugin     = "DUPLICATE_PLUGIN"
	CodeRegistryDestroyed   = "REGISTRY_DESTROYED"
	CodePluginInitFailed    = "PLUGIN_INIT_FAILED"
	CodePluginCleanupFailed = "PLUGIN_CLEANUP_FAILED"
	CodeUninitializedUse    = "UNINITIALIZED_PLUGIN_USE"
	CodeMalformedReturn     = "MALFORMED_RETURN_VALUE"
	CodeInvalidManifest     = "INVALID_MANIFEST"
	CodeIncompatibleBridge  = "INCOMPATIBLE_BRIDGE"
	CodeDuplicateModule     = "DUPLICATE_MODULE"
)
