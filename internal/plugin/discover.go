// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

package plugin

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/samber/oops"

	"github.com/dpibridge/dpibridge/pkg/errutil"
)

// Discovered is a manifest together with the directory it was read from.
type Discovered struct {
	Manifest *Manifest
	Dir      string
}

// SearchPath returns the manifest's search path, resolved against Dir when
// relative. A manifest without one searches its own directory.
func (d *Discovered) SearchPath() string {
	sp := d.Manifest.SearchPath
	if sp == "" {
		return d.Dir
	}
	if filepath.IsAbs(sp) {
		return sp
	}
	return filepath.Join(d.Dir, sp)
}

// Discover reads <dir>/*/plugin.yaml and returns the manifests accepted by
// bridgeVersion, sorted by directory name. Invalid or incompatible manifests
// are logged and skipped. Directories without a manifest are ignored, so
// script-only directories may share dir.
//
// Modules are cached by name, so a manifest whose module another manifest
// already claimed is skipped with DUPLICATE_MODULE. A missing dir yields no
// plugins.
func Discover(ctx context.Context, dir, bridgeVersion string, logger *slog.Logger) ([]*Discovered, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, oops.In("discover").With("dir", dir).Wrapf(err, "read plugins directory")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var found []*Discovered
	modules := make(map[string]string)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pluginDir := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(filepath.Join(pluginDir, ManifestFile)) //nolint:gosec // path built from ReadDir entries
		if err != nil {
			logger.DebugContext(ctx, "skipping directory without manifest", "dir", entry.Name(), "error", err)
			continue
		}

		manifest, err := ParseManifest(data)
		if err != nil {
			errutil.LogErrorContext(ctx, logger, "skipping plugin with invalid manifest",
				oops.With("dir", entry.Name()).Wrap(err))
			continue
		}

		ok, err := manifest.Compatible(bridgeVersion)
		if err != nil {
			errutil.LogErrorContext(ctx, logger, "skipping plugin with unusable bridge constraint", err)
			continue
		}
		if !ok {
			logger.WarnContext(ctx, "skipping plugin built for another bridge version",
				"plugin", manifest.Name,
				"requires", manifest.Bridge,
				"bridge_version", bridgeVersion)
			continue
		}

		if owner, taken := modules[manifest.Module]; taken {
			errutil.LogErrorContext(ctx, logger, "skipping plugin with duplicate module",
				oops.In("discover").Code(CodeDuplicateModule).
					With("plugin", manifest.Name).
					With("module", manifest.Module).
					With("claimed_by", owner).
					Errorf("module %q is already provided by plugin %q", manifest.Module, owner))
			continue
		}
		modules[manifest.Module] = manifest.Name

		found = append(found, &Discovered{Manifest: manifest, Dir: pluginDir})
	}

	return found, nil
}
