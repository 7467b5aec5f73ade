// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

package plugin

import (
	"regexp"

	"github.com/Masterminds/semver/v3"
	"github.com/gobwas/glob"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the file name discovery looks for in each plugin directory.
const ManifestFile = "plugin.yaml"

// DefaultReceiveFunction is the function a tag-dispatch module must export
// when its manifest names none.
const DefaultReceiveFunction = "receive_object"

// TagSeparator splits tags into segments for pattern matching: '*' stays
// within one segment and '**' crosses them.
const TagSeparator = '.'

// Manifest declares a script-only tag-dispatch plugin. Adding one needs no
// change to the bridge: the module receives (tag, payload) for every tag its
// patterns match.
type Manifest struct {
	Name       string   `yaml:"name" json:"name" jsonschema:"minLength=1,maxLength=64,pattern=^[a-z]([a-z0-9_-]*[a-z0-9])?$"`
	Version    string   `yaml:"version" json:"version" jsonschema:"minLength=1"`
	Module     string   `yaml:"module" json:"module" jsonschema:"minLength=1"`
	SearchPath string   `yaml:"search_path,omitempty" json:"search_path,omitempty"`
	Function   string   `yaml:"function,omitempty" json:"function,omitempty"`
	Tags       []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Bridge     string   `yaml:"bridge,omitempty" json:"bridge,omitempty"`
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// namePattern validates plugin names: must start with lowercase letter,
// followed by lowercase letters, digits, hyphens or underscores.
// Cannot end with a hyphen or underscore. Single character names are allowed.
var namePattern = regexp.MustCompile(`^[a-z]([a-z0-9_-]*[a-z0-9])?$`)

// ParseManifest parses and validates a plugin.yaml file.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, oops.In("manifest").Code(CodeInvalidManifest).Errorf("manifest data is empty")
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, oops.In("manifest").Code(CodeInvalidManifest).Hint("invalid YAML").Wrap(err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest constraints.
func (m *Manifest) Validate() error {
	errb := oops.In("manifest").Code(CodeInvalidManifest).With("plugin", m.Name)

	if m.Name == "" || !namePattern.MatchString(m.Name) {
		return errb.Errorf("name %q must start with a-z, contain only a-z, 0-9, hyphens or underscores, and end with a letter or digit", m.Name)
	}
	if len(m.Name) > maxNameLength {
		return errb.Errorf("name must be %d characters or less, got %d", maxNameLength, len(m.Name))
	}

	if m.Version == "" {
		return errb.Errorf("version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return errb.With("version", m.Version).Wrapf(err, "version %q is not a semantic version", m.Version)
	}

	if m.Module == "" {
		return errb.Errorf("module is required")
	}

	for i, pattern := range m.Tags {
		if pattern == "" {
			return errb.Errorf("tag %d: empty pattern", i)
		}
		if _, err := glob.Compile(pattern, TagSeparator); err != nil {
			return errb.With("tag", pattern).Wrapf(err, "tag %d (%q)", i, pattern)
		}
	}

	if m.Bridge != "" {
		if _, err := semver.NewConstraint(m.Bridge); err != nil {
			return errb.With("bridge", m.Bridge).Wrapf(err, "bridge constraint %q is invalid", m.Bridge)
		}
	}

	return nil
}

// FunctionName returns the receive function, defaulting to
// DefaultReceiveFunction.
func (m *Manifest) FunctionName() string {
	if m.Function == "" {
		return DefaultReceiveFunction
	}
	return m.Function
}

// Compatible reports whether the manifest accepts the given bridge version.
// A manifest without a bridge constraint accepts every version.
func (m *Manifest) Compatible(bridgeVersion string) (bool, error) {
	if m.Bridge == "" {
		return true, nil
	}
	constraint, err := semver.NewConstraint(m.Bridge)
	if err != nil {
		return false, oops.In("manifest").Code(CodeInvalidManifest).With("bridge", m.Bridge).Wrap(err)
	}
	v, err := semver.NewVersion(bridgeVersion)
	if err != nil {
		return false, oops.In("manifest").Code(CodeIncompatibleBridge).With("bridge_version", bridgeVersion).Wrap(err)
	}
	return constraint.Check(v), nil
}
