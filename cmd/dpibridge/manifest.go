// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/dpibridge/dpibridge/internal/plugin"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Validate plugin manifests",
		Long: `Check plugin.yaml files against the manifest JSON schema and the
manifest rules (names, semantic versions, tag patterns, bridge constraint).`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				if err := validateManifest(path); err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %s\n", path, plugin.FormatSchemaError(err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok   %s\n", path)
			}
			if failed > 0 {
				return oops.In("validate").With("failed", failed).Errorf("%d of %d manifests invalid", failed, len(args))
			}
			return nil
		},
	}
}

func validateManifest(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied path is the point
	if err != nil {
		return oops.In("validate").With("file", path).Wrap(err)
	}
	if err := plugin.ValidateSchema(data); err != nil {
		return err
	}
	_, err = plugin.ParseManifest(data)
	return err
}

func newSchemaCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the plugin manifest JSON schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := plugin.GenerateSchema()
			if err != nil {
				return err
			}
			if output == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(schema))
				return err
			}
			if err := os.MkdirAll(filepath.Dir(output), 0o750); err != nil {
				return oops.In("schema").With("file", output).Wrap(err)
			}
			if err := os.WriteFile(output, schema, 0o600); err != nil {
				return oops.In("schema").With("file", output).Wrap(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the schema to this file instead of stdout")
	return cmd
}
