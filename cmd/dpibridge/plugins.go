// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPluginsCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List the plugins the bridge registers",
		Long: `Initialize the bridge with the current configuration and list every
registered plugin in registration order.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := startBridge(cmd, g)
			if err != nil {
				return err
			}
			defer b.Finalize(cmd.Context())

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVERSION\tSTATUS\tTAGS")
			for _, p := range b.Plugins() {
				tags := "-"
				if len(p.Tags) > 0 {
					tags = strings.Join(p.Tags, ",")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, p.Version, p.Status, tags)
			}
			return w.Flush()
		},
	}
}
