// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DPIBridge Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

func newSendCmd(g *globalOptions) *cobra.Command {
	var tag, payload, target string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one tagged object through the bridge",
		Long: `Send one (tag, payload) pair the way dpi_send_object does. With
--plugin the object goes to that plugin regardless of its tag patterns.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if tag == "" {
				return oops.In("send").Errorf("--tag is required")
			}
			b, err := startBridge(cmd, g)
			if err != nil {
				return err
			}
			defer b.Finalize(cmd.Context())

			if target != "" {
				b.SendObjectTo(cmd.Context(), target, tag, payload)
			} else {
				b.SendObject(cmd.Context(), tag, payload)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tag, "tag", "", "object tag")
	cmd.Flags().StringVar(&payload, "payload", "", "object payload, passed verbatim")
	cmd.Flags().StringVar(&target, "plugin", "", "deliver to this plugin instead of routing by tag")

	return cmd
}
