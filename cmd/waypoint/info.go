// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/waypointdb/waypoint/pkg/engine"
)

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "show the state of every migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := engine.Open(ctx, buildConfig())
			if err != nil {
				return err
			}
			defer eng.Close()

			report, err := eng.Info(ctx)
			if err != nil {
				return err
			}
			for _, e := range report.Entries {
				fmt.Printf("%-12s %-12s %s\n", e.State, e.Version, e.Description)
			}
			return nil
		},
	}
}
