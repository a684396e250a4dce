// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/waypointdb/waypoint/pkg/engine"
)

func cleanCmd() *cobra.Command {
	var allow bool

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "drop every object in the configured schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := engine.Open(ctx, buildConfig())
			if err != nil {
				return err
			}
			defer eng.Close()

			report, err := eng.Clean(ctx, allow)
			if report != nil {
				for _, name := range report.DroppedObjects {
					fmt.Printf("dropped %s\n", name)
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&allow, "allow", false, "confirm that dropping every object in the schema is intended")

	return cmd
}
