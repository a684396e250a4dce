// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/waypointdb/waypoint/pkg/engine"
)

func baselineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baseline <version>",
		Short: "record a baseline marker for a non-empty, pre-existing schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			description, _ := cmd.Flags().GetString("description")

			eng, err := engine.Open(ctx, buildConfig())
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := eng.Baseline(ctx, args[0], description); err != nil {
				return err
			}
			fmt.Printf("baselined at version %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().String("description", "baseline", "description recorded with the baseline row")
	return cmd
}
