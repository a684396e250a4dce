// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/waypointdb/waypoint/pkg/engine"
)

func repairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "remove failed history rows and realign checksums",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := engine.Open(ctx, buildConfig())
			if err != nil {
				return err
			}
			defer eng.Close()

			report, err := eng.Repair(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d failed row(s), updated %d checksum(s)\n", report.RemovedFailed, report.UpdatedChecksums)
			return nil
		},
	}
}
