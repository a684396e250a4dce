// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/waypointdb/waypoint/pkg/engine"
)

func undoCmd() *cobra.Command {
	var count int
	var targetVersion string
	var last bool

	cmd := &cobra.Command{
		Use:   "undo",
		Short: "reverse previously applied versioned migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := engine.Open(ctx, buildConfig())
			if err != nil {
				return err
			}
			defer eng.Close()

			report, err := eng.Undo(ctx, engine.UndoTarget{
				ByCount:         count,
				ByTargetVersion: targetVersion,
				Last:            last,
			})
			if report != nil {
				for _, u := range report.Undone {
					fmt.Printf("undone %s (%dms)\n", u.Script, u.DurationMs)
				}
			}
			return err
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "number of most recently applied versioned migrations to reverse")
	cmd.Flags().StringVar(&targetVersion, "target-version", "", "reverse every versioned migration applied after this version")
	cmd.Flags().BoolVar(&last, "last", false, "reverse only the most recently applied versioned migration")

	return cmd
}
