// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/waypointdb/waypoint/pkg/engine"
)

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "check resolved migration files against recorded history",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			eng, err := engine.Open(ctx, buildConfig())
			if err != nil {
				return err
			}
			defer eng.Close()

			report, err := eng.Validate(ctx)
			if err != nil {
				return err
			}
			if report.Valid {
				fmt.Println("valid")
				return nil
			}
			for _, e := range report.Errors {
				fmt.Printf("%s: %s\n", e.Script, e.Kind)
			}
			return fmt.Errorf("validation failed: %d issue(s)", len(report.Errors))
		},
	}
}
