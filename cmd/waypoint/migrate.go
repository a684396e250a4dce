// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/waypointdb/waypoint/pkg/engine"
	"github.com/waypointdb/waypoint/pkg/orchestrator"
)

func migrateCmd() *cobra.Command {
	var target string
	var database string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "apply outstanding migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := buildConfig()

			if len(cfg.MultiDatabase) > 0 {
				report, err := orchestrator.New().Run(ctx, cfg, database)
				if report == nil {
					return err
				}
				for _, r := range report.Results {
					switch {
					case r.Skipped:
						fmt.Printf("%s: skipped\n", r.Name)
					case r.Err != nil:
						fmt.Printf("%s: failed: %v\n", r.Name, r.Err)
					default:
						fmt.Printf("%s: applied %d migration(s) (run %s)\n", r.Name, r.Report.AppliedCount, r.Report.RunID)
					}
				}
				return err
			}

			eng, err := engine.Open(ctx, cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			report, err := eng.Migrate(ctx, target)
			if report != nil {
				fmt.Printf("run %s: applied %d migration(s), %d failed, %dms\n", report.RunID, report.AppliedCount, report.FailedCount, report.TotalTimeMs)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "highest version to migrate to (inclusive)")
	cmd.Flags().StringVar(&database, "database", "", "run only this named database from multi_database config, without its dependencies")

	return cmd
}
