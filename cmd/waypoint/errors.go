// SPDX-License-Identifier: Apache-2.0

package main

import "github.com/waypointdb/waypoint/pkg/engine"

// exitCodeFor ties a façade error to the CLI exit-code table.
func exitCodeFor(err error) int {
	return engine.ExitCode(err)
}
