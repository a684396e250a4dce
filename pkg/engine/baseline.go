// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/waypointdb/waypoint/pkg/historystore"
	"github.com/waypointdb/waypoint/pkg/migrate"
)

// Baseline records a synthetic BASELINE row at version, marking everything
// at or below it as already applied without running any SQL.
//
// Resolution of the baseline-vs-nonempty-history open question: baselining
// a schema that already has a non-empty history is a ConfigError rather
// than a silent no-op or a forced overwrite, since either of those would
// hide a caller mistake (re-baselining a database that migrate has
// already been run against is almost always unintentional).
func (e *Engine) Baseline(ctx context.Context, version, description string) error {
	v, err := migrate.ParseVersion(version)
	if err != nil {
		return &ConfigError{Reason: fmt.Sprintf("invalid baseline version %q: %v", version, err)}
	}

	lock, err := e.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer lock.Release(ctx)

	rows, err := e.history.FetchAll(ctx)
	if err != nil {
		return err
	}
	if len(rows) != 0 {
		return &ConfigError{Reason: "cannot baseline: schema history is not empty"}
	}

	if description == "" {
		description = "baseline"
	}

	return e.history.Insert(ctx, historystore.HistoryRow{
		InstalledRank: 1,
		Version:       sql.NullString{String: v.String(), Valid: true},
		Description:   description,
		Type:          historystore.TypeBaseline,
		Script:        "<< baseline >>",
		InstalledBy:   e.installedBy,
		InstalledOn:   time.Now(),
		Success:       true,
	})
}
