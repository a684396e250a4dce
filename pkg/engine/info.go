// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"

	"github.com/waypointdb/waypoint/pkg/historystore"
	"github.com/waypointdb/waypoint/pkg/migrate"
)

// Info reports the lifecycle state of every resolved migration, plus any
// history row with no resolved counterpart (reported as Missing).
func (e *Engine) Info(ctx context.Context) (*InfoReport, error) {
	resolved, err := e.resolve()
	if err != nil {
		return nil, err
	}
	rows, err := e.history.FetchAll(ctx)
	if err != nil {
		return nil, err
	}

	byScript := make(map[string]historystore.HistoryRow, len(rows))
	for _, r := range rows {
		if r.Type == historystore.TypeBaseline {
			continue
		}
		byScript[r.Script] = r
	}

	// A row is Undone rather than plainly Failed when its reversal_sql is
	// set: RecordUndo always stamps the applied undo statements there,
	// while recordFailure never touches the column (see
	// pkg/historystore.Store.RecordUndo vs pkg/engine.recordFailure).
	// OutOfOrder is derived the same way Migrate computes
	// haveMaxApplied/maxAppliedVersion: walking history in installed_rank
	// order, any successful versioned row whose version is lower than one
	// already seen at an earlier rank was applied out of order.
	undone := map[string]bool{}
	outOfOrder := map[string]bool{}
	var maxAppliedVersion migrate.Version
	haveMax := false
	for _, r := range rows {
		if r.Type != historystore.TypeVersioned {
			continue
		}
		if !r.Success {
			if r.ReversalSQL.Valid {
				undone[r.Script] = true
			}
			continue
		}
		if !r.Version.Valid {
			continue
		}
		v, err := migrate.ParseVersion(r.Version.String)
		if err != nil {
			continue
		}
		if haveMax && v.Less(maxAppliedVersion) {
			outOfOrder[r.Script] = true
		}
		if !haveMax || maxAppliedVersion.Less(v) {
			maxAppliedVersion = v
			haveMax = true
		}
	}

	report := &InfoReport{}

	appendEntry := func(m *migrate.ResolvedMigration) {
		row, ok := byScript[m.Script]
		entry := InfoEntry{Version: m.Version.String(), Description: m.Description, Checksum: m.Checksum}
		if m.Kind == migrate.KindRepeatable {
			entry.Version = ""
		}

		switch {
		case !ok && m.Kind == migrate.KindRepeatable:
			entry.State = StateRepeatable
		case !ok:
			entry.State = StatePending
		case !row.Success && undone[m.Script]:
			entry.State = StateUndone
		case !row.Success:
			entry.State = StateFailed
		default:
			entry.State = StateApplied
			installedOn := row.InstalledOn
			entry.InstalledOn = &installedOn
			if row.Checksum.Valid {
				entry.Checksum = row.Checksum.Int32
			}
			if outOfOrder[m.Script] {
				entry.State = StateOutOfOrder
			}
		}
		report.Entries = append(report.Entries, entry)
	}

	for _, m := range resolved.Versioned {
		appendEntry(m)
	}
	for _, m := range resolved.Repeatable {
		appendEntry(m)
	}

	for _, r := range rows {
		if r.Type == historystore.TypeBaseline {
			report.Entries = append(report.Entries, InfoEntry{
				State:       StateBaseline,
				Version:     r.Version.String,
				Description: r.Description,
			})
			continue
		}
		if _, stillResolved := findResolved(resolved, r.Script); stillResolved {
			continue
		}
		installedOn := r.InstalledOn
		report.Entries = append(report.Entries, InfoEntry{
			State:       StateMissing,
			Version:     r.Version.String,
			Description: r.Description,
			InstalledOn: &installedOn,
		})
	}

	return report, nil
}

func findResolved(resolved *migrate.Resolved, script string) (*migrate.ResolvedMigration, bool) {
	for _, m := range resolved.Versioned {
		if m.Script == script {
			return m, true
		}
	}
	for _, m := range resolved.Repeatable {
		if m.Script == script {
			return m, true
		}
	}
	return nil, false
}
