// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/waypointdb/waypoint/pkg/historystore"
	"github.com/waypointdb/waypoint/pkg/migrate"
)

// UndoTarget selects which applied migrations Undo reverses.
type UndoTarget struct {
	// ByCount reverses the N most recently applied versioned migrations,
	// in reverse installed_rank order. Zero means unset.
	ByCount int

	// ByTargetVersion reverses every versioned migration applied after
	// (exclusive) the given version, down to but not including it.
	ByTargetVersion string

	// Last reverses only the single most recently applied versioned
	// migration.
	Last bool
}

// Undo reverses previously applied versioned migrations. Repeatable
// migrations are never undone. For each selected row, in reverse
// installed_rank order: a matching U<version>__....sql file is preferred
// as the undo source, falling back to the row's stored reversal_sql. If
// neither exists, undo stops and returns an *UndoError — rows already
// undone in this call remain undone.
func (e *Engine) Undo(ctx context.Context, target UndoTarget) (*UndoReport, error) {
	if target.ByTargetVersion != "" {
		if _, err := migrate.ParseVersion(target.ByTargetVersion); err != nil {
			return nil, &UndoError{Reason: fmt.Sprintf("invalid undo target version %q: %v", target.ByTargetVersion, err)}
		}
	}

	resolved, err := e.resolve()
	if err != nil {
		return nil, err
	}

	lock, err := e.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	rows, err := e.history.FetchAll(ctx)
	if err != nil {
		return nil, err
	}

	selected := selectUndoRows(rows, target)
	if len(selected) == 0 {
		return &UndoReport{}, nil
	}

	undoByVersion := make(map[string]*migrate.ResolvedMigration, len(resolved.Undo))
	for _, u := range resolved.Undo {
		undoByVersion[u.Version.Canonical()] = u
	}

	report := &UndoReport{}
	for _, row := range selected {
		start := time.Now()

		var uFile *migrate.ResolvedMigration
		if v, err := migrate.ParseVersion(row.Version.String); err == nil {
			uFile = undoByVersion[v.Canonical()]
		}

		var stmts []string
		if uFile != nil {
			stmts = uFile.Statements
		} else if row.ReversalSQL.Valid && row.ReversalSQL.String != "" {
			split, err := migrate.Split(row.ReversalSQL.String)
			if err != nil {
				return report, &UndoError{Reason: fmt.Sprintf("stored reversal_sql for %s does not parse: %v", row.Script, err)}
			}
			stmts = split
		} else {
			return report, &UndoError{Reason: fmt.Sprintf("no undo source for %s: no U-file and no stored reversal_sql", row.Script)}
		}

		tx, err := e.db.BeginTx(ctx, nil)
		if err != nil {
			return report, err
		}
		if err := e.execStatements(ctx, tx, row.Script, stmts); err != nil {
			tx.Rollback()
			return report, err
		}
		txHistory := e.history.WithTx(tx)
		if err := txHistory.RecordUndo(ctx, row.InstalledRank, joinStatements(stmts)); err != nil {
			tx.Rollback()
			return report, err
		}
		if err := tx.Commit(); err != nil {
			return report, err
		}

		report.Undone = append(report.Undone, UndoResult{
			Script:     row.Script,
			DurationMs: time.Since(start).Milliseconds(),
		})
	}

	return report, nil
}

func selectUndoRows(rows []historystore.HistoryRow, target UndoTarget) []historystore.HistoryRow {
	var versioned []historystore.HistoryRow
	for _, r := range rows {
		if r.Type == historystore.TypeVersioned && r.Success {
			versioned = append(versioned, r)
		}
	}
	// Rows come back ordered by installed_rank ascending; reverse for
	// "most recent first".
	for i, j := 0, len(versioned)-1; i < j; i, j = i+1, j-1 {
		versioned[i], versioned[j] = versioned[j], versioned[i]
	}

	switch {
	case target.Last:
		if len(versioned) == 0 {
			return nil
		}
		return versioned[:1]
	case target.ByCount > 0:
		if target.ByCount >= len(versioned) {
			return versioned
		}
		return versioned[:target.ByCount]
	case target.ByTargetVersion != "":
		targetVersion, err := migrate.ParseVersion(target.ByTargetVersion)
		if err != nil {
			return nil
		}
		var out []historystore.HistoryRow
		for _, r := range versioned {
			v, err := migrate.ParseVersion(r.Version.String)
			if err != nil || !targetVersion.Less(v) {
				break
			}
			out = append(out, r)
		}
		return out
	default:
		return nil
	}
}

func joinStatements(stmts []string) string {
	out := ""
	for _, s := range stmts {
		out += s + ";\n"
	}
	return out
}
