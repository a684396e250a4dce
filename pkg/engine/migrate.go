// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/waypointdb/waypoint/pkg/dbconn"
	"github.com/waypointdb/waypoint/pkg/historystore"
	"github.com/waypointdb/waypoint/pkg/migrate"
	"github.com/waypointdb/waypoint/pkg/plan"
	"github.com/waypointdb/waypoint/pkg/schema"
)

// OutOfOrderError reports a versioned migration whose version is lower
// than one already applied, encountered while out-of-order application is
// disallowed (the default).
type OutOfOrderError struct {
	Script  string
	Version string
}

func (e *OutOfOrderError) Error() string {
	return fmt.Sprintf("migration out of order: %s (version %s)", e.Script, e.Version)
}

// Migrate resolves, plans and applies pending migrations. target, when
// non-empty, limits application to migrations at or below that version;
// an empty target applies everything pending.
func (e *Engine) Migrate(ctx context.Context, target string) (*MigrateReport, error) {
	start := time.Now()
	report := &MigrateReport{RunID: uuid.NewString()}

	resolved, err := e.resolve()
	if err != nil {
		return report, err
	}

	lock, err := e.acquireLock(ctx)
	if err != nil {
		return report, err
	}
	defer lock.Release(ctx)

	rows, err := e.history.FetchAll(ctx)
	if err != nil {
		return report, err
	}

	if err := e.applyBaselineIfNeeded(ctx, rows); err != nil {
		return report, err
	}
	if len(rows) == 0 && e.cfg.Migrations.BaselineVersion != "" {
		rows, err = e.history.FetchAll(ctx)
		if err != nil {
			return report, err
		}
	}

	p, err := plan.Build(resolved, plan.Options{
		DependencyOrdering: e.cfg.Migrations.DependencyOrdering,
		Environment:        e.cfg.Migrations.Environment,
	})
	if err != nil {
		return report, err
	}

	applied := map[string]historystore.HistoryRow{} // canonical version -> row
	var maxAppliedVersion migrate.Version
	var haveMaxApplied bool
	var baselineVersion migrate.Version
	var haveBaseline bool
	for _, r := range rows {
		if !r.Success || !r.Version.Valid {
			continue
		}
		v, err := migrate.ParseVersion(r.Version.String)
		if err != nil {
			continue
		}
		switch r.Type {
		case historystore.TypeBaseline:
			if !haveBaseline || baselineVersion.Less(v) {
				baselineVersion = v
				haveBaseline = true
			}
		case historystore.TypeVersioned:
			applied[v.Canonical()] = r
			if !haveMaxApplied || maxAppliedVersion.Less(v) {
				maxAppliedVersion = v
				haveMaxApplied = true
			}
		}
	}

	var targetVersion migrate.Version
	var hasTarget bool
	if target != "" {
		v, err := migrate.ParseVersion(target)
		if err != nil {
			return report, &ConfigError{Reason: fmt.Sprintf("invalid target version %q: %v", target, err)}
		}
		targetVersion = v
		hasTarget = true
	}

	pending := make([]*migrate.ResolvedMigration, 0, len(p.Migrations))
	for _, m := range p.Migrations {
		if hasTarget && m.HasVersion && targetVersion.Less(m.Version) {
			continue
		}
		switch m.Kind {
		case migrate.KindRepeatable:
			if !e.repeatableNeedsApply(rows, m) {
				continue
			}
		default:
			if haveBaseline && !baselineVersion.Less(m.Version) {
				// At or below the baseline marker: the schema already
				// contains this migration's effects.
				continue
			}
			if row, ok := applied[m.Version.Canonical()]; ok {
				if e.cfg.Migrations.ValidateOnMigrate && row.Checksum.Valid && row.Checksum.Int32 != m.Checksum {
					return report, &ChecksumError{Script: m.Script, Recorded: row.Checksum.Int32, Actual: m.Checksum}
				}
				continue
			}
			if !e.cfg.Migrations.OutOfOrder && haveMaxApplied && m.Version.Less(maxAppliedVersion) {
				return report, &OutOfOrderError{Script: m.Script, Version: m.Version.String()}
			}
		}
		pending = append(pending, m)
	}

	if e.cfg.Migrations.BatchTransaction {
		return e.migrateBatch(ctx, resolved, pending, start, report)
	}
	return e.migrateSequential(ctx, resolved, pending, start, report)
}

// reconnectEligible reports whether applyErr represents a transient
// connection failure encountered before any of the migration's own
// statements ran: an *ExecuteError means a statement already executed
// inside the migration's transaction and that transaction is already
// lost, so that migration fails rather than retries, whereas a bare
// transient error from BeginTx, LatestRank or the history insert means
// nothing from this migration has taken effect yet, so reconnecting and
// re-attempting it is safe.
func reconnectEligible(err error) bool {
	var execErr *ExecuteError
	if errors.As(err, &execErr) {
		return false
	}
	return dbconn.IsTransient(err)
}

// reconnect replaces e.db with a freshly dialed connection via
// dbconn.Reconnector, rebinding the history store to it. The dial is
// attempted up to three times (inside Reconnector.Reconnect) before
// giving up.
func (e *Engine) reconnect(ctx context.Context) error {
	reconnector := dbconn.NewReconnector(e.opts)
	newDB, err := reconnector.Reconnect(ctx, e.db)
	if err != nil {
		return err
	}
	e.db = &dbconn.RDB{DB: newDB}
	e.history = historystore.New(e.db, e.schema(), e.table())
	return nil
}

func (e *Engine) repeatableNeedsApply(rows []historystore.HistoryRow, m *migrate.ResolvedMigration) bool {
	var last *historystore.HistoryRow
	for i := range rows {
		r := rows[i]
		if r.Type == historystore.TypeRepeatable && r.Script == m.Script && r.Success {
			last = &r
		}
	}
	if last == nil {
		return true
	}
	return !last.Checksum.Valid || last.Checksum.Int32 != m.Checksum
}

func (e *Engine) applyBaselineIfNeeded(ctx context.Context, rows []historystore.HistoryRow) error {
	if e.cfg.Migrations.BaselineVersion == "" || len(rows) != 0 {
		return nil
	}
	v, err := migrate.ParseVersion(e.cfg.Migrations.BaselineVersion)
	if err != nil {
		return &ConfigError{Reason: fmt.Sprintf("invalid baseline_version %q: %v", e.cfg.Migrations.BaselineVersion, err)}
	}
	rank, err := e.history.LatestRank(ctx)
	if err != nil {
		return err
	}
	return e.history.Insert(ctx, historystore.HistoryRow{
		InstalledRank: rank + 1,
		Version:       sql.NullString{String: v.String(), Valid: true},
		Description:   "baseline",
		Type:          historystore.TypeBaseline,
		Script:        "<< baseline >>",
		InstalledBy:   e.installedBy,
		InstalledOn:   time.Now(),
		Success:       true,
	})
}

func (e *Engine) migrateSequential(ctx context.Context, resolved *migrate.Resolved, pending []*migrate.ResolvedMigration, start time.Time, report *MigrateReport) (*MigrateReport, error) {
	if err := e.runHooks(ctx, resolved, "beforeMigrate", e.cfg.Hooks.BeforeMigrate); err != nil {
		return report, err
	}

	for _, m := range pending {
		if err := e.runHooks(ctx, resolved, "beforeEachMigrate", e.cfg.Hooks.BeforeEachMigrate); err != nil {
			return report, err
		}

		result, applyErr := e.applyOne(ctx, m)

		if applyErr != nil && reconnectEligible(applyErr) {
			if reconnErr := e.reconnect(ctx); reconnErr != nil {
				applyErr = reconnErr
			} else {
				result, applyErr = e.applyOne(ctx, m)
			}
		}

		report.PerMigration = append(report.PerMigration, result)

		if applyErr != nil {
			report.FailedCount++
			report.TotalTimeMs = durationMs(start)
			return report, applyErr
		}
		report.AppliedCount++

		if err := e.runHooks(ctx, resolved, "afterEachMigrate", e.cfg.Hooks.AfterEachMigrate); err != nil {
			report.TotalTimeMs = durationMs(start)
			return report, err
		}
	}

	if err := e.runHooks(ctx, resolved, "afterMigrate", e.cfg.Hooks.AfterMigrate); err != nil {
		report.TotalTimeMs = durationMs(start)
		return report, err
	}

	report.TotalTimeMs = durationMs(start)
	return report, nil
}

// applyOne applies a single migration in its own transaction (unless it is
// non-transactional) and records the resulting history row. On failure it
// writes a failed history row in a fresh transaction before returning.
func (e *Engine) applyOne(ctx context.Context, m *migrate.ResolvedMigration) (MigrationResult, error) {
	result := MigrationResult{Script: m.Script, Version: m.Version.String(), Checksum: m.Checksum}

	var before *schema.Snapshot
	if e.cfg.Migrations.AutoReversal {
		snap, err := schema.Capture(ctx, e.db, e.schema())
		if err == nil {
			before = snap
		}
	}

	applyStart := time.Now()

	if m.RequiresTransaction {
		return e.applyInTransaction(ctx, m, before, applyStart, result)
	}

	stmtDuration, err := e.execStatementsTimed(ctx, e.db, m.Script, m.Statements)
	if err != nil {
		e.recordFailure(ctx, m, applyStart)
		return result, err
	}

	reversalSQL := e.computeReversal(ctx, before)
	rank, err := e.history.LatestRank(ctx)
	if err != nil {
		return result, err
	}
	if err := e.history.Insert(ctx, e.historyRowFor(m, rank+1, applyStart, reversalSQL)); err != nil {
		return result, err
	}

	result.DurationMs = stmtDuration.Milliseconds()
	result.Success = true
	return result, nil
}

func (e *Engine) applyInTransaction(ctx context.Context, m *migrate.ResolvedMigration, before *schema.Snapshot, applyStart time.Time, result MigrationResult) (MigrationResult, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return result, err
	}
	stmtDuration, err := e.execStatementsTimed(ctx, tx, m.Script, m.Statements)
	if err != nil {
		tx.Rollback()
		e.recordFailure(ctx, m, applyStart)
		return result, err
	}

	reversalSQL := e.computeReversal(ctx, before)

	rank, err := e.history.LatestRank(ctx)
	if err != nil {
		tx.Rollback()
		return result, err
	}
	txHistory := e.history.WithTx(tx)
	if err := txHistory.Insert(ctx, e.historyRowFor(m, rank+1, applyStart, reversalSQL)); err != nil {
		tx.Rollback()
		return result, err
	}
	if err := tx.Commit(); err != nil {
		return result, err
	}

	result.DurationMs = stmtDuration.Milliseconds()
	result.Success = true
	return result, nil
}

func (e *Engine) computeReversal(ctx context.Context, before *schema.Snapshot) string {
	if before == nil {
		return ""
	}
	after, err := schema.Capture(ctx, e.db, e.schema())
	if err != nil {
		return ""
	}
	d := schema.Compare(before, after)
	stmts, _ := schema.ReversalSQL(e.schema(), d)
	joined := ""
	for _, s := range stmts {
		joined += s + ";\n"
	}
	return joined
}

func (e *Engine) historyRowFor(m *migrate.ResolvedMigration, rank int, applyStart time.Time, reversalSQL string) historystore.HistoryRow {
	row := historystore.HistoryRow{
		InstalledRank:   rank,
		Description:     m.Description,
		Type:            historystore.RowTypeFromKind(m.Kind),
		Script:          m.Script,
		Checksum:        sql.NullInt32{Int32: m.Checksum, Valid: true},
		InstalledBy:     e.installedBy,
		InstalledOn:     time.Now(),
		ExecutionTimeMs: int(time.Since(applyStart).Milliseconds()),
		Success:         true,
	}
	if m.HasVersion {
		row.Version = sql.NullString{String: m.Version.String(), Valid: true}
	}
	if reversalSQL != "" {
		row.ReversalSQL = sql.NullString{String: reversalSQL, Valid: true}
	}
	return row
}

func (e *Engine) recordFailure(ctx context.Context, m *migrate.ResolvedMigration, applyStart time.Time) {
	rank, err := e.history.LatestRank(ctx)
	if err != nil {
		return
	}
	row := e.historyRowFor(m, rank+1, applyStart, "")
	row.Success = false
	_ = e.history.Insert(ctx, row)
}

// migrateBatch wraps every pending migration in one enclosing transaction.
// It is rejected up-front (as a *plan.PlanError) if any pending migration
// cannot run inside a shared transaction.
func (e *Engine) migrateBatch(ctx context.Context, resolved *migrate.Resolved, pending []*migrate.ResolvedMigration, start time.Time, report *MigrateReport) (*MigrateReport, error) {
	for _, m := range pending {
		if !m.RequiresTransaction {
			return report, &plan.PlanError{Reason: fmt.Sprintf("%s cannot run in batch-transaction mode (non-transactional or self-managed transaction)", m.Script)}
		}
	}

	if err := e.runHooks(ctx, resolved, "beforeMigrate", e.cfg.Hooks.BeforeMigrate); err != nil {
		return report, err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return report, err
	}

	txHistory := e.history.WithTx(tx)

	for _, m := range pending {
		applyStart := time.Now()
		if err := e.execStatements(ctx, tx, m.Script, m.Statements); err != nil {
			tx.Rollback()
			report.FailedCount++
			report.TotalTimeMs = durationMs(start)
			return report, err
		}

		// Rank is read through the batch transaction so each insert in the
		// same batch sees the ranks allocated before it.
		rank, err := txHistory.LatestRank(ctx)
		if err != nil {
			tx.Rollback()
			return report, err
		}
		row := e.historyRowFor(m, rank+1, applyStart, "")
		if err := txHistory.Insert(ctx, row); err != nil {
			tx.Rollback()
			return report, err
		}

		report.PerMigration = append(report.PerMigration, MigrationResult{
			Script: m.Script, Version: m.Version.String(), Checksum: m.Checksum,
			DurationMs: time.Since(applyStart).Milliseconds(), Success: true,
		})
		report.AppliedCount++
	}

	if err := tx.Commit(); err != nil {
		report.TotalTimeMs = durationMs(start)
		return report, err
	}

	if err := e.runHooks(ctx, resolved, "afterMigrate", e.cfg.Hooks.AfterMigrate); err != nil {
		report.TotalTimeMs = durationMs(start)
		return report, err
	}

	report.TotalTimeMs = durationMs(start)
	return report, nil
}
