// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/waypointdb/waypoint/pkg/config"
	"github.com/waypointdb/waypoint/pkg/historystore"
	"github.com/waypointdb/waypoint/pkg/migrate"
)

// TestValidateDetectsChecksumDrift covers a resolved file whose on-disk
// checksum no longer matches the checksum recorded at apply time.
func TestValidateDetectsChecksumDrift(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeMigration(t, dir, "V1__init.sql", "CREATE TABLE foo (id int);")
	actual := migrate.Checksum("CREATE TABLE foo (id int);")

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := config.Config{Migrations: config.Migrations{Locations: []string{dir}, Schema: "public", Table: "waypoint_schema_history"}}
	e := &Engine{db: db, history: historystore.New(db, "public", "waypoint_schema_history"), cfg: cfg}

	mock.ExpectQuery("SELECT installed_rank").WillReturnRows(
		sqlmock.NewRows([]string{"installed_rank", "version", "description", "type", "script",
			"checksum", "installed_by", "installed_on", "execution_time_ms", "success", "reversal_sql"}).
			AddRow(1, "1", "init", "SQL", "V1__init.sql", actual+1, "waypoint", time.Unix(0, 0), 1, true, nil))

	report, err := e.Validate(context.Background())
	require.NoError(t, err)
	require.False(t, report.Valid)
	require.Len(t, report.Errors, 1)
	require.Equal(t, "checksum_mismatch", report.Errors[0].Kind)
	require.Equal(t, "V1__init.sql", report.Errors[0].Script)
}

// TestValidateFlagsMissingFileForAppliedRow covers a successful versioned
// history row whose migration file no longer exists on disk.
func TestValidateFlagsMissingFileForAppliedRow(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := config.Config{Migrations: config.Migrations{Locations: []string{dir}, Schema: "public", Table: "waypoint_schema_history"}}
	e := &Engine{db: db, history: historystore.New(db, "public", "waypoint_schema_history"), cfg: cfg}

	mock.ExpectQuery("SELECT installed_rank").WillReturnRows(
		sqlmock.NewRows([]string{"installed_rank", "version", "description", "type", "script",
			"checksum", "installed_by", "installed_on", "execution_time_ms", "success", "reversal_sql"}).
			AddRow(1, "1", "init", "SQL", "V1__init.sql", 7, "waypoint", time.Unix(0, 0), 1, true, nil))

	report, err := e.Validate(context.Background())
	require.NoError(t, err)
	require.False(t, report.Valid)
	require.Len(t, report.Errors, 1)
	require.Equal(t, "missing", report.Errors[0].Kind)
}

// TestMigrateRejectsOutOfOrderByDefault covers a lower-versioned pending
// migration encountered after a higher version has already been applied,
// with out-of-order application disallowed (the default).
func TestMigrateRejectsOutOfOrderByDefault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeMigration(t, dir, "V1__init.sql", "CREATE TABLE foo (id int);")
	writeMigration(t, dir, "V2__add_bar.sql", "CREATE TABLE bar (id int);")

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := config.Config{Migrations: config.Migrations{Locations: []string{dir}, Schema: "public", Table: "waypoint_schema_history"}}
	e := &Engine{db: db, history: historystore.New(db, "public", "waypoint_schema_history"), cfg: cfg, installedBy: "waypoint"}

	mock.ExpectExec("SELECT pg_advisory_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT installed_rank").WillReturnRows(
		sqlmock.NewRows([]string{"installed_rank", "version", "description", "type", "script",
			"checksum", "installed_by", "installed_on", "execution_time_ms", "success", "reversal_sql"}).
			AddRow(1, "2", "add_bar", "SQL", "V2__add_bar.sql", migrate.Checksum("CREATE TABLE bar (id int);"), "waypoint", time.Unix(0, 0), 1, true, nil))
	mock.ExpectExec("SELECT pg_advisory_unlock").WillReturnResult(sqlmock.NewResult(0, 0))

	report, err := e.Migrate(context.Background(), "")
	require.Error(t, err)
	var oooErr *OutOfOrderError
	require.ErrorAs(t, err, &oooErr)
	require.Equal(t, "V1__init.sql", oooErr.Script)
	require.Equal(t, 0, report.AppliedCount)
}

// TestMigrateAppliesOutOfOrderWhenEnabled covers the same scenario as
// TestMigrateRejectsOutOfOrderByDefault but with OutOfOrder enabled, so the
// lower-versioned pending migration is applied rather than rejected.
func TestMigrateAppliesOutOfOrderWhenEnabled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeMigration(t, dir, "V1__init.sql", "CREATE TABLE foo (id int);")
	writeMigration(t, dir, "V2__add_bar.sql", "CREATE TABLE bar (id int);")

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := config.Config{Migrations: config.Migrations{Locations: []string{dir}, Schema: "public", Table: "waypoint_schema_history", OutOfOrder: true}}
	e := &Engine{db: db, history: historystore.New(db, "public", "waypoint_schema_history"), cfg: cfg, installedBy: "waypoint"}

	mock.ExpectExec("SELECT pg_advisory_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT installed_rank").WillReturnRows(
		sqlmock.NewRows([]string{"installed_rank", "version", "description", "type", "script",
			"checksum", "installed_by", "installed_on", "execution_time_ms", "success", "reversal_sql"}).
			AddRow(1, "2", "add_bar", "SQL", "V2__add_bar.sql", migrate.Checksum("CREATE TABLE bar (id int);"), "waypoint", time.Unix(0, 0), 1, true, nil))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE foo").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE").WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(1))
	mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec("SELECT pg_advisory_unlock").WillReturnResult(sqlmock.NewResult(0, 0))

	report, err := e.Migrate(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 1, report.AppliedCount)
	require.Len(t, report.PerMigration, 1)
	require.Equal(t, "V1__init.sql", report.PerMigration[0].Script)
	require.True(t, report.PerMigration[0].Success)
}

// TestMigrateReappliesRepeatableOnChecksumChangeThenNoOps covers the
// repeatable-migration re-apply rule across three successive Migrate calls:
// first apply (no prior row), re-apply after the file's checksum changes,
// then a third call that is a no-op because the checksum is unchanged.
func TestMigrateReappliesRepeatableOnChecksumChangeThenNoOps(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	body := "CREATE OR REPLACE VIEW v AS SELECT 1;"
	writeMigration(t, dir, "R__view.sql", body)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := config.Config{Migrations: config.Migrations{Locations: []string{dir}, Schema: "public", Table: "waypoint_schema_history"}}
	e := &Engine{db: db, history: historystore.New(db, "public", "waypoint_schema_history"), cfg: cfg, installedBy: "waypoint"}

	// Call 1: no prior repeatable row, applies.
	mock.ExpectExec("SELECT pg_advisory_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT installed_rank").WillReturnRows(
		sqlmock.NewRows([]string{"installed_rank", "version", "description", "type", "script",
			"checksum", "installed_by", "installed_on", "execution_time_ms", "success", "reversal_sql"}))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE OR REPLACE VIEW").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE").WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))
	mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec("SELECT pg_advisory_unlock").WillReturnResult(sqlmock.NewResult(0, 0))

	report, err := e.Migrate(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 1, report.AppliedCount)

	// Call 2: file content changes, so its checksum no longer matches the
	// row recorded in call 1 — the engine re-applies it.
	newBody := "CREATE OR REPLACE VIEW v AS SELECT 2;"
	writeMigration(t, dir, "R__view.sql", newBody)

	mock.ExpectExec("SELECT pg_advisory_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT installed_rank").WillReturnRows(
		sqlmock.NewRows([]string{"installed_rank", "version", "description", "type", "script",
			"checksum", "installed_by", "installed_on", "execution_time_ms", "success", "reversal_sql"}).
			AddRow(1, nil, "view", "SQL_REPEATABLE", "R__view.sql", migrate.Checksum(body), "waypoint", time.Unix(0, 0), 1, true, nil))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE OR REPLACE VIEW").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE").WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(1))
	mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec("SELECT pg_advisory_unlock").WillReturnResult(sqlmock.NewResult(0, 0))

	report, err = e.Migrate(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 1, report.AppliedCount)

	// Call 3: checksum unchanged since call 2 — no-op.
	mock.ExpectExec("SELECT pg_advisory_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT installed_rank").WillReturnRows(
		sqlmock.NewRows([]string{"installed_rank", "version", "description", "type", "script",
			"checksum", "installed_by", "installed_on", "execution_time_ms", "success", "reversal_sql"}).
			AddRow(2, nil, "view", "SQL_REPEATABLE", "R__view.sql", migrate.Checksum(newBody), "waypoint", time.Unix(0, 0), 1, true, nil))
	mock.ExpectExec("SELECT pg_advisory_unlock").WillReturnResult(sqlmock.NewResult(0, 0))

	report, err = e.Migrate(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 0, report.AppliedCount)
	require.Empty(t, report.PerMigration)
}

// TestMigrateSkipsMigrationsAtOrBelowBaseline covers a history containing a
// BASELINE marker: versioned migrations at or below the baseline version are
// never applied, while later ones are.
func TestMigrateSkipsMigrationsAtOrBelowBaseline(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeMigration(t, dir, "V1__init.sql", "CREATE TABLE foo (id int);")
	writeMigration(t, dir, "V2__add_bar.sql", "CREATE TABLE bar (id int);")

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := config.Config{Migrations: config.Migrations{Locations: []string{dir}, Schema: "public", Table: "waypoint_schema_history"}}
	e := &Engine{db: db, history: historystore.New(db, "public", "waypoint_schema_history"), cfg: cfg, installedBy: "waypoint"}

	mock.ExpectExec("SELECT pg_advisory_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT installed_rank").WillReturnRows(
		sqlmock.NewRows([]string{"installed_rank", "version", "description", "type", "script",
			"checksum", "installed_by", "installed_on", "execution_time_ms", "success", "reversal_sql"}).
			AddRow(1, "1", "baseline", "BASELINE", "<< baseline >>", nil, "waypoint", time.Unix(0, 0), 0, true, nil))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE bar").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE").WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(1))
	mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec("SELECT pg_advisory_unlock").WillReturnResult(sqlmock.NewResult(0, 0))

	report, err := e.Migrate(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 1, report.AppliedCount)
	require.Len(t, report.PerMigration, 1)
	require.Equal(t, "V2__add_bar.sql", report.PerMigration[0].Script)
}

// TestMigrateBatchAppliesAllPendingInOneTransaction covers batch-transaction
// mode: both pending migrations execute inside a single enclosing
// transaction, with rank allocation reading through that transaction so the
// second insert sees the first's rank.
func TestMigrateBatchAppliesAllPendingInOneTransaction(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeMigration(t, dir, "V1__init.sql", "CREATE TABLE foo (id int);")
	writeMigration(t, dir, "V2__add_bar.sql", "CREATE TABLE bar (id int);")

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := config.Config{Migrations: config.Migrations{Locations: []string{dir}, Schema: "public", Table: "waypoint_schema_history", BatchTransaction: true}}
	e := &Engine{db: db, history: historystore.New(db, "public", "waypoint_schema_history"), cfg: cfg, installedBy: "waypoint"}

	mock.ExpectExec("SELECT pg_advisory_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT installed_rank").WillReturnRows(
		sqlmock.NewRows([]string{"installed_rank", "version", "description", "type", "script",
			"checksum", "installed_by", "installed_on", "execution_time_ms", "success", "reversal_sql"}))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE foo").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE").WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))
	mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("CREATE TABLE bar").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE").WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(1))
	mock.ExpectExec("INSERT INTO").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec("SELECT pg_advisory_unlock").WillReturnResult(sqlmock.NewResult(0, 0))

	report, err := e.Migrate(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 2, report.AppliedCount)
}

// TestUndoReversesLatestUsingUFile covers Undo selecting the most recently
// applied versioned migration and reversing it using a matching U-file
// rather than any stored reversal_sql.
func TestUndoReversesLatestUsingUFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeMigration(t, dir, "V1__init.sql", "CREATE TABLE foo (id int);")
	writeMigration(t, dir, "U1__init.sql", "DROP TABLE foo;")

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := config.Config{Migrations: config.Migrations{Locations: []string{dir}, Schema: "public", Table: "waypoint_schema_history"}}
	e := &Engine{db: db, history: historystore.New(db, "public", "waypoint_schema_history"), cfg: cfg}

	mock.ExpectExec("SELECT pg_advisory_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT installed_rank").WillReturnRows(
		sqlmock.NewRows([]string{"installed_rank", "version", "description", "type", "script",
			"checksum", "installed_by", "installed_on", "execution_time_ms", "success", "reversal_sql"}).
			AddRow(1, "1", "init", "SQL", "V1__init.sql", migrate.Checksum("CREATE TABLE foo (id int);"), "waypoint", time.Unix(0, 0), 1, true, nil))
	mock.ExpectBegin()
	mock.ExpectExec("DROP TABLE foo").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("SELECT pg_advisory_unlock").WillReturnResult(sqlmock.NewResult(0, 0))

	report, err := e.Undo(context.Background(), UndoTarget{Last: true})
	require.NoError(t, err)
	require.Len(t, report.Undone, 1)
	require.Equal(t, "V1__init.sql", report.Undone[0].Script)
}
