// SPDX-License-Identifier: Apache-2.0

// Package historystore manages the schema history table that records every
// applied, failed, or undone migration: a self-contained idempotent DDL
// string executed once, plus a set of thin CRUD primitives layered over
// *sql.DB/*sql.Tx, producing a flat Flyway-style ledger.
package historystore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/waypointdb/waypoint/pkg/dbconn"
	"github.com/waypointdb/waypoint/pkg/migrate"
)

// RowType distinguishes ordinary migrations from the synthetic baseline
// marker row.
type RowType string

const (
	TypeVersioned  RowType = "SQL"
	TypeRepeatable RowType = "SQL_REPEATABLE"
	TypeUndo       RowType = "SQL_UNDO"
	TypeBaseline   RowType = "BASELINE"
)

// RowTypeFromKind maps a migrate.Kind to its history row type.
func RowTypeFromKind(k migrate.Kind) RowType {
	switch k {
	case migrate.KindRepeatable:
		return TypeRepeatable
	case migrate.KindUndo:
		return TypeUndo
	default:
		return TypeVersioned
	}
}

// HistoryRow is one record in the schema history table.
type HistoryRow struct {
	InstalledRank   int
	Version         sql.NullString
	Description     string
	Type            RowType
	Script          string
	Checksum        sql.NullInt32
	InstalledBy     string
	InstalledOn     time.Time
	ExecutionTimeMs int
	Success         bool
	ReversalSQL     sql.NullString
}

// Store wraps a Querier (or a transaction, via WithTx) bound to a single
// configured schema.table, providing the history table's CRUD surface.
type Store struct {
	db     Querier
	Schema string
	Table  string
}

// Querier is satisfied by *sql.DB, *sql.Tx and dbconn.DB alike, so the
// same primitives work inside the executor's per-migration transaction
// and outside it.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// New builds a Store against db for the given schema and table.
func New(db Querier, schema, table string) *Store {
	return &Store{db: db, Schema: schema, Table: table}
}

// WithTx returns a Store bound to tx instead of the original *sql.DB, so
// history-row inserts happen in the same transaction as the migration's
// own statements and are atomic with it.
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{db: tx, Schema: s.Schema, Table: s.Table}
}

func (s *Store) qualifiedTable() string {
	return pq.QuoteIdentifier(s.Schema) + "." + pq.QuoteIdentifier(s.Table)
}

const ddlTemplate = `
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[2]s (
	installed_rank     INTEGER PRIMARY KEY,
	version            VARCHAR(128),
	description        VARCHAR(512) NOT NULL,
	type               VARCHAR(24) NOT NULL,
	script             VARCHAR(1024) NOT NULL,
	checksum           INTEGER,
	installed_by       VARCHAR(256) NOT NULL,
	installed_on       TIMESTAMPTZ NOT NULL DEFAULT now(),
	execution_time_ms  INTEGER NOT NULL,
	success            BOOLEAN NOT NULL,
	reversal_sql       TEXT
);

CREATE INDEX IF NOT EXISTS %[3]s_version_idx ON %[2]s (version);
`

// Bootstrap creates the configured schema and history table if they do not
// already exist. It is idempotent and safe to call on every run.
func (s *Store) Bootstrap(ctx context.Context) error {
	stmt := fmt.Sprintf(ddlTemplate,
		pq.QuoteIdentifier(s.Schema),
		s.qualifiedTable(),
		s.Table)
	_, err := s.db.ExecContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("bootstrap history table: %w", err)
	}
	return nil
}

// LatestRank returns the highest installed_rank currently recorded, or 0
// if the table is empty.
func (s *Store) LatestRank(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT COALESCE(MAX(installed_rank), 0) FROM %s", s.qualifiedTable()))
	if err != nil {
		return 0, fmt.Errorf("latest rank: %w", err)
	}
	defer rows.Close()

	var rank int
	if err := dbconn.ScanFirstValue(rows, &rank); err != nil {
		return 0, fmt.Errorf("latest rank: %w", err)
	}
	return rank, nil
}

// FetchAll returns every row ordered by installed_rank ascending.
func (s *Store) FetchAll(ctx context.Context) ([]HistoryRow, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT installed_rank, version, description, type, script, checksum,
		       installed_by, installed_on, execution_time_ms, success, reversal_sql
		FROM %s ORDER BY installed_rank ASC`, s.qualifiedTable()))
	if err != nil {
		return nil, fmt.Errorf("fetch all: %w", err)
	}
	defer rows.Close()

	var out []HistoryRow
	for rows.Next() {
		var r HistoryRow
		var typ string
		if err := rows.Scan(&r.InstalledRank, &r.Version, &r.Description, &typ, &r.Script,
			&r.Checksum, &r.InstalledBy, &r.InstalledOn, &r.ExecutionTimeMs, &r.Success, &r.ReversalSQL); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		r.Type = RowType(typ)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return out, nil
}

// Insert appends a new row, assigning installed_rank by the caller
// beforehand (the executor allocates ranks via LatestRank+1 while it holds
// the advisory lock).
func (s *Store) Insert(ctx context.Context, r HistoryRow) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (installed_rank, version, description, type, script, checksum,
		                 installed_by, installed_on, execution_time_ms, success, reversal_sql)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, s.qualifiedTable()),
		r.InstalledRank, r.Version, r.Description, string(r.Type), r.Script, r.Checksum,
		r.InstalledBy, r.InstalledOn, r.ExecutionTimeMs, r.Success, r.ReversalSQL)
	if err != nil {
		return fmt.Errorf("insert history row: %w", err)
	}
	return nil
}

// UpdateChecksum overwrites the recorded checksum for a rank, used by
// repair to realign a row with the current file contents.
func (s *Store) UpdateChecksum(ctx context.Context, rank int, checksum int32) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET checksum = $1 WHERE installed_rank = $2", s.qualifiedTable()),
		checksum, rank)
	if err != nil {
		return fmt.Errorf("update checksum: %w", err)
	}
	return requireOneRow(res, rank)
}

// MarkFailed flips success to false for a row, keeping the row itself in
// place.
func (s *Store) MarkFailed(ctx context.Context, rank int) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET success = false WHERE installed_rank = $1", s.qualifiedTable()),
		rank)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireOneRow(res, rank)
}

// Delete removes a row outright, used by repair to purge failed rows that
// a subsequent migrate run should treat as never having happened.
func (s *Store) Delete(ctx context.Context, rank int) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE installed_rank = $1", s.qualifiedTable()),
		rank)
	if err != nil {
		return fmt.Errorf("delete history row: %w", err)
	}
	return requireOneRow(res, rank)
}

// RecordUndo stores the reversal SQL applied for a versioned migration and
// flips its success flag to false, marking it as undone.
func (s *Store) RecordUndo(ctx context.Context, rank int, reversalSQL string) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET success = false, reversal_sql = $1 WHERE installed_rank = $2", s.qualifiedTable()),
		reversalSQL, rank)
	if err != nil {
		return fmt.Errorf("record undo: %w", err)
	}
	return requireOneRow(res, rank)
}

func requireOneRow(res sql.Result, rank int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no history row with installed_rank %d", rank)
	}
	return nil
}
