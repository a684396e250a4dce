// SPDX-License-Identifier: Apache-2.0

package dbconn

import (
	"context"
	"database/sql"
)

// DB is the connection surface the engine depends on: a thin facade over
// *sql.DB so the executor never has to know whether it is talking to a
// pooled connection or the fake used in unit tests. Conn is part of the
// surface because the advisory lock must be held on one dedicated
// checked-out connection for a run's lifetime.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	Conn(ctx context.Context) (*sql.Conn, error)
	Close() error
}

// RDB wraps a *sql.DB with no additional retry behavior of its own: this
// engine's retry policy operates at the inter-migration level (see
// Reconnector), because a mid-transaction transient error has already
// lost the transaction and must fail that migration rather than retry
// mid-flight.
type RDB struct {
	DB *sql.DB
}

func (r *RDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return r.DB.ExecContext(ctx, query, args...)
}

func (r *RDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return r.DB.QueryContext(ctx, query, args...)
}

func (r *RDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return r.DB.QueryRowContext(ctx, query, args...)
}

func (r *RDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return r.DB.BeginTx(ctx, opts)
}

func (r *RDB) Conn(ctx context.Context) (*sql.Conn, error) {
	return r.DB.Conn(ctx)
}

func (r *RDB) Close() error {
	return r.DB.Close()
}

// ScanFirstValue scans the first row of a single-column result into dest,
// leaving dest untouched if there were no rows.
func ScanFirstValue[T any](rows *sql.Rows, dest *T) error {
	if rows.Next() {
		if err := rows.Scan(dest); err != nil {
			return err
		}
	}
	return rows.Err()
}
