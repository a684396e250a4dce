// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/waypointdb/waypoint/pkg/dbconn"
)

// execer is satisfied by both *sql.DB and *sql.Tx, the two contexts a
// migration's statements run in depending on transaction mode.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// execStatements runs stmts in order against execer, stopping at the first
// failure. It returns an *ExecuteError identifying the failing statement,
// classified transient or fatal per dbconn.IsTransient.
func (e *Engine) execStatements(ctx context.Context, ex execer, script string, stmts []string) error {
	for i, stmt := range stmts {
		if _, err := ex.ExecContext(ctx, stmt); err != nil {
			return statementError(script, i, err)
		}
	}
	return nil
}

// execStatementsTimed behaves like execStatements but accumulates
// per-statement wall time, for the executor's duration_ms reporting.
func (e *Engine) execStatementsTimed(ctx context.Context, ex execer, script string, stmts []string) (time.Duration, error) {
	start := time.Now()
	for i, stmt := range stmts {
		if _, err := ex.ExecContext(ctx, stmt); err != nil {
			return time.Since(start), statementError(script, i, err)
		}
	}
	return time.Since(start), nil
}

func statementError(script string, idx int, err error) *ExecuteError {
	var pqErr *pq.Error
	sqlstate := ""
	if errors.As(err, &pqErr) {
		sqlstate = string(pqErr.Code)
	}
	return &ExecuteError{
		Script:    script,
		StmtIndex: idx,
		SQLState:  sqlstate,
		Message:   err.Error(),
		Transient: dbconn.IsTransient(err),
		Err:       err,
	}
}
