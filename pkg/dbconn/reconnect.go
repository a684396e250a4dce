// SPDX-License-Identifier: Apache-2.0

package dbconn

import (
	"context"
	"database/sql"
	"fmt"
)

// maxReconnectAttempts bounds the inter-migration reconnection loop at
// three tries: a transient failure between migrations gets a bounded
// number of fresh-connection attempts before the run gives up and
// surfaces the last connect error.
const maxReconnectAttempts = 3

// Reconnector re-establishes a connection between migrations after a
// transient failure has already lost whatever transaction was in flight.
// It does not retry mid-transaction: the engine reaches for a Reconnector
// only when a migration failed with a transient error before any of its
// statements ran, and then re-attempts that same migration once on the
// new connection.
type Reconnector struct {
	opts Options
}

// NewReconnector builds a Reconnector that opens fresh connections with the
// same options used for the original connection.
func NewReconnector(opts Options) *Reconnector {
	return &Reconnector{opts: opts}
}

// Reconnect replaces db with a freshly dialed connection, closing the old
// one first. It attempts up to maxReconnectAttempts times, returning the
// last error if none succeed.
func (r *Reconnector) Reconnect(ctx context.Context, old DB) (*sql.DB, error) {
	if old != nil {
		old.Close()
	}

	var lastErr error
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		db, err := Connect(ctx, r.opts)
		if err == nil {
			return db, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("reconnect: exhausted %d attempts: %w", maxReconnectAttempts, lastErr)
}
