// SPDX-License-Identifier: Apache-2.0

package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloudflare/backoff"
	"github.com/lib/pq"

	"github.com/waypointdb/waypoint/internal/connstr"
)

// ConnectError wraps a connection failure, distinguishing retry exhaustion,
// TLS handshake failure and authentication rejection.
type ConnectError struct {
	Reason string
	Err    error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connect error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("connect error: %s", e.Reason)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// RewriteJDBCURL accepts a `jdbc:postgresql://...` URL transparently by
// stripping the `jdbc:` prefix so the remainder parses as an ordinary
// postgres:// URL.
func RewriteJDBCURL(raw string) string {
	return strings.TrimPrefix(raw, "jdbc:")
}

// ParseURLParts extracts the username and database name from a connection
// URL (postgres:// or jdbc:postgresql://), for callers that need them
// outside of dialing a connection — notably the ${user} and ${database}
// placeholder builtins. A URL that fails to parse yields two empty
// strings rather than an error; placeholder resolution degrades to ""
// rather than aborting the run over a cosmetic value.
func ParseURLParts(raw string) (user, database string) {
	u, err := url.Parse(RewriteJDBCURL(raw))
	if err != nil {
		return "", ""
	}
	if u.User != nil {
		user = u.User.Username()
	}
	database = strings.TrimPrefix(u.Path, "/")
	return user, database
}

// Connect opens a connection, retrying transport-level failures up to
// opts.ConnectRetries times with exponential backoff plus jitter (base
// 250ms, cap 10s). Each attempt pings the server (bounded by
// opts.ConnectTimeout when set); a ping failure that IsTransient classifies
// as transient is retried, any other failure is returned at once.
func Connect(ctx context.Context, opts Options) (*sql.DB, error) {
	dsn, err := buildDSN(opts)
	if err != nil {
		return nil, &ConnectError{Reason: "invalid connection URL", Err: err}
	}

	b := backoff.New(defaultBackoffCap, defaultBackoffBase)

	var lastErr error
	attempts := opts.ConnectRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, b.Duration()); err != nil {
				return nil, &ConnectError{Reason: "cancelled while retrying connect", Err: err}
			}
		}

		connCtx := ctx
		cancel := func() {}
		if opts.ConnectTimeout > 0 {
			connCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		}

		db, err := sql.Open("postgres", dsn)
		if err != nil {
			cancel()
			return nil, &ConnectError{Reason: "failed to open connection", Err: err}
		}

		err = db.PingContext(connCtx)
		cancel()
		if err == nil {
			return db, nil
		}

		db.Close()
		lastErr = err

		if !IsTransient(err) {
			return nil, &ConnectError{Reason: "non-transient connect failure", Err: err}
		}
	}

	return nil, &ConnectError{Reason: fmt.Sprintf("exhausted %d connect attempts", attempts), Err: lastErr}
}

func buildDSN(opts Options) (string, error) {
	raw := RewriteJDBCURL(opts.URL)

	if opts.Schema != "" {
		withPath, err := connstr.AppendSearchPathOption(raw, opts.Schema)
		if err != nil {
			return "", fmt.Errorf("setting search_path: %w", err)
		}
		raw = withPath
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parsing connection url: %w", err)
	}

	q := u.Query()
	if opts.StatementTimeout > 0 {
		// Carried in the startup options so every session in the pool gets
		// it, not just whichever connection a one-off SET happened to run on.
		options := q.Get("options")
		if options != "" {
			options += " "
		}
		options += fmt.Sprintf("-c statement_timeout=%d", opts.StatementTimeout.Milliseconds())
		q.Set("options", options)
	}
	if opts.SSLMode != "" {
		q.Set("sslmode", string(opts.SSLMode))
	}
	if opts.SSLRootCert != "" {
		q.Set("sslrootcert", opts.SSLRootCert)
	}
	if opts.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(opts.ConnectTimeout.Seconds())))
	}
	if opts.KeepaliveSecs > 0 {
		q.Set("keepalives", "1")
		q.Set("keepalives_idle", strconv.Itoa(opts.KeepaliveSecs))
	}
	u.RawQuery = q.Encode()

	dsn, err := pq.ParseURL(u.String())
	if err != nil {
		// Not every valid libpq DSN round-trips through pq.ParseURL (e.g. a
		// bare "key=value" DSN); fall back to using it as-is.
		return u.String(), nil
	}
	return dsn, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
