// SPDX-License-Identifier: Apache-2.0

package dbconn

import "time"

// SSLMode is the TLS posture for a connection, mirroring the subset of
// libpq sslmodes the engine supports.
type SSLMode string

const (
	SSLDisable SSLMode = "disable"
	SSLPrefer  SSLMode = "prefer"
	SSLRequire SSLMode = "require"
)

// Options configures Connect. It is the dbconn-local projection of the
// `database.*` fields of the resolved configuration record.
type Options struct {
	URL string

	// Schema, when set, is applied to the connection's search_path so
	// unqualified object references in migration SQL resolve against it
	// by default.
	Schema string

	SSLMode SSLMode

	// SSLRootCert, when set, is passed to lib/pq as the `sslrootcert` DSN
	// parameter: a PEM bundle of trusted certificate authority roots
	// against which the server certificate is verified under sslmode
	// "require" (lib/pq treats "require" plus a supplied root bundle as
	// verify-ca). Left empty, lib/pq falls back to the system trust
	// store. There is no bundle shipped with the engine itself — see
	// DESIGN.md for why.
	SSLRootCert string

	ConnectTimeout   time.Duration
	StatementTimeout time.Duration
	ConnectRetries   int
	KeepaliveSecs    int
}

const (
	defaultBackoffBase = 250 * time.Millisecond
	defaultBackoffCap  = 10 * time.Second
)
