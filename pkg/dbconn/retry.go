// SPDX-License-Identifier: Apache-2.0

package dbconn

import (
	"errors"
	"io"
	"net"
	"strings"

	"github.com/lib/pq"
)

// transientSQLStates are SQLSTATEs the engine treats as transport-level
// rather than semantic failures: the server went away, not "your SQL was
// wrong".
var transientSQLStates = map[pq.ErrorCode]struct{}{
	"57P01": {}, // admin_shutdown
	"57P02": {}, // crash_shutdown
	"57P03": {}, // cannot_connect_now
	"08000": {}, // connection_exception
	"08003": {}, // connection_does_not_exist
	"08006": {}, // connection_failure
	"08001": {}, // sqlclient_unable_to_establish_sqlconnection
	"08004": {}, // sqlserver_rejected_establishment_of_sqlconnection
}

// IsTransient reports whether err represents a connection-level failure
// (connection reset, admin shutdown, unexpected EOF, broken pipe) eligible
// for retry or inter-migration reconnection, as opposed to a fatal
// statement-level SQL error.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		_, ok := transientSQLStates[pqErr.Code]
		return ok
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, frag := range []string{"connection reset", "broken pipe", "unexpected eof", "bad connection", "connection refused"} {
		if strings.Contains(msg, frag) {
			return true
		}
	}

	return false
}
