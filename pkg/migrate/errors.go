// SPDX-License-Identifier: Apache-2.0

package migrate

import "fmt"

// ParseError reports malformed migration content: a bad version string, an
// unknown placeholder, a malformed directive, or an unterminated string or
// dollar-quote in the statement splitter. Distinct from ResolveError, which
// reports problems with the migration set as a whole rather than one file's
// contents.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s", e.Reason)
}
