// SPDX-License-Identifier: Apache-2.0

package migrate

import (
	"fmt"
	"strings"
)

// Split splits a SQL script into a sequence of statements at unquoted,
// uncommented semicolons. It understands single-quoted strings (with ''
// escapes), E-strings, double-quoted identifiers, line comments, nested
// block comments, and dollar-quoted strings. A statement made up only of
// whitespace and comments is dropped.
func Split(script string) ([]string, error) {
	var stmts []string
	var cur strings.Builder
	// hasCode records whether cur holds anything besides whitespace and
	// comments.
	hasCode := false

	i := 0
	n := len(script)

	flush := func() {
		s := strings.TrimSpace(cur.String())
		if s != "" && hasCode {
			stmts = append(stmts, s)
		}
		cur.Reset()
		hasCode = false
	}

	for i < n {
		c := script[i]

		switch {
		case c == '-' && i+1 < n && script[i+1] == '-':
			end := strings.IndexByte(script[i:], '\n')
			if end < 0 {
				cur.WriteString(script[i:])
				i = n
				continue
			}
			cur.WriteString(script[i : i+end+1])
			i += end + 1

		case c == '/' && i+1 < n && script[i+1] == '*':
			end, err := skipBlockComment(script, i)
			if err != nil {
				return nil, err
			}
			cur.WriteString(script[i:end])
			i = end

		case c == '\'' || (c == 'E' && i+1 < n && script[i+1] == '\'') || (c == 'e' && i+1 < n && script[i+1] == '\''):
			start := i
			if c == 'E' || c == 'e' {
				i++
			}
			end, err := skipQuotedString(script, i, '\'', c == 'E' || c == 'e')
			if err != nil {
				return nil, err
			}
			cur.WriteString(script[start:end])
			hasCode = true
			i = end

		case c == '"':
			end, err := skipQuotedString(script, i, '"', false)
			if err != nil {
				return nil, err
			}
			cur.WriteString(script[i:end])
			hasCode = true
			i = end

		case c == '$':
			hasCode = true
			if _, end, ok := scanDollarQuote(script, i); ok {
				cur.WriteString(script[i:end])
				i = end
				continue
			}
			cur.WriteByte(c)
			i++

		case c == ';':
			flush()
			i++

		default:
			cur.WriteByte(c)
			if strings.IndexByte(" \t\r\n\f\v", c) < 0 {
				hasCode = true
			}
			i++
		}
	}

	flush()

	return stmts, nil
}

// skipQuotedString scans a single- or double-quoted string starting at
// body[start] (which must be the opening quote) and returns the index just
// past the closing quote. Doubled quotes ('' or "") are escapes for a
// literal quote character and do not close the string. If escapeBackslash
// is true (E-strings), a backslash escapes the following character,
// including the quote.
func skipQuotedString(body string, start int, quote byte, escapeBackslash bool) (int, error) {
	i := start + 1
	n := len(body)
	for i < n {
		switch {
		case escapeBackslash && body[i] == '\\' && i+1 < n:
			i += 2
		case body[i] == quote:
			if i+1 < n && body[i+1] == quote {
				i += 2
				continue
			}
			return i + 1, nil
		default:
			i++
		}
	}
	return 0, &ParseError{Reason: fmt.Sprintf("unterminated quoted string starting at offset %d", start)}
}

// skipBlockComment scans a (possibly nested) /* ... */ comment starting at
// body[start] and returns the index just past its end.
func skipBlockComment(body string, start int) (int, error) {
	depth := 0
	i := start
	n := len(body)
	for i < n {
		switch {
		case i+1 < n && body[i] == '/' && body[i+1] == '*':
			depth++
			i += 2
		case i+1 < n && body[i] == '*' && body[i+1] == '/':
			depth--
			i += 2
			if depth == 0 {
				return i, nil
			}
		default:
			i++
		}
	}
	return 0, &ParseError{Reason: fmt.Sprintf("unterminated block comment starting at offset %d", start)}
}

// nonTransactionalPrefixes are statement prefixes that cannot run inside a
// transaction block in Postgres.
var nonTransactionalPrefixes = []string{
	"CREATE INDEX CONCURRENTLY",
	"DROP INDEX CONCURRENTLY",
	"ALTER TYPE",
	"CREATE DATABASE",
	"DROP DATABASE",
	"VACUUM",
	"REINDEX",
}

// RequiresImplicitTransaction reports whether the statements of a script
// should run inside an engine-managed wrapping transaction: true unless the
// script declares its own transaction control (BEGIN/COMMIT) or contains a
// statement that cannot run inside a transaction block.
func RequiresImplicitTransaction(stmts []string) bool {
	for _, s := range stmts {
		upper := strings.ToUpper(strings.TrimSpace(s))
		if strings.HasPrefix(upper, "BEGIN") || strings.HasPrefix(upper, "COMMIT") || strings.HasPrefix(upper, "START TRANSACTION") {
			return false
		}
		for _, p := range nonTransactionalPrefixes {
			if strings.HasPrefix(upper, p) {
				return false
			}
		}
	}
	return true
}
