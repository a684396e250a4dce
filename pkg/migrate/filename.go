// SPDX-License-Identifier: Apache-2.0

package migrate

import (
	"strings"
)

// ParsedName is the result of tokenizing a migration filename into its kind,
// optional version and description.
type ParsedName struct {
	Kind        Kind
	Version     Version
	HasVersion  bool
	Description string
}

// ParseFilename tokenizes a migration filename of the form
// V<ver>__<desc>.sql | R__<desc>.sql | U<ver>__<desc>.sql.
//
// The leading letter must be an uppercase V, R or U; a lowercase prefix (or
// any other unrecognized shape) is reported via ok=false so that the caller
// can skip the file with a warning rather than aborting resolution.
func ParseFilename(name string) (parsed ParsedName, ok bool) {
	const ext = ".sql"
	if !strings.HasSuffix(name, ext) {
		return ParsedName{}, false
	}
	base := strings.TrimSuffix(name, ext)

	if base == "" {
		return ParsedName{}, false
	}

	sepIdx := strings.Index(base, "__")
	if sepIdx < 0 {
		return ParsedName{}, false
	}

	prefix := base[:sepIdx]
	description := descriptionFromUnderscores(base[sepIdx+2:])

	if prefix == "" {
		return ParsedName{}, false
	}

	switch prefix[0] {
	case 'R':
		if prefix != "R" {
			return ParsedName{}, false
		}
		return ParsedName{Kind: KindRepeatable, Description: description}, true
	case 'V', 'U':
		verStr := prefix[1:]
		if verStr == "" {
			return ParsedName{}, false
		}
		v, err := ParseVersion(verStr)
		if err != nil {
			return ParsedName{}, false
		}
		kind := KindVersioned
		if prefix[0] == 'U' {
			kind = KindUndo
		}
		return ParsedName{Kind: kind, Version: v, HasVersion: true, Description: description}, true
	default:
		return ParsedName{}, false
	}
}

func descriptionFromUnderscores(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

// IsHookFilename reports whether name matches one of the well-known hook
// filenames (beforeMigrate.sql, afterEachMigrate.sql, etc.), optionally with
// a `__<desc>` suffix.
func IsHookFilename(name string) (hook string, ok bool) {
	const ext = ".sql"
	if !strings.HasSuffix(name, ext) {
		return "", false
	}
	base := strings.TrimSuffix(name, ext)

	for _, h := range hookNames {
		if base == h {
			return h, true
		}
		if strings.HasPrefix(base, h+"__") {
			return h, true
		}
	}
	return "", false
}

var hookNames = []string{
	"beforeMigrate",
	"afterMigrate",
	"beforeEachMigrate",
	"afterEachMigrate",
}
