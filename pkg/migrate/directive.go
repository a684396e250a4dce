// SPDX-License-Identifier: Apache-2.0

package migrate

import (
	"fmt"
	"strings"
)

// Directives is a capability bag of header directives parsed from a
// migration file: optional fields keyed by directive name. Unknown
// directives are recorded as warnings, not errors, to keep the format
// forward-compatible.
type Directives struct {
	Env      map[string]struct{}
	Depends  map[string]Version
	Warnings []string
}

const directivePrefix = "-- waypoint:"

// ParseDirectives scans the lines preceding the first non-comment,
// non-blank line of body for `-- waypoint:<name> <args>` directives.
func ParseDirectives(body string) (Directives, error) {
	d := Directives{
		Env:     map[string]struct{}{},
		Depends: map[string]Version{},
	}

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(strings.TrimSuffix(line, "\r"))

		if trimmed == "" {
			continue
		}

		if !strings.HasPrefix(trimmed, "--") {
			break
		}

		if !strings.HasPrefix(trimmed, directivePrefix) {
			// An ordinary comment line; keep scanning the header.
			continue
		}

		rest := strings.TrimSpace(trimmed[len(directivePrefix):])
		name, args, _ := strings.Cut(rest, " ")
		args = strings.TrimSpace(args)

		switch name {
		case "env":
			for _, tok := range splitArgs(args) {
				d.Env[tok] = struct{}{}
			}
		case "depends":
			for _, tok := range splitArgs(args) {
				v, err := ParseVersion(tok)
				if err != nil {
					return Directives{}, fmt.Errorf("malformed depends directive %q: %w", tok, err)
				}
				d.Depends[v.String()] = v
			}
		default:
			d.Warnings = append(d.Warnings, fmt.Sprintf("unknown directive %q", name))
		}
	}

	return d, nil
}

func splitArgs(args string) []string {
	fields := strings.FieldsFunc(args, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	return fields
}

// HasEnv reports whether d restricts execution to a set of environments.
func (d Directives) HasEnv() bool {
	return len(d.Env) > 0
}

// AllowsEnv reports whether the active environment is a member of d.Env. If
// d has no env directive, every environment is allowed.
func (d Directives) AllowsEnv(active string) bool {
	if !d.HasEnv() {
		return true
	}
	_, ok := d.Env[active]
	return ok
}
