// SPDX-License-Identifier: Apache-2.0

package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ResolveError reports a fatal resolver-level failure: a duplicate version,
// a duplicate script name, or an unresolvable depends target. It is
// distinguished from a skip-with-warning, which never aborts resolution.
type ResolveError struct {
	Reason string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolver error: %s", e.Reason)
}

// Resolved is the output of a resolver run: the three migration kinds, kept
// separate per the data model (joining file records and history records is
// a planner responsibility, not a type identity).
type Resolved struct {
	Versioned  []*ResolvedMigration
	Repeatable []*ResolvedMigration
	Undo       []*ResolvedMigration
	Hooks      map[string][]*ResolvedMigration
	Warnings   []string
}

// BuiltinPlaceholders returns the placeholder names that are always defined
// regardless of caller-supplied values.
func BuiltinPlaceholders(schema, user, database, filename string) map[string]string {
	return map[string]string{
		"schema":   schema,
		"user":     user,
		"database": database,
		"filename": filename,
	}
}

// Resolve scans the given locations (directories, non-recursive, in stable
// lexicographic filename order within each location) and parses, expands,
// and checksums every .sql file found. Malformed filenames are skipped with
// a warning. Duplicate versions are a hard ResolveError.
func Resolve(locations []string, placeholders map[string]string) (*Resolved, error) {
	res := &Resolved{Hooks: map[string][]*ResolvedMigration{}}

	seenVersions := map[string]string{} // canonical version -> script name
	seenScripts := map[string]struct{}{}

	for _, loc := range locations {
		entries, err := os.ReadDir(loc)
		if err != nil {
			return nil, fmt.Errorf("reading location %q: %w", loc, err)
		}

		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)

		for _, name := range names {
			path := filepath.Join(loc, name)

			if hook, ok := IsHookFilename(name); ok {
				rm, err := loadFile(path, name, placeholders)
				if err != nil {
					return nil, err
				}
				res.Hooks[hook] = append(res.Hooks[hook], rm)
				continue
			}

			parsed, ok := ParseFilename(name)
			if !ok {
				res.Warnings = append(res.Warnings, fmt.Sprintf("skipping malformed migration filename %q", name))
				continue
			}

			if _, dup := seenScripts[name]; dup {
				return nil, &ResolveError{Reason: fmt.Sprintf("duplicate script name %q", name)}
			}
			seenScripts[name] = struct{}{}

			rm, err := loadFile(path, name, placeholders)
			if err != nil {
				return nil, err
			}
			rm.Kind = parsed.Kind
			rm.Version = parsed.Version
			rm.HasVersion = parsed.HasVersion
			rm.Description = parsed.Description

			switch parsed.Kind {
			case KindVersioned:
				if prior, dup := seenVersions[parsed.Version.Canonical()]; dup {
					return nil, &ResolveError{Reason: fmt.Sprintf("duplicate version %s in %q and %q", parsed.Version, prior, name)}
				}
				seenVersions[parsed.Version.Canonical()] = name
				res.Versioned = append(res.Versioned, rm)
			case KindRepeatable:
				res.Repeatable = append(res.Repeatable, rm)
			case KindUndo:
				res.Undo = append(res.Undo, rm)
			}
		}
	}

	sort.Slice(res.Versioned, func(i, j int) bool {
		return res.Versioned[i].Version.Less(res.Versioned[j].Version)
	})
	sort.Slice(res.Repeatable, func(i, j int) bool {
		return res.Repeatable[i].Description < res.Repeatable[j].Description
	})
	sort.Slice(res.Undo, func(i, j int) bool {
		return res.Undo[i].Version.Less(res.Undo[j].Version)
	})

	for _, rm := range res.Versioned {
		if err := validateDependsTargets(rm, seenVersions); err != nil {
			return nil, err
		}
	}

	return res, nil
}

func validateDependsTargets(rm *ResolvedMigration, known map[string]string) error {
	for _, dep := range rm.Directives.Depends {
		if _, ok := known[dep.Canonical()]; !ok {
			return &ResolveError{Reason: fmt.Sprintf("%q depends on unknown version %s", rm.Script, dep)}
		}
	}
	return nil
}

func loadFile(path, name string, placeholders map[string]string) (*ResolvedMigration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading migration file %q: %w", path, err)
	}

	values := map[string]string{}
	for k, v := range placeholders {
		values[k] = v
	}
	values["filename"] = name

	expanded, err := ExpandPlaceholders(string(raw), values)
	if err != nil {
		return nil, fmt.Errorf("expanding placeholders in %q: %w", name, err)
	}

	directives, err := ParseDirectives(expanded)
	if err != nil {
		return nil, fmt.Errorf("parsing directives in %q: %w", name, err)
	}

	stmts, err := Split(expanded)
	if err != nil {
		return nil, fmt.Errorf("splitting statements in %q: %w", name, err)
	}

	return &ResolvedMigration{
		Path:                path,
		Script:              name,
		RawBody:             string(raw),
		Body:                expanded,
		Checksum:            Checksum(expanded),
		Directives:          directives,
		Statements:          stmts,
		RequiresTransaction: RequiresImplicitTransaction(stmts),
	}, nil
}
