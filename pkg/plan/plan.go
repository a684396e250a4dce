// SPDX-License-Identifier: Apache-2.0

// Package plan orders resolved migrations for a run: ascending version by
// default, or a dependency-respecting topological order (Kahn's algorithm
// over an explicit dependency graph) when depends directives are in play.
package plan

import (
	"fmt"
	"sort"

	"github.com/waypointdb/waypoint/pkg/migrate"
)

// PlanError reports a fatal planning failure, such as a dependency cycle.
// A depends edge to a version absent from the planned set is only a
// warning.
type PlanError struct {
	Reason string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("plan error: %s", e.Reason)
}

// Options configures planning behavior.
type Options struct {
	// DependencyOrdering switches from plain ascending-version order to
	// Kahn's algorithm over the depends-directive graph.
	DependencyOrdering bool

	// Environment is the active environment name used by the env filter.
	// Empty means no environment is active, so only directive-less
	// migrations and those that list "" (never a real name) would match;
	// in practice an empty Environment with any env directive present
	// skips that migration.
	Environment string
}

// Plan is the ordered, environment-filtered result of planning a run.
type Plan struct {
	// Migrations is the final apply order: versioned first (by plan
	// rule), then repeatable migrations in description order.
	Migrations []*migrate.ResolvedMigration

	// SkippedByEnv lists migrations excluded because their env directive
	// did not include the active environment. Not an error.
	SkippedByEnv []*migrate.ResolvedMigration

	// Warnings carries non-fatal planning observations, such as a
	// depends edge that points backwards across runs (see
	// out-of-order-depends resolution in DESIGN.md).
	Warnings []string
}

// Build orders a resolved migration set for a single-database run.
func Build(resolved *migrate.Resolved, opts Options) (*Plan, error) {
	versioned, skippedVersioned := filterByEnv(resolved.Versioned, opts.Environment)
	repeatable, skippedRepeatable := filterByEnv(resolved.Repeatable, opts.Environment)

	var ordered []*migrate.ResolvedMigration
	var warnings []string
	var err error

	if opts.DependencyOrdering {
		ordered, warnings, err = topoSort(versioned)
		if err != nil {
			return nil, err
		}
	} else {
		ordered = append(ordered, versioned...)
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Version.Less(ordered[j].Version)
		})
	}

	sort.SliceStable(repeatable, func(i, j int) bool {
		return repeatable[i].Description < repeatable[j].Description
	})

	final := make([]*migrate.ResolvedMigration, 0, len(ordered)+len(repeatable))
	final = append(final, ordered...)
	final = append(final, repeatable...)

	skipped := append(skippedVersioned, skippedRepeatable...)

	return &Plan{
		Migrations:   final,
		SkippedByEnv: skipped,
		Warnings:     warnings,
	}, nil
}

// filterByEnv splits migrations into those allowed in the active
// environment and those skipped because of an env directive mismatch.
func filterByEnv(in []*migrate.ResolvedMigration, env string) (allowed, skipped []*migrate.ResolvedMigration) {
	for _, m := range in {
		if m.Directives.HasEnv() && !m.Directives.AllowsEnv(env) {
			skipped = append(skipped, m)
			continue
		}
		allowed = append(allowed, m)
	}
	return allowed, skipped
}

// topoSort runs Kahn's algorithm over the depends-directive graph of
// versioned migrations, breaking ties by ascending version for
// determinism. A cycle is a fatal PlanError. A depends edge to a version
// outside this set is dropped from the graph and surfaced as a warning,
// on the assumption that it was applied in an earlier run; history is not
// consulted (see out-of-order depends-across-runs resolution).
func topoSort(nodes []*migrate.ResolvedMigration) ([]*migrate.ResolvedMigration, []string, error) {
	byVersion := make(map[string]*migrate.ResolvedMigration, len(nodes))
	for _, n := range nodes {
		byVersion[n.Version.Canonical()] = n
	}

	indegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	var warnings []string

	for _, n := range nodes {
		key := n.Version.Canonical()
		if _, ok := indegree[key]; !ok {
			indegree[key] = 0
		}
		for _, dep := range n.Directives.Depends {
			depKey := dep.Canonical()
			if _, ok := byVersion[depKey]; !ok {
				warnings = append(warnings, fmt.Sprintf(
					"migration %s depends on %s, which is not part of this run's resolved set; assuming it was applied in an earlier run",
					n.Path, dep.String()))
				continue
			}
			indegree[key]++
			dependents[depKey] = append(dependents[depKey], key)
		}
	}

	var ready []string
	for key, deg := range indegree {
		if deg == 0 {
			ready = append(ready, key)
		}
	}
	sortByVersion(ready, byVersion)

	var out []*migrate.ResolvedMigration
	for len(ready) > 0 {
		sortByVersion(ready, byVersion)
		cur := ready[0]
		ready = ready[1:]
		out = append(out, byVersion[cur])

		for _, next := range dependents[cur] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	if len(out) != len(nodes) {
		remaining := make([]string, 0)
		for key, deg := range indegree {
			if deg > 0 {
				remaining = append(remaining, key)
			}
		}
		sort.Strings(remaining)
		return nil, nil, &PlanError{Reason: fmt.Sprintf("dependency cycle involving version(s): %v", remaining)}
	}

	return out, warnings, nil
}

func sortByVersion(keys []string, byVersion map[string]*migrate.ResolvedMigration) {
	sort.SliceStable(keys, func(i, j int) bool {
		return byVersion[keys[i]].Version.Less(byVersion[keys[j]].Version)
	})
}
