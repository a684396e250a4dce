// SPDX-License-Identifier: Apache-2.0

// Package orchestrator runs the single-database engine across a set of
// named, dependency-ordered databases, one engine.Engine per configured
// database, using the same Kahn's-algorithm topological sort pkg/plan
// uses for migration dependencies.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/waypointdb/waypoint/pkg/config"
	"github.com/waypointdb/waypoint/pkg/engine"
)

// runner is the subset of *engine.Engine the orchestrator drives. Tests
// substitute a fake through openEngine instead of dialing real databases.
type runner interface {
	Migrate(ctx context.Context, target string) (*engine.MigrateReport, error)
	Close() error
}

// DatabaseResult is the outcome of running one member of the set.
type DatabaseResult struct {
	Name    string
	Report  *engine.MigrateReport
	Err     error
	Skipped bool
}

// Report is the aggregated outcome of an orchestrator run.
type Report struct {
	Results []DatabaseResult
}

// Orchestrator runs config.Config.MultiDatabase entries in dependency
// order. Build one with New, which opens real engines; the zero value has
// no openEngine set. Tests override openEngine.
type Orchestrator struct {
	openEngine func(ctx context.Context, cfg config.Config) (runner, error)
}

// New returns an Orchestrator that opens real database connections.
func New() *Orchestrator {
	return &Orchestrator{
		openEngine: func(ctx context.Context, cfg config.Config) (runner, error) {
			return engine.Open(ctx, cfg)
		},
	}
}

// Run migrates every member of cfg.MultiDatabase (or, if only is
// non-empty, just that one member without implicitly running its
// dependencies) and returns the aggregated report plus a joined error
// covering every failure encountered.
func (o *Orchestrator) Run(ctx context.Context, cfg config.Config, only string) (*Report, error) {
	entries := cfg.MultiDatabase
	byName := make(map[string]config.MultiDatabaseEntry, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
	}

	var order []string
	if only != "" {
		if _, ok := byName[only]; !ok {
			return nil, &engine.ConfigError{Reason: fmt.Sprintf("multi_database: unknown database %q", only)}
		}
		order = []string{only}
	} else {
		var err error
		order, err = topoSort(entries)
		if err != nil {
			return nil, err
		}
	}

	report := &Report{}
	failed := make(map[string]bool)
	var errs []error
	stopped := false

	for _, name := range order {
		entry := byName[name]

		if stopped {
			report.Results = append(report.Results, DatabaseResult{Name: name, Skipped: true})
			continue
		}

		if only == "" && dependencyFailed(entry.DependsOn, failed) {
			failed[name] = true
			report.Results = append(report.Results, DatabaseResult{Name: name, Skipped: true})
			continue
		}

		rep, err := o.runOne(ctx, cfg, entry)
		result := DatabaseResult{Name: name, Report: rep, Err: err}
		report.Results = append(report.Results, result)

		if err != nil {
			failed[name] = true
			errs = append(errs, fmt.Errorf("database %q: %w", name, err))
			if cfg.FailFast {
				stopped = true
			}
		}
	}

	if len(errs) > 0 {
		return report, errors.Join(errs...)
	}
	return report, nil
}

func (o *Orchestrator) runOne(ctx context.Context, base config.Config, entry config.MultiDatabaseEntry) (*engine.MigrateReport, error) {
	sub := base
	sub.Database = base.Database
	sub.Database.URL = entry.URL
	sub.Migrations = entry.Migrations
	sub.MultiDatabase = nil

	eng, err := o.openEngine(ctx, sub)
	if err != nil {
		return nil, err
	}
	defer eng.Close()

	return eng.Migrate(ctx, "")
}

func dependencyFailed(dependsOn []string, failed map[string]bool) bool {
	for _, d := range dependsOn {
		if failed[d] {
			return true
		}
	}
	return false
}

// topoSort orders entries so that every database appears after all of
// its depends_on targets, with deterministic name-ascending tie-breaking
// among databases with no remaining dependencies.
func topoSort(entries []config.MultiDatabaseEntry) ([]string, error) {
	indegree := make(map[string]int, len(entries))
	dependents := make(map[string][]string, len(entries))
	names := make(map[string]bool, len(entries))

	for _, e := range entries {
		names[e.Name] = true
		if _, ok := indegree[e.Name]; !ok {
			indegree[e.Name] = 0
		}
	}
	for _, e := range entries {
		for _, dep := range e.DependsOn {
			if !names[dep] {
				return nil, &engine.ConfigError{Reason: fmt.Sprintf("database %q depends_on unknown database %q", e.Name, dep)}
			}
			indegree[e.Name]++
			dependents[dep] = append(dependents[dep], e.Name)
		}
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		sort.Strings(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		var newlyReady []string
		for _, child := range dependents[next] {
			indegree[child]--
			if indegree[child] == 0 {
				newlyReady = append(newlyReady, child)
			}
		}
		sort.Strings(newlyReady)
		ready = append(ready, newlyReady...)
	}

	if len(order) != len(names) {
		return nil, &engine.ConfigError{Reason: "multi_database: dependency cycle detected"}
	}
	return order, nil
}
