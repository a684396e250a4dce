// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waypointdb/waypoint/pkg/config"
	"github.com/waypointdb/waypoint/pkg/engine"
)

type fakeRunner struct {
	report *engine.MigrateReport
	err    error
	closed bool
}

func (f *fakeRunner) Migrate(ctx context.Context, target string) (*engine.MigrateReport, error) {
	return f.report, f.err
}

func (f *fakeRunner) Close() error {
	f.closed = true
	return nil
}

func newFakeOrchestrator(t *testing.T, results map[string]*fakeRunner) *Orchestrator {
	t.Helper()
	var calls []string
	o := &Orchestrator{
		openEngine: func(ctx context.Context, cfg config.Config) (runner, error) {
			for name, r := range results {
				if cfg.Database.URL == name {
					calls = append(calls, name)
					return r, nil
				}
			}
			t.Fatalf("unexpected open for url %q", cfg.Database.URL)
			return nil, nil
		},
	}
	return o
}

func entries() []config.MultiDatabaseEntry {
	return []config.MultiDatabaseEntry{
		{Name: "b", URL: "b", DependsOn: []string{"a"}},
		{Name: "a", URL: "a"},
		{Name: "c", URL: "c", DependsOn: []string{"b"}},
	}
}

func TestRunOrdersByDependency(t *testing.T) {
	t.Parallel()

	o := newFakeOrchestrator(t, map[string]*fakeRunner{
		"a": {report: &engine.MigrateReport{}},
		"b": {report: &engine.MigrateReport{}},
		"c": {report: &engine.MigrateReport{}},
	})

	cfg := config.Config{MultiDatabase: entries()}
	report, err := o.Run(context.Background(), cfg, "")
	require.NoError(t, err)
	require.Len(t, report.Results, 3)
	assert.Equal(t, "a", report.Results[0].Name)
	assert.Equal(t, "b", report.Results[1].Name)
	assert.Equal(t, "c", report.Results[2].Name)
}

func TestRunSkipsDependentsOfFailedDatabase(t *testing.T) {
	t.Parallel()

	o := newFakeOrchestrator(t, map[string]*fakeRunner{
		"a": {err: assert.AnError},
		"b": {report: &engine.MigrateReport{}},
		"c": {report: &engine.MigrateReport{}},
	})

	cfg := config.Config{MultiDatabase: entries()}
	report, err := o.Run(context.Background(), cfg, "")
	require.Error(t, err)

	byName := map[string]DatabaseResult{}
	for _, r := range report.Results {
		byName[r.Name] = r
	}
	assert.Error(t, byName["a"].Err)
	assert.True(t, byName["b"].Skipped)
	assert.True(t, byName["c"].Skipped)
}

func TestRunFailFastStopsRemaining(t *testing.T) {
	t.Parallel()

	o := newFakeOrchestrator(t, map[string]*fakeRunner{
		"a": {report: &engine.MigrateReport{}},
		"b": {err: assert.AnError},
	})

	cfg := config.Config{
		MultiDatabase: []config.MultiDatabaseEntry{
			{Name: "a", URL: "a"},
			{Name: "b", URL: "b"},
			{Name: "c", URL: "c"},
		},
		FailFast: true,
	}
	report, err := o.Run(context.Background(), cfg, "")
	require.Error(t, err)

	byName := map[string]DatabaseResult{}
	for _, r := range report.Results {
		byName[r.Name] = r
	}
	assert.NoError(t, byName["a"].Err)
	assert.Error(t, byName["b"].Err)
	assert.True(t, byName["c"].Skipped)
}

func TestRunOnlyNamedDatabaseSkipsDependencies(t *testing.T) {
	t.Parallel()

	o := newFakeOrchestrator(t, map[string]*fakeRunner{
		"c": {report: &engine.MigrateReport{}},
	})

	cfg := config.Config{MultiDatabase: entries()}
	report, err := o.Run(context.Background(), cfg, "c")
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "c", report.Results[0].Name)
}

func TestRunUnknownOnlyDatabaseIsConfigError(t *testing.T) {
	t.Parallel()

	o := newFakeOrchestrator(t, map[string]*fakeRunner{})
	cfg := config.Config{MultiDatabase: entries()}

	_, err := o.Run(context.Background(), cfg, "nope")
	require.Error(t, err)
	var configErr *engine.ConfigError
	require.ErrorAs(t, err, &configErr)
}

func TestTopoSortDetectsCycle(t *testing.T) {
	t.Parallel()

	_, err := topoSort([]config.MultiDatabaseEntry{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
	})
	require.Error(t, err)
}

func TestTopoSortDetectsUnknownDependency(t *testing.T) {
	t.Parallel()

	_, err := topoSort([]config.MultiDatabaseEntry{
		{Name: "a", DependsOn: []string{"ghost"}},
	})
	require.Error(t, err)
}
