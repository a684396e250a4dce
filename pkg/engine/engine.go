// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/waypointdb/waypoint/pkg/config"
	"github.com/waypointdb/waypoint/pkg/dbconn"
	"github.com/waypointdb/waypoint/pkg/historystore"
	"github.com/waypointdb/waypoint/pkg/migrate"
)

// Engine drives every public operation (Migrate, Info, Validate, Repair,
// Baseline, Undo, Clean) against a single configured database.
type Engine struct {
	db      dbconn.DB
	history *historystore.Store
	cfg     config.Config
	opts    dbconn.Options

	installedBy string

	// connUser and connDatabase are parsed once from cfg.Database.URL at
	// Open time and feed the "${user}"/"${database}" placeholder builtins.
	connUser     string
	connDatabase string
}

// Open connects to the configured database, bootstraps the history table
// and returns a ready-to-use Engine. The caller must Close it when done.
func Open(ctx context.Context, cfg config.Config) (*Engine, error) {
	if cfg.Database.URL == "" {
		return nil, &ConfigError{Reason: "database.url is required"}
	}

	schema := cfg.Migrations.Schema
	if schema == "" {
		schema = config.DefaultSchema
	}
	table := cfg.Migrations.Table
	if table == "" {
		table = config.DefaultTable
	}

	opts := dbconn.Options{
		URL:              cfg.Database.URL,
		Schema:           schema,
		SSLMode:          dbconn.SSLMode(cfg.Database.SSLMode),
		SSLRootCert:      cfg.Database.SSLRootCert,
		ConnectTimeout:   cfg.Database.ConnectTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
		ConnectRetries:   cfg.Database.ConnectRetries,
		KeepaliveSecs:    cfg.Database.KeepaliveSecs,
	}

	sqlDB, err := dbconn.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	db := &dbconn.RDB{DB: sqlDB}

	history := historystore.New(db, schema, table)
	if err := history.Bootstrap(ctx); err != nil {
		db.Close()
		return nil, err
	}

	connUser, connDatabase := dbconn.ParseURLParts(cfg.Database.URL)

	return &Engine{
		db:           db,
		history:      history,
		cfg:          cfg,
		opts:         opts,
		installedBy:  "waypoint",
		connUser:     connUser,
		connDatabase: connDatabase,
	}, nil
}

// Close releases the underlying connection.
func (e *Engine) Close() error {
	return e.db.Close()
}

func (e *Engine) resolve() (*migrate.Resolved, error) {
	placeholders := map[string]string{}
	for k, v := range e.cfg.Placeholders {
		placeholders[k] = v
	}
	builtins := migrate.BuiltinPlaceholders(e.schema(), e.connUser, e.connDatabase, "")
	for k, v := range builtins {
		if _, ok := placeholders[k]; !ok {
			placeholders[k] = v
		}
	}

	resolved, err := migrate.Resolve(e.cfg.Migrations.Locations, placeholders)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return nil, &IoError{Reason: "reading migration locations", Err: err}
		}
		return nil, err
	}
	return resolved, nil
}

func (e *Engine) schema() string {
	if e.cfg.Migrations.Schema != "" {
		return e.cfg.Migrations.Schema
	}
	return config.DefaultSchema
}

func (e *Engine) table() string {
	if e.cfg.Migrations.Table != "" {
		return e.cfg.Migrations.Table
	}
	return config.DefaultTable
}

func (e *Engine) acquireLock(ctx context.Context) (*dbconn.Lock, error) {
	timeout := e.cfg.Migrations.LockTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return dbconn.Acquire(ctx, e.db, e.schema(), e.table(), timeout)
}

func durationMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
