// SPDX-License-Identifier: Apache-2.0

// Package engine is the façade the CLI (and any other embedder) drives:
// Migrate, Info, Validate, Repair, Baseline, Undo and Clean, wired over
// pkg/migrate, pkg/historystore, pkg/dbconn and pkg/plan through a single
// struct holding one connection and the history store, with one method
// per public operation.
package engine

import (
	"errors"
	"fmt"

	"github.com/waypointdb/waypoint/pkg/dbconn"
	"github.com/waypointdb/waypoint/pkg/migrate"
	"github.com/waypointdb/waypoint/pkg/plan"
)

// ConfigError reports a bad resolved-configuration value: a missing URL,
// an unrecognized option, or mutually exclusive options (e.g. baseline
// requested against a non-empty history).
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config error: %s", e.Reason) }

// IoError reports a filesystem-level failure reading migration locations.
type IoError struct {
	Reason string
	Err    error
}

func (e *IoError) Error() string { return fmt.Sprintf("io error: %s: %v", e.Reason, e.Err) }
func (e *IoError) Unwrap() error { return e.Err }

// ChecksumError reports a mismatch between a resolved file's checksum and
// the checksum recorded for it in history.
type ChecksumError struct {
	Script   string
	Recorded int32
	Actual   int32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum error: %s: recorded %d, actual %d", e.Script, e.Recorded, e.Actual)
}

// ExecuteError reports a SQL statement failure during a migration.
type ExecuteError struct {
	Script    string
	StmtIndex int
	SQLState  string
	Message   string
	Transient bool
	Err       error
}

func (e *ExecuteError) Error() string {
	return fmt.Sprintf("execute error: %s statement %d (sqlstate %s): %s", e.Script, e.StmtIndex, e.SQLState, e.Message)
}
func (e *ExecuteError) Unwrap() error { return e.Err }

// UndoError reports a failure to locate an undo source (neither a U-file
// nor stored reversal SQL) or an undo target that does not exist.
type UndoError struct {
	Reason string
}

func (e *UndoError) Error() string { return fmt.Sprintf("undo error: %s", e.Reason) }

// CleanError reports that clean was requested without the caller's
// explicit allow flag.
type CleanError struct {
	Reason string
}

func (e *CleanError) Error() string { return fmt.Sprintf("clean error: %s", e.Reason) }

// ExitCode maps an error from the façade onto the CLI exit-code table. It
// returns 1 (general) for any error not recognized as belonging to one of
// the named categories.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch classify(err) {
	case classConfig:
		return 2
	case classValidation:
		return 3
	case classDatabase:
		return 4
	case classMigration:
		return 5
	case classLock:
		return 6
	case classCleanDisabled:
		return 7
	default:
		return 1
	}
}

type errClass int

const (
	classGeneral errClass = iota
	classConfig
	classValidation
	classDatabase
	classMigration
	classLock
	classCleanDisabled
)

func classify(err error) errClass {
	var (
		configErr   *ConfigError
		checksumErr *ChecksumError
		parseErr    *migrate.ParseError
		resolveErr  *migrate.ResolveError
		planErr     *plan.PlanError
		oooErr      *OutOfOrderError
		executeErr  *ExecuteError
		undoErr     *UndoError
		cleanErr    *CleanError
		connectErr  *dbconn.ConnectError
		lockErr     *dbconn.LockError
	)
	switch {
	case errors.As(err, &configErr):
		return classConfig
	case errors.As(err, &checksumErr), errors.As(err, &parseErr),
		errors.As(err, &resolveErr), errors.As(err, &planErr),
		errors.As(err, &oooErr):
		return classValidation
	case errors.As(err, &executeErr), errors.As(err, &undoErr):
		return classMigration
	case errors.As(err, &cleanErr):
		return classCleanDisabled
	case errors.As(err, &connectErr):
		return classDatabase
	case errors.As(err, &lockErr):
		return classLock
	}
	return classGeneral
}
