// SPDX-License-Identifier: Apache-2.0

package engine

import "time"

// MigrationResult is one line item of a MigrateReport.
type MigrationResult struct {
	Script     string
	Version    string
	Checksum   int32
	DurationMs int64
	Success    bool
}

// MigrateReport is the result of Migrate. RunID correlates this report
// with log lines from the same invocation, notably when the multi-database
// orchestrator runs several of these concurrently.
type MigrateReport struct {
	RunID        string
	AppliedCount int
	FailedCount  int
	TotalTimeMs  int64
	PerMigration []MigrationResult
}

// InfoState enumerates the lifecycle state of a migration as reported by
// Info.
type InfoState string

const (
	StatePending    InfoState = "Pending"
	StateApplied    InfoState = "Applied"
	StateFailed     InfoState = "Failed"
	StateOutOfOrder InfoState = "OutOfOrder"
	StateUndone     InfoState = "Undone"
	StateBaseline   InfoState = "Baseline"
	StateRepeatable InfoState = "Repeatable"
	StateMissing    InfoState = "Missing"
)

// InfoEntry is one line item of an InfoReport.
type InfoEntry struct {
	State       InfoState
	Version     string
	Description string
	Checksum    int32
	InstalledOn *time.Time
}

// InfoReport is the result of Info: one entry per resolved migration plus
// unresolved history rows reported as Missing.
type InfoReport struct {
	Entries []InfoEntry
}

// ValidateIssue is one problem found by Validate.
type ValidateIssue struct {
	Script string
	Kind   string
}

// ValidateReport is the result of Validate.
type ValidateReport struct {
	Valid  bool
	Errors []ValidateIssue
}

// RepairReport is the result of Repair.
type RepairReport struct {
	RemovedFailed    int
	UpdatedChecksums int
}

// UndoResult is one line item of an UndoReport.
type UndoResult struct {
	Script     string
	DurationMs int64
}

// UndoReport is the result of Undo.
type UndoReport struct {
	Undone []UndoResult
}

// CleanReport is the result of Clean.
type CleanReport struct {
	DroppedObjects []string
}
