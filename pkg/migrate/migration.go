// SPDX-License-Identifier: Apache-2.0

package migrate

// ResolvedMigration is the in-memory representation of a migration file on
// disk: its path, kind, expanded body and pre-computed checksum. It is
// created fresh per resolver run and discarded at run end; nothing about it
// is persisted directly (the executor maps it onto a HistoryRow when it
// records an application).
type ResolvedMigration struct {
	Path        string
	Kind        Kind
	Version     Version
	HasVersion  bool
	Description string
	Script      string // basename, e.g. "V1__create_table.sql"
	RawBody     string
	Body        string // placeholder-expanded body
	Checksum    int32
	Directives  Directives
	Statements  []string

	// RequiresTransaction is true unless the script declares its own
	// transaction control or contains a non-transactional statement such as
	// CREATE INDEX CONCURRENTLY.
	RequiresTransaction bool
}
