// SPDX-License-Identifier: Apache-2.0

// Package schema captures lightweight before/after snapshots of a
// PostgreSQL schema's object inventory so the executor can derive
// best-effort reversal SQL for auto-reversal: a name-keyed map of database
// objects, each reduced to its kind, name, and a CRC32 of its catalog
// definition rather than full column/constraint/index introspection, since
// reversal here only needs to detect "this object came into existence
// during this migration", not reconstruct it.
package schema

import (
	"context"
	"database/sql"
	"hash/crc32"
)

// ObjectKind distinguishes the catalog relations the snapshot tracks.
type ObjectKind string

const (
	KindTable    ObjectKind = "table"
	KindView     ObjectKind = "view"
	KindSequence ObjectKind = "sequence"
	KindFunction ObjectKind = "function"
)

// Object is one entry in a Snapshot: a named catalog object and a checksum
// of whatever definition text identifies its current shape.
type Object struct {
	Kind     ObjectKind
	Name     string
	Checksum uint32

	// Signature is the object's fully qualified call signature (e.g.
	// "public.do_thing(integer, text)"), populated only for functions.
	// DROP FUNCTION needs argument types to disambiguate overloads, unlike
	// DROP TABLE/VIEW/SEQUENCE, which only need a name; empty for every
	// other kind.
	Signature string
}

// Snapshot is the full object inventory of a schema at a point in time,
// keyed by "kind:name".
type Snapshot struct {
	SchemaName string
	Objects    map[string]Object
}

func key(kind ObjectKind, name string) string {
	return string(kind) + ":" + name
}

// Capture queries pg_catalog for every table, view, sequence and function
// in schemaName and returns a Snapshot of their names and definition
// checksums.
func Capture(ctx context.Context, db queryer, schemaName string) (*Snapshot, error) {
	snap := &Snapshot{SchemaName: schemaName, Objects: map[string]Object{}}

	if err := captureRelations(ctx, db, schemaName, "r", KindTable, snap); err != nil {
		return nil, err
	}
	if err := captureRelations(ctx, db, schemaName, "v", KindView, snap); err != nil {
		return nil, err
	}
	if err := captureRelations(ctx, db, schemaName, "S", KindSequence, snap); err != nil {
		return nil, err
	}
	if err := captureFunctions(ctx, db, schemaName, snap); err != nil {
		return nil, err
	}

	return snap, nil
}

// queryer is the minimal surface Capture needs, satisfied by *sql.DB,
// *sql.Tx and dbconn.DB alike.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func captureRelations(ctx context.Context, db queryer, schemaName, relkind string, kind ObjectKind, snap *Snapshot) error {
	// pg_get_viewdef raises an error for anything that is not a view, so it
	// is guarded by relkind rather than COALESCEd.
	rows, err := db.QueryContext(ctx, `
		SELECT c.relname,
		       CASE WHEN c.relkind = 'v' THEN pg_get_viewdef(c.oid) ELSE '' END || c.relnatts::text
		FROM pg_catalog.pg_class c
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relkind = $2`, schemaName, relkind)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name, def string
		if err := rows.Scan(&name, &def); err != nil {
			return err
		}
		snap.Objects[key(kind, name)] = Object{Kind: kind, Name: name, Checksum: crc32.ChecksumIEEE([]byte(def))}
	}
	return rows.Err()
}

func captureFunctions(ctx context.Context, db queryer, schemaName string, snap *Snapshot) error {
	// p.oid::regprocedure resolves to the schema-qualified, argument-typed
	// call signature (e.g. "public.do_thing(integer, text)"), which is what
	// DROP FUNCTION needs to identify one overload unambiguously; proname
	// alone is not enough once a function is overloaded.
	rows, err := db.QueryContext(ctx, `
		SELECT p.proname, pg_get_functiondef(p.oid), p.oid::regprocedure::text
		FROM pg_catalog.pg_proc p
		JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
		WHERE n.nspname = $1`, schemaName)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name, def, signature string
		if err := rows.Scan(&name, &def, &signature); err != nil {
			return err
		}
		snap.Objects[key(KindFunction, name)] = Object{
			Kind:      KindFunction,
			Name:      name,
			Checksum:  crc32.ChecksumIEEE([]byte(def)),
			Signature: signature,
		}
	}
	return rows.Err()
}
