// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
	"sort"

	"github.com/lib/pq"
)

// Diff is the set of object-level changes between two snapshots of the
// same schema.
type Diff struct {
	Created []Object
	Dropped []Object
	Altered []Object
}

// Compare returns the object-level diff from before to after.
func Compare(before, after *Snapshot) Diff {
	var d Diff

	for k, obj := range after.Objects {
		prior, existed := before.Objects[k]
		switch {
		case !existed:
			d.Created = append(d.Created, obj)
		case prior.Checksum != obj.Checksum:
			d.Altered = append(d.Altered, obj)
		}
	}
	for k, obj := range before.Objects {
		if _, stillExists := after.Objects[k]; !stillExists {
			d.Dropped = append(d.Dropped, obj)
		}
	}

	sortObjects(d.Created)
	sortObjects(d.Dropped)
	sortObjects(d.Altered)

	return d
}

func sortObjects(objs []Object) {
	sort.Slice(objs, func(i, j int) bool {
		if objs[i].Kind != objs[j].Kind {
			return objs[i].Kind < objs[j].Kind
		}
		return objs[i].Name < objs[j].Name
	})
}

// ReversalSQL derives a best-effort inverse script from a diff: objects
// created by the migration are dropped. Altered and dropped objects cannot
// be reconstructed from a name+checksum snapshot alone, so they are
// reported as unreversed rather than guessed at; the caller decides whether
// that makes the migration reversal-incomplete.
func ReversalSQL(schemaName string, d Diff) (statements []string, unreversed []Object) {
	// Reverse creation order so dependent objects (e.g. a view over a
	// freshly created table) drop before what they depend on.
	for i := len(d.Created) - 1; i >= 0; i-- {
		obj := d.Created[i]
		stmt, ok := dropStatement(schemaName, obj)
		if !ok {
			unreversed = append(unreversed, obj)
			continue
		}
		statements = append(statements, stmt)
	}

	unreversed = append(unreversed, d.Altered...)
	unreversed = append(unreversed, d.Dropped...)

	return statements, unreversed
}

func dropStatement(schemaName string, obj Object) (string, bool) {
	qualified := pq.QuoteIdentifier(schemaName) + "." + pq.QuoteIdentifier(obj.Name)
	switch obj.Kind {
	case KindTable:
		return fmt.Sprintf("DROP TABLE IF EXISTS %s", qualified), true
	case KindView:
		return fmt.Sprintf("DROP VIEW IF EXISTS %s", qualified), true
	case KindSequence:
		return fmt.Sprintf("DROP SEQUENCE IF EXISTS %s", qualified), true
	case KindFunction:
		if obj.Signature == "" {
			// A hand-built Object with no captured signature is
			// ambiguous under overloading; leave it unreversed rather
			// than guess at a bare DROP FUNCTION by name.
			return "", false
		}
		return fmt.Sprintf("DROP FUNCTION IF EXISTS %s", obj.Signature), true
	default:
		return "", false
	}
}
