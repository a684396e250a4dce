// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/waypointdb/waypoint/pkg/schema"
)

// Clean drops every non-system object in the configured schema. It is
// gated behind both allow and cfg.AllowClean: unless both are true the call
// fails fast with a CleanError, so that a caller must opt in explicitly at
// the call site and not merely via static configuration.
func (e *Engine) Clean(ctx context.Context, allow bool) (*CleanReport, error) {
	if !allow || !e.cfg.AllowClean {
		return nil, &CleanError{Reason: "clean is disabled; pass allow=true and set allow_clean"}
	}

	snap, err := schema.Capture(ctx, e.db, e.schema())
	if err != nil {
		return nil, err
	}

	report := &CleanReport{}
	for _, obj := range snap.Objects {
		stmt, ok := dropCleanStatement(e.schema(), obj)
		if !ok {
			continue
		}
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return report, err
		}
		report.DroppedObjects = append(report.DroppedObjects, obj.Name)
	}

	return report, nil
}

func dropCleanStatement(schemaName string, obj schema.Object) (string, bool) {
	qualified := pq.QuoteIdentifier(schemaName) + "." + pq.QuoteIdentifier(obj.Name)
	switch obj.Kind {
	case schema.KindTable:
		return fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", qualified), true
	case schema.KindView:
		return fmt.Sprintf("DROP VIEW IF EXISTS %s CASCADE", qualified), true
	case schema.KindSequence:
		return fmt.Sprintf("DROP SEQUENCE IF EXISTS %s CASCADE", qualified), true
	case schema.KindFunction:
		if obj.Signature == "" {
			return "", false
		}
		return fmt.Sprintf("DROP FUNCTION IF EXISTS %s CASCADE", obj.Signature), true
	default:
		return "", false
	}
}
