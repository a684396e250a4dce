// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"

	"github.com/waypointdb/waypoint/pkg/historystore"
)

// Validate checks every successful SQL history row against its resolved
// file: the file must still exist and its checksum must match. A missing
// file for a successful versioned row makes the report invalid; a
// repeatable row whose file is gone is reported only, since nothing is
// pending against it.
func (e *Engine) Validate(ctx context.Context) (*ValidateReport, error) {
	resolved, err := e.resolve()
	if err != nil {
		return nil, err
	}
	rows, err := e.history.FetchAll(ctx)
	if err != nil {
		return nil, err
	}

	report := &ValidateReport{Valid: true}

	for _, r := range rows {
		if r.Type == historystore.TypeBaseline || !r.Success {
			continue
		}

		m, ok := findResolved(resolved, r.Script)
		if !ok {
			if r.Type == historystore.TypeVersioned {
				report.Valid = false
			}
			report.Errors = append(report.Errors, ValidateIssue{Script: r.Script, Kind: "missing"})
			continue
		}
		if string(historystore.RowTypeFromKind(m.Kind)) != string(r.Type) {
			report.Valid = false
			report.Errors = append(report.Errors, ValidateIssue{Script: r.Script, Kind: "kind_mismatch"})
			continue
		}
		if r.Checksum.Valid && r.Checksum.Int32 != m.Checksum {
			report.Valid = false
			report.Errors = append(report.Errors, ValidateIssue{Script: r.Script, Kind: "checksum_mismatch"})
		}
	}

	return report, nil
}
