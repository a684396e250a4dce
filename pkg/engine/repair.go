// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"

	"github.com/waypointdb/waypoint/pkg/historystore"
)

// Repair deletes failed history rows and realigns checksums for rows whose
// recorded checksum no longer matches the resolved file. It never deletes
// a successful row.
func (e *Engine) Repair(ctx context.Context) (*RepairReport, error) {
	resolved, err := e.resolve()
	if err != nil {
		return nil, err
	}

	lock, err := e.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	rows, err := e.history.FetchAll(ctx)
	if err != nil {
		return nil, err
	}

	report := &RepairReport{}

	for _, r := range rows {
		if r.Type == historystore.TypeBaseline {
			continue
		}
		if !r.Success {
			if err := e.history.Delete(ctx, r.InstalledRank); err != nil {
				return report, err
			}
			report.RemovedFailed++
			continue
		}

		m, ok := findResolved(resolved, r.Script)
		if !ok {
			continue
		}
		if !r.Checksum.Valid || r.Checksum.Int32 != m.Checksum {
			if err := e.history.UpdateChecksum(ctx, r.InstalledRank, m.Checksum); err != nil {
				return report, err
			}
			report.UpdatedChecksums++
		}
	}

	return report, nil
}
