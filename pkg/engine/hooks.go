// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"

	"github.com/waypointdb/waypoint/pkg/migrate"
)

// runHooks executes every resolved migration registered under hookName, in
// resolution order, each statement in its own implicit transaction unless
// the hook script declares its own transaction control. Hook executions
// are never recorded in history.
func (e *Engine) runHooks(ctx context.Context, resolved *migrate.Resolved, hookName string, enabled bool) error {
	if !enabled {
		return nil
	}
	for _, hook := range resolved.Hooks[hookName] {
		if err := e.execStatements(ctx, e.db, hook.Script, hook.Statements); err != nil {
			return fmt.Errorf("hook %q (%s): %w", hookName, hook.Script, err)
		}
	}
	return nil
}
