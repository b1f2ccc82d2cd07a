package engine

import (
	"context"
	"errors"
	"time"
)

// CleanupOldData runs the retention sweep: terminal tasks older than
// TaskRetention are deleted, journey entries older than LogRetention are
// pruned from terminal enrollments. Each half runs even if the other fails;
// a failed run is retried on the next schedule.
func (e *Engine) CleanupOldData(ctx context.Context) error {
	now := time.Now().UTC()

	var errs []error

	deleted, err := e.persistence.DeleteTerminalTasksBefore(ctx, now.Add(-e.config.TaskRetention))
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to delete old tasks", "error", err)
		errs = append(errs, err)
	} else {
		e.logger.InfoContext(ctx, "Deleted old terminal tasks", "count", deleted)
	}

	pruned, err := e.persistence.PruneJourneys(ctx, now.Add(-e.config.LogRetention))
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to prune journeys", "error", err)
		errs = append(errs, err)
	} else {
		e.logger.InfoContext(ctx, "Pruned old journey entries", "count", pruned)
	}

	return errors.Join(errs...)
}
