package deliverynote

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// run one poll cycle.  Errors are logged; the next tick retries.
func monitor1(ctx context.Context, app *App) {
	report, err := app.coordinator.RunCycle(ctx)
	switch {
	case errors.Is(err, ErrCycleInProgress):
		app.logger.Warnw("previous poll cycle still running, skipping tick")
	case errors.Is(err, ErrConnection):
		app.logger.Warnw("mailbox unreachable, retrying next cycle",
			"error", err)
	case err != nil:
		app.logger.Errorw("poll cycle failed",
			"error", err)
	default:
		app.logger.Infow("poll cycle done",
			"cycle", report.ID,
			"handled", report.Handled,
			"committed", report.Committed)
	}
}

// monitorLoop runs a cycle right away and then every poll interval until
// ctx is cancelled.
func monitorLoop(ctx context.Context, app *App, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	monitor1(ctx, app)
	for {
		select {
		case <-ctx.Done():
			app.logger.Infow("monitor loop stopped")
			return
		case <-ticker.C:
			monitor1(ctx, app)
		}
	}
}

func runMonitorLoop(ctx context.Context, app *App) {
	go monitorLoop(ctx, app, app.config.pollInterval())
}
