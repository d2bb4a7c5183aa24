package core

// scheduler.go runs the periodic maintenance job: open work orders for plans
// entering the horizon and drop expired import previews.
//
// The job runs once on start and then every interval until ctx is cancelled.
// A failed run is logged and retried on the next tick.

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultWorkOrderInterval is how often the scheduler runs.
const DefaultWorkOrderInterval = time.Hour

// StartWorkOrderScheduler blocks, running the maintenance job every interval.
func (s *Service) StartWorkOrderScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultWorkOrderInterval
	}
	slog.Info("work order scheduler started",
		"interval", interval.String(),
		"horizon_days", s.cfg.WorkOrderHorizon,
	)

	s.runWorkOrderJob(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("work order scheduler stopped")
			return
		case <-ticker.C:
			s.runWorkOrderJob(ctx)
		}
	}
}

func (s *Service) runWorkOrderJob(ctx context.Context) {
	start := time.Now()

	opened, err := s.GenerateWorkOrders(ctx)
	switch {
	case errors.Is(err, ErrImportBusy):
		slog.Info("work order job skipped, dataset busy")
	case err != nil:
		slog.Error("work order generation failed", "error", err)
	default:
		slog.Info("work order job completed",
			"opened", len(opened),
			"previews_pruned", s.PrunePreviews(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
