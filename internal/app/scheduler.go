package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/tasksync/internal/reconcile"
)

// NewReconcileScheduler runs ReconcileAll on a cron schedule. Runs never
// overlap, a pass still in flight makes the next tick a no-op.
func NewReconcileScheduler(schedule string, reconciler *reconcile.Reconciler) (*gocron.Scheduler, error) {
	scheduler := gocron.NewScheduler(time.UTC)
	scheduler.SingletonModeAll()

	_, err := scheduler.Cron(schedule).Do(func() {
		runScheduledReconcile(context.Background(), reconciler)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule reconciliation %q: %w", schedule, err)
	}
	return scheduler, nil
}

func runScheduledReconcile(ctx context.Context, reconciler *reconcile.Reconciler) {
	start := time.Now()
	results, err := reconciler.ReconcileAll(ctx)
	if err != nil {
		logger.Error.Printf("Scheduled reconciliation stopped: %v", err)
	}

	written := 0
	for _, r := range results {
		written += r.Written
	}
	logger.Info.Printf("Scheduled reconciliation done in %s: %d tasks, %d grades written",
		time.Since(start).Round(time.Millisecond), len(results), written)
}
