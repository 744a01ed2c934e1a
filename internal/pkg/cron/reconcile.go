package cron

import (
	"time"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/subscription"
)

const (
	SeatChangeInterval      = 5 * time.Minute
	PendingOperatorInterval = time.Minute
	StaleCleanupInterval    = 6 * time.Hour
)

// ReconciliationJobs schedules the repair jobs of the billing saga.
type ReconciliationJobs struct {
	reconciler subscription.Reconciler
}

func NewReconciliationJobs(reconciler subscription.Reconciler) *ReconciliationJobs {
	return &ReconciliationJobs{reconciler: reconciler}
}

// RegisterJobs registers all reconciliation jobs
func (j *ReconciliationJobs) RegisterJobs(scheduler *Scheduler) {
	scheduler.AddJob("reconcile_seat_changes", SeatChangeInterval, j.reconciler.ReconcileSeatChanges)
	scheduler.AddJob("reconcile_pending_operators", PendingOperatorInterval, j.reconciler.ReconcilePendingOperators)
	scheduler.AddJob("cleanup_stale_pending_operators", StaleCleanupInterval, j.reconciler.CleanupStalePendingOperators)
}
