package upgrade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/operator"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/profile"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/subscription"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/asaas"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/lock"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/service/billing"
	"go.uber.org/zap"
)

const (
	// MaxReconcileAttempts bounds automatic retries of one seat change.
	MaxReconcileAttempts = 5

	seatChangeMinAge      = 2 * time.Minute
	pendingOperatorMinAge = time.Minute
	stalePendingAge       = 7 * 24 * time.Hour
	reconcileBatchSize    = 50
)

// errGaveUp marks a seat change left for support.
var errGaveUp = errors.New("reconciliation attempts exhausted")

// ReconcileSeatChanges repairs open intents older than two minutes.
func (s *Service) ReconcileSeatChanges(ctx context.Context) error {
	changes, err := s.seatChanges.ListOpen(ctx, s.now().Add(-seatChangeMinAge), reconcileBatchSize)
	if err != nil {
		return fmt.Errorf("list open seat changes: %w", err)
	}

	var repaired, failed int
	for _, change := range changes {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if change.Attempts >= MaxReconcileAttempts {
			continue
		}
		if err := s.reconcileOne(ctx, change); err != nil {
			if errors.Is(err, lock.ErrLockTimeout) {
				continue
			}
			failed++
			s.recordFailure(ctx, change, err)
			continue
		}
		repaired++
	}

	if backlog, err := s.seatChanges.CountNeedsReconciliation(ctx); err == nil {
		s.metrics.SetReconciliationBacklog(backlog)
	}
	if len(changes) > 0 {
		s.logger.Info("seat changes reconciled",
			zap.Int("scanned", len(changes)),
			zap.Int("repaired", repaired),
			zap.Int("failed", failed),
		)
	}
	return nil
}

func (s *Service) recordFailure(ctx context.Context, change subscription.SeatChange, cause error) {
	attempts, err := s.seatChanges.RecordAttempt(ctx, change.ID, cause.Error())
	if err != nil {
		s.logger.Error("failed to record reconciliation attempt", zap.String("seat_change_id", change.ID), zap.Error(err))
		return
	}
	if change.State != subscription.StateNeedsReconciliation {
		s.markIntent(ctx, change, subscription.StateNeedsReconciliation, cause)
	}
	if attempts >= MaxReconcileAttempts {
		s.logger.Error("seat change requires manual intervention",
			zap.String("seat_change_id", change.ID),
			zap.String("manager_id", change.ManagerID),
			zap.String("kind", string(change.Kind)),
			zap.Int("attempts", attempts),
			zap.Error(fmt.Errorf("%w: %w", errGaveUp, cause)),
		)
	}
}

func (s *Service) reconcileOne(ctx context.Context, change subscription.SeatChange) error {
	unlock, err := s.locker.Lock(ctx, managerLockKey(change.ManagerID))
	if err != nil {
		return fmt.Errorf("lock manager: %w", err)
	}
	defer unlock()

	// Re-read under the lock; the workflow may have finished meanwhile.
	change, err = s.seatChanges.GetByID(ctx, change.ID)
	if err != nil {
		return fmt.Errorf("reload seat change: %w", err)
	}
	if !change.State.IsOpen() {
		return nil
	}

	manager, err := s.profiles.GetByID(ctx, change.ManagerID)
	if err != nil {
		return fmt.Errorf("load manager: %w", err)
	}

	switch change.Kind {
	case subscription.KindAddOperator:
		return s.reconcileAdd(ctx, change, manager)
	case subscription.KindRemoveOperator, subscription.KindReactivate:
		return s.reconcileReplace(ctx, change, manager)
	}
	return fmt.Errorf("unknown seat change kind %q", change.Kind)
}

// reconcileAdd aligns the subscription value with the local operator count
// and latches the staging row of a provisioned operator.
func (s *Service) reconcileAdd(ctx context.Context, change subscription.SeatChange, manager profile.Profile) error {
	if err := s.alignValue(ctx, manager); err != nil {
		return err
	}

	if change.OperatorID != nil && change.PendingOperatorID != nil {
		if _, err := s.pendingOperators.MarkOperatorCreated(ctx, *change.PendingOperatorID, *change.OperatorID); err != nil &&
			!errors.Is(err, operator.ErrPendingOperatorNotFound) {
			return fmt.Errorf("latch pending operator: %w", err)
		}
	}

	state := subscription.StateCompleted
	if change.OperatorID == nil {
		state = subscription.StateFailed
	}
	s.markIntent(ctx, change, state, nil)
	s.logger.Info("add operator seat change reconciled",
		zap.String("seat_change_id", change.ID),
		zap.String("state", string(state)),
	)
	return nil
}

func (s *Service) alignValue(ctx context.Context, manager profile.Profile) error {
	subscriptionID := deref(manager.SubscriptionID)
	if subscriptionID == "" {
		return nil
	}
	remote, err := s.gateway.GetSubscription(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, asaas.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get subscription: %w", err)
	}

	expected, description := subscription.CalculateSubscriptionValue(manager.OperatorCount)
	if remote.Value.Equal(expected) {
		return nil
	}
	_, err = s.gateway.UpdateSubscription(ctx, subscriptionID, asaas.UpdateSubscriptionRequest{
		Value:                 expected,
		Description:           description,
		UpdatePendingPayments: true,
	})
	if err != nil {
		return fmt.Errorf("align subscription value: %w", err)
	}
	s.logger.Warn("subscription value realigned",
		zap.String("manager_id", manager.ID),
		zap.String("from", remote.Value.String()),
		zap.String("to", expected.String()),
	)
	return nil
}

// reconcileReplace finishes a cancel-and-recreate: it creates the missing
// replacement subscription, cancels the old one and points the profile at
// the new one.
func (s *Service) reconcileReplace(ctx context.Context, change subscription.SeatChange, manager profile.Profile) error {
	oldID := deref(change.OldSubscriptionID)
	current := deref(manager.SubscriptionID)

	if change.NewSubscriptionID == nil {
		if change.Kind == subscription.KindReactivate {
			// Nothing reached the gateway.
			s.markIntent(ctx, change, subscription.StateFailed, nil)
			return nil
		}
		if current != "" && current != oldID {
			// Superseded by a later change.
			s.markIntent(ctx, change, subscription.StateCompleted, nil)
			return nil
		}
		created, nextDue, err := s.recreate(ctx, change, manager)
		if err != nil {
			return err
		}
		id := created.ID
		change.NewSubscriptionID = &id
		change.NextDueDate = &nextDue
	}
	newID := *change.NewSubscriptionID

	if oldID != "" && oldID != newID {
		if err := s.gateway.CancelSubscription(ctx, oldID); err != nil && !errors.Is(err, asaas.ErrNotFound) {
			return fmt.Errorf("cancel previous subscription: %w", err)
		}
	}

	if current != newID {
		status := profile.StatusPending
		if change.Kind == subscription.KindRemoveOperator {
			status = profile.StatusActive
		}
		_, err := s.profiles.UpdateSubscription(ctx, manager.ID, profile.SubscriptionUpdate{
			SubscriptionID: newID,
			Status:         status,
			NextDueDate:    change.NextDueDate,
			Cycle:          string(asaas.CycleMonthly),
		})
		if err != nil {
			return fmt.Errorf("persist replacement subscription: %w", err)
		}
	}

	s.markIntent(ctx, change, subscription.StateCompleted, nil)
	s.logger.Info("seat change reconciled",
		zap.String("seat_change_id", change.ID),
		zap.String("kind", string(change.Kind)),
		zap.String("new_subscription_id", newID),
	)
	return nil
}

func (s *Service) recreate(ctx context.Context, change subscription.SeatChange, manager profile.Profile) (*asaas.Subscription, time.Time, error) {
	customerID := deref(manager.AsaasCustomerID)
	if customerID == "" {
		return nil, time.Time{}, errors.New("manager has no billing customer")
	}

	oldID := deref(change.OldSubscriptionID)
	if oldID != "" {
		if err := s.gateway.CancelSubscription(ctx, oldID); err != nil && !errors.Is(err, asaas.ErrNotFound) {
			return nil, time.Time{}, fmt.Errorf("cancel previous subscription: %w", err)
		}
	}

	var due time.Time
	if change.NextDueDate != nil {
		due = *change.NextDueDate
	}
	nextDue := billing.RollForward(due, asaas.CycleMonthly, billing.Today(s.now()))
	_, description := subscription.CalculateSubscriptionValue(change.TargetOperatorCount)

	created, err := s.gateway.CreateSubscription(ctx, asaas.CreateSubscriptionRequest{
		Customer:          customerID,
		BillingType:       billing.BillingTypeForRetry(asaas.BillingType(deref(change.BillingType)), ""),
		Value:             change.TargetValue,
		Cycle:             asaas.CycleMonthly,
		NextDueDate:       nextDue,
		Description:       description,
		ExternalReference: subscription.ManagerReference(manager.ID),
	})
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("recreate subscription: %w", err)
	}
	if err := s.seatChanges.SetNewSubscription(ctx, change.ID, created.ID); err != nil {
		return nil, time.Time{}, fmt.Errorf("store recreated subscription: %w", err)
	}
	return created, nextDue, nil
}

// ReconcilePendingOperators promotes paid checkouts that no webhook or poll
// has confirmed yet.
func (s *Service) ReconcilePendingOperators(ctx context.Context) error {
	rows, err := s.pendingOperators.ListPendingOlderThan(ctx, s.now().Add(-pendingOperatorMinAge), reconcileBatchSize)
	if err != nil {
		return fmt.Errorf("list pending operators: %w", err)
	}

	promoted := 0
	for _, pending := range rows {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		out := s.done(opConfirm, s.confirm(ctx, pending, nil))
		if out.IsValid {
			promoted++
			continue
		}
		if out.Kind != subscription.FailureValidation {
			s.logger.Warn("pending operator not promoted",
				zap.String("pending_operator_id", pending.ID),
				zap.String("payment_id", pending.PaymentID),
				zap.Strings("errors", out.ErrorMessages),
			)
		}
	}
	if promoted > 0 {
		s.logger.Info("pending operators promoted", zap.Int("count", promoted))
	}
	return nil
}

// CleanupStalePendingOperators deletes unpaid checkouts older than seven days.
func (s *Service) CleanupStalePendingOperators(ctx context.Context) error {
	n, err := s.pendingOperators.DeleteStale(ctx, s.now().Add(-stalePendingAge))
	if err != nil {
		return fmt.Errorf("delete stale pending operators: %w", err)
	}
	if n > 0 {
		s.logger.Info("stale pending operators deleted", zap.Int64("count", n))
	}
	return nil
}
