package upgrade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/profile"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/subscription"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/asaas"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/service/billing"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const opRemove = "remove_operator"

// RemoveOperatorAndUpdateSubscription removes an operator seat and replaces
// the manager subscription with one priced for the remaining seats.
func (s *Service) RemoveOperatorAndUpdateSubscription(ctx context.Context, managerID, operatorID string) subscription.Output {
	operatorID = strings.TrimSpace(operatorID)
	if operatorID == "" {
		return s.done(opRemove, subscription.Failure(subscription.FailureValidation, subscription.MsgOperatorNotFound))
	}

	op, err := s.profiles.GetByID(ctx, operatorID)
	if err != nil {
		if errors.Is(err, profile.ErrProfileNotFound) {
			return s.done(opRemove, subscription.Failure(subscription.FailureNotFound, subscription.MsgOperatorNotFound))
		}
		s.logger.Error("failed to load operator", zap.String("operator_id", operatorID), zap.Error(err))
		return s.done(opRemove, subscription.Failure(subscription.FailureInternal, subscription.MsgOperatorRemoveFailed))
	}
	if op.Role != profile.RoleOperator || op.ManagerID == nil {
		return s.done(opRemove, subscription.Failure(subscription.FailureNotFound, subscription.MsgOperatorNotFound))
	}
	if managerID != "" && *op.ManagerID != managerID {
		return s.done(opRemove, subscription.Failure(subscription.FailureForbidden, subscription.MsgOperatorNotOwned))
	}

	unlock, out := s.lockManager(ctx, opRemove, *op.ManagerID)
	if out != nil {
		return s.done(opRemove, *out)
	}
	defer unlock()

	manager, out := s.loadManager(ctx, *op.ManagerID)
	if out != nil {
		return s.done(opRemove, *out)
	}
	return s.done(opRemove, s.remove(ctx, manager, op))
}

func (s *Service) remove(ctx context.Context, manager, op profile.Profile) subscription.Output {
	log := s.logger.With(zap.String("manager_id", manager.ID), zap.String("operator_id", op.ID))
	today := billing.Today(s.now())

	oldID := deref(manager.SubscriptionID)
	var remote *asaas.Subscription
	if oldID != "" {
		r, err := s.gateway.GetSubscription(ctx, oldID)
		switch {
		case err == nil:
			remote = r
		case errors.Is(err, asaas.ErrNotFound):
			log.Warn("current subscription not found in gateway", zap.String("subscription_id", oldID))
		default:
			log.Error("failed to load current subscription", zap.String("subscription_id", oldID), zap.Error(err))
			return subscription.Failure(subscription.FailureGateway, subscription.MsgOperatorRemoveFailed)
		}
	}

	plan := replacementPlan(manager, remote, today)

	var count int
	var change subscription.SeatChange
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.profiles.SoftDeleteOperator(ctx, op.ID); err != nil {
			return fmt.Errorf("soft delete operator: %w", err)
		}
		var err error
		count, err = s.profiles.DecrementOperatorCount(ctx, manager.ID)
		if err != nil {
			return fmt.Errorf("decrement operator count: %w", err)
		}
		if oldID == "" {
			return nil
		}

		value, _ := subscription.CalculateSubscriptionValue(count)
		change, err = s.seatChanges.Create(ctx, subscription.SeatChange{
			ManagerID:           manager.ID,
			Kind:                subscription.KindRemoveOperator,
			State:               subscription.StateStarted,
			OperatorID:          strPtr(op.ID),
			OldSubscriptionID:   strPtr(oldID),
			PreviousValue:       plan.previousValue,
			TargetValue:         value,
			TargetOperatorCount: count,
			NextDueDate:         &plan.nextDue,
			BillingType:         strPtr(string(plan.billingType)),
		})
		if err != nil {
			return fmt.Errorf("record seat change: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Error("failed to remove operator", zap.Error(err))
		return subscription.Failure(subscription.FailureInternal, subscription.MsgOperatorRemoveFailed)
	}

	value, description := subscription.CalculateSubscriptionValue(count)
	result := subscription.RemoveOperatorResult{
		OperatorID:        op.ID,
		OperatorCount:     count,
		OldSubscriptionID: oldID,
		SubscriptionValue: value,
		NextDueDate:       plan.nextDue.Format(asaas.DateLayout),
	}
	if oldID == "" {
		log.Info("operator removed from manager without subscription", zap.Int("operator_count", count))
		return subscription.Success(result, subscription.MsgOperatorRemoved)
	}

	var cancelErr error
	if err := s.gateway.CancelSubscription(ctx, oldID); err != nil {
		if errors.Is(err, asaas.ErrNotFound) {
			log.Info("previous subscription already gone", zap.String("subscription_id", oldID))
		} else {
			log.Error("failed to cancel previous subscription", zap.String("subscription_id", oldID), zap.Error(err))
			cancelErr = err
		}
	}

	created, err := s.gateway.CreateSubscription(ctx, asaas.CreateSubscriptionRequest{
		Customer:          plan.customerID,
		BillingType:       plan.billingType,
		Value:             value,
		Cycle:             plan.cycle,
		NextDueDate:       plan.nextDue,
		Description:       description,
		ExternalReference: subscription.ManagerReference(manager.ID),
		CreditCardToken:   plan.cardToken,
	})
	if err != nil {
		if _, recErr := s.seatChanges.RecordAttempt(context.WithoutCancel(ctx), change.ID, err.Error()); recErr != nil {
			log.Error("failed to record seat change attempt", zap.Error(recErr))
		}
		s.markIntent(ctx, change, subscription.StateNeedsReconciliation, err)
		if statusErr := s.profiles.UpdateSubscriptionStatus(ctx, manager.ID, profile.StatusInactive, nil); statusErr != nil {
			log.Warn("failed to mark subscription inactive", zap.Error(statusErr))
		}
		result.Reconciliation = subscription.ReconciliationPending
		return subscription.FailureWithResult(subscription.FailureGateway, result, subscription.MsgSubscriptionRecreateErr)
	}

	result.NewSubscriptionID = created.ID
	if err := s.seatChanges.SetNewSubscription(ctx, change.ID, created.ID); err != nil {
		log.Warn("failed to store new subscription on seat change", zap.Error(err))
	}
	s.markIntent(ctx, change, subscription.StateBillingApplied, nil)

	_, err = s.profiles.UpdateSubscription(ctx, manager.ID, profile.SubscriptionUpdate{
		SubscriptionID: created.ID,
		Status:         statusFromRemote(created.Status, manager.Status()),
		NextDueDate:    &plan.nextDue,
		Cycle:          string(plan.cycle),
		OperatorCount:  &count,
	})
	if err != nil {
		log.Error("failed to persist replacement subscription", zap.Error(err))
	}
	if reconcileErr := errors.Join(cancelErr, err); reconcileErr != nil {
		// The reconciler cancels the old subscription and relinks the profile.
		s.markIntent(ctx, change, subscription.StateNeedsReconciliation, reconcileErr)
		result.Reconciliation = subscription.ReconciliationPending
		return subscription.Success(result, subscription.MsgOperatorRemoved, subscription.MsgReconciliationPending)
	}

	s.markIntent(ctx, change, subscription.StateCompleted, nil)
	log.Info("operator removed",
		zap.Int("operator_count", count),
		zap.String("old_subscription_id", oldID),
		zap.String("new_subscription_id", created.ID),
	)
	return subscription.Success(result, subscription.MsgOperatorRemoved)
}

// replacement is the billing shape carried over to a new subscription.
type replacement struct {
	customerID    string
	billingType   asaas.BillingType
	cycle         asaas.Cycle
	nextDue       time.Time
	cardToken     string
	previousValue *decimal.Decimal
}

func replacementPlan(manager profile.Profile, remote *asaas.Subscription, today time.Time) replacement {
	p := replacement{
		customerID:  deref(manager.AsaasCustomerID),
		billingType: asaas.BillingTypeUndefined,
		cycle:       asaas.CycleMonthly,
	}
	var due time.Time
	if manager.SubscriptionNextDueDate != nil {
		due = *manager.SubscriptionNextDueDate
	}
	if manager.SubscriptionCycle != nil && *manager.SubscriptionCycle != "" {
		p.cycle = asaas.Cycle(*manager.SubscriptionCycle)
	}

	if remote != nil {
		if remote.Customer != "" {
			p.customerID = remote.Customer
		}
		if remote.Cycle != "" {
			p.cycle = remote.Cycle
		}
		if d := remote.NextDue(); !d.IsZero() {
			due = d
		}
		if remote.CreditCard != nil {
			p.cardToken = remote.CreditCard.CreditCardToken
		}
		p.billingType = billing.BillingTypeForRetry(remote.BillingType, p.cardToken)
		if p.billingType != asaas.BillingTypeCreditCard {
			p.cardToken = ""
		}
		value := remote.Value
		p.previousValue = &value
	}

	p.nextDue = billing.RollForward(due, p.cycle, today)
	return p
}

// statusFromRemote maps a freshly created gateway subscription onto the
// profile status, keeping fallback while the first payment is open.
func statusFromRemote(remote asaas.SubscriptionStatus, fallback profile.SubscriptionStatus) profile.SubscriptionStatus {
	if remote != asaas.SubscriptionStatusActive {
		return profile.StatusInactive
	}
	if fallback == "" || fallback.IsCanceled() {
		return profile.StatusPending
	}
	return fallback
}
