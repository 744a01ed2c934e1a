package upgrade

import (
	"context"
	"errors"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/profile"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/subscription"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/asaas"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/validator"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/service/billing"
	"go.uber.org/zap"
)

const opReactivate = "reactivate_subscription"

// ReactivateSubscription replaces the manager subscription with a new one
// priced for in.OperatorCount and paid with in.PaymentMethod. The new
// subscription is created before the old one is canceled so a declined
// payment leaves the account untouched.
func (s *Service) ReactivateSubscription(ctx context.Context, in subscription.ReactivateInput) subscription.Output {
	if err := in.Validate(); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return s.done(opReactivate, subscription.ValidationFailure(verrs))
		}
		return s.done(opReactivate, subscription.Failure(subscription.FailureValidation, subscription.MsgInvalidRequest))
	}
	method := subscription.PaymentMethodOrPix(in.PaymentMethod)

	manager, err := s.profiles.GetBySupabaseID(ctx, in.SupabaseID)
	if err != nil {
		if errors.Is(err, profile.ErrProfileNotFound) {
			return s.done(opReactivate, subscription.Failure(subscription.FailureNotFound, subscription.MsgProfileNotFound))
		}
		s.logger.Error("failed to load profile", zap.String("supabase_id", in.SupabaseID), zap.Error(err))
		return s.done(opReactivate, subscription.Failure(subscription.FailureInternal, subscription.MsgReactivateFailed))
	}
	if !manager.IsManager() {
		return s.done(opReactivate, subscription.Failure(subscription.FailureForbidden, subscription.MsgNotManager))
	}

	unlock, out := s.lockManager(ctx, opReactivate, manager.ID)
	if out != nil {
		return s.done(opReactivate, *out)
	}
	defer unlock()

	active, err := s.profiles.CountActiveOperators(ctx, manager.ID)
	if err != nil {
		s.logger.Error("failed to count operators", zap.String("manager_id", manager.ID), zap.Error(err))
		return s.done(opReactivate, subscription.Failure(subscription.FailureInternal, subscription.MsgReactivateFailed))
	}
	if active != in.OperatorCount {
		s.logger.Warn("reactivation operator count mismatch",
			zap.String("manager_id", manager.ID),
			zap.Int("requested", in.OperatorCount),
			zap.Int("active", active),
		)
		return s.done(opReactivate, subscription.Failure(subscription.FailureValidation, subscription.MsgOperatorCountMismatch))
	}

	return s.done(opReactivate, s.reactivate(ctx, manager, in.OperatorCount, method))
}

func (s *Service) reactivate(ctx context.Context, manager profile.Profile, count int, method subscription.PaymentMethod) subscription.Output {
	log := s.logger.With(zap.String("manager_id", manager.ID))
	today := billing.Today(s.now())

	customerID, err := s.customers.Resolve(ctx, manager)
	if err != nil {
		log.Error("failed to resolve billing customer", zap.Error(err))
		return subscription.Failure(subscription.FailureGateway, subscription.MsgCustomerFailed)
	}

	// A canceled subscription is charged again from today.
	nextDue := today
	if manager.SubscriptionNextDueDate != nil && !manager.SubscriptionNextDueDate.Before(today) {
		nextDue = billing.Today(*manager.SubscriptionNextDueDate)
	}

	oldID := deref(manager.SubscriptionID)
	value, description := subscription.CalculateSubscriptionValue(count)
	change, err := s.seatChanges.Create(ctx, subscription.SeatChange{
		ManagerID:           manager.ID,
		Kind:                subscription.KindReactivate,
		State:               subscription.StateStarted,
		OldSubscriptionID:   optional(oldID),
		TargetValue:         value,
		TargetOperatorCount: count,
		NextDueDate:         &nextDue,
		BillingType:         strPtr(string(method.BillingType())),
	})
	if err != nil {
		log.Error("failed to record seat change", zap.Error(err))
		return subscription.Failure(subscription.FailureInternal, subscription.MsgReactivateFailed)
	}

	req := asaas.CreateSubscriptionRequest{
		Customer:          customerID,
		BillingType:       method.BillingType(),
		Value:             value,
		Cycle:             asaas.CycleMonthly,
		NextDueDate:       nextDue,
		Description:       description,
		ExternalReference: subscription.ManagerReference(manager.ID),
	}
	if card, ok := method.(subscription.CreditCardPayment); ok {
		req.CreditCard = &card.Card
		req.CreditCardHolderInfo = &card.Holder
		req.RemoteIP = card.RemoteIP
	}

	created, err := s.gateway.CreateSubscription(ctx, req)
	if err != nil {
		log.Error("failed to create replacement subscription", zap.Error(err))
		s.markIntent(ctx, change, subscription.StateFailed, err)
		return subscription.Failure(subscription.FailureGateway, subscription.MsgReactivateFailed)
	}
	if err := s.seatChanges.SetNewSubscription(ctx, change.ID, created.ID); err != nil {
		log.Warn("failed to store new subscription on seat change", zap.Error(err))
	}
	s.markIntent(ctx, change, subscription.StateBillingApplied, nil)

	result := subscription.ReactivateResult{
		SubscriptionID:    created.ID,
		OldSubscriptionID: oldID,
		OperatorCount:     count,
		Value:             created.Value,
		NextDueDate:       nextDue.Format(asaas.DateLayout),
	}
	messages := []string{subscription.MsgReactivated}

	var reconcileErr error
	if oldID != "" && oldID != created.ID {
		if err := s.gateway.CancelSubscription(ctx, oldID); err != nil && !errors.Is(err, asaas.ErrNotFound) {
			log.Error("failed to cancel previous subscription", zap.String("subscription_id", oldID), zap.Error(err))
			reconcileErr = err
		}
	}

	status := profile.StatusPending
	first, err := billing.FirstPayment(ctx, s.gateway, created.ID)
	if err != nil {
		log.Warn("failed to load first payment", zap.String("subscription_id", created.ID), zap.Error(err))
	}
	if first != nil {
		if first.Status.IsPaid() {
			status = profile.StatusActive
		}
		details, err := billing.PaymentDetails(ctx, s.gateway, *first)
		if err != nil {
			log.Warn("failed to load payment details", zap.String("payment_id", first.ID), zap.Error(err))
			messages = append(messages, subscription.MsgPaymentDetailsFailed)
		}
		result.PaymentDetails = details
	}
	result.Status = string(status)

	_, err = s.profiles.UpdateSubscription(ctx, manager.ID, profile.SubscriptionUpdate{
		SubscriptionID:  created.ID,
		Status:          status,
		NextDueDate:     &nextDue,
		Cycle:           string(asaas.CycleMonthly),
		OperatorCount:   &count,
		ExpectedVersion: &manager.Version,
	})
	if err != nil {
		log.Error("failed to persist reactivated subscription", zap.Error(err))
		reconcileErr = errors.Join(reconcileErr, err)
	}

	if reconcileErr != nil {
		s.markIntent(ctx, change, subscription.StateNeedsReconciliation, reconcileErr)
		result.Reconciliation = subscription.ReconciliationPending
		messages = append(messages, subscription.MsgReconciliationPending)
		return subscription.Success(result, messages...)
	}

	s.markIntent(ctx, change, subscription.StateCompleted, nil)
	log.Info("subscription reactivated",
		zap.String("old_subscription_id", oldID),
		zap.String("new_subscription_id", created.ID),
		zap.Int("operator_count", count),
	)
	return subscription.Success(result, messages...)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
