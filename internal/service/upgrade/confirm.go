package upgrade

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/operator"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/profile"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/subscription"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/asaas"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/email"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/supabase"
	"go.uber.org/zap"
)

const (
	opConfirm     = "confirm_operator_payment"
	opCheckStatus = "check_operator_payment_status"
)

// ConfirmPaymentAndCreateOperator provisions the operator paid by paymentID.
// When managerID is not empty the payment must belong to that manager.
func (s *Service) ConfirmPaymentAndCreateOperator(ctx context.Context, managerID, paymentID string) subscription.Output {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return s.done(opConfirm, subscription.Failure(subscription.FailureValidation, subscription.MsgPendingOperatorNotFound))
	}

	pending, payment, out := s.findPending(ctx, managerID, paymentID, "")
	if out != nil {
		return s.done(opConfirm, *out)
	}
	return s.done(opConfirm, s.confirm(ctx, pending, payment))
}

// ConfirmPaymentAndCreateOperatorBySubscription is the webhook variant: the
// staging row may only be linked to the subscription that billed it.
func (s *Service) ConfirmPaymentAndCreateOperatorBySubscription(ctx context.Context, subscriptionID, paymentID string) subscription.Output {
	subscriptionID = strings.TrimSpace(subscriptionID)
	paymentID = strings.TrimSpace(paymentID)
	if subscriptionID == "" && paymentID == "" {
		return s.done(opConfirm, subscription.Failure(subscription.FailureValidation, subscription.MsgPendingOperatorNotFound))
	}

	pending, payment, out := s.findPending(ctx, "", paymentID, subscriptionID)
	if out != nil {
		return s.done(opConfirm, *out)
	}
	if subscriptionID != "" && pending.SubscriptionID == nil {
		if err := s.pendingOperators.LinkSubscription(ctx, pending.ID, subscriptionID); err != nil {
			s.logger.Warn("failed to link seat subscription",
				zap.String("pending_operator_id", pending.ID),
				zap.String("subscription_id", subscriptionID),
				zap.Error(err),
			)
		} else {
			pending.SubscriptionID = &subscriptionID
		}
	}
	return s.done(opConfirm, s.confirm(ctx, pending, payment))
}

// CheckOperatorPaymentStatus refreshes the stored payment status. When
// managerID is not empty the payment must belong to that manager.
func (s *Service) CheckOperatorPaymentStatus(ctx context.Context, managerID, paymentID string) subscription.Output {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return s.done(opCheckStatus, subscription.Failure(subscription.FailureValidation, subscription.MsgPendingOperatorNotFound))
	}

	pending, payment, out := s.findPending(ctx, managerID, paymentID, "")
	if out != nil {
		return s.done(opCheckStatus, *out)
	}

	if payment == nil {
		p, err := s.gateway.GetPayment(ctx, pending.PaymentID)
		if err != nil {
			s.logger.Warn("failed to fetch operator payment", zap.String("payment_id", pending.PaymentID), zap.Error(err))
			return s.done(opCheckStatus, subscription.Failure(subscription.FailureGateway, subscription.MsgPaymentStatusFailed))
		}
		payment = p
	}

	status := string(payment.Status)
	if status != pending.PaymentStatus && !pending.OperatorCreated {
		if err := s.pendingOperators.UpdatePaymentStatus(ctx, pending.ID, status); err != nil {
			s.logger.Warn("failed to store payment status", zap.String("pending_operator_id", pending.ID), zap.Error(err))
		} else {
			pending.PaymentStatus = status
		}
	}

	return s.done(opCheckStatus, subscription.Success(subscription.PaymentStatusResult{
		PendingOperatorID: pending.ID,
		PaymentID:         pending.PaymentID,
		PaymentStatus:     status,
		OperatorCreated:   pending.OperatorCreated,
		OperatorID:        pending.OperatorID,
	}))
}

// findPending resolves the staging row by payment id, then subscription id,
// then the externalReference of the gateway payment. Rows found through a
// fallback get the payment id backfilled. The gateway payment is returned
// when it had to be fetched. Rows of a manager other than managerID are
// reported as not found.
func (s *Service) findPending(ctx context.Context, managerID, paymentID, subscriptionID string) (operator.PendingOperator, *asaas.Payment, *subscription.Output) {
	notFound := subscription.Failure(subscription.FailureNotFound, subscription.MsgPendingOperatorNotFound)
	internal := subscription.Failure(subscription.FailureInternal, subscription.MsgPaymentStatusFailed)
	foreign := func(p operator.PendingOperator) bool {
		if managerID == "" || p.ManagerID == managerID {
			return false
		}
		s.logger.Warn("pending operator requested by another manager",
			zap.String("pending_operator_id", p.ID),
			zap.String("manager_id", managerID),
		)
		return true
	}

	if paymentID != "" {
		pending, err := s.pendingOperators.GetByPaymentID(ctx, paymentID)
		if err == nil {
			if foreign(pending) {
				return operator.PendingOperator{}, nil, &notFound
			}
			return pending, nil, nil
		}
		if !errors.Is(err, operator.ErrPendingOperatorNotFound) {
			s.logger.Error("failed to load pending operator", zap.String("payment_id", paymentID), zap.Error(err))
			return operator.PendingOperator{}, nil, &internal
		}
	}

	if subscriptionID != "" {
		pending, err := s.pendingOperators.GetBySubscriptionID(ctx, subscriptionID)
		if err == nil {
			if foreign(pending) {
				return operator.PendingOperator{}, nil, &notFound
			}
			return s.backfill(ctx, pending, paymentID, nil), nil, nil
		}
		if !errors.Is(err, operator.ErrPendingOperatorNotFound) {
			s.logger.Error("failed to load pending operator", zap.String("subscription_id", subscriptionID), zap.Error(err))
			return operator.PendingOperator{}, nil, &internal
		}
	}

	if paymentID == "" {
		return operator.PendingOperator{}, nil, &notFound
	}

	payment, err := s.gateway.GetPayment(ctx, paymentID)
	if err != nil {
		if errors.Is(err, asaas.ErrNotFound) {
			return operator.PendingOperator{}, nil, &notFound
		}
		s.logger.Warn("failed to fetch payment for reference lookup", zap.String("payment_id", paymentID), zap.Error(err))
		gw := subscription.Failure(subscription.FailureGateway, subscription.MsgPaymentStatusFailed)
		return operator.PendingOperator{}, nil, &gw
	}

	ref, ok := subscription.ParseReference(payment.ExternalReference)
	if !ok || ref.Kind != subscription.ReferencePendingOperator {
		return operator.PendingOperator{}, nil, &notFound
	}

	pending, err := s.pendingOperators.GetByID(ctx, ref.ID)
	if err != nil {
		if !errors.Is(err, operator.ErrPendingOperatorNotFound) {
			s.logger.Error("failed to load pending operator", zap.String("pending_operator_id", ref.ID), zap.Error(err))
			return operator.PendingOperator{}, nil, &internal
		}
		return operator.PendingOperator{}, nil, &notFound
	}
	if foreign(pending) {
		return operator.PendingOperator{}, nil, &notFound
	}

	s.logger.Info("pending operator resolved through payment reference",
		zap.String("pending_operator_id", pending.ID),
		zap.String("stored_payment_id", pending.PaymentID),
		zap.String("payment_id", paymentID),
	)
	return s.backfill(ctx, pending, paymentID, payment), payment, nil
}

func (s *Service) backfill(ctx context.Context, pending operator.PendingOperator, paymentID string, payment *asaas.Payment) operator.PendingOperator {
	if paymentID == "" || pending.PaymentID == paymentID || pending.OperatorCreated {
		return pending
	}
	checkoutURL := pending.CheckoutURL
	if payment != nil && payment.InvoiceURL != "" {
		checkoutURL = strPtr(payment.InvoiceURL)
	}
	if err := s.pendingOperators.UpdatePayment(ctx, pending.ID, paymentID, checkoutURL); err != nil {
		s.logger.Warn("failed to backfill payment id",
			zap.String("pending_operator_id", pending.ID),
			zap.String("payment_id", paymentID),
			zap.Error(err),
		)
		return pending
	}
	pending.PaymentID = paymentID
	pending.CheckoutURL = checkoutURL
	return pending
}

func alreadyCreated(pending operator.PendingOperator) subscription.Output {
	return subscription.FailureWithResult(subscription.FailureConflict, subscription.OperatorConfirmationResult{
		PaymentID:       pending.PaymentID,
		PaymentStatus:   pending.PaymentStatus,
		OperatorCreated: true,
		OperatorID:      deref(pending.OperatorID),
	}, subscription.MsgOperatorAlreadyCreated)
}

// confirm gates on the payment status and provisions the operator:
// invite, email, subscription value, then Profile and count in one
// transaction. payment may be nil.
func (s *Service) confirm(ctx context.Context, pending operator.PendingOperator, payment *asaas.Payment) subscription.Output {
	if pending.OperatorCreated {
		return alreadyCreated(pending)
	}

	if payment == nil {
		p, err := s.gateway.GetPayment(ctx, pending.PaymentID)
		if err != nil {
			s.logger.Warn("failed to fetch operator payment", zap.String("payment_id", pending.PaymentID), zap.Error(err))
			return subscription.Failure(subscription.FailureGateway, subscription.MsgPaymentStatusFailed)
		}
		payment = p
	}

	if !payment.Status.IsPaid() {
		if string(payment.Status) != pending.PaymentStatus {
			if err := s.pendingOperators.UpdatePaymentStatus(ctx, pending.ID, string(payment.Status)); err != nil {
				s.logger.Warn("failed to store payment status", zap.String("pending_operator_id", pending.ID), zap.Error(err))
			}
		}
		return subscription.FailureWithResult(subscription.FailureValidation, subscription.PaymentStatusResult{
			PendingOperatorID: pending.ID,
			PaymentID:         pending.PaymentID,
			PaymentStatus:     string(payment.Status),
		}, subscription.MsgPaymentNotConfirmed)
	}

	unlock, out := s.lockManager(ctx, opConfirm, pending.ManagerID)
	if out != nil {
		return *out
	}
	defer unlock()

	// A concurrent confirmation may have finished while we waited.
	current, err := s.pendingOperators.GetByID(ctx, pending.ID)
	if err != nil {
		s.logger.Error("failed to reload pending operator", zap.String("pending_operator_id", pending.ID), zap.Error(err))
		return subscription.Failure(subscription.FailureInternal, subscription.MsgOperatorCreateFailed)
	}
	if current.OperatorCreated {
		return alreadyCreated(current)
	}
	pending = current
	pending.PaymentStatus = string(payment.Status)

	return s.provision(ctx, pending, payment)
}

func (s *Service) provision(ctx context.Context, pending operator.PendingOperator, payment *asaas.Payment) subscription.Output {
	log := s.logger.With(
		zap.String("manager_id", pending.ManagerID),
		zap.String("pending_operator_id", pending.ID),
		zap.String("payment_id", pending.PaymentID),
	)

	manager, out := s.loadManager(ctx, pending.ManagerID)
	if out != nil {
		return *out
	}
	if manager.SubscriptionID == nil || *manager.SubscriptionID == "" {
		log.Warn("manager has no linked subscription")
		return subscription.Failure(subscription.FailureValidation, subscription.MsgNoLinkedSubscription)
	}
	subscriptionID := *manager.SubscriptionID

	remote, err := s.gateway.GetSubscription(ctx, subscriptionID)
	if err != nil {
		log.Warn("linked subscription unavailable", zap.String("subscription_id", subscriptionID), zap.Error(err))
		if errors.Is(err, asaas.ErrNotFound) {
			return subscription.Failure(subscription.FailureValidation, subscription.MsgNoLinkedSubscription)
		}
		return subscription.Failure(subscription.FailureGateway, subscription.MsgSubscriptionUpdateFail)
	}

	exists, err := s.profiles.ExistsByEmail(ctx, pending.Email)
	if err != nil {
		log.Error("failed to check operator email", zap.Error(err))
		return subscription.Failure(subscription.FailureInternal, subscription.MsgOperatorCreateFailed)
	}
	if exists {
		log.Error("paid operator seat has an email already in use", zap.String("email", pending.Email))
		return subscription.Failure(subscription.FailureConflict, subscription.MsgEmailInUse)
	}

	targetCount := manager.OperatorCount + 1
	targetValue, description := subscription.CalculateSubscriptionValue(targetCount)
	if expected, _ := subscription.CalculateSubscriptionValue(manager.OperatorCount); !remote.Value.Equal(expected) {
		log.Warn("subscription value out of sync with operator count",
			zap.String("remote_value", remote.Value.String()),
			zap.String("expected_value", expected.String()),
		)
	}

	previous := remote.Value
	change, err := s.seatChanges.Create(ctx, subscription.SeatChange{
		ManagerID:           manager.ID,
		Kind:                subscription.KindAddOperator,
		State:               subscription.StateStarted,
		PendingOperatorID:   strPtr(pending.ID),
		OldSubscriptionID:   strPtr(subscriptionID),
		PreviousValue:       &previous,
		TargetValue:         targetValue,
		TargetOperatorCount: targetCount,
		BillingType:         strPtr(string(remote.BillingType)),
	})
	if err != nil {
		log.Error("failed to record seat change", zap.Error(err))
		return subscription.Failure(subscription.FailureInternal, subscription.MsgOperatorCreateFailed)
	}

	invite := supabase.InviteRequest{
		Email:      pending.Email,
		RedirectTo: s.redirectURL,
		Metadata: map[string]any{
			"name":       pending.Name,
			"role":       string(profile.RoleOperator),
			"manager_id": manager.ID,
		},
	}
	link, err := s.identity.GenerateInviteLink(ctx, invite)
	if errors.Is(err, supabase.ErrUserAlreadyExists) {
		// No Profile holds this email, so the account is left over from an
		// earlier attempt on this seat.
		log.Warn("identity already exists without profile, issuing recovery link")
		link, err = s.identity.GenerateRecoveryLink(ctx, invite)
	}
	if err != nil {
		log.Error("failed to invite operator", zap.Error(err))
		s.markIntent(ctx, change, subscription.StateFailed, err)
		return subscription.Failure(subscription.FailureGateway, subscription.MsgInviteFailed)
	}

	err = s.invites.SendOperatorInvite(ctx, email.OperatorInviteEmail{
		OperatorName:  pending.Name,
		OperatorEmail: pending.Email,
		OperatorRole:  pending.Role,
		ManagerName:   manager.Name,
		InviteURL:     link.ActionLink,
	})
	if err != nil {
		log.Error("failed to send operator invite", zap.String("supabase_id", link.UserID), zap.Error(err))
		s.markIntent(ctx, change, subscription.StateFailed, err)
		return subscription.Failure(subscription.FailureGateway, subscription.MsgInviteFailed)
	}

	// No seat without its charge.
	_, err = s.gateway.UpdateSubscription(ctx, subscriptionID, asaas.UpdateSubscriptionRequest{
		Value:                 targetValue,
		Description:           description,
		UpdatePendingPayments: true,
	})
	if err != nil {
		log.Error("failed to raise subscription value", zap.String("subscription_id", subscriptionID), zap.Error(err))
		s.markIntent(ctx, change, subscription.StateFailed, err)
		return subscription.Failure(subscription.FailureGateway, subscription.MsgSubscriptionUpdateFail)
	}
	s.markIntent(ctx, change, subscription.StateBillingApplied, nil)

	var created profile.Profile
	var count int
	status := manager.Status()
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.profiles.Create(ctx, profile.Profile{
			SupabaseID:         link.UserID,
			Email:              pending.Email,
			Name:               pending.Name,
			Role:               profile.RoleOperator,
			ManagerID:          strPtr(manager.ID),
			SubscriptionID:     strPtr(subscriptionID),
			SubscriptionStatus: &status,
		})
		if err != nil {
			return fmt.Errorf("create operator profile: %w", err)
		}
		count, err = s.profiles.IncrementOperatorCount(ctx, manager.ID)
		if err != nil {
			return fmt.Errorf("increment operator count: %w", err)
		}
		return nil
	})
	if err != nil {
		s.markIntent(ctx, change, subscription.StateNeedsReconciliation, err)
		return subscription.FailureWithResult(subscription.FailureInternal, subscription.OperatorConfirmationResult{
			PaymentID:      pending.PaymentID,
			PaymentStatus:  string(payment.Status),
			Reconciliation: subscription.ReconciliationPending,
		}, subscription.MsgOperatorCreateFailed, subscription.MsgReconciliationPending)
	}
	if count != targetCount {
		log.Warn("operator count differs from billed seats", zap.Int("count", count), zap.Int("billed", targetCount))
	}

	if err := s.seatChanges.SetOperatorID(ctx, change.ID, created.ID); err != nil {
		log.Warn("failed to store operator on seat change", zap.Error(err))
	}

	result := subscription.OperatorConfirmationResult{
		PaymentID:         pending.PaymentID,
		PaymentStatus:     string(asaas.PaymentStatusConfirmed),
		OperatorCreated:   true,
		OperatorID:        created.ID,
		OperatorCount:     count,
		SubscriptionValue: targetValue,
	}

	// The Profile is the source of truth; an unlatched row is repaired by
	// the reconciler.
	flipped, err := s.pendingOperators.MarkOperatorCreated(ctx, pending.ID, created.ID)
	if err != nil || !flipped {
		log.Error("failed to latch pending operator",
			zap.String("operator_id", created.ID),
			zap.Bool("flipped", flipped),
			zap.Error(err),
		)
		if err == nil {
			err = operator.ErrAlreadyCreated
		}
		s.markIntent(ctx, change, subscription.StateNeedsReconciliation, err)
		result.Reconciliation = subscription.ReconciliationPending
		return subscription.Success(result, subscription.MsgOperatorCreated)
	}

	s.markIntent(ctx, change, subscription.StateCompleted, nil)
	log.Info("operator provisioned", zap.String("operator_id", created.ID), zap.Int("operator_count", count))
	return subscription.Success(result, subscription.MsgOperatorCreated)
}
