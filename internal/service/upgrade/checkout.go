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
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/validator"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/service/billing"
	"go.uber.org/zap"
)

const opCheckout = "create_operator_payment"

// CreateOperatorPayment stages a candidate operator and opens a one-off
// payment of one seat. The staging row is removed when any later step fails.
func (s *Service) CreateOperatorPayment(ctx context.Context, managerID string, candidate subscription.OperatorCandidate, method subscription.PaymentMethod) subscription.Output {
	candidate.Name = s.cleanName(candidate.Name)
	candidate.Email = strings.ToLower(strings.TrimSpace(candidate.Email))
	if err := candidate.Validate(); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return s.done(opCheckout, subscription.ValidationFailure(verrs))
		}
		return s.done(opCheckout, subscription.Failure(subscription.FailureValidation, subscription.MsgInvalidRequest))
	}
	method = subscription.PaymentMethodOrPix(method)
	name, email := candidate.Name, candidate.Email

	manager, out := s.loadManager(ctx, managerID)
	if out != nil {
		return s.done(opCheckout, *out)
	}
	if !manager.HasBillableSubscription() {
		return s.done(opCheckout, subscription.Failure(subscription.FailureValidation, subscription.MsgSubscriptionInactive))
	}

	exists, err := s.profiles.ExistsByEmail(ctx, email)
	if err != nil {
		s.logger.Error("failed to check operator email", zap.String("manager_id", manager.ID), zap.Error(err))
		return s.done(opCheckout, subscription.Failure(subscription.FailureInternal, subscription.MsgCheckoutFailed))
	}
	if exists {
		return s.done(opCheckout, subscription.Failure(subscription.FailureConflict, subscription.MsgEmailInUse))
	}

	pending, err := s.pendingOperators.Create(ctx, operator.PendingOperator{
		ManagerID:     manager.ID,
		Name:          name,
		Email:         email,
		Role:          string(profile.RoleOperator),
		PaymentID:     operator.NewPlaceholderPaymentID(),
		PaymentStatus: string(asaas.PaymentStatusPending),
		PaymentMethod: string(method.BillingType()),
	})
	if err != nil {
		s.logger.Error("failed to create pending operator", zap.String("manager_id", manager.ID), zap.Error(err))
		return s.done(opCheckout, subscription.Failure(subscription.FailureInternal, subscription.MsgCheckoutFailed))
	}

	payment, err := s.openCheckout(ctx, manager, pending, method)
	if err != nil {
		s.logger.Error("operator checkout failed",
			zap.String("manager_id", manager.ID),
			zap.String("pending_operator_id", pending.ID),
			zap.Error(err),
		)
		if delErr := s.pendingOperators.Delete(context.WithoutCancel(ctx), pending.ID); delErr != nil {
			s.logger.Error("failed to delete pending operator after checkout failure",
				zap.String("pending_operator_id", pending.ID),
				zap.Error(delErr),
			)
		}
		msg := subscription.MsgCheckoutFailed
		if errors.Is(err, errCustomer) {
			msg = subscription.MsgCustomerFailed
		}
		return s.done(opCheckout, subscription.Failure(subscription.FailureGateway, msg))
	}

	details, err := billing.PaymentDetails(ctx, s.gateway, *payment)
	if err != nil {
		s.logger.Warn("failed to load checkout payment details", zap.String("payment_id", payment.ID), zap.Error(err))
	}

	s.logger.Info("operator checkout created",
		zap.String("manager_id", manager.ID),
		zap.String("pending_operator_id", pending.ID),
		zap.String("payment_id", payment.ID),
	)

	return s.done(opCheckout, subscription.Success(subscription.OperatorCheckoutResult{
		PendingOperatorID: pending.ID,
		CheckoutURL:       payment.InvoiceURL,
		Value:             payment.Value,
		PaymentDetails:    details,
	}, subscription.MsgCheckoutCreated))
}

var errCustomer = errors.New("billing customer unavailable")

// openCheckout resolves the customer, creates the seat payment and stores its
// id on the staging row. A payment whose id could not be stored is deleted.
func (s *Service) openCheckout(ctx context.Context, manager profile.Profile, pending operator.PendingOperator, method subscription.PaymentMethod) (*asaas.Payment, error) {
	customerID, err := s.customers.Resolve(ctx, manager)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errCustomer, err)
	}

	req := asaas.CreatePaymentRequest{
		Customer:          customerID,
		BillingType:       method.BillingType(),
		Value:             subscription.OperatorPrice,
		DueDate:           billing.Today(s.now()).AddDate(0, 0, 1),
		Description:       fmt.Sprintf("Lead Flow - Operador adicional: %s (%s)", pending.Name, pending.Email),
		ExternalReference: subscription.PendingOperatorReference(pending.ID),
	}
	if card, ok := method.(subscription.CreditCardPayment); ok {
		req.CreditCard = &card.Card
		req.CreditCardHolderInfo = &card.Holder
		req.RemoteIP = card.RemoteIP
	}

	payment, err := s.gateway.CreatePayment(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create checkout payment: %w", err)
	}

	if err := s.pendingOperators.UpdatePayment(ctx, pending.ID, payment.ID, strPtr(payment.InvoiceURL)); err != nil {
		if delErr := s.gateway.DeletePayment(context.WithoutCancel(ctx), payment.ID); delErr != nil {
			s.logger.Error("failed to delete orphan checkout payment",
				zap.String("payment_id", payment.ID),
				zap.Error(delErr),
			)
		}
		return nil, fmt.Errorf("store checkout payment id: %w", err)
	}
	return payment, nil
}

// loadManager returns a failure Output when id is not a manager.
func (s *Service) loadManager(ctx context.Context, id string) (profile.Profile, *subscription.Output) {
	if strings.TrimSpace(id) == "" {
		out := subscription.Failure(subscription.FailureValidation, subscription.MsgManagerNotFound)
		return profile.Profile{}, &out
	}
	manager, err := s.profiles.GetByID(ctx, id)
	if err != nil {
		out := subscription.Failure(subscription.FailureInternal, subscription.MsgManagerNotFound)
		if errors.Is(err, profile.ErrProfileNotFound) {
			out.Kind = subscription.FailureNotFound
		} else {
			s.logger.Error("failed to load manager", zap.String("manager_id", id), zap.Error(err))
		}
		return profile.Profile{}, &out
	}
	if !manager.IsManager() {
		out := subscription.Failure(subscription.FailureForbidden, subscription.MsgNotManager)
		return profile.Profile{}, &out
	}
	return manager, nil
}
