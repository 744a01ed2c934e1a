package subscription

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/profile"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/subscription"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/asaas"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/lock"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/observability"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/validator"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/service/billing"
	"go.uber.org/zap"
)

const (
	opCreate = "create_subscription"
	opStatus = "subscription_status"

	// existingPaymentsLimit bounds the payments inspected on a retried onboarding.
	existingPaymentsLimit = 10
)

// Deps are the collaborators of the creation service. Logger, Metrics, Locker
// and Now are optional.
type Deps struct {
	Profiles  profile.ProfileRepository
	Gateway   subscription.BillingGateway
	Customers subscription.CustomerResolver
	Locker    lock.Locker
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Now       func() time.Time
}

type subscriptionService struct {
	profiles  profile.ProfileRepository
	gateway   subscription.BillingGateway
	customers subscription.CustomerResolver
	locker    lock.Locker
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewSubscriptionService(d Deps) subscription.CreationService {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Locker == nil {
		d.Locker = lock.NewLocalLocker(10 * time.Second)
	}
	return &subscriptionService{
		profiles:  d.Profiles,
		gateway:   d.Gateway,
		customers: d.Customers,
		locker:    d.Locker,
		logger:    d.Logger,
		metrics:   d.Metrics,
		now:       d.Now,
	}
}

func (s *subscriptionService) done(op string, out subscription.Output) subscription.Output {
	outcome := "success"
	if !out.IsValid {
		outcome = "failure"
	}
	s.metrics.IncrWorkflow(op, outcome)
	return out
}

// ==================== Onboarding ====================

// CreateSubscription starts the base plan of a manager. A retried onboarding
// reuses an open payment of the same billing type and refuses to bill a
// manager whose subscription is already paid.
func (s *subscriptionService) CreateSubscription(ctx context.Context, in subscription.CreateSubscriptionInput) subscription.Output {
	if err := in.Validate(); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return s.done(opCreate, subscription.ValidationFailure(verrs))
		}
		return s.done(opCreate, subscription.Failure(subscription.FailureValidation, subscription.MsgInvalidRequest))
	}
	method := subscription.PaymentMethodOrPix(in.PaymentMethod)

	manager, err := s.profiles.GetBySupabaseID(ctx, in.SupabaseID)
	if err != nil {
		if errors.Is(err, profile.ErrProfileNotFound) {
			return s.done(opCreate, subscription.Failure(subscription.FailureNotFound, subscription.MsgProfileNotFound))
		}
		s.logger.Error("failed to load profile", zap.String("supabase_id", in.SupabaseID), zap.Error(err))
		return s.done(opCreate, subscription.Failure(subscription.FailureInternal, subscription.MsgSubscriptionCreateFail))
	}
	if !manager.IsManager() {
		return s.done(opCreate, subscription.Failure(subscription.FailureForbidden, subscription.MsgNotManager))
	}

	unlock, err := s.locker.Lock(ctx, "manager:"+manager.ID)
	if err != nil {
		s.logger.Warn("manager lock not acquired", zap.String("manager_id", manager.ID), zap.Error(err))
		return s.done(opCreate, subscription.Failure(subscription.FailureConflict, subscription.MsgOperationInProgress))
	}
	defer unlock()

	manager, err = s.storeBillingContact(ctx, manager, in)
	if err != nil {
		s.logger.Error("failed to store billing contact", zap.String("manager_id", manager.ID), zap.Error(err))
		return s.done(opCreate, subscription.Failure(subscription.FailureInternal, subscription.MsgSubscriptionCreateFail))
	}

	customerID, err := s.customers.Resolve(ctx, manager)
	if err != nil {
		s.logger.Error("failed to resolve billing customer", zap.String("manager_id", manager.ID), zap.Error(err))
		return s.done(opCreate, subscription.Failure(subscription.FailureGateway, subscription.MsgCustomerFailed))
	}

	if out, handled := s.existing(ctx, manager, customerID, method); handled {
		return s.done(opCreate, out)
	}
	return s.done(opCreate, s.create(ctx, manager, customerID, method))
}

func (s *subscriptionService) storeBillingContact(ctx context.Context, manager profile.Profile, in subscription.CreateSubscriptionInput) (profile.Profile, error) {
	cpfCnpj := validator.OnlyDigits(in.CpfCnpj)
	var phone *string
	if p := validator.OnlyDigits(in.Phone); p != "" {
		phone = &p
	}
	if manager.CpfCnpj != nil && *manager.CpfCnpj == cpfCnpj && (phone == nil || (manager.Phone != nil && *manager.Phone == *phone)) {
		return manager, nil
	}
	if err := s.profiles.UpdateBillingContact(ctx, manager.ID, cpfCnpj, phone); err != nil {
		return manager, err
	}
	manager.CpfCnpj = &cpfCnpj
	if phone != nil {
		manager.Phone = phone
	}
	return manager, nil
}

// existing inspects the subscription already linked to manager. handled is
// false when a new subscription must be created.
func (s *subscriptionService) existing(ctx context.Context, manager profile.Profile, customerID string, method subscription.PaymentMethod) (subscription.Output, bool) {
	if manager.SubscriptionID == nil || *manager.SubscriptionID == "" {
		return subscription.Output{}, false
	}
	subscriptionID := *manager.SubscriptionID
	log := s.logger.With(zap.String("manager_id", manager.ID), zap.String("subscription_id", subscriptionID))

	payments, err := s.gateway.GetSubscriptionPayments(ctx, subscriptionID, asaas.ListPaymentsParams{Limit: existingPaymentsLimit})
	if err != nil {
		if errors.Is(err, asaas.ErrNotFound) {
			log.Warn("linked subscription not found in gateway")
			return subscription.Output{}, false
		}
		log.Error("failed to list subscription payments", zap.Error(err))
		return subscription.Failure(subscription.FailureGateway, subscription.MsgSubscriptionCreateFail), true
	}

	for _, p := range payments {
		if !p.Status.IsPaid() {
			continue
		}
		if manager.Status() != profile.StatusActive {
			if err := s.profiles.UpdateSubscriptionStatus(ctx, manager.ID, profile.StatusActive, nil); err != nil {
				log.Warn("failed to mark subscription active", zap.Error(err))
			}
		}
		log.Info("subscription already paid")
		return subscription.FailureWithResult(subscription.FailureConflict,
			subscription.AlreadyActiveResult{AlreadyActive: true, SubscriptionID: subscriptionID},
			subscription.MsgAlreadyActive,
		), true
	}

	for _, p := range payments {
		if p.Status != asaas.PaymentStatusPending || p.BillingType != method.BillingType() {
			continue
		}
		details, err := billing.PaymentDetails(ctx, s.gateway, p)
		messages := []string{subscription.MsgPendingPaymentReused}
		if err != nil {
			log.Warn("failed to load payment details", zap.String("payment_id", p.ID), zap.Error(err))
			messages = append(messages, subscription.MsgPaymentDetailsFailed)
		}
		value, _ := subscription.CalculateSubscriptionValue(manager.OperatorCount)
		log.Info("pending payment reused", zap.String("payment_id", p.ID))
		return subscription.Success(subscription.CreateSubscriptionResult{
			SubscriptionID:       subscriptionID,
			CustomerID:           customerID,
			Status:               string(profile.StatusPending),
			Value:                value,
			NextDueDate:          p.DueDate,
			ReusedPendingPayment: true,
			PaymentDetails:       details,
		}, messages...), true
	}
	return subscription.Output{}, false
}

func (s *subscriptionService) create(ctx context.Context, manager profile.Profile, customerID string, method subscription.PaymentMethod) subscription.Output {
	log := s.logger.With(zap.String("manager_id", manager.ID))
	today := billing.Today(s.now())
	value, description := subscription.CalculateSubscriptionValue(manager.OperatorCount)

	req := asaas.CreateSubscriptionRequest{
		Customer:          customerID,
		BillingType:       method.BillingType(),
		Value:             value,
		Cycle:             asaas.CycleMonthly,
		NextDueDate:       today,
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
		log.Error("failed to create subscription", zap.Error(err))
		return subscription.Failure(subscription.FailureGateway, subscription.MsgSubscriptionCreateFail)
	}
	log = log.With(zap.String("subscription_id", created.ID))

	status := profile.StatusPending
	messages := []string{subscription.MsgSubscriptionCreated}
	var details subscription.PaymentDetails
	first, err := billing.FirstPayment(ctx, s.gateway, created.ID)
	if err != nil {
		log.Warn("failed to load first payment", zap.Error(err))
	}
	if first != nil {
		if first.Status.IsPaid() {
			status = profile.StatusActive
		}
		details, err = billing.PaymentDetails(ctx, s.gateway, *first)
		if err != nil {
			log.Warn("failed to load payment details", zap.String("payment_id", first.ID), zap.Error(err))
			messages = append(messages, subscription.MsgPaymentDetailsFailed)
		}
	}

	_, err = s.profiles.UpdateSubscription(ctx, manager.ID, profile.SubscriptionUpdate{
		SubscriptionID: created.ID,
		Status:         status,
		NextDueDate:    &today,
		Cycle:          string(asaas.CycleMonthly),
	})
	if err != nil {
		log.Error("failed to link subscription to profile", zap.Error(err))
		if cancelErr := s.gateway.CancelSubscription(context.WithoutCancel(ctx), created.ID); cancelErr != nil {
			log.Error("failed to cancel unlinked subscription", zap.Error(cancelErr))
		}
		return subscription.Failure(subscription.FailureInternal, subscription.MsgSubscriptionCreateFail)
	}

	// The linked subscription had no usable payment; the new one replaces it.
	if old := deref(manager.SubscriptionID); old != "" && old != created.ID {
		if err := s.gateway.CancelSubscription(ctx, old); err != nil && !errors.Is(err, asaas.ErrNotFound) {
			log.Warn("failed to cancel replaced subscription", zap.String("old_subscription_id", old), zap.Error(err))
		}
	}

	log.Info("subscription created",
		zap.String("billing_type", string(method.BillingType())),
		zap.String("status", string(status)),
	)
	return subscription.Success(subscription.CreateSubscriptionResult{
		SubscriptionID: created.ID,
		CustomerID:     customerID,
		Status:         string(status),
		Value:          created.Value,
		NextDueDate:    today.Format(asaas.DateLayout),
		PaymentDetails: details,
	}, messages...)
}

// ==================== Status ====================

// GetSubscriptionStatus returns the local billing snapshot of the caller's
// account together with the gateway view. Operators see their manager's
// subscription. A paid first payment promotes a PENDING profile to ACTIVE.
func (s *subscriptionService) GetSubscriptionStatus(ctx context.Context, supabaseID string) subscription.Output {
	if strings.TrimSpace(supabaseID) == "" {
		return s.done(opStatus, subscription.Failure(subscription.FailureValidation, subscription.MsgInvalidRequest))
	}
	p, err := s.profiles.GetBySupabaseID(ctx, supabaseID)
	if err == nil && !p.IsManager() && p.ManagerID != nil {
		p, err = s.profiles.GetByID(ctx, *p.ManagerID)
	}
	if err != nil {
		if errors.Is(err, profile.ErrProfileNotFound) {
			return s.done(opStatus, subscription.Failure(subscription.FailureNotFound, subscription.MsgProfileNotFound))
		}
		s.logger.Error("failed to load profile", zap.String("supabase_id", supabaseID), zap.Error(err))
		return s.done(opStatus, subscription.Failure(subscription.FailureInternal, subscription.MsgPaymentStatusFailed))
	}

	expected, _ := subscription.CalculateSubscriptionValue(p.OperatorCount)
	result := subscription.SubscriptionStatusResult{
		ProfileID:          p.ID,
		SubscriptionID:     p.SubscriptionID,
		SubscriptionStatus: string(p.Status()),
		Cycle:              p.SubscriptionCycle,
		OperatorCount:      p.OperatorCount,
		ExpectedValue:      expected,
	}
	if p.SubscriptionNextDueDate != nil {
		due := p.SubscriptionNextDueDate.Format(asaas.DateLayout)
		result.NextDueDate = &due
	}

	subscriptionID := deref(p.SubscriptionID)
	if subscriptionID == "" {
		return s.done(opStatus, subscription.Success(result, subscription.MsgStatusLoaded))
	}
	log := s.logger.With(zap.String("manager_id", p.ID), zap.String("subscription_id", subscriptionID))

	remote, err := s.gateway.GetSubscription(ctx, subscriptionID)
	switch {
	case err == nil:
		result.RemoteStatus = string(remote.Status)
		value := remote.Value
		result.RemoteValue = &value
	case errors.Is(err, asaas.ErrNotFound):
		log.Warn("subscription not found in gateway")
		return s.done(opStatus, subscription.Success(result, subscription.MsgStatusLoaded))
	default:
		log.Warn("failed to load subscription from gateway", zap.Error(err))
		return s.done(opStatus, subscription.Success(result, subscription.MsgStatusLoaded))
	}

	first, err := billing.FirstPayment(ctx, s.gateway, subscriptionID)
	if err != nil {
		log.Warn("failed to load first payment", zap.Error(err))
	}
	if first != nil {
		details := subscription.NewPaymentDetails(*first)
		result.LatestPayment = &details
		if first.Status.IsPaid() && p.Status() == profile.StatusPending {
			if err := s.profiles.UpdateSubscriptionStatus(ctx, p.ID, profile.StatusActive, nil); err != nil {
				log.Warn("failed to mark subscription active", zap.Error(err))
			} else {
				result.SubscriptionStatus = string(profile.StatusActive)
			}
		}
	}
	return s.done(opStatus, subscription.Success(result, subscription.MsgStatusLoaded))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
