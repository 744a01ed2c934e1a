// Package webhook applies Asaas notifications to operators and manager
// subscriptions.
package webhook

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
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/observability"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/validator"
	"go.uber.org/zap"
)

// dedupTTL is how long a delivered event id is remembered.
const dedupTTL = 24 * time.Hour

// ErrRetryable marks failures the gateway should deliver again.
var ErrRetryable = errors.New("webhook processing failed")

type Deps struct {
	Profiles         profile.ProfileRepository
	PendingOperators operator.PendingOperatorRepository
	Upgrades         subscription.UpgradeService
	Idempotency      lock.IdempotencyStore
	Locker           lock.Locker
	Logger           *zap.Logger
	Metrics          *observability.Metrics
}

type webhookService struct {
	profiles    profile.ProfileRepository
	pending     operator.PendingOperatorRepository
	upgrades    subscription.UpgradeService
	idempotency lock.IdempotencyStore
	locker      lock.Locker
	logger      *zap.Logger
	metrics     *observability.Metrics
}

func NewWebhookService(d Deps) subscription.WebhookService {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Idempotency == nil {
		d.Idempotency = lock.NewMemoryIdempotencyStore()
	}
	if d.Locker == nil {
		d.Locker = lock.NewLocalLocker(10 * time.Second)
	}
	return &webhookService{
		profiles:    d.Profiles,
		pending:     d.PendingOperators,
		upgrades:    d.Upgrades,
		idempotency: d.Idempotency,
		locker:      d.Locker,
		logger:      d.Logger,
		metrics:     d.Metrics,
	}
}

// HandleEvent processes event once. A returned error asks the caller to
// answer with a non-2xx status so the gateway redelivers.
func (s *webhookService) HandleEvent(ctx context.Context, event asaas.WebhookEvent) error {
	key := event.DedupKey()
	log := s.logger.With(zap.String("event", string(event.Event)), zap.String("event_id", key))
	if key == "" {
		log.Warn("webhook without identifiable resource ignored")
		s.metrics.IncrWebhook(string(event.Event), "ignored")
		return nil
	}

	first, err := s.idempotency.MarkProcessed(ctx, key, dedupTTL)
	if err != nil {
		// Every handler below is idempotent on its own.
		log.Warn("idempotency store unavailable", zap.Error(err))
		first = true
	}
	if !first {
		log.Info("duplicate webhook ignored")
		s.metrics.IncrWebhook(string(event.Event), "duplicate")
		return nil
	}

	result, err := s.dispatch(ctx, event)
	if err != nil {
		if forgetErr := s.idempotency.Forget(context.WithoutCancel(ctx), key); forgetErr != nil {
			log.Warn("failed to release webhook key", zap.Error(forgetErr))
		}
		log.Error("webhook processing failed", zap.Error(err))
		s.metrics.IncrWebhook(string(event.Event), "error")
		return err
	}
	s.metrics.IncrWebhook(string(event.Event), result)
	return nil
}

func (s *webhookService) dispatch(ctx context.Context, event asaas.WebhookEvent) (string, error) {
	switch event.Event {
	case asaas.EventPaymentConfirmed, asaas.EventPaymentReceived:
		if event.Payment == nil {
			return "ignored", nil
		}
		pending, ok, err := s.operatorPayment(ctx, *event.Payment)
		if err != nil {
			return "", err
		}
		if ok {
			return s.confirmOperator(ctx, pending, *event.Payment)
		}
		return s.managerPayment(ctx, *event.Payment, profile.StatusActive)

	case asaas.EventPaymentOverdue:
		if event.Payment == nil {
			return "ignored", nil
		}
		if _, ok, err := s.operatorPayment(ctx, *event.Payment); err != nil || ok {
			// An unpaid seat checkout simply expires.
			return "ignored", err
		}
		return s.managerPayment(ctx, *event.Payment, profile.StatusOverdue)

	case asaas.EventSubscriptionDeleted, asaas.EventSubscriptionInactivated:
		if event.Subscription == nil {
			return "ignored", nil
		}
		return s.subscriptionEnded(ctx, *event.Subscription)
	}
	return "ignored", nil
}

// operatorPayment finds the staging row a payment belongs to.
func (s *webhookService) operatorPayment(ctx context.Context, payment asaas.Payment) (operator.PendingOperator, bool, error) {
	if ref, ok := subscription.ParseReference(payment.ExternalReference); ok {
		if ref.Kind != subscription.ReferencePendingOperator {
			return operator.PendingOperator{}, false, nil
		}
		return lookupPending(func() (operator.PendingOperator, error) { return s.pending.GetByID(ctx, ref.ID) })
	}
	if p, ok, err := lookupPending(func() (operator.PendingOperator, error) { return s.pending.GetByPaymentID(ctx, payment.ID) }); err != nil || ok {
		return p, ok, err
	}
	if payment.Subscription == "" {
		return operator.PendingOperator{}, false, nil
	}
	return lookupPending(func() (operator.PendingOperator, error) {
		return s.pending.GetBySubscriptionID(ctx, payment.Subscription)
	})
}

func lookupPending(get func() (operator.PendingOperator, error)) (operator.PendingOperator, bool, error) {
	p, err := get()
	if err == nil {
		return p, true, nil
	}
	if errors.Is(err, operator.ErrPendingOperatorNotFound) {
		return operator.PendingOperator{}, false, nil
	}
	return operator.PendingOperator{}, false, fmt.Errorf("%w: load pending operator: %w", ErrRetryable, err)
}

// confirmOperator provisions the paid seat and drops the staging row once
// the operator exists.
func (s *webhookService) confirmOperator(ctx context.Context, pending operator.PendingOperator, payment asaas.Payment) (string, error) {
	log := s.logger.With(zap.String("pending_operator_id", pending.ID), zap.String("payment_id", payment.ID))

	var out subscription.Output
	if payment.Subscription != "" {
		out = s.upgrades.ConfirmPaymentAndCreateOperatorBySubscription(ctx, payment.Subscription, payment.ID)
	} else {
		out = s.upgrades.ConfirmPaymentAndCreateOperator(ctx, "", payment.ID)
	}

	switch {
	case out.IsValid, out.Kind == subscription.FailureConflict && isAlreadyCreated(out):
	case out.Kind == subscription.FailureGateway, out.Kind == subscription.FailureInternal, out.Kind == subscription.FailureConflict:
		return "", fmt.Errorf("%w: confirm operator: %v", ErrRetryable, out.ErrorMessages)
	default:
		log.Warn("operator payment not confirmed", zap.Strings("errors", out.ErrorMessages))
		return "ignored", nil
	}

	if err := s.pending.Delete(ctx, pending.ID); err != nil && !errors.Is(err, operator.ErrPendingOperatorNotFound) {
		log.Warn("failed to delete pending operator", zap.Error(err))
	}
	log.Info("operator payment processed")
	return "processed", nil
}

func isAlreadyCreated(out subscription.Output) bool {
	r, ok := out.Result.(subscription.OperatorConfirmationResult)
	return ok && r.OperatorCreated
}

// managerPayment moves the status of the manager billed by payment. Payments
// of a subscription the manager no longer uses are ignored.
func (s *webhookService) managerPayment(ctx context.Context, payment asaas.Payment, status profile.SubscriptionStatus) (string, error) {
	manager, ok, err := s.managerOf(ctx, payment.ExternalReference, payment.Subscription)
	if err != nil || !ok {
		return "ignored", err
	}
	log := s.logger.With(zap.String("manager_id", manager.ID), zap.String("payment_id", payment.ID))

	unlock, err := s.locker.Lock(ctx, "manager:"+manager.ID)
	if err != nil {
		return "", fmt.Errorf("%w: lock manager: %w", ErrRetryable, err)
	}
	defer unlock()

	manager, err = s.profiles.GetByID(ctx, manager.ID)
	if err != nil {
		return "", fmt.Errorf("%w: reload manager: %w", ErrRetryable, err)
	}
	if payment.Subscription == "" || deref(manager.SubscriptionID) != payment.Subscription {
		log.Info("payment of a replaced subscription ignored", zap.String("subscription_id", payment.Subscription))
		return "ignored", nil
	}

	var nextDue *time.Time
	if status == profile.StatusActive {
		if due, ok := validator.IsValidDate(payment.DueDate); ok {
			cycle := asaas.Cycle(deref(manager.SubscriptionCycle))
			next := cycle.Next(due)
			if manager.SubscriptionNextDueDate == nil || next.After(*manager.SubscriptionNextDueDate) {
				nextDue = &next
			}
		}
	}

	if err := s.profiles.UpdateSubscriptionStatus(ctx, manager.ID, status, nextDue); err != nil {
		return "", fmt.Errorf("%w: update subscription status: %w", ErrRetryable, err)
	}
	log.Info("manager subscription status updated", zap.String("status", string(status)))
	return "processed", nil
}

// subscriptionEnded marks the manager canceled when its current subscription
// is deleted or inactivated outside a seat change.
func (s *webhookService) subscriptionEnded(ctx context.Context, sub asaas.Subscription) (string, error) {
	manager, ok, err := s.managerOf(ctx, sub.ExternalReference, sub.ID)
	if err != nil || !ok {
		return "ignored", err
	}

	unlock, err := s.locker.Lock(ctx, "manager:"+manager.ID)
	if err != nil {
		return "", fmt.Errorf("%w: lock manager: %w", ErrRetryable, err)
	}
	defer unlock()

	manager, err = s.profiles.GetByID(ctx, manager.ID)
	if err != nil {
		return "", fmt.Errorf("%w: reload manager: %w", ErrRetryable, err)
	}
	if deref(manager.SubscriptionID) != sub.ID {
		return "ignored", nil
	}
	if err := s.profiles.UpdateSubscriptionStatus(ctx, manager.ID, profile.StatusCanceled, nil); err != nil {
		return "", fmt.Errorf("%w: cancel subscription status: %w", ErrRetryable, err)
	}
	s.logger.Info("manager subscription canceled", zap.String("manager_id", manager.ID), zap.String("subscription_id", sub.ID))
	return "processed", nil
}

func (s *webhookService) managerOf(ctx context.Context, externalReference, subscriptionID string) (profile.Profile, bool, error) {
	var (
		p   profile.Profile
		err error
	)
	if ref, ok := subscription.ParseReference(externalReference); ok && ref.Kind == subscription.ReferenceManager {
		p, err = s.profiles.GetByID(ctx, ref.ID)
	} else if subscriptionID != "" {
		p, err = s.profiles.GetBySubscriptionID(ctx, subscriptionID)
	} else {
		return profile.Profile{}, false, nil
	}
	if err != nil {
		if errors.Is(err, profile.ErrProfileNotFound) {
			return profile.Profile{}, false, nil
		}
		return profile.Profile{}, false, fmt.Errorf("%w: load manager: %w", ErrRetryable, err)
	}
	return p, p.IsManager(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
