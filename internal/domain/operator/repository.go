package operator

import (
	"context"
	"time"
)

type PendingOperatorRepository interface {
	Create(ctx context.Context, p PendingOperator) (PendingOperator, error)
	GetByID(ctx context.Context, id string) (PendingOperator, error)
	GetByPaymentID(ctx context.Context, paymentID string) (PendingOperator, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (PendingOperator, error)

	// UpdatePayment stores the gateway payment id and checkout url.
	UpdatePayment(ctx context.Context, id, paymentID string, checkoutURL *string) error
	UpdatePaymentStatus(ctx context.Context, id, status string) error
	LinkSubscription(ctx context.Context, id, subscriptionID string) error

	// MarkOperatorCreated flips the latch only when it is still false and
	// reports whether this call flipped it.
	MarkOperatorCreated(ctx context.Context, id, operatorID string) (bool, error)
	Delete(ctx context.Context, id string) error

	// ListPendingOlderThan returns unlatched rows created before the cutoff.
	ListPendingOlderThan(ctx context.Context, before time.Time, limit int) ([]PendingOperator, error)
	// DeleteStale removes unlatched, unpaid rows created before the cutoff.
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}
