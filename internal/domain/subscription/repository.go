package subscription

import (
	"context"
	"time"
)

// SeatChangeRepository persists saga intents.
type SeatChangeRepository interface {
	Create(ctx context.Context, change SeatChange) (SeatChange, error)
	GetByID(ctx context.Context, id string) (SeatChange, error)

	// UpdateState moves the intent to state. lastError is stored when not nil.
	UpdateState(ctx context.Context, id string, state SeatChangeState, lastError *string) error
	SetNewSubscription(ctx context.Context, id, subscriptionID string) error
	SetOperatorID(ctx context.Context, id, operatorID string) error

	// RecordAttempt increments attempts and returns the new total.
	RecordAttempt(ctx context.Context, id string, lastError string) (int, error)

	// ListOpen returns started, billing_applied and needs_reconciliation
	// intents last updated before the cutoff, oldest first.
	ListOpen(ctx context.Context, updatedBefore time.Time, limit int) ([]SeatChange, error)
	CountNeedsReconciliation(ctx context.Context) (int, error)
}
