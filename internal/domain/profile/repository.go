package profile

import (
	"context"
	"time"
)

type ProfileRepository interface {
	GetByID(ctx context.Context, id string) (Profile, error)
	GetBySupabaseID(ctx context.Context, supabaseID string) (Profile, error)
	GetByEmail(ctx context.Context, email string) (Profile, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (Profile, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, p Profile) (Profile, error)
	UpdateAsaasCustomerID(ctx context.Context, id, customerID string) error
	UpdateBillingContact(ctx context.Context, id, cpfCnpj string, phone *string) error

	// UpdateSubscription bumps version and fails with ErrVersionConflict
	// when ExpectedVersion no longer matches.
	UpdateSubscription(ctx context.Context, id string, upd SubscriptionUpdate) (Profile, error)
	UpdateSubscriptionStatus(ctx context.Context, id string, status SubscriptionStatus, nextDueDate *time.Time) error

	// IncrementOperatorCount and DecrementOperatorCount are single atomic
	// UPDATE statements returning the new count. The count never goes below 0.
	IncrementOperatorCount(ctx context.Context, id string) (int, error)
	DecrementOperatorCount(ctx context.Context, id string) (int, error)
	SetOperatorCount(ctx context.Context, id string, count int) error
	CountActiveOperators(ctx context.Context, managerID string) (int, error)
	SoftDeleteOperator(ctx context.Context, operatorID string) error
}
