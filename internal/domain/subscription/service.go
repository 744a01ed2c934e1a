package subscription

import (
	"context"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/profile"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/asaas"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/email"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/supabase"
)

// BillingGateway is the subset of the Asaas client the workflows call.
type BillingGateway interface {
	CreateCustomer(ctx context.Context, req asaas.CreateCustomerRequest) (*asaas.Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*asaas.Customer, error)
	CreateSubscription(ctx context.Context, req asaas.CreateSubscriptionRequest) (*asaas.Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*asaas.Subscription, error)
	UpdateSubscription(ctx context.Context, subscriptionID string, req asaas.UpdateSubscriptionRequest) (*asaas.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	GetSubscriptionPayments(ctx context.Context, subscriptionID string, params asaas.ListPaymentsParams) ([]asaas.Payment, error)
	CreatePayment(ctx context.Context, req asaas.CreatePaymentRequest) (*asaas.Payment, error)
	DeletePayment(ctx context.Context, paymentID string) error
	GetPayment(ctx context.Context, paymentID string) (*asaas.Payment, error)
	GetPixQrCode(ctx context.Context, paymentID string) (*asaas.PixQrCode, error)
	GetBoletoIdentificationField(ctx context.Context, paymentID string) (*asaas.IdentificationField, error)
}

// IdentityProvisioner creates invited accounts in the identity provider.
type IdentityProvisioner interface {
	GenerateInviteLink(ctx context.Context, req supabase.InviteRequest) (*supabase.InviteLink, error)
	GenerateRecoveryLink(ctx context.Context, req supabase.InviteRequest) (*supabase.InviteLink, error)
}

// InviteSender delivers the operator invitation.
type InviteSender interface {
	SendOperatorInvite(ctx context.Context, msg email.OperatorInviteEmail) error
}

// CustomerResolver returns a billing customer id valid in the configured
// gateway environment, creating and persisting one when needed.
type CustomerResolver interface {
	Resolve(ctx context.Context, manager profile.Profile) (string, error)
}

// Transactor runs fn in one database transaction carried by ctx.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// CreationService onboards managers.
type CreationService interface {
	CreateSubscription(ctx context.Context, in CreateSubscriptionInput) Output
	GetSubscriptionStatus(ctx context.Context, supabaseID string) Output
}

// UpgradeService changes seats on an existing subscription.
type UpgradeService interface {
	CreateOperatorPayment(ctx context.Context, managerID string, candidate OperatorCandidate, method PaymentMethod) Output
	// ConfirmPaymentAndCreateOperator and CheckOperatorPaymentStatus only see
	// payments of managerID when it is not empty.
	ConfirmPaymentAndCreateOperator(ctx context.Context, managerID, paymentID string) Output
	ConfirmPaymentAndCreateOperatorBySubscription(ctx context.Context, subscriptionID, paymentID string) Output
	CheckOperatorPaymentStatus(ctx context.Context, managerID, paymentID string) Output
	// RemoveOperatorAndUpdateSubscription removes operatorID. When managerID is
	// not empty the operator must belong to that manager.
	RemoveOperatorAndUpdateSubscription(ctx context.Context, managerID, operatorID string) Output
	ReactivateSubscription(ctx context.Context, in ReactivateInput) Output
}

// Reconciler repairs intents and staging rows left behind by partial failures.
type Reconciler interface {
	ReconcileSeatChanges(ctx context.Context) error
	ReconcilePendingOperators(ctx context.Context) error
	CleanupStalePendingOperators(ctx context.Context) error
}

// WebhookService applies gateway notifications.
type WebhookService interface {
	HandleEvent(ctx context.Context, event asaas.WebhookEvent) error
}
