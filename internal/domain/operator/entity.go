package operator

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PlaceholderPrefix marks a payment id not yet returned by the gateway.
const PlaceholderPrefix = "pending:"

// PendingOperator stages an operator seat between checkout and account creation.
type PendingOperator struct {
	ID              string
	ManagerID       string
	Name            string
	Email           string
	Role            string
	PaymentID       string
	SubscriptionID  *string
	PaymentStatus   string
	PaymentMethod   string
	CheckoutURL     *string
	OperatorCreated bool
	OperatorID      *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewPlaceholderPaymentID keeps payment_id unique until the real id is known.
func NewPlaceholderPaymentID() string {
	return PlaceholderPrefix + uuid.NewString()
}

// HasRealPaymentID reports whether the gateway payment id was persisted.
func (p *PendingOperator) HasRealPaymentID() bool {
	return p.PaymentID != "" && !strings.HasPrefix(p.PaymentID, PlaceholderPrefix)
}
