package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/subscription"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/asaas"
)

// FirstPayment returns the oldest payment of a subscription, or nil when the
// gateway has not generated one yet.
func FirstPayment(ctx context.Context, gateway subscription.BillingGateway, subscriptionID string) (*asaas.Payment, error) {
	payments, err := gateway.GetSubscriptionPayments(ctx, subscriptionID, asaas.ListPaymentsParams{Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("list subscription payments: %w", err)
	}
	if len(payments) == 0 {
		return nil, nil
	}
	return &payments[0], nil
}

// PaymentDetails copies p and adds the PIX QR code or boleto line when the
// billing type needs one. The copied fields are returned even on error.
func PaymentDetails(ctx context.Context, gateway subscription.BillingGateway, p asaas.Payment) (subscription.PaymentDetails, error) {
	details := subscription.NewPaymentDetails(p)

	switch p.BillingType {
	case asaas.BillingTypePix:
		qr, err := gateway.GetPixQrCode(ctx, p.ID)
		if err != nil {
			return details, fmt.Errorf("get pix qr code: %w", err)
		}
		details.PixQrCode = qr.EncodedImage
		details.PixCopyPaste = qr.Payload
		details.PixExpirationDate = qr.ExpirationDate
	case asaas.BillingTypeBoleto:
		field, err := gateway.GetBoletoIdentificationField(ctx, p.ID)
		if err != nil {
			return details, fmt.Errorf("get boleto identification field: %w", err)
		}
		details.BoletoIdentificationField = field.IdentificationField
		details.BoletoBarCode = field.BarCode
	}
	return details, nil
}

// Today truncates now to midnight in its location.
func Today(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

// RollForward advances due by whole cycles until it is not before today.
// A zero due date becomes today.
func RollForward(due time.Time, cycle asaas.Cycle, today time.Time) time.Time {
	if due.IsZero() {
		return today
	}
	due = Today(due)
	for due.Before(today) {
		due = cycle.Next(due)
	}
	return due
}

// BillingTypeForRetry is the billing type used when a subscription has to be
// recreated without the customer present. Card data is never stored, so a
// card subscription without a token falls back to UNDEFINED.
func BillingTypeForRetry(billingType asaas.BillingType, cardToken string) asaas.BillingType {
	switch billingType {
	case asaas.BillingTypePix, asaas.BillingTypeBoleto:
		return billingType
	case asaas.BillingTypeCreditCard:
		if cardToken != "" {
			return billingType
		}
	}
	return asaas.BillingTypeUndefined
}
