package asaas

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// CreateCustomer creates a billing customer.
func (c *Client) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*Customer, error) {
	var customer Customer
	if err := c.call(ctx, "CreateCustomer", http.MethodPost, "/customers", req, &customer); err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return &customer, nil
}

// GetCustomer fetches a customer. Deleted customers are reported as ErrNotFound.
func (c *Client) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	var customer Customer
	if err := c.call(ctx, "GetCustomer", http.MethodGet, "/customers/"+url.PathEscape(customerID), nil, &customer); err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	if customer.Deleted {
		return nil, fmt.Errorf("get customer %s: %w", customerID, ErrNotFound)
	}
	return &customer, nil
}

// CreateSubscription creates a recurring subscription.
func (c *Client) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error) {
	cycle := req.Cycle
	if cycle == "" {
		cycle = CycleMonthly
	}
	body := createSubscriptionBody{
		Customer:             req.Customer,
		BillingType:          req.BillingType,
		Value:                req.Value.Round(2).InexactFloat64(),
		NextDueDate:          req.NextDueDate.Format(DateLayout),
		Cycle:                cycle,
		Description:          req.Description,
		ExternalReference:    req.ExternalReference,
		CreditCard:           req.CreditCard,
		CreditCardHolderInfo: req.CreditCardHolderInfo,
		CreditCardToken:      req.CreditCardToken,
		RemoteIP:             req.RemoteIP,
	}

	var sub Subscription
	if err := c.call(ctx, "CreateSubscription", http.MethodPost, "/subscriptions", body, &sub); err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}
	return &sub, nil
}

// GetSubscription fetches a subscription. Deleted subscriptions are reported as ErrNotFound.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	var sub Subscription
	if err := c.call(ctx, "GetSubscription", http.MethodGet, "/subscriptions/"+url.PathEscape(subscriptionID), nil, &sub); err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	if sub.Deleted {
		return nil, fmt.Errorf("get subscription %s: %w", subscriptionID, ErrNotFound)
	}
	return &sub, nil
}

// UpdateSubscription changes the subscription value in place.
func (c *Client) UpdateSubscription(ctx context.Context, subscriptionID string, req UpdateSubscriptionRequest) (*Subscription, error) {
	body := updateSubscriptionBody{
		Value:                 req.Value.Round(2).InexactFloat64(),
		Description:           req.Description,
		UpdatePendingPayments: req.UpdatePendingPayments,
	}

	var sub Subscription
	if err := c.call(ctx, "UpdateSubscription", http.MethodPut, "/subscriptions/"+url.PathEscape(subscriptionID), body, &sub); err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	return &sub, nil
}

// CancelSubscription removes the subscription and its pending payments.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) error {
	if err := c.call(ctx, "CancelSubscription", http.MethodDelete, "/subscriptions/"+url.PathEscape(subscriptionID), nil, nil); err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	return nil
}

// GetSubscriptionPayments lists the payments generated by a subscription.
func (c *Client) GetSubscriptionPayments(ctx context.Context, subscriptionID string, params ListPaymentsParams) ([]Payment, error) {
	q := url.Values{}
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		q.Set("offset", strconv.Itoa(params.Offset))
	}
	if params.Status != "" {
		q.Set("status", string(params.Status))
	}
	path := "/subscriptions/" + url.PathEscape(subscriptionID) + "/payments"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var list PaymentList
	if err := c.call(ctx, "GetSubscriptionPayments", http.MethodGet, path, nil, &list); err != nil {
		return nil, fmt.Errorf("list subscription payments: %w", err)
	}
	return list.Data, nil
}

// CreatePayment creates a one-off charge. Its InvoiceURL is the hosted checkout page.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	body := createPaymentBody{
		Customer:             req.Customer,
		BillingType:          req.BillingType,
		Value:                req.Value.Round(2).InexactFloat64(),
		DueDate:              req.DueDate.Format(DateLayout),
		Description:          req.Description,
		ExternalReference:    req.ExternalReference,
		CreditCard:           req.CreditCard,
		CreditCardHolderInfo: req.CreditCardHolderInfo,
		RemoteIP:             req.RemoteIP,
	}

	var payment Payment
	if err := c.call(ctx, "CreatePayment", http.MethodPost, "/payments", body, &payment); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	return &payment, nil
}

// DeletePayment removes a pending charge.
func (c *Client) DeletePayment(ctx context.Context, paymentID string) error {
	if err := c.call(ctx, "DeletePayment", http.MethodDelete, "/payments/"+url.PathEscape(paymentID), nil, nil); err != nil {
		return fmt.Errorf("delete payment: %w", err)
	}
	return nil
}

// GetPayment returns the live payment, including status and external reference.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var payment Payment
	if err := c.call(ctx, "GetPayment", http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, &payment); err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	if payment.Deleted {
		return nil, fmt.Errorf("get payment %s: %w", paymentID, ErrNotFound)
	}
	return &payment, nil
}

// GetPixQrCode returns the QR code image and copy-paste payload of a PIX payment.
func (c *Client) GetPixQrCode(ctx context.Context, paymentID string) (*PixQrCode, error) {
	var qr PixQrCode
	if err := c.call(ctx, "GetPixQrCode", http.MethodGet, "/payments/"+url.PathEscape(paymentID)+"/pixQrCode", nil, &qr); err != nil {
		return nil, fmt.Errorf("get pix qr code: %w", err)
	}
	return &qr, nil
}

// GetBoletoIdentificationField returns the typeable line and bar code of a boleto.
func (c *Client) GetBoletoIdentificationField(ctx context.Context, paymentID string) (*IdentificationField, error) {
	var field IdentificationField
	if err := c.call(ctx, "GetBoletoIdentificationField", http.MethodGet, "/payments/"+url.PathEscape(paymentID)+"/identificationField", nil, &field); err != nil {
		return nil, fmt.Errorf("get boleto identification field: %w", err)
	}
	return &field, nil
}
