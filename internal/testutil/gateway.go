// Package testutil holds in-memory collaborators for service tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/asaas"
	"github.com/shopspring/decimal"
)

// Gateway is a stateful in-memory billing gateway.
type Gateway struct {
	mu            sync.Mutex
	seq           int
	customers     map[string]*asaas.Customer
	subscriptions map[string]*asaas.Subscription
	payments      map[string]*asaas.Payment
	order         []string
	errs          map[string]error
	calls         map[string]int
	LastCreated   *asaas.CreateSubscriptionRequest
	LastPayment   *asaas.CreatePaymentRequest
	Now           func() time.Time
}

func NewGateway() *Gateway {
	return &Gateway{
		customers:     map[string]*asaas.Customer{},
		subscriptions: map[string]*asaas.Subscription{},
		payments:      map[string]*asaas.Payment{},
		errs:          map[string]error{},
		calls:         map[string]int{},
		Now:           time.Now,
	}
}

// FailOn makes every call to op return err. A nil err clears it.
func (g *Gateway) FailOn(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.errs, op)
		return
	}
	g.errs[op] = err
}

// Calls returns how many times op was invoked.
func (g *Gateway) Calls(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *Gateway) enter(op string) error {
	g.calls[op]++
	return g.errs[op]
}

func (g *Gateway) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s_%03d", prefix, g.seq)
}

// AddCustomer seeds a customer.
func (g *Gateway) AddCustomer(c asaas.Customer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.customers[c.ID] = &c
}

// AddSubscription seeds a subscription.
func (g *Gateway) AddSubscription(s asaas.Subscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscriptions[s.ID] = &s
}

// AddPayment seeds a payment.
func (g *Gateway) AddPayment(p asaas.Payment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[p.ID] = &p
	g.order = append(g.order, p.ID)
}

// SetPaymentStatus changes a payment status.
func (g *Gateway) SetPaymentStatus(id string, status asaas.PaymentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.payments[id]; ok {
		p.Status = status
	}
}

// Subscription returns a copy of a subscription, deleted or not.
func (g *Gateway) Subscription(id string) (asaas.Subscription, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.subscriptions[id]
	if !ok {
		return asaas.Subscription{}, false
	}
	return *s, true
}

// Payment returns a copy of a payment.
func (g *Gateway) Payment(id string) (asaas.Payment, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[id]
	if !ok {
		return asaas.Payment{}, false
	}
	return *p, true
}

// ActiveSubscriptions lists subscriptions not cancelled, sorted by id.
func (g *Gateway) ActiveSubscriptions() []asaas.Subscription {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []asaas.Subscription
	for _, s := range g.subscriptions {
		if !s.Deleted {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (g *Gateway) CreateCustomer(_ context.Context, req asaas.CreateCustomerRequest) (*asaas.Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("CreateCustomer"); err != nil {
		return nil, err
	}
	c := &asaas.Customer{ID: g.nextID("cus"), Name: req.Name, Email: req.Email, CpfCnpj: req.CpfCnpj, ExternalReference: req.ExternalReference}
	g.customers[c.ID] = c
	out := *c
	return &out, nil
}

func (g *Gateway) GetCustomer(_ context.Context, customerID string) (*asaas.Customer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("GetCustomer"); err != nil {
		return nil, err
	}
	c, ok := g.customers[customerID]
	if !ok || c.Deleted {
		return nil, fmt.Errorf("get customer %s: %w", customerID, asaas.ErrNotFound)
	}
	out := *c
	return &out, nil
}

func (g *Gateway) CreateSubscription(_ context.Context, req asaas.CreateSubscriptionRequest) (*asaas.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("CreateSubscription"); err != nil {
		return nil, err
	}
	r := req
	g.LastCreated = &r

	cycle := req.Cycle
	if cycle == "" {
		cycle = asaas.CycleMonthly
	}
	s := &asaas.Subscription{
		ID:                g.nextID("sub"),
		Customer:          req.Customer,
		BillingType:       req.BillingType,
		Value:             req.Value.Round(2),
		NextDueDate:       req.NextDueDate.Format(asaas.DateLayout),
		Cycle:             cycle,
		Description:       req.Description,
		Status:            asaas.SubscriptionStatusActive,
		ExternalReference: req.ExternalReference,
	}
	if req.CreditCard != nil || req.CreditCardToken != "" {
		s.CreditCard = &asaas.CardSummary{CreditCardNumber: "1111", CreditCardBrand: "VISA", CreditCardToken: "tok_" + s.ID}
		if req.CreditCardToken != "" {
			s.CreditCard.CreditCardToken = req.CreditCardToken
		}
	}
	g.subscriptions[s.ID] = s

	status := asaas.PaymentStatusPending
	if req.BillingType == asaas.BillingTypeCreditCard {
		status = asaas.PaymentStatusConfirmed
	}
	p := &asaas.Payment{
		ID:           g.nextID("pay"),
		Customer:     req.Customer,
		Subscription: s.ID,
		BillingType:  req.BillingType,
		Value:        s.Value,
		Status:       status,
		DueDate:      s.NextDueDate,
		InvoiceURL:   "https://sandbox.asaas.com/i/" + s.ID,
	}
	if req.BillingType == asaas.BillingTypeBoleto {
		p.BankSlipURL = "https://sandbox.asaas.com/b/pdf/" + p.ID
	}
	g.payments[p.ID] = p
	g.order = append(g.order, p.ID)

	out := *s
	return &out, nil
}

func (g *Gateway) GetSubscription(_ context.Context, subscriptionID string) (*asaas.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("GetSubscription"); err != nil {
		return nil, err
	}
	s, ok := g.subscriptions[subscriptionID]
	if !ok || s.Deleted {
		return nil, fmt.Errorf("get subscription %s: %w", subscriptionID, asaas.ErrNotFound)
	}
	out := *s
	return &out, nil
}

func (g *Gateway) UpdateSubscription(_ context.Context, subscriptionID string, req asaas.UpdateSubscriptionRequest) (*asaas.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("UpdateSubscription"); err != nil {
		return nil, err
	}
	s, ok := g.subscriptions[subscriptionID]
	if !ok || s.Deleted {
		return nil, fmt.Errorf("update subscription %s: %w", subscriptionID, asaas.ErrNotFound)
	}
	s.Value = req.Value.Round(2)
	if req.Description != "" {
		s.Description = req.Description
	}
	out := *s
	return &out, nil
}

func (g *Gateway) CancelSubscription(_ context.Context, subscriptionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("CancelSubscription"); err != nil {
		return err
	}
	s, ok := g.subscriptions[subscriptionID]
	if !ok || s.Deleted {
		return fmt.Errorf("cancel subscription %s: %w", subscriptionID, asaas.ErrNotFound)
	}
	s.Deleted = true
	s.Status = asaas.SubscriptionStatusInactive
	return nil
}

func (g *Gateway) GetSubscriptionPayments(_ context.Context, subscriptionID string, params asaas.ListPaymentsParams) ([]asaas.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("GetSubscriptionPayments"); err != nil {
		return nil, err
	}
	var out []asaas.Payment
	for _, id := range g.order {
		p := g.payments[id]
		if p.Subscription != subscriptionID || p.Deleted {
			continue
		}
		if params.Status != "" && p.Status != params.Status {
			continue
		}
		out = append(out, *p)
	}
	if params.Offset > 0 && params.Offset < len(out) {
		out = out[params.Offset:]
	}
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (g *Gateway) CreatePayment(_ context.Context, req asaas.CreatePaymentRequest) (*asaas.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("CreatePayment"); err != nil {
		return nil, err
	}
	r := req
	g.LastPayment = &r

	p := &asaas.Payment{
		ID:                g.nextID("pay"),
		Customer:          req.Customer,
		BillingType:       req.BillingType,
		Value:             req.Value.Round(2),
		Status:            asaas.PaymentStatusPending,
		DueDate:           req.DueDate.Format(asaas.DateLayout),
		Description:       req.Description,
		ExternalReference: req.ExternalReference,
	}
	p.InvoiceURL = "https://sandbox.asaas.com/i/" + p.ID
	g.payments[p.ID] = p
	g.order = append(g.order, p.ID)
	out := *p
	return &out, nil
}

func (g *Gateway) DeletePayment(_ context.Context, paymentID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("DeletePayment"); err != nil {
		return err
	}
	if p, ok := g.payments[paymentID]; ok {
		p.Deleted = true
	}
	return nil
}

func (g *Gateway) GetPayment(_ context.Context, paymentID string) (*asaas.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("GetPayment"); err != nil {
		return nil, err
	}
	p, ok := g.payments[paymentID]
	if !ok || p.Deleted {
		return nil, fmt.Errorf("get payment %s: %w", paymentID, asaas.ErrNotFound)
	}
	out := *p
	return &out, nil
}

func (g *Gateway) GetPixQrCode(_ context.Context, paymentID string) (*asaas.PixQrCode, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("GetPixQrCode"); err != nil {
		return nil, err
	}
	if _, ok := g.payments[paymentID]; !ok {
		return nil, fmt.Errorf("get pix qr code %s: %w", paymentID, asaas.ErrNotFound)
	}
	return &asaas.PixQrCode{
		EncodedImage:   "qr-" + paymentID,
		Payload:        "00020101-" + paymentID,
		ExpirationDate: g.Now().Add(24 * time.Hour).Format("2006-01-02 15:04:05"),
	}, nil
}

func (g *Gateway) GetBoletoIdentificationField(_ context.Context, paymentID string) (*asaas.IdentificationField, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.enter("GetBoletoIdentificationField"); err != nil {
		return nil, err
	}
	if _, ok := g.payments[paymentID]; !ok {
		return nil, fmt.Errorf("get identification field %s: %w", paymentID, asaas.ErrNotFound)
	}
	return &asaas.IdentificationField{
		IdentificationField: "23790.00009 " + paymentID,
		NossoNumero:         "0001",
		BarCode:             "2379000" + paymentID,
	}, nil
}

// Value returns the current value of a subscription.
func (g *Gateway) Value(subscriptionID string) decimal.Decimal {
	s, _ := g.Subscription(subscriptionID)
	return s.Value
}
