package asaas

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the date format Asaas uses for due dates.
const DateLayout = "2006-01-02"

type BillingType string

const (
	BillingTypeCreditCard BillingType = "CREDIT_CARD"
	BillingTypePix        BillingType = "PIX"
	BillingTypeBoleto     BillingType = "BOLETO"
	BillingTypeUndefined  BillingType = "UNDEFINED"
)

type Cycle string

const (
	CycleMonthly Cycle = "MONTHLY"
	CycleYearly  Cycle = "YEARLY"
)

// Next returns t advanced by one billing cycle.
func (c Cycle) Next(t time.Time) time.Time {
	if c == CycleYearly {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusConfirmed PaymentStatus = "CONFIRMED"
	PaymentStatusReceived  PaymentStatus = "RECEIVED"
	PaymentStatusOverdue   PaymentStatus = "OVERDUE"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
	PaymentStatusDeleted   PaymentStatus = "DELETED"
)

// IsPaid reports whether the payment has been confirmed or received.
func (s PaymentStatus) IsPaid() bool {
	return s == PaymentStatusConfirmed || s == PaymentStatusReceived
}

type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusInactive SubscriptionStatus = "INACTIVE"
	SubscriptionStatusExpired  SubscriptionStatus = "EXPIRED"
)

// ==================== Customers ====================

type CreateCustomerRequest struct {
	Name                 string `json:"name"`
	Email                string `json:"email,omitempty"`
	CpfCnpj              string `json:"cpfCnpj"`
	Phone                string `json:"phone,omitempty"`
	MobilePhone          string `json:"mobilePhone,omitempty"`
	PostalCode           string `json:"postalCode,omitempty"`
	AddressNumber        string `json:"addressNumber,omitempty"`
	ExternalReference    string `json:"externalReference,omitempty"`
	NotificationDisabled bool   `json:"notificationDisabled"`
}

type Customer struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Email             string `json:"email"`
	CpfCnpj           string `json:"cpfCnpj"`
	MobilePhone       string `json:"mobilePhone"`
	ExternalReference string `json:"externalReference"`
	Deleted           bool   `json:"deleted"`
}

// ==================== Cards ====================

type CreditCard struct {
	HolderName  string `json:"holderName"`
	Number      string `json:"number"`
	ExpiryMonth string `json:"expiryMonth"`
	ExpiryYear  string `json:"expiryYear"`
	CCV         string `json:"ccv"`
}

type CreditCardHolderInfo struct {
	Name              string `json:"name"`
	Email             string `json:"email"`
	CpfCnpj           string `json:"cpfCnpj"`
	PostalCode        string `json:"postalCode"`
	AddressNumber     string `json:"addressNumber"`
	AddressComplement string `json:"addressComplement,omitempty"`
	Phone             string `json:"phone,omitempty"`
	MobilePhone       string `json:"mobilePhone,omitempty"`
}

// CardSummary is what Asaas returns about a stored card.
type CardSummary struct {
	CreditCardNumber string `json:"creditCardNumber"`
	CreditCardBrand  string `json:"creditCardBrand"`
	CreditCardToken  string `json:"creditCardToken"`
}

// ==================== Subscriptions ====================

type CreateSubscriptionRequest struct {
	Customer             string
	BillingType          BillingType
	Value                decimal.Decimal
	Cycle                Cycle
	NextDueDate          time.Time
	Description          string
	ExternalReference    string
	CreditCard           *CreditCard
	CreditCardHolderInfo *CreditCardHolderInfo
	CreditCardToken      string
	RemoteIP             string
}

type createSubscriptionBody struct {
	Customer             string                `json:"customer"`
	BillingType          BillingType           `json:"billingType"`
	Value                float64               `json:"value"`
	NextDueDate          string                `json:"nextDueDate"`
	Cycle                Cycle                 `json:"cycle"`
	Description          string                `json:"description,omitempty"`
	ExternalReference    string                `json:"externalReference,omitempty"`
	CreditCard           *CreditCard           `json:"creditCard,omitempty"`
	CreditCardHolderInfo *CreditCardHolderInfo `json:"creditCardHolderInfo,omitempty"`
	CreditCardToken      string                `json:"creditCardToken,omitempty"`
	RemoteIP             string                `json:"remoteIp,omitempty"`
}

type Subscription struct {
	ID                string             `json:"id"`
	Customer          string             `json:"customer"`
	BillingType       BillingType        `json:"billingType"`
	Value             decimal.Decimal    `json:"value"`
	NextDueDate       string             `json:"nextDueDate"`
	Cycle             Cycle              `json:"cycle"`
	Description       string             `json:"description"`
	Status            SubscriptionStatus `json:"status"`
	ExternalReference string             `json:"externalReference"`
	Deleted           bool               `json:"deleted"`
	CreditCard        *CardSummary       `json:"creditCard,omitempty"`
}

// NextDue parses NextDueDate. The zero time is returned when absent.
func (s Subscription) NextDue() time.Time {
	t, _ := time.Parse(DateLayout, s.NextDueDate)
	return t
}

type UpdateSubscriptionRequest struct {
	Value                 decimal.Decimal
	Description           string
	UpdatePendingPayments bool
}

type updateSubscriptionBody struct {
	Value                 float64 `json:"value"`
	Description           string  `json:"description,omitempty"`
	UpdatePendingPayments bool    `json:"updatePendingPayments"`
}

// ==================== Payments ====================

type CreatePaymentRequest struct {
	Customer             string
	BillingType          BillingType
	Value                decimal.Decimal
	DueDate              time.Time
	Description          string
	ExternalReference    string
	CreditCard           *CreditCard
	CreditCardHolderInfo *CreditCardHolderInfo
	RemoteIP             string
}

type createPaymentBody struct {
	Customer             string                `json:"customer"`
	BillingType          BillingType           `json:"billingType"`
	Value                float64               `json:"value"`
	DueDate              string                `json:"dueDate"`
	Description          string                `json:"description,omitempty"`
	ExternalReference    string                `json:"externalReference,omitempty"`
	CreditCard           *CreditCard           `json:"creditCard,omitempty"`
	CreditCardHolderInfo *CreditCardHolderInfo `json:"creditCardHolderInfo,omitempty"`
	RemoteIP             string                `json:"remoteIp,omitempty"`
}

type Payment struct {
	ID                string          `json:"id"`
	Customer          string          `json:"customer"`
	Subscription      string          `json:"subscription"`
	BillingType       BillingType     `json:"billingType"`
	Value             decimal.Decimal `json:"value"`
	Status            PaymentStatus   `json:"status"`
	DueDate           string          `json:"dueDate"`
	Description       string          `json:"description"`
	ExternalReference string          `json:"externalReference"`
	InvoiceURL        string          `json:"invoiceUrl"`
	BankSlipURL       string          `json:"bankSlipUrl"`
	Deleted           bool            `json:"deleted"`
}

type ListPaymentsParams struct {
	Limit  int
	Offset int
	Status PaymentStatus
}

type PaymentList struct {
	HasMore    bool      `json:"hasMore"`
	TotalCount int       `json:"totalCount"`
	Limit      int       `json:"limit"`
	Offset     int       `json:"offset"`
	Data       []Payment `json:"data"`
}

type PixQrCode struct {
	EncodedImage   string `json:"encodedImage"`
	Payload        string `json:"payload"`
	ExpirationDate string `json:"expirationDate"`
}

type IdentificationField struct {
	IdentificationField string `json:"identificationField"`
	NossoNumero         string `json:"nossoNumero"`
	BarCode             string `json:"barCode"`
}
