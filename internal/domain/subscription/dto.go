package subscription

import (
	"strings"
	"time"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/asaas"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/validator"
	"github.com/shopspring/decimal"
)

// ==================== Output ====================

// FailureKind lets the HTTP layer pick a status code for a failed Output.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureValidation
	FailureNotFound
	FailureForbidden
	FailureConflict
	FailureGateway
	FailureInternal
)

// Output is returned by every workflow operation.
type Output struct {
	IsValid         bool        `json:"isValid"`
	SuccessMessages []string    `json:"successMessages"`
	ErrorMessages   []string    `json:"errorMessages"`
	Result          any         `json:"result"`
	Kind            FailureKind `json:"-"`
}

func Success(result any, messages ...string) Output {
	if messages == nil {
		messages = []string{}
	}
	return Output{IsValid: true, SuccessMessages: messages, ErrorMessages: []string{}, Result: result}
}

func Failure(kind FailureKind, messages ...string) Output {
	return FailureWithResult(kind, nil, messages...)
}

func FailureWithResult(kind FailureKind, result any, messages ...string) Output {
	if messages == nil {
		messages = []string{}
	}
	return Output{IsValid: false, SuccessMessages: []string{}, ErrorMessages: messages, Result: result, Kind: kind}
}

// ValidationFailure renders validator errors as messages.
func ValidationFailure(errs validator.ValidationErrors) Output {
	return FailureWithResult(FailureValidation, errs.ToMap(), errs.Messages()...)
}

// ==================== Payment methods ====================

// PaymentMethod is one of PixPayment, BoletoPayment or CreditCardPayment.
type PaymentMethod interface {
	BillingType() asaas.BillingType
	isPaymentMethod()
}

type PixPayment struct{}

func (PixPayment) BillingType() asaas.BillingType { return asaas.BillingTypePix }
func (PixPayment) isPaymentMethod()               {}

type BoletoPayment struct{}

func (BoletoPayment) BillingType() asaas.BillingType { return asaas.BillingTypeBoleto }
func (BoletoPayment) isPaymentMethod()               {}

type CreditCardPayment struct {
	Card     asaas.CreditCard
	Holder   asaas.CreditCardHolderInfo
	RemoteIP string
}

func (CreditCardPayment) BillingType() asaas.BillingType { return asaas.BillingTypeCreditCard }
func (CreditCardPayment) isPaymentMethod()               {}

// PaymentMethodOrPix defaults a nil method to PIX.
func PaymentMethodOrPix(m PaymentMethod) PaymentMethod {
	if m == nil {
		return PixPayment{}
	}
	return m
}

type CreditCardRequest struct {
	HolderName  string `json:"holderName"`
	Number      string `json:"number"`
	ExpiryMonth string `json:"expiryMonth"`
	ExpiryYear  string `json:"expiryYear"`
	CCV         string `json:"ccv"`
}

type CreditCardHolderInfoRequest struct {
	Name              string `json:"name"`
	Email             string `json:"email"`
	CpfCnpj           string `json:"cpfCnpj"`
	PostalCode        string `json:"postalCode"`
	AddressNumber     string `json:"addressNumber"`
	AddressComplement string `json:"addressComplement,omitempty"`
	Phone             string `json:"phone,omitempty"`
	MobilePhone       string `json:"mobilePhone,omitempty"`
}

// PaymentMethodRequest is the wire form of a payment method.
type PaymentMethodRequest struct {
	Type                 string                       `json:"type"`
	CreditCard           *CreditCardRequest           `json:"creditCard,omitempty"`
	CreditCardHolderInfo *CreditCardHolderInfoRequest `json:"creditCardHolderInfo,omitempty"`
}

// Decode validates the request and returns the matching PaymentMethod.
// An empty type means PIX.
func (r PaymentMethodRequest) Decode(remoteIP string, now time.Time) (PaymentMethod, validator.ValidationErrors) {
	var errs validator.ValidationErrors

	switch asaas.BillingType(strings.ToUpper(strings.TrimSpace(r.Type))) {
	case "", asaas.BillingTypePix:
		return PixPayment{}, nil
	case asaas.BillingTypeBoleto:
		return BoletoPayment{}, nil
	case asaas.BillingTypeCreditCard:
	default:
		errs = append(errs, validator.ValidationError{Field: "paymentMethod.type", Message: "Forma de pagamento deve ser PIX, BOLETO ou CREDIT_CARD"})
		return nil, errs
	}

	card := r.CreditCard
	holder := r.CreditCardHolderInfo
	if card == nil {
		errs = append(errs, validator.ValidationError{Field: "paymentMethod.creditCard", Message: "Dados do cartão são obrigatórios"})
	} else {
		if validator.IsEmpty(card.HolderName) {
			errs = append(errs, validator.ValidationError{Field: "paymentMethod.creditCard.holderName", Message: "Nome impresso no cartão é obrigatório"})
		}
		number := validator.OnlyDigits(card.Number)
		if len(number) < 13 || len(number) > 19 {
			errs = append(errs, validator.ValidationError{Field: "paymentMethod.creditCard.number", Message: "Número do cartão inválido"})
		}
		if !validator.IsValidCardExpiry(card.ExpiryMonth, card.ExpiryYear, now) {
			errs = append(errs, validator.ValidationError{Field: "paymentMethod.creditCard.expiry", Message: "Validade do cartão inválida"})
		}
		if len(card.CCV) < 3 || len(card.CCV) > 4 || !validator.IsNumeric(card.CCV) {
			errs = append(errs, validator.ValidationError{Field: "paymentMethod.creditCard.ccv", Message: "Código de segurança inválido"})
		}
	}
	if holder == nil {
		errs = append(errs, validator.ValidationError{Field: "paymentMethod.creditCardHolderInfo", Message: "Dados do titular são obrigatórios"})
	} else {
		if validator.IsEmpty(holder.Name) {
			errs = append(errs, validator.ValidationError{Field: "paymentMethod.creditCardHolderInfo.name", Message: "Nome do titular é obrigatório"})
		}
		if !validator.IsValidEmail(holder.Email) {
			errs = append(errs, validator.ValidationError{Field: "paymentMethod.creditCardHolderInfo.email", Message: "Email do titular inválido"})
		}
		if !validator.IsValidCpfCnpj(holder.CpfCnpj) {
			errs = append(errs, validator.ValidationError{Field: "paymentMethod.creditCardHolderInfo.cpfCnpj", Message: "CPF/CNPJ do titular inválido"})
		}
		if !validator.IsValidPostalCode(holder.PostalCode) {
			errs = append(errs, validator.ValidationError{Field: "paymentMethod.creditCardHolderInfo.postalCode", Message: "CEP do titular inválido"})
		}
		if validator.IsEmpty(holder.AddressNumber) {
			errs = append(errs, validator.ValidationError{Field: "paymentMethod.creditCardHolderInfo.addressNumber", Message: "Número do endereço é obrigatório"})
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	return CreditCardPayment{
		Card: asaas.CreditCard{
			HolderName:  strings.TrimSpace(card.HolderName),
			Number:      validator.OnlyDigits(card.Number),
			ExpiryMonth: card.ExpiryMonth,
			ExpiryYear:  card.ExpiryYear,
			CCV:         card.CCV,
		},
		Holder: asaas.CreditCardHolderInfo{
			Name:              strings.TrimSpace(holder.Name),
			Email:             strings.TrimSpace(holder.Email),
			CpfCnpj:           validator.OnlyDigits(holder.CpfCnpj),
			PostalCode:        validator.OnlyDigits(holder.PostalCode),
			AddressNumber:     holder.AddressNumber,
			AddressComplement: holder.AddressComplement,
			Phone:             validator.OnlyDigits(holder.Phone),
			MobilePhone:       validator.OnlyDigits(holder.MobilePhone),
		},
		RemoteIP: remoteIP,
	}, nil
}

// ==================== Workflow inputs ====================

// OperatorCandidate is the operator a manager wants to add.
type OperatorCandidate struct {
	Name  string
	Email string
	Role  string
}

func (c OperatorCandidate) Validate() error {
	var errs validator.ValidationErrors

	if validator.IsEmpty(c.Name) {
		errs = append(errs, validator.ValidationError{Field: "name", Message: "Nome é obrigatório"})
	} else if len(c.Name) > 120 {
		errs = append(errs, validator.ValidationError{Field: "name", Message: "Nome deve ter no máximo 120 caracteres"})
	}
	if validator.IsEmpty(c.Email) {
		errs = append(errs, validator.ValidationError{Field: "email", Message: "Email é obrigatório"})
	} else if !validator.IsValidEmail(c.Email) {
		errs = append(errs, validator.ValidationError{Field: "email", Message: "Email inválido"})
	}
	if c.Role != "" && c.Role != "operator" {
		errs = append(errs, validator.ValidationError{Field: "role", Message: "Perfil deve ser 'operator'"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

type CreateSubscriptionInput struct {
	SupabaseID    string
	Name          string
	Email         string
	CpfCnpj       string
	Phone         string
	PaymentMethod PaymentMethod
}

func (in CreateSubscriptionInput) Validate() error {
	var errs validator.ValidationErrors

	if validator.IsEmpty(in.SupabaseID) {
		errs = append(errs, validator.ValidationError{Field: "supabaseId", Message: "Usuário não identificado"})
	}
	if validator.IsEmpty(in.Name) {
		errs = append(errs, validator.ValidationError{Field: "name", Message: "Nome é obrigatório"})
	}
	if !validator.IsValidEmail(in.Email) {
		errs = append(errs, validator.ValidationError{Field: "email", Message: "Email inválido"})
	}
	if !validator.IsValidCpfCnpj(in.CpfCnpj) {
		errs = append(errs, validator.ValidationError{Field: "cpfCnpj", Message: "CPF/CNPJ inválido"})
	}
	if in.Phone != "" && !validator.IsValidPhoneNumber(in.Phone) {
		errs = append(errs, validator.ValidationError{Field: "phone", Message: "Telefone inválido"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

type ReactivateInput struct {
	SupabaseID    string
	OperatorCount int
	PaymentMethod PaymentMethod
}

func (in ReactivateInput) Validate() error {
	var errs validator.ValidationErrors

	if validator.IsEmpty(in.SupabaseID) {
		errs = append(errs, validator.ValidationError{Field: "supabaseId", Message: "Usuário não identificado"})
	}
	if in.OperatorCount < 0 {
		errs = append(errs, validator.ValidationError{Field: "operatorCount", Message: "Quantidade de operadores não pode ser negativa"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ==================== Request DTOs ====================

type CreateSubscriptionRequest struct {
	Name          string               `json:"name"`
	Email         string               `json:"email"`
	CpfCnpj       string               `json:"cpfCnpj"`
	Phone         string               `json:"phone,omitempty"`
	PaymentMethod PaymentMethodRequest `json:"paymentMethod"`
}

type CreateOperatorPaymentRequest struct {
	Name          string               `json:"name"`
	Email         string               `json:"email"`
	Role          string               `json:"role,omitempty"`
	PaymentMethod PaymentMethodRequest `json:"paymentMethod"`
}

type ReactivateSubscriptionRequest struct {
	OperatorCount int                  `json:"operatorCount"`
	PaymentMethod PaymentMethodRequest `json:"paymentMethod"`
}

// ==================== Results ====================

// PaymentDetails is what the client needs to render a payment.
type PaymentDetails struct {
	PaymentID                 string           `json:"paymentId,omitempty"`
	PaymentStatus             string           `json:"paymentStatus,omitempty"`
	BillingType               string           `json:"billingType,omitempty"`
	PaymentValue              *decimal.Decimal `json:"paymentValue,omitempty"`
	DueDate                   string           `json:"dueDate,omitempty"`
	InvoiceURL                string           `json:"invoiceUrl,omitempty"`
	PixQrCode                 string           `json:"pixQrCode,omitempty"`
	PixCopyPaste              string           `json:"pixCopyPaste,omitempty"`
	PixExpirationDate         string           `json:"pixExpirationDate,omitempty"`
	BoletoIdentificationField string           `json:"boletoIdentificationField,omitempty"`
	BoletoBarCode             string           `json:"boletoBarCode,omitempty"`
	BankSlipURL               string           `json:"bankSlipUrl,omitempty"`
}

// NewPaymentDetails copies the gateway payment fields.
func NewPaymentDetails(p asaas.Payment) PaymentDetails {
	value := p.Value
	return PaymentDetails{
		PaymentID:     p.ID,
		PaymentStatus: string(p.Status),
		BillingType:   string(p.BillingType),
		PaymentValue:  &value,
		DueDate:       p.DueDate,
		InvoiceURL:    p.InvoiceURL,
		BankSlipURL:   p.BankSlipURL,
	}
}

type CreateSubscriptionResult struct {
	SubscriptionID       string          `json:"subscriptionId"`
	CustomerID           string          `json:"customerId"`
	Status               string          `json:"status"`
	Value                decimal.Decimal `json:"value"`
	NextDueDate          string          `json:"nextDueDate"`
	ReusedPendingPayment bool            `json:"reusedPendingPayment"`
	PaymentDetails
}

type AlreadyActiveResult struct {
	AlreadyActive  bool   `json:"alreadyActive"`
	SubscriptionID string `json:"subscriptionId"`
}

type SubscriptionStatusResult struct {
	ProfileID          string           `json:"profileId"`
	SubscriptionID     *string          `json:"subscriptionId"`
	SubscriptionStatus string           `json:"subscriptionStatus"`
	NextDueDate        *string          `json:"subscriptionNextDueDate"`
	Cycle              *string          `json:"subscriptionCycle"`
	OperatorCount      int              `json:"operatorCount"`
	ExpectedValue      decimal.Decimal  `json:"expectedValue"`
	RemoteStatus       string           `json:"remoteStatus,omitempty"`
	RemoteValue        *decimal.Decimal `json:"remoteValue,omitempty"`
	LatestPayment      *PaymentDetails  `json:"latestPayment,omitempty"`
}

type OperatorCheckoutResult struct {
	PendingOperatorID string          `json:"pendingOperatorId"`
	CheckoutURL       string          `json:"checkoutUrl"`
	Value             decimal.Decimal `json:"value"`
	PaymentDetails
}

type OperatorConfirmationResult struct {
	PaymentID         string          `json:"paymentId"`
	PaymentStatus     string          `json:"paymentStatus"`
	OperatorCreated   bool            `json:"operatorCreated"`
	OperatorID        string          `json:"operatorId,omitempty"`
	OperatorCount     int             `json:"operatorCount"`
	SubscriptionValue decimal.Decimal `json:"subscriptionValue"`
	Reconciliation    string          `json:"reconciliation,omitempty"`
}

type PaymentStatusResult struct {
	PendingOperatorID string  `json:"pendingOperatorId"`
	PaymentID         string  `json:"paymentId"`
	PaymentStatus     string  `json:"paymentStatus"`
	OperatorCreated   bool    `json:"operatorCreated"`
	OperatorID        *string `json:"operatorId"`
}

type RemoveOperatorResult struct {
	OperatorID        string          `json:"operatorId"`
	OperatorCount     int             `json:"operatorCount"`
	OldSubscriptionID string          `json:"oldSubscriptionId,omitempty"`
	NewSubscriptionID string          `json:"newSubscriptionId,omitempty"`
	SubscriptionValue decimal.Decimal `json:"subscriptionValue"`
	NextDueDate       string          `json:"nextDueDate"`
	Reconciliation    string          `json:"reconciliation,omitempty"`
}

type ReactivateResult struct {
	SubscriptionID    string          `json:"subscriptionId"`
	OldSubscriptionID string          `json:"oldSubscriptionId,omitempty"`
	Status            string          `json:"status"`
	OperatorCount     int             `json:"operatorCount"`
	Value             decimal.Decimal `json:"value"`
	NextDueDate       string          `json:"nextDueDate"`
	Reconciliation    string          `json:"reconciliation,omitempty"`
	PaymentDetails
}

// ReconciliationPending marks results whose billing side will be repaired later.
const ReconciliationPending = "pending"
