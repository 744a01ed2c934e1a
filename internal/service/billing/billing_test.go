package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/profile"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/asaas"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestResolve_ReusesKnownCustomer(t *testing.T) {
	gw := testutil.NewGateway()
	gw.AddCustomer(asaas.Customer{ID: "cus_known"})
	profiles := testutil.NewProfileRepo()
	manager := profiles.Seed(profile.Profile{Email: "m@x.com", Role: profile.RoleManager, AsaasCustomerID: strPtr("cus_known")})

	id, err := NewCustomerResolver(gw, profiles, nil).Resolve(context.Background(), manager)

	require.NoError(t, err)
	assert.Equal(t, "cus_known", id)
	assert.Equal(t, 0, gw.Calls("CreateCustomer"))
}

func TestResolve_RecreatesCustomerFromOtherEnvironment(t *testing.T) {
	gw := testutil.NewGateway()
	profiles := testutil.NewProfileRepo()
	manager := profiles.Seed(profile.Profile{
		Name:            "Carlos",
		Email:           "m@x.com",
		Role:            profile.RoleManager,
		CpfCnpj:         strPtr("52998224725"),
		AsaasCustomerID: strPtr("cus_sandbox"),
	})

	id, err := NewCustomerResolver(gw, profiles, nil).Resolve(context.Background(), manager)

	require.NoError(t, err)
	assert.NotEqual(t, "cus_sandbox", id)
	stored, _ := profiles.Get(manager.ID)
	require.NotNil(t, stored.AsaasCustomerID)
	assert.Equal(t, id, *stored.AsaasCustomerID)
}

func TestResolve_GatewayErrorIsNotTreatedAsMissing(t *testing.T) {
	gw := testutil.NewGateway()
	gw.FailOn("GetCustomer", errors.New("timeout"))
	profiles := testutil.NewProfileRepo()
	manager := profiles.Seed(profile.Profile{Role: profile.RoleManager, AsaasCustomerID: strPtr("cus_1")})

	_, err := NewCustomerResolver(gw, profiles, nil).Resolve(context.Background(), manager)

	assert.Error(t, err)
	assert.Equal(t, 0, gw.Calls("CreateCustomer"))
}

func TestPaymentDetails_Pix(t *testing.T) {
	gw := testutil.NewGateway()
	gw.AddPayment(asaas.Payment{ID: "pay_1", BillingType: asaas.BillingTypePix})

	details, err := PaymentDetails(context.Background(), gw, asaas.Payment{ID: "pay_1", BillingType: asaas.BillingTypePix})

	require.NoError(t, err)
	assert.Equal(t, "qr-pay_1", details.PixQrCode)
	assert.Equal(t, "00020101-pay_1", details.PixCopyPaste)
	assert.Empty(t, details.BoletoIdentificationField)
}

func TestPaymentDetails_Boleto(t *testing.T) {
	gw := testutil.NewGateway()
	gw.AddPayment(asaas.Payment{ID: "pay_2", BillingType: asaas.BillingTypeBoleto})

	details, err := PaymentDetails(context.Background(), gw, asaas.Payment{ID: "pay_2", BillingType: asaas.BillingTypeBoleto, BankSlipURL: "https://slip"})

	require.NoError(t, err)
	assert.Contains(t, details.BoletoIdentificationField, "pay_2")
	assert.NotEmpty(t, details.BoletoBarCode)
	assert.Equal(t, "https://slip", details.BankSlipURL)
}

func TestRollForward(t *testing.T) {
	today := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		due  time.Time
		want time.Time
	}{
		{"zero becomes today", time.Time{}, today},
		{"future kept", time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)},
		{"today kept", today, today},
		{"past advanced one cycle", time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)},
		{"far past advanced several cycles", time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RollForward(tt.due, asaas.CycleMonthly, today))
		})
	}
}

func TestBillingTypeForRetry(t *testing.T) {
	assert.Equal(t, asaas.BillingTypePix, BillingTypeForRetry(asaas.BillingTypePix, ""))
	assert.Equal(t, asaas.BillingTypeCreditCard, BillingTypeForRetry(asaas.BillingTypeCreditCard, "tok"))
	assert.Equal(t, asaas.BillingTypeUndefined, BillingTypeForRetry(asaas.BillingTypeCreditCard, ""))
	assert.Equal(t, asaas.BillingTypeUndefined, BillingTypeForRetry("", ""))
}
