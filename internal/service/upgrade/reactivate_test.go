package upgrade

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/profile"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/subscription"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/asaas"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedCanceledManager returns a manager with n operators whose subscription
// was canceled.
func (h *harness) seedCanceledManager(t *testing.T, n int) profile.Profile {
	t.Helper()
	manager := h.seedManager(n)
	require.NoError(t, h.profiles.UpdateSubscriptionStatus(context.Background(), manager.ID, profile.StatusCanceled, nil))
	return h.manager(t, manager.ID)
}

func TestReactivateSubscription_Pix(t *testing.T) {
	h := newHarness(t)
	manager := h.seedCanceledManager(t, 3)

	out := h.svc.ReactivateSubscription(context.Background(), subscription.ReactivateInput{
		SupabaseID:    manager.SupabaseID,
		OperatorCount: 3,
	})

	require.True(t, out.IsValid, out.ErrorMessages)
	assert.Equal(t, []string{subscription.MsgReactivated}, out.SuccessMessages)
	result := out.Result.(subscription.ReactivateResult)
	assert.True(t, decimal.RequireFromString("119.60").Equal(result.Value))
	assert.Equal(t, 3, result.OperatorCount)
	assert.Equal(t, managerSubscriptionID, result.OldSubscriptionID)
	assert.NotEqual(t, managerSubscriptionID, result.SubscriptionID)
	assert.Equal(t, string(profile.StatusPending), result.Status)
	assert.NotEmpty(t, result.PixQrCode)
	assert.NotEmpty(t, result.PixCopyPaste)
	assert.Empty(t, result.Reconciliation)

	old, _ := h.gw.Subscription(managerSubscriptionID)
	assert.True(t, old.Deleted)
	assert.Equal(t, asaas.BillingTypePix, h.gw.LastCreated.BillingType)
	assert.Equal(t, "Lead Flow - Plano Base + 3 operadores", h.gw.LastCreated.Description)

	updated := h.manager(t, manager.ID)
	assert.Equal(t, result.SubscriptionID, *updated.SubscriptionID)
	assert.Equal(t, profile.StatusPending, updated.Status())
	h.assertPriceInvariant(t, manager.ID)

	changes := h.changes.All()
	require.Len(t, changes, 1)
	assert.Equal(t, subscription.KindReactivate, changes[0].Kind)
	assert.Equal(t, subscription.StateCompleted, changes[0].State)
}

func TestReactivateSubscription_CreditCardActivates(t *testing.T) {
	h := newHarness(t)
	manager := h.seedCanceledManager(t, 1)

	out := h.svc.ReactivateSubscription(context.Background(), subscription.ReactivateInput{
		SupabaseID:    manager.SupabaseID,
		OperatorCount: 1,
		PaymentMethod: subscription.CreditCardPayment{RemoteIP: "10.0.0.1"},
	})

	require.True(t, out.IsValid, out.ErrorMessages)
	result := out.Result.(subscription.ReactivateResult)
	assert.Equal(t, string(profile.StatusActive), result.Status)
	assert.Equal(t, "10.0.0.1", h.gw.LastCreated.RemoteIP)
	assert.NotNil(t, h.gw.LastCreated.CreditCard)
	assert.Equal(t, profile.StatusActive, h.manager(t, manager.ID).Status())
}

func TestReactivateSubscription_Boleto(t *testing.T) {
	h := newHarness(t)
	manager := h.seedCanceledManager(t, 0)

	out := h.svc.ReactivateSubscription(context.Background(), subscription.ReactivateInput{
		SupabaseID:    manager.SupabaseID,
		PaymentMethod: subscription.BoletoPayment{},
	})

	require.True(t, out.IsValid, out.ErrorMessages)
	result := out.Result.(subscription.ReactivateResult)
	assert.True(t, subscription.BasePrice.Equal(result.Value))
	assert.NotEmpty(t, result.BoletoIdentificationField)
	assert.NotEmpty(t, result.BankSlipURL)
	assert.Empty(t, result.PixQrCode)
}

func TestReactivateSubscription_OperatorCountMismatch(t *testing.T) {
	h := newHarness(t)
	manager := h.seedCanceledManager(t, 3)

	out := h.svc.ReactivateSubscription(context.Background(), subscription.ReactivateInput{
		SupabaseID:    manager.SupabaseID,
		OperatorCount: 2,
	})

	assert.False(t, out.IsValid)
	assert.Equal(t, subscription.FailureValidation, out.Kind)
	assert.Equal(t, []string{subscription.MsgOperatorCountMismatch}, out.ErrorMessages)
	assert.Zero(t, h.gw.Calls("CreateSubscription"))
	assert.Empty(t, h.changes.All())
}

func TestReactivateSubscription_CreateFailureKeepsOldSubscription(t *testing.T) {
	h := newHarness(t)
	manager := h.seedCanceledManager(t, 1)
	h.gw.FailOn("CreateSubscription", errors.New("card declined"))

	out := h.svc.ReactivateSubscription(context.Background(), subscription.ReactivateInput{
		SupabaseID:    manager.SupabaseID,
		OperatorCount: 1,
	})

	assert.False(t, out.IsValid)
	assert.Equal(t, subscription.FailureGateway, out.Kind)
	assert.Equal(t, []string{subscription.MsgReactivateFailed}, out.ErrorMessages)

	old, _ := h.gw.Subscription(managerSubscriptionID)
	assert.False(t, old.Deleted)
	assert.Zero(t, h.gw.Calls("CancelSubscription"))

	unchanged := h.manager(t, manager.ID)
	assert.Equal(t, managerSubscriptionID, *unchanged.SubscriptionID)
	assert.Equal(t, profile.StatusCanceled, unchanged.Status())
	assert.Equal(t, subscription.StateFailed, h.changes.All()[0].State)
}

func TestReactivateSubscription_CancelFailureIsReconciled(t *testing.T) {
	h := newHarness(t)
	manager := h.seedCanceledManager(t, 1)
	h.gw.FailOn("CancelSubscription", errors.New("gateway timeout"))

	out := h.svc.ReactivateSubscription(context.Background(), subscription.ReactivateInput{
		SupabaseID:    manager.SupabaseID,
		OperatorCount: 1,
	})

	require.True(t, out.IsValid, out.ErrorMessages)
	result := out.Result.(subscription.ReactivateResult)
	assert.Equal(t, subscription.ReconciliationPending, result.Reconciliation)
	assert.Contains(t, out.SuccessMessages, subscription.MsgReconciliationPending)
	assert.Len(t, h.gw.ActiveSubscriptions(), 2)
	assert.Equal(t, subscription.StateNeedsReconciliation, h.changes.All()[0].State)

	h.gw.FailOn("CancelSubscription", nil)
	h.offset = 10 * time.Minute
	require.NoError(t, h.svc.ReconcileSeatChanges(context.Background()))

	old, _ := h.gw.Subscription(managerSubscriptionID)
	assert.True(t, old.Deleted)
	assert.Equal(t, subscription.StateCompleted, h.changes.All()[0].State)
	assert.Equal(t, result.SubscriptionID, *h.manager(t, manager.ID).SubscriptionID)
}

func TestReactivateSubscription_Preconditions(t *testing.T) {
	t.Run("missing user", func(t *testing.T) {
		h := newHarness(t)

		out := h.svc.ReactivateSubscription(context.Background(), subscription.ReactivateInput{})

		assert.Equal(t, subscription.FailureValidation, out.Kind)
	})

	t.Run("unknown profile", func(t *testing.T) {
		h := newHarness(t)

		out := h.svc.ReactivateSubscription(context.Background(), subscription.ReactivateInput{SupabaseID: "nobody"})

		assert.Equal(t, subscription.FailureNotFound, out.Kind)
		assert.Equal(t, []string{subscription.MsgProfileNotFound}, out.ErrorMessages)
	})

	t.Run("operator cannot reactivate", func(t *testing.T) {
		h := newHarness(t)
		h.seedManager(1)

		out := h.svc.ReactivateSubscription(context.Background(), subscription.ReactivateInput{SupabaseID: h.seeded[0].SupabaseID})

		assert.Equal(t, subscription.FailureForbidden, out.Kind)
		assert.Equal(t, []string{subscription.MsgNotManager}, out.ErrorMessages)
	})
}
