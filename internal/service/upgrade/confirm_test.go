package upgrade

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/operator"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/profile"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/subscription"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/asaas"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/email"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/supabase"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestConfirmPaymentAndCreateOperator_Confirmed(t *testing.T) {
	h := newHarness(t)
	manager := h.seedManager(2)
	pending := h.seedPaidCheckout(manager, "pay_123", "ana@x.com", asaas.PaymentStatusConfirmed)
	h.expectInvite("ana@x.com")

	out := h.svc.ConfirmPaymentAndCreateOperator(context.Background(), "", "pay_123")

	require.True(t, out.IsValid, out.ErrorMessages)
	result, ok := out.Result.(subscription.OperatorConfirmationResult)
	require.True(t, ok)
	assert.Equal(t, "pay_123", result.PaymentID)
	assert.Equal(t, "CONFIRMED", result.PaymentStatus)
	assert.True(t, result.OperatorCreated)
	assert.NotEmpty(t, result.OperatorID)
	assert.Equal(t, 3, result.OperatorCount)
	assert.True(t, decimal.RequireFromString("119.60").Equal(result.SubscriptionValue))

	assert.Equal(t, 3, h.manager(t, manager.ID).OperatorCount)
	h.assertPriceInvariant(t, manager.ID)

	created, ok := h.profiles.Get(result.OperatorID)
	require.True(t, ok)
	assert.Equal(t, profile.RoleOperator, created.Role)
	assert.Equal(t, "sb-ana@x.com", created.SupabaseID)
	assert.Equal(t, manager.ID, *created.ManagerID)

	latched, _ := h.pending.Get(pending.ID)
	assert.True(t, latched.OperatorCreated)
	assert.Equal(t, result.OperatorID, *latched.OperatorID)

	changes := h.changes.All()
	require.Len(t, changes, 1)
	assert.Equal(t, subscription.StateCompleted, changes[0].State)
	assert.Equal(t, subscription.KindAddOperator, changes[0].Kind)

	h.invites.AssertCalled(t, "SendOperatorInvite", mock.Anything, mock.MatchedBy(func(m email.OperatorInviteEmail) bool {
		return m.OperatorEmail == "ana@x.com" && m.ManagerName == "Carlos" && m.InviteURL == "https://auth.leadflow/verify?token=ana@x.com"
	}))
}

func TestConfirmPaymentAndCreateOperator_Idempotent(t *testing.T) {
	h := newHarness(t)
	manager := h.seedManager(0)
	h.seedPaidCheckout(manager, "pay_123", "ana@x.com", asaas.PaymentStatusReceived)
	h.expectInvite("ana@x.com")

	first := h.svc.ConfirmPaymentAndCreateOperator(context.Background(), "", "pay_123")
	require.True(t, first.IsValid, first.ErrorMessages)

	second := h.svc.ConfirmPaymentAndCreateOperator(context.Background(), "", "pay_123")

	assert.False(t, second.IsValid)
	assert.Equal(t, []string{subscription.MsgOperatorAlreadyCreated}, second.ErrorMessages)
	assert.Equal(t, subscription.FailureConflict, second.Kind)
	assert.Equal(t, 1, h.activeOperators(t, manager.ID))
	assert.Equal(t, 1, h.manager(t, manager.ID).OperatorCount)
	h.identity.AssertNumberOfCalls(t, "GenerateInviteLink", 1)
	assert.Equal(t, 1, h.gw.Calls("UpdateSubscription"))
}

func TestConfirmPaymentAndCreateOperator_NotYetConfirmed(t *testing.T) {
	h := newHarness(t)
	manager := h.seedManager(1)
	h.seedPaidCheckout(manager, "pay_999", "ana@x.com", asaas.PaymentStatusPending)

	out := h.svc.ConfirmPaymentAndCreateOperator(context.Background(), "", "pay_999")

	assert.False(t, out.IsValid)
	assert.Equal(t, []string{"Pagamento ainda não foi confirmado"}, out.ErrorMessages)
	assert.Equal(t, 1, h.manager(t, manager.ID).OperatorCount)
	assert.Equal(t, 1, h.activeOperators(t, manager.ID))
	h.identity.AssertNotCalled(t, "GenerateInviteLink", mock.Anything, mock.Anything)
	assert.Empty(t, h.changes.All())
}

func TestConfirmPaymentAndCreateOperator_NoLinkedSubscription(t *testing.T) {
	h := newHarness(t)
	manager := h.seedManager(0)
	manager.SubscriptionID = nil
	h.profiles.Seed(manager)
	h.seedPaidCheckout(manager, "pay_1", "ana@x.com", asaas.PaymentStatusConfirmed)

	out := h.svc.ConfirmPaymentAndCreateOperator(context.Background(), "", "pay_1")

	assert.False(t, out.IsValid)
	assert.Equal(t, []string{subscription.MsgNoLinkedSubscription}, out.ErrorMessages)
	assert.Zero(t, h.activeOperators(t, manager.ID))
	h.identity.AssertNotCalled(t, "GenerateInviteLink", mock.Anything, mock.Anything)
}

func TestConfirmPaymentAndCreateOperator_SubscriptionMissingInGateway(t *testing.T) {
	h := newHarness(t)
	manager := h.seedManager(0)
	require.NoError(t, h.gw.CancelSubscription(context.Background(), managerSubscriptionID))
	h.seedPaidCheckout(manager, "pay_1", "ana@x.com", asaas.PaymentStatusConfirmed)

	out := h.svc.ConfirmPaymentAndCreateOperator(context.Background(), "", "pay_1")

	assert.Equal(t, []string{subscription.MsgNoLinkedSubscription}, out.ErrorMessages)
	assert.Zero(t, h.activeOperators(t, manager.ID))
}

func TestConfirmPaymentAndCreateOperator_BillingUpdateFails(t *testing.T) {
	h := newHarness(t)
	manager := h.seedManager(1)
	pending := h.seedPaidCheckout(manager, "pay_1", "ana@x.com", asaas.PaymentStatusConfirmed)
	h.expectInvite("ana@x.com")
	h.gw.FailOn("UpdateSubscription", errors.New("gateway down"))

	out := h.svc.ConfirmPaymentAndCreateOperator(context.Background(), "", "pay_1")

	assert.False(t, out.IsValid)
	assert.Equal(t, []string{subscription.MsgSubscriptionUpdateFail}, out.ErrorMessages)
	assert.Equal(t, 1, h.activeOperators(t, manager.ID))
	assert.Equal(t, 1, h.manager(t, manager.ID).OperatorCount)

	stored, _ := h.pending.Get(pending.ID)
	assert.False(t, stored.OperatorCreated)

	changes := h.changes.All()
	require.Len(t, changes, 1)
	assert.Equal(t, subscription.StateFailed, changes[0].State)
	require.NotNil(t, changes[0].LastError)
}

func TestConfirmPaymentAndCreateOperator_InviteFailures(t *testing.T) {
	t.Run("identity provider down", func(t *testing.T) {
		h := newHarness(t)
		manager := h.seedManager(0)
		h.seedPaidCheckout(manager, "pay_1", "ana@x.com", asaas.PaymentStatusConfirmed)
		h.identity.On("GenerateInviteLink", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

		out := h.svc.ConfirmPaymentAndCreateOperator(context.Background(), "", "pay_1")

		assert.Equal(t, []string{subscription.MsgInviteFailed}, out.ErrorMessages)
		assert.Zero(t, h.gw.Calls("UpdateSubscription"))
	})

	t.Run("identity already registered and recovery fails", func(t *testing.T) {
		h := newHarness(t)
		manager := h.seedManager(0)
		h.seedPaidCheckout(manager, "pay_1", "ana@x.com", asaas.PaymentStatusConfirmed)
		h.identity.On("GenerateInviteLink", mock.Anything, mock.Anything).Return(nil, supabase.ErrUserAlreadyExists)
		h.identity.On("GenerateRecoveryLink", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

		out := h.svc.ConfirmPaymentAndCreateOperator(context.Background(), "", "pay_1")

		assert.Equal(t, subscription.FailureGateway, out.Kind)
		assert.Equal(t, []string{subscription.MsgInviteFailed}, out.ErrorMessages)
		assert.Zero(t, h.gw.Calls("UpdateSubscription"))
	})

	t.Run("email not delivered", func(t *testing.T) {
		h := newHarness(t)
		manager := h.seedManager(0)
		h.seedPaidCheckout(manager, "pay_1", "ana@x.com", asaas.PaymentStatusConfirmed)
		h.identity.On("GenerateInviteLink", mock.Anything, mock.Anything).
			Return(&supabase.InviteLink{UserID: "sb-ana", ActionLink: "https://auth/verify"}, nil)
		h.invites.On("SendOperatorInvite", mock.Anything, mock.Anything).Return(errors.New("smtp down"))

		out := h.svc.ConfirmPaymentAndCreateOperator(context.Background(), "", "pay_1")

		assert.Equal(t, []string{subscription.MsgInviteFailed}, out.ErrorMessages)
		assert.Zero(t, h.gw.Calls("UpdateSubscription"))
		assert.Zero(t, h.activeOperators(t, manager.ID))
	})
}

func TestConfirmPaymentAndCreateOperator_ResolvesStalePaymentID(t *testing.T) {
	refs := map[string]func(id string) string{
		"versioned": subscription.PendingOperatorReference,
		"legacy":    func(id string) string { return "pending-operator-" + id },
	}
	for name, ref := range refs {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			manager := h.seedManager(0)
			pending := h.pending.Seed(operator.PendingOperator{
				ManagerID:     manager.ID,
				Name:          "Ana",
				Email:         "ana@x.com",
				Role:          "operator",
				PaymentID:     operator.NewPlaceholderPaymentID(),
				PaymentStatus: "PENDING",
				PaymentMethod: "PIX",
			})
			h.gw.AddPayment(asaas.Payment{
				ID:                "pay_new",
				Status:            asaas.PaymentStatusConfirmed,
				BillingType:       asaas.BillingTypePix,
				Value:             subscription.OperatorPrice,
				ExternalReference: ref(pending.ID),
				InvoiceURL:        "https://sandbox.asaas.com/i/pay_new",
			})
			h.expectInvite("ana@x.com")

			out := h.svc.ConfirmPaymentAndCreateOperator(context.Background(), "", "pay_new")

			require.True(t, out.IsValid, out.ErrorMessages)
			stored, _ := h.pending.Get(pending.ID)
			assert.Equal(t, "pay_new", stored.PaymentID)
			assert.True(t, stored.OperatorCreated)
			assert.Equal(t, "https://sandbox.asaas.com/i/pay_new", *stored.CheckoutURL)
		})
	}
}

func TestConfirmPaymentAndCreateOperator_UnknownPayment(t *testing.T) {
	h := newHarness(t)
	h.gw.AddPayment(asaas.Payment{ID: "pay_x", Status: asaas.PaymentStatusConfirmed, ExternalReference: "invoice-42"})

	out := h.svc.ConfirmPaymentAndCreateOperator(context.Background(), "", "pay_x")
	assert.Equal(t, subscription.FailureNotFound, out.Kind)

	out = h.svc.ConfirmPaymentAndCreateOperator(context.Background(), "", "pay_missing")
	assert.Equal(t, []string{subscription.MsgPendingOperatorNotFound}, out.ErrorMessages)
}

func TestConfirmPaymentAndCreateOperator_RollsBackProfileWhenCountFails(t *testing.T) {
	h := newHarness(t)
	manager := h.seedManager(0)
	pending := h.seedPaidCheckout(manager, "pay_1", "ana@x.com", asaas.PaymentStatusConfirmed)
	h.expectInvite("ana@x.com")
	h.profiles.FailOn("IncrementOperatorCount", errors.New("deadlock"))

	out := h.svc.ConfirmPaymentAndCreateOperator(context.Background(), "", "pay_1")

	assert.False(t, out.IsValid)
	result := out.Result.(subscription.OperatorConfirmationResult)
	assert.Equal(t, subscription.ReconciliationPending, result.Reconciliation)
	assert.Zero(t, h.activeOperators(t, manager.ID))

	stored, _ := h.pending.Get(pending.ID)
	assert.False(t, stored.OperatorCreated)

	changes := h.changes.All()
	require.Len(t, changes, 1)
	assert.Equal(t, subscription.StateNeedsReconciliation, changes[0].State)
}

func TestConfirmPaymentAndCreateOperator_LatchFailureIsSoft(t *testing.T) {
	h := newHarness(t)
	manager := h.seedManager(0)
	pending := h.seedPaidCheckout(manager, "pay_1", "ana@x.com", asaas.PaymentStatusConfirmed)
	h.expectInvite("ana@x.com")
	h.pending.FailOn("MarkOperatorCreated", errors.New("db down"))

	out := h.svc.ConfirmPaymentAndCreateOperator(context.Background(), "", "pay_1")

	require.True(t, out.IsValid)
	result := out.Result.(subscription.OperatorConfirmationResult)
	assert.Equal(t, subscription.ReconciliationPending, result.Reconciliation)
	assert.Equal(t, 1, h.activeOperators(t, manager.ID))
	h.assertPriceInvariant(t, manager.ID)

	stored, _ := h.pending.Get(pending.ID)
	assert.False(t, stored.OperatorCreated)
	assert.Equal(t, subscription.StateNeedsReconciliation, h.changes.All()[0].State)
}

func TestConfirmPaymentAndCreateOperatorBySubscription(t *testing.T) {
	h := newHarness(t)
	manager := h.seedManager(0)
	pending := h.pending.Seed(operator.PendingOperator{
		ManagerID:      manager.ID,
		Name:           "Ana",
		Email:          "ana@x.com",
		Role:           "operator",
		PaymentID:      operator.NewPlaceholderPaymentID(),
		SubscriptionID: ptr("sub_seat"),
		PaymentStatus:  "PENDING",
	})
	h.gw.AddPayment(asaas.Payment{ID: "pay_9", Subscription: "sub_seat", Status: asaas.PaymentStatusReceived})
	h.expectInvite("ana@x.com")

	out := h.svc.ConfirmPaymentAndCreateOperatorBySubscription(context.Background(), "sub_seat", "pay_9")

	require.True(t, out.IsValid, out.ErrorMessages)
	stored, _ := h.pending.Get(pending.ID)
	assert.Equal(t, "pay_9", stored.PaymentID)
	assert.True(t, stored.OperatorCreated)
}

func TestConfirmPaymentAndCreateOperatorBySubscription_LinksSeatSubscription(t *testing.T) {
	h := newHarness(t)
	manager := h.seedManager(0)
	pending := h.seedPaidCheckout(manager, "pay_1", "ana@x.com", asaas.PaymentStatusConfirmed)
	h.expectInvite("ana@x.com")

	out := h.svc.ConfirmPaymentAndCreateOperatorBySubscription(context.Background(), "sub_seat", "pay_1")
	require.True(t, out.IsValid, out.ErrorMessages)

	stored, _ := h.pending.Get(pending.ID)
	require.NotNil(t, stored.SubscriptionID)
	assert.Equal(t, "sub_seat", *stored.SubscriptionID)

	again := h.svc.ConfirmPaymentAndCreateOperatorBySubscription(context.Background(), "sub_seat", "pay_2")
	assert.Equal(t, subscription.FailureConflict, again.Kind)
	assert.Equal(t, []string{subscription.MsgOperatorAlreadyCreated}, again.ErrorMessages)
	stored, _ = h.pending.Get(pending.ID)
	assert.Equal(t, "pay_1", stored.PaymentID)
	h.assertPriceInvariant(t, manager.ID)
}

func TestConfirmPaymentAndCreateOperator_ConcurrentSeatsKeepPrice(t *testing.T) {
	h := newHarness(t)
	manager := h.seedManager(0)
	emails := []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com"}
	for i, e := range emails {
		h.seedPaidCheckout(manager, "pay_"+string(rune('a'+i)), e, asaas.PaymentStatusConfirmed)
		h.expectInvite(e)
	}

	var wg sync.WaitGroup
	outs := make([]subscription.Output, len(emails))
	for i := range emails {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i] = h.svc.ConfirmPaymentAndCreateOperator(context.Background(), "", "pay_"+string(rune('a'+i)))
		}(i)
	}
	wg.Wait()

	for _, out := range outs {
		assert.True(t, out.IsValid, out.ErrorMessages)
	}
	assert.Equal(t, len(emails), h.manager(t, manager.ID).OperatorCount)
	h.assertPriceInvariant(t, manager.ID)
}

func TestCheckOperatorPaymentStatus(t *testing.T) {
	h := newHarness(t)
	manager := h.seedManager(0)
	pending := h.seedPaidCheckout(manager, "pay_1", "ana@x.com", asaas.PaymentStatusPending)

	out := h.svc.CheckOperatorPaymentStatus(context.Background(), "", "pay_1")
	require.True(t, out.IsValid)
	assert.Equal(t, "PENDING", out.Result.(subscription.PaymentStatusResult).PaymentStatus)

	h.gw.SetPaymentStatus("pay_1", asaas.PaymentStatusReceived)
	out = h.svc.CheckOperatorPaymentStatus(context.Background(), "", "pay_1")

	require.True(t, out.IsValid)
	result := out.Result.(subscription.PaymentStatusResult)
	assert.Equal(t, "RECEIVED", result.PaymentStatus)
	assert.False(t, result.OperatorCreated)
	assert.Nil(t, result.OperatorID)
	stored, _ := h.pending.Get(pending.ID)
	assert.Equal(t, "RECEIVED", stored.PaymentStatus)
	assert.Zero(t, h.activeOperators(t, manager.ID))
}

func TestCheckOperatorPaymentStatus_GatewayDown(t *testing.T) {
	h := newHarness(t)
	manager := h.seedManager(0)
	h.seedPaidCheckout(manager, "pay_1", "ana@x.com", asaas.PaymentStatusPending)
	h.gw.FailOn("GetPayment", errors.New("timeout"))

	out := h.svc.CheckOperatorPaymentStatus(context.Background(), "", "pay_1")

	assert.Equal(t, subscription.FailureGateway, out.Kind)
	assert.Equal(t, []string{subscription.MsgPaymentStatusFailed}, out.ErrorMessages)
}

func TestConfirmPaymentAndCreateOperator_RetryAfterUndeliveredInvite(t *testing.T) {
	h := newHarness(t)
	manager := h.seedManager(0)
	pending := h.seedPaidCheckout(manager, "pay_1", "ana@x.com", asaas.PaymentStatusConfirmed)

	h.identity.On("GenerateInviteLink", mock.Anything, mock.Anything).
		Return(&supabase.InviteLink{UserID: "sb-ana", ActionLink: "https://auth/verify?token=invite"}, nil).Once()
	h.identity.On("GenerateInviteLink", mock.Anything, mock.Anything).Return(nil, supabase.ErrUserAlreadyExists)
	h.identity.On("GenerateRecoveryLink", mock.Anything, mock.MatchedBy(func(r supabase.InviteRequest) bool {
		return r.Email == "ana@x.com"
	})).Return(&supabase.InviteLink{UserID: "sb-ana", ActionLink: "https://auth/verify?token=recovery"}, nil)
	h.invites.On("SendOperatorInvite", mock.Anything, mock.Anything).Return(errors.New("smtp down")).Once()
	h.invites.On("SendOperatorInvite", mock.Anything, mock.MatchedBy(func(m email.OperatorInviteEmail) bool {
		return m.InviteURL == "https://auth/verify?token=recovery"
	})).Return(nil)

	first := h.svc.ConfirmPaymentAndCreateOperator(context.Background(), "", "pay_1")
	require.False(t, first.IsValid)
	assert.Equal(t, subscription.FailureGateway, first.Kind)

	second := h.svc.ConfirmPaymentAndCreateOperator(context.Background(), "", "pay_1")
	require.True(t, second.IsValid, second.ErrorMessages)

	assert.Equal(t, 1, h.activeOperators(t, manager.ID))
	stored, _ := h.pending.Get(pending.ID)
	assert.True(t, stored.OperatorCreated)
	h.assertPriceInvariant(t, manager.ID)

	created, err := h.profiles.GetByEmail(context.Background(), "ana@x.com")
	require.NoError(t, err)
	assert.Equal(t, "sb-ana", created.SupabaseID)
}

func TestOperatorPayment_OtherManagerSeesNotFound(t *testing.T) {
	h := newHarness(t)
	manager := h.seedManager(0)
	pending := h.seedPaidCheckout(manager, "pay_1", "ana@x.com", asaas.PaymentStatusConfirmed)

	status := h.svc.CheckOperatorPaymentStatus(context.Background(), "someone-else", "pay_1")
	assert.Equal(t, subscription.FailureNotFound, status.Kind)
	assert.Nil(t, status.Result)

	confirm := h.svc.ConfirmPaymentAndCreateOperator(context.Background(), "someone-else", "pay_1")
	assert.Equal(t, subscription.FailureNotFound, confirm.Kind)
	assert.Equal(t, []string{subscription.MsgPendingOperatorNotFound}, confirm.ErrorMessages)
	h.identity.AssertNotCalled(t, "GenerateInviteLink", mock.Anything, mock.Anything)

	own := h.svc.CheckOperatorPaymentStatus(context.Background(), manager.ID, "pay_1")
	require.True(t, own.IsValid, own.ErrorMessages)
	assert.Equal(t, pending.ID, own.Result.(subscription.PaymentStatusResult).PendingOperatorID)
}
