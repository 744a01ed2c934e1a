package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/operator"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/profile"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/subscription"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/asaas"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockUpgrades struct {
	mock.Mock
}

func (m *mockUpgrades) CreateOperatorPayment(ctx context.Context, managerID string, candidate subscription.OperatorCandidate, method subscription.PaymentMethod) subscription.Output {
	return m.Called(ctx, managerID, candidate, method).Get(0).(subscription.Output)
}

func (m *mockUpgrades) ConfirmPaymentAndCreateOperator(ctx context.Context, managerID, paymentID string) subscription.Output {
	return m.Called(ctx, managerID, paymentID).Get(0).(subscription.Output)
}

func (m *mockUpgrades) ConfirmPaymentAndCreateOperatorBySubscription(ctx context.Context, subscriptionID, paymentID string) subscription.Output {
	return m.Called(ctx, subscriptionID, paymentID).Get(0).(subscription.Output)
}

func (m *mockUpgrades) CheckOperatorPaymentStatus(ctx context.Context, managerID, paymentID string) subscription.Output {
	return m.Called(ctx, managerID, paymentID).Get(0).(subscription.Output)
}

func (m *mockUpgrades) RemoveOperatorAndUpdateSubscription(ctx context.Context, managerID, operatorID string) subscription.Output {
	return m.Called(ctx, managerID, operatorID).Get(0).(subscription.Output)
}

func (m *mockUpgrades) ReactivateSubscription(ctx context.Context, in subscription.ReactivateInput) subscription.Output {
	return m.Called(ctx, in).Get(0).(subscription.Output)
}

type fixture struct {
	profiles *testutil.ProfileRepo
	pending  *testutil.PendingOperatorRepo
	upgrades *mockUpgrades
	svc      subscription.WebhookService
}

func newFixture() *fixture {
	f := &fixture{
		profiles: testutil.NewProfileRepo(),
		pending:  testutil.NewPendingOperatorRepo(),
		upgrades: new(mockUpgrades),
	}
	f.svc = NewWebhookService(Deps{
		Profiles:         f.profiles,
		PendingOperators: f.pending,
		Upgrades:         f.upgrades,
	})
	return f
}

func ptr[T any](v T) *T { return &v }

func (f *fixture) seedManager(subscriptionID string, status profile.SubscriptionStatus) profile.Profile {
	due := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	return f.profiles.Seed(profile.Profile{
		SupabaseID:              "sb-carlos",
		Email:                   "carlos@corretora.com",
		Role:                    profile.RoleManager,
		SubscriptionID:          ptr(subscriptionID),
		SubscriptionStatus:      ptr(status),
		SubscriptionNextDueDate: &due,
		SubscriptionCycle:       ptr(string(asaas.CycleMonthly)),
	})
}

func (f *fixture) seedPending(manager profile.Profile) operator.PendingOperator {
	return f.pending.Seed(operator.PendingOperator{
		ManagerID:     manager.ID,
		Name:          "Ana",
		Email:         "ana@x.com",
		PaymentID:     "pay_seat",
		PaymentStatus: "PENDING",
	})
}

func seatEvent(id string, pending operator.PendingOperator) asaas.WebhookEvent {
	return asaas.WebhookEvent{
		ID:    id,
		Event: asaas.EventPaymentReceived,
		Payment: &asaas.Payment{
			ID:                "pay_seat",
			Status:            asaas.PaymentStatusReceived,
			ExternalReference: subscription.PendingOperatorReference(pending.ID),
		},
	}
}

func confirmed() subscription.Output {
	return subscription.Success(subscription.OperatorConfirmationResult{OperatorCreated: true, OperatorID: "op-1"}, subscription.MsgOperatorCreated)
}

func (f *fixture) status(t *testing.T, id string) profile.Profile {
	t.Helper()
	p, ok := f.profiles.Get(id)
	require.True(t, ok)
	return p
}

func TestHandleEvent_OperatorPaymentConfirmed(t *testing.T) {
	f := newFixture()
	pending := f.seedPending(f.seedManager("sub_1", profile.StatusActive))
	f.upgrades.On("ConfirmPaymentAndCreateOperator", mock.Anything, "", "pay_seat").Return(confirmed())

	require.NoError(t, f.svc.HandleEvent(context.Background(), seatEvent("evt_1", pending)))

	_, ok := f.pending.Get(pending.ID)
	assert.False(t, ok)
	f.upgrades.AssertExpectations(t)
}

func TestHandleEvent_DuplicateIgnored(t *testing.T) {
	f := newFixture()
	pending := f.seedPending(f.seedManager("sub_1", profile.StatusActive))
	f.upgrades.On("ConfirmPaymentAndCreateOperator", mock.Anything, "", "pay_seat").Return(confirmed())

	require.NoError(t, f.svc.HandleEvent(context.Background(), seatEvent("evt_1", pending)))
	require.NoError(t, f.svc.HandleEvent(context.Background(), seatEvent("evt_1", pending)))

	f.upgrades.AssertNumberOfCalls(t, "ConfirmPaymentAndCreateOperator", 1)
}

func TestHandleEvent_RetryableFailureReleasesKey(t *testing.T) {
	f := newFixture()
	pending := f.seedPending(f.seedManager("sub_1", profile.StatusActive))
	f.upgrades.On("ConfirmPaymentAndCreateOperator", mock.Anything, "", "pay_seat").
		Return(subscription.Failure(subscription.FailureGateway, subscription.MsgSubscriptionUpdateFail)).Once()
	f.upgrades.On("ConfirmPaymentAndCreateOperator", mock.Anything, "", "pay_seat").Return(confirmed()).Once()

	err := f.svc.HandleEvent(context.Background(), seatEvent("evt_1", pending))
	require.ErrorIs(t, err, ErrRetryable)
	_, ok := f.pending.Get(pending.ID)
	assert.True(t, ok)

	require.NoError(t, f.svc.HandleEvent(context.Background(), seatEvent("evt_1", pending)))
	_, ok = f.pending.Get(pending.ID)
	assert.False(t, ok)
	f.upgrades.AssertExpectations(t)
}

func TestHandleEvent_OperatorAlreadyCreated(t *testing.T) {
	f := newFixture()
	pending := f.seedPending(f.seedManager("sub_1", profile.StatusActive))
	f.upgrades.On("ConfirmPaymentAndCreateOperator", mock.Anything, "", "pay_seat").Return(
		subscription.FailureWithResult(subscription.FailureConflict,
			subscription.OperatorConfirmationResult{OperatorCreated: true},
			subscription.MsgOperatorAlreadyCreated,
		))

	require.NoError(t, f.svc.HandleEvent(context.Background(), seatEvent("evt_2", pending)))

	_, ok := f.pending.Get(pending.ID)
	assert.False(t, ok)
}

func TestHandleEvent_OperatorPaymentNotConfirmedKeepsRow(t *testing.T) {
	f := newFixture()
	pending := f.seedPending(f.seedManager("sub_1", profile.StatusActive))
	f.upgrades.On("ConfirmPaymentAndCreateOperator", mock.Anything, "", "pay_seat").
		Return(subscription.Failure(subscription.FailureValidation, subscription.MsgPaymentNotConfirmed))

	require.NoError(t, f.svc.HandleEvent(context.Background(), seatEvent("evt_3", pending)))

	_, ok := f.pending.Get(pending.ID)
	assert.True(t, ok)
}

func TestHandleEvent_OperatorBySubscription(t *testing.T) {
	f := newFixture()
	manager := f.seedManager("sub_1", profile.StatusActive)
	pending := f.pending.Seed(operator.PendingOperator{
		ManagerID:      manager.ID,
		Email:          "ana@x.com",
		PaymentID:      operator.NewPlaceholderPaymentID(),
		SubscriptionID: ptr("sub_seat"),
	})
	f.upgrades.On("ConfirmPaymentAndCreateOperatorBySubscription", mock.Anything, "sub_seat", "pay_9").Return(confirmed())

	err := f.svc.HandleEvent(context.Background(), asaas.WebhookEvent{
		ID:      "evt_4",
		Event:   asaas.EventPaymentConfirmed,
		Payment: &asaas.Payment{ID: "pay_9", Subscription: "sub_seat", Status: asaas.PaymentStatusConfirmed},
	})

	require.NoError(t, err)
	_, ok := f.pending.Get(pending.ID)
	assert.False(t, ok)
	f.upgrades.AssertExpectations(t)
}

func TestHandleEvent_ManagerPaymentActivates(t *testing.T) {
	f := newFixture()
	manager := f.seedManager("sub_1", profile.StatusPending)

	err := f.svc.HandleEvent(context.Background(), asaas.WebhookEvent{
		ID:    "evt_5",
		Event: asaas.EventPaymentReceived,
		Payment: &asaas.Payment{
			ID:                "pay_1",
			Subscription:      "sub_1",
			Status:            asaas.PaymentStatusReceived,
			DueDate:           "2026-10-19",
			ExternalReference: subscription.ManagerReference(manager.ID),
		},
	})

	require.NoError(t, err)
	updated := f.status(t, manager.ID)
	assert.Equal(t, profile.StatusActive, updated.Status())
	require.NotNil(t, updated.SubscriptionNextDueDate)
	assert.Equal(t, "2026-11-19", updated.SubscriptionNextDueDate.Format(asaas.DateLayout))
	f.upgrades.AssertNotCalled(t, "ConfirmPaymentAndCreateOperator", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleEvent_ReplacedSubscriptionIgnored(t *testing.T) {
	f := newFixture()
	manager := f.seedManager("sub_new", profile.StatusPending)

	err := f.svc.HandleEvent(context.Background(), asaas.WebhookEvent{
		ID:    "evt_6",
		Event: asaas.EventPaymentOverdue,
		Payment: &asaas.Payment{
			ID:                "pay_old",
			Subscription:      "sub_old",
			Status:            asaas.PaymentStatusOverdue,
			ExternalReference: subscription.ManagerReference(manager.ID),
		},
	})

	require.NoError(t, err)
	assert.Equal(t, profile.StatusPending, f.status(t, manager.ID).Status())
}

func TestHandleEvent_ManagerPaymentOverdue(t *testing.T) {
	f := newFixture()
	manager := f.seedManager("sub_1", profile.StatusActive)

	err := f.svc.HandleEvent(context.Background(), asaas.WebhookEvent{
		ID:      "evt_7",
		Event:   asaas.EventPaymentOverdue,
		Payment: &asaas.Payment{ID: "pay_1", Subscription: "sub_1", Status: asaas.PaymentStatusOverdue},
	})

	require.NoError(t, err)
	assert.Equal(t, profile.StatusOverdue, f.status(t, manager.ID).Status())
}

func TestHandleEvent_SubscriptionDeleted(t *testing.T) {
	t.Run("current subscription", func(t *testing.T) {
		f := newFixture()
		manager := f.seedManager("sub_1", profile.StatusActive)

		err := f.svc.HandleEvent(context.Background(), asaas.WebhookEvent{
			ID:           "evt_8",
			Event:        asaas.EventSubscriptionDeleted,
			Subscription: &asaas.Subscription{ID: "sub_1"},
		})

		require.NoError(t, err)
		assert.Equal(t, profile.StatusCanceled, f.status(t, manager.ID).Status())
	})

	t.Run("subscription replaced by a seat change", func(t *testing.T) {
		f := newFixture()
		manager := f.seedManager("sub_2", profile.StatusActive)

		err := f.svc.HandleEvent(context.Background(), asaas.WebhookEvent{
			ID:           "evt_9",
			Event:        asaas.EventSubscriptionInactivated,
			Subscription: &asaas.Subscription{ID: "sub_1", ExternalReference: subscription.ManagerReference(manager.ID)},
		})

		require.NoError(t, err)
		assert.Equal(t, profile.StatusActive, f.status(t, manager.ID).Status())
	})
}

func TestHandleEvent_UnknownEventIgnored(t *testing.T) {
	f := newFixture()

	assert.NoError(t, f.svc.HandleEvent(context.Background(), asaas.WebhookEvent{ID: "evt_10", Event: asaas.EventPaymentCreated}))
	assert.NoError(t, f.svc.HandleEvent(context.Background(), asaas.WebhookEvent{Event: asaas.EventPaymentReceived}))
	f.upgrades.AssertExpectations(t)
}
