package upgrade

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/operator"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/profile"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/subscription"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/asaas"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/lock"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/supabase"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/service/billing"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/testutil"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type harness struct {
	gw       *testutil.Gateway
	profiles *testutil.ProfileRepo
	pending  *testutil.PendingOperatorRepo
	changes  *testutil.SeatChangeRepo
	identity *testutil.MockIdentity
	invites  *testutil.MockInviteSender
	tx       *testutil.Transactor
	seeded   []profile.Profile
	offset   time.Duration
	svc      *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		gw:       testutil.NewGateway(),
		profiles: testutil.NewProfileRepo(),
		pending:  testutil.NewPendingOperatorRepo(),
		changes:  testutil.NewSeatChangeRepo(),
		identity: new(testutil.MockIdentity),
		invites:  new(testutil.MockInviteSender),
	}
	h.tx = testutil.NewTransactor(h.profiles, h.pending, h.changes)
	h.svc = NewService(Deps{
		Profiles:          h.profiles,
		PendingOperators:  h.pending,
		SeatChanges:       h.changes,
		Transactor:        h.tx,
		Gateway:           h.gw,
		Customers:         billing.NewCustomerResolver(h.gw, h.profiles, nil),
		Identity:          h.identity,
		Invites:           h.invites,
		Locker:            lock.NewLocalLocker(time.Second),
		InviteRedirectURL: "https://app.leadflow.com.br/set-password",
		Now:               func() time.Time { return time.Now().Add(h.offset) },
	})
	return h
}

func ptr[T any](v T) *T { return &v }

const managerSubscriptionID = "sub_manager"

// seedManager creates an active manager billed for n operators, with n
// operator profiles.
func (h *harness) seedManager(n int) profile.Profile {
	value, description := subscription.CalculateSubscriptionValue(n)
	nextDue := billing.Today(time.Now()).AddDate(0, 0, 10)

	h.gw.AddCustomer(asaas.Customer{ID: "cus_manager", Name: "Carlos"})
	h.gw.AddSubscription(asaas.Subscription{
		ID:          managerSubscriptionID,
		Customer:    "cus_manager",
		BillingType: asaas.BillingTypePix,
		Value:       value,
		NextDueDate: nextDue.Format(asaas.DateLayout),
		Cycle:       asaas.CycleMonthly,
		Description: description,
		Status:      asaas.SubscriptionStatusActive,
	})

	manager := h.profiles.Seed(profile.Profile{
		SupabaseID:              "sb-manager",
		Email:                   "carlos@corretora.com",
		Name:                    "Carlos",
		CpfCnpj:                 ptr("52998224725"),
		Role:                    profile.RoleManager,
		AsaasCustomerID:         ptr("cus_manager"),
		SubscriptionID:          ptr(managerSubscriptionID),
		SubscriptionStatus:      ptr(profile.StatusActive),
		SubscriptionNextDueDate: &nextDue,
		SubscriptionCycle:       ptr(string(asaas.CycleMonthly)),
		OperatorCount:           n,
	})
	for i := range n {
		h.seedOperator(manager, fmt.Sprintf("op%d@corretora.com", i))
	}
	return manager
}

func (h *harness) seedOperator(manager profile.Profile, email string) profile.Profile {
	op := h.profiles.Seed(profile.Profile{
		SupabaseID: "sb-" + email,
		Email:      email,
		Name:       email,
		Role:       profile.RoleOperator,
		ManagerID:  ptr(manager.ID),
	})
	h.seeded = append(h.seeded, op)
	return op
}

// seedPaidCheckout stages a candidate whose payment has the given status.
func (h *harness) seedPaidCheckout(manager profile.Profile, paymentID, email string, status asaas.PaymentStatus) operator.PendingOperator {
	p := h.pending.Seed(operator.PendingOperator{
		ManagerID:     manager.ID,
		Name:          "Ana",
		Email:         email,
		Role:          "operator",
		PaymentID:     paymentID,
		PaymentStatus: string(asaas.PaymentStatusPending),
		PaymentMethod: string(asaas.BillingTypePix),
	})
	h.gw.AddPayment(asaas.Payment{
		ID:                paymentID,
		Customer:          "cus_manager",
		BillingType:       asaas.BillingTypePix,
		Value:             subscription.OperatorPrice,
		Status:            status,
		ExternalReference: subscription.PendingOperatorReference(p.ID),
	})
	return p
}

func (h *harness) expectInvite(email string) {
	h.identity.On("GenerateInviteLink", mock.Anything, mock.MatchedBy(func(r supabase.InviteRequest) bool {
		return r.Email == email
	})).Return(&supabase.InviteLink{UserID: "sb-" + email, ActionLink: "https://auth.leadflow/verify?token=" + email}, nil)
	h.invites.On("SendOperatorInvite", mock.Anything, mock.Anything).Return(nil)
}

func (h *harness) manager(t *testing.T, id string) profile.Profile {
	t.Helper()
	p, ok := h.profiles.Get(id)
	require.True(t, ok)
	return p
}

func (h *harness) activeOperators(t *testing.T, managerID string) int {
	t.Helper()
	n, err := h.profiles.CountActiveOperators(context.Background(), managerID)
	require.NoError(t, err)
	return n
}

// assertPriceInvariant checks the manager subscription value against its count.
func (h *harness) assertPriceInvariant(t *testing.T, managerID string) {
	t.Helper()
	m := h.manager(t, managerID)
	require.NotNil(t, m.SubscriptionID)
	expected, _ := subscription.CalculateSubscriptionValue(m.OperatorCount)
	got := h.gw.Value(*m.SubscriptionID)
	require.Truef(t, expected.Equal(got), "subscription value %s, want %s", got, expected)
	require.Equal(t, h.activeOperators(t, managerID), m.OperatorCount)
}
