package testutil

import (
	"context"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/email"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/supabase"
	"github.com/stretchr/testify/mock"
)

type MockIdentity struct {
	mock.Mock
}

func (m *MockIdentity) GenerateInviteLink(ctx context.Context, req supabase.InviteRequest) (*supabase.InviteLink, error) {
	args := m.Called(ctx, req)
	link, _ := args.Get(0).(*supabase.InviteLink)
	return link, args.Error(1)
}

func (m *MockIdentity) GenerateRecoveryLink(ctx context.Context, req supabase.InviteRequest) (*supabase.InviteLink, error) {
	args := m.Called(ctx, req)
	link, _ := args.Get(0).(*supabase.InviteLink)
	return link, args.Error(1)
}

type MockInviteSender struct {
	mock.Mock
}

func (m *MockInviteSender) SendOperatorInvite(ctx context.Context, msg email.OperatorInviteEmail) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}
