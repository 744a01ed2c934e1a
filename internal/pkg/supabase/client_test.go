package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/config"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(
		config.SupabaseConfig{URL: srv.URL, ServiceRoleKey: "service-key"},
		srv.Client(),
		resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond},
		nil,
		nil,
	)
}

func TestGenerateInviteLink_FlatResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/admin/generate_link", r.URL.Path)
		assert.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		assert.Equal(t, "service-key", r.Header.Get("apikey"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "invite", body["type"])
		assert.Equal(t, "ana@x.com", body["email"])
		assert.Equal(t, "https://app/set-password", body["redirect_to"])
		assert.Equal(t, map[string]any{"role": "operator"}, body["data"])

		_, _ = io.WriteString(w, `{"id":"user-1","email":"ana@x.com","action_link":"https://auth/verify?token=abc"}`)
	})

	link, err := client.GenerateInviteLink(context.Background(), InviteRequest{
		Email:      "ana@x.com",
		RedirectTo: "https://app/set-password",
		Metadata:   map[string]any{"role": "operator"},
	})

	require.NoError(t, err)
	assert.Equal(t, "user-1", link.UserID)
	assert.Equal(t, "https://auth/verify?token=abc", link.ActionLink)
}

func TestGenerateInviteLink_PropertiesResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"user":{"id":"user-2"},"properties":{"action_link":"https://auth/verify?token=def"}}`)
	})

	link, err := client.GenerateInviteLink(context.Background(), InviteRequest{Email: "bia@x.com"})

	require.NoError(t, err)
	assert.Equal(t, "user-2", link.UserID)
	assert.Equal(t, "https://auth/verify?token=def", link.ActionLink)
}

func TestGenerateInviteLink_AlreadyRegistered(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"code":422,"error_code":"email_exists","msg":"A user with this email address has already been registered"}`)
	})

	_, err := client.GenerateInviteLink(context.Background(), InviteRequest{Email: "ana@x.com"})

	assert.ErrorIs(t, err, ErrUserAlreadyExists)
	assert.Equal(t, 1, calls)
}

func TestGenerateInviteLink_MissingLink(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"user-3"}`)
	})

	_, err := client.GenerateInviteLink(context.Background(), InviteRequest{Email: "c@x.com"})
	assert.ErrorIs(t, err, ErrEmptyActionLink)
}

func TestGenerateRecoveryLink_ExistingUser(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "recovery", body["type"])
		assert.Equal(t, "ana@x.com", body["email"])
		assert.NotContains(t, body, "data")

		_, _ = io.WriteString(w, `{"id":"user-1","action_link":"https://auth/verify?token=rec"}`)
	})

	link, err := client.GenerateRecoveryLink(context.Background(), InviteRequest{
		Email:    "ana@x.com",
		Metadata: map[string]any{"role": "operator"},
	})

	require.NoError(t, err)
	assert.Equal(t, "user-1", link.UserID)
	assert.Equal(t, "https://auth/verify?token=rec", link.ActionLink)
}
