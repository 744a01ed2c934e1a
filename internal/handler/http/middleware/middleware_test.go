package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/jwtauth/v5"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/profile"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-supabase-jwt-secret"

func signToken(t *testing.T, ja *jwtauth.JWTAuth, claims map[string]interface{}) string {
	t.Helper()
	_, token, err := ja.Encode(claims)
	require.NoError(t, err)
	return token
}

func protected(ja *jwtauth.JWTAuth, profiles profile.ProfileService, extra ...func(http.Handler) http.Handler) http.Handler {
	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := ProfileFromContext(r.Context()); ok {
			w.Header().Set("X-Profile-ID", p.ID)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	for i := len(extra) - 1; i >= 0; i-- {
		h = extra[i](h)
	}
	h = LoadProfile(profiles)(h)
	h = AuthRequired(h)
	return jwtauth.Verifier(ja)(h)
}

func do(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthChain(t *testing.T) {
	ja := jwtauth.New("HS256", []byte(testSecret), nil)
	repo := testutil.NewProfileRepo()
	manager := repo.Seed(profile.Profile{SupabaseID: "sb-manager", Email: "gestor@leadflow.com.br", Role: profile.RoleManager})
	repo.Seed(profile.Profile{SupabaseID: "sb-operator", Email: "op@leadflow.com.br", Role: profile.RoleOperator, ManagerID: &manager.ID})

	t.Run("missing token", func(t *testing.T) {
		rec := do(protected(ja, repo), "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token signed with another secret", func(t *testing.T) {
		other := jwtauth.New("HS256", []byte("another-secret"), nil)
		token := signToken(t, other, map[string]interface{}{"sub": "sb-manager", "role": "authenticated", "aud": "authenticated"})
		rec := do(protected(ja, repo), token)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("anonymous role", func(t *testing.T) {
		token := signToken(t, ja, map[string]interface{}{"sub": "sb-manager", "role": "anon", "aud": "authenticated"})
		rec := do(protected(ja, repo), token)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("foreign audience", func(t *testing.T) {
		token := signToken(t, ja, map[string]interface{}{"sub": "sb-manager", "role": "authenticated", "aud": "service"})
		rec := do(protected(ja, repo), token)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing subject", func(t *testing.T) {
		token := signToken(t, ja, map[string]interface{}{"role": "authenticated", "aud": "authenticated"})
		rec := do(protected(ja, repo), token)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown profile", func(t *testing.T) {
		token := signToken(t, ja, map[string]interface{}{"sub": "sb-ghost", "role": "authenticated", "aud": "authenticated"})
		rec := do(protected(ja, repo), token)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("profile loaded", func(t *testing.T) {
		token := signToken(t, ja, map[string]interface{}{"sub": "sb-manager", "role": "authenticated", "aud": "authenticated"})
		rec := do(protected(ja, repo), token)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, manager.ID, rec.Header().Get("X-Profile-ID"))
	})

	t.Run("manager only allows managers", func(t *testing.T) {
		token := signToken(t, ja, map[string]interface{}{"sub": "sb-manager", "role": "authenticated", "aud": "authenticated"})
		rec := do(protected(ja, repo, ManagerOnly), token)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("manager only rejects operators", func(t *testing.T) {
		token := signToken(t, ja, map[string]interface{}{"sub": "sb-operator", "role": "authenticated", "aud": "authenticated"})
		rec := do(protected(ja, repo, ManagerOnly), token)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestManagerOnly_WithoutProfile(t *testing.T) {
	h := ManagerOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
