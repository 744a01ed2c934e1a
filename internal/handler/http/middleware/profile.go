package middleware

import (
	"context"
	"net/http"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/profile"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/subscription"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/handler/http/response"
)

type profileCtxKey struct{}

// LoadProfile resolves the caller's profile from the token subject and
// stores it in the request context.
func LoadProfile(profiles profile.ProfileService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			supabaseID, ok := SupabaseID(r)
			if !ok {
				response.Unauthorized(w, "unauthorized")
				return
			}

			p, err := profiles.GetBySupabaseID(r.Context(), supabaseID)
			if err != nil {
				response.HandleError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), profileCtxKey{}, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ProfileFromContext returns the profile stored by LoadProfile.
func ProfileFromContext(ctx context.Context) (profile.Profile, bool) {
	p, ok := ctx.Value(profileCtxKey{}).(profile.Profile)
	return p, ok
}

// ManagerOnly requires the loaded profile to be a manager.
func ManagerOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := ProfileFromContext(r.Context())
		if !ok {
			response.Unauthorized(w, "unauthorized")
			return
		}
		if !p.IsManager() {
			response.Forbidden(w, subscription.MsgNotManager)
			return
		}
		next.ServeHTTP(w, r)
	})
}
