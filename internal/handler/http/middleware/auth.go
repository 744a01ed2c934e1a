package middleware

import (
	"net/http"

	"github.com/go-chi/jwtauth/v5"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/handler/http/response"
)

// authenticatedRole is both the role and the audience Supabase puts in
// tokens of signed-in users.
const authenticatedRole = "authenticated"

// AuthRequired rejects requests without a verified Supabase access token.
// It runs after jwtauth.Verifier.
func AuthRequired(next http.Handler) http.Handler {
	hfn := func(w http.ResponseWriter, r *http.Request) {
		token, claims, err := jwtauth.FromContext(r.Context())
		if err != nil {
			response.Unauthorized(w, err.Error())
			return
		}
		if token == nil {
			response.Unauthorized(w, "invalid token")
			return
		}

		if err := jwt.Validate(token, jwt.WithAudience(authenticatedRole)); err != nil {
			response.Unauthorized(w, "invalid token audience")
			return
		}

		sub, ok := claims["sub"].(string)
		if !ok || sub == "" {
			response.Unauthorized(w, "invalid token subject")
			return
		}
		if role, _ := claims["role"].(string); role != authenticatedRole {
			response.Unauthorized(w, "invalid token role")
			return
		}

		next.ServeHTTP(w, r)
	}
	return http.HandlerFunc(hfn)
}

// SupabaseID returns the subject of the verified token.
func SupabaseID(r *http.Request) (string, bool) {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		return "", false
	}
	sub, ok := claims["sub"].(string)
	return sub, ok && sub != ""
}
