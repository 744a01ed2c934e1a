package profile

import "context"

// ProfileService resolves the caller's profile for HTTP middleware.
type ProfileService interface {
	GetBySupabaseID(ctx context.Context, supabaseID string) (Profile, error)
}
