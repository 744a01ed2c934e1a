package http

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/subscription"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/handler/http/middleware"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/handler/http/response"
)

type SubscriptionHandler interface {
	Create(w http.ResponseWriter, r *http.Request)
	GetMine(w http.ResponseWriter, r *http.Request)
	Reactivate(w http.ResponseWriter, r *http.Request)
}

type subscriptionHandlerImpl struct {
	creation subscription.CreationService
	upgrades subscription.UpgradeService
	now      func() time.Time
}

// NewSubscriptionHandler creates a new subscription handler
func NewSubscriptionHandler(creation subscription.CreationService, upgrades subscription.UpgradeService) SubscriptionHandler {
	return &subscriptionHandlerImpl{
		creation: creation,
		upgrades: upgrades,
		now:      time.Now,
	}
}

// Create opens the manager's subscription
// POST /api/v1/subscriptions - Authenticated
func (h *subscriptionHandlerImpl) Create(w http.ResponseWriter, r *http.Request) {
	supabaseID, ok := middleware.SupabaseID(r)
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req subscription.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Output(w, subscription.Failure(subscription.FailureValidation, subscription.MsgInvalidRequest))
		return
	}

	method, verrs := req.PaymentMethod.Decode(clientIP(r), h.now())
	if len(verrs) > 0 {
		response.Output(w, subscription.ValidationFailure(verrs))
		return
	}

	out := h.creation.CreateSubscription(r.Context(), subscription.CreateSubscriptionInput{
		SupabaseID:    supabaseID,
		Name:          req.Name,
		Email:         req.Email,
		CpfCnpj:       req.CpfCnpj,
		Phone:         req.Phone,
		PaymentMethod: method,
	})
	response.Output(w, out)
}

// GetMine returns the caller's subscription status
// GET /api/v1/subscriptions/me - Authenticated
func (h *subscriptionHandlerImpl) GetMine(w http.ResponseWriter, r *http.Request) {
	supabaseID, ok := middleware.SupabaseID(r)
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}
	response.Output(w, h.creation.GetSubscriptionStatus(r.Context(), supabaseID))
}

// Reactivate replaces a canceled subscription
// POST /api/v1/subscriptions/reactivate - Authenticated
func (h *subscriptionHandlerImpl) Reactivate(w http.ResponseWriter, r *http.Request) {
	supabaseID, ok := middleware.SupabaseID(r)
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req subscription.ReactivateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Output(w, subscription.Failure(subscription.FailureValidation, subscription.MsgInvalidRequest))
		return
	}

	method, verrs := req.PaymentMethod.Decode(clientIP(r), h.now())
	if len(verrs) > 0 {
		response.Output(w, subscription.ValidationFailure(verrs))
		return
	}

	out := h.upgrades.ReactivateSubscription(r.Context(), subscription.ReactivateInput{
		SupabaseID:    supabaseID,
		OperatorCount: req.OperatorCount,
		PaymentMethod: method,
	})
	response.Output(w, out)
}

// clientIP is forwarded to the gateway with card payments. RealIP has
// already rewritten RemoteAddr behind a proxy.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
