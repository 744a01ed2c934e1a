package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/subscription"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/handler/http/middleware"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/handler/http/response"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/validator"
)

type OperatorHandler interface {
	Checkout(w http.ResponseWriter, r *http.Request)
	GetPaymentStatus(w http.ResponseWriter, r *http.Request)
	ConfirmPayment(w http.ResponseWriter, r *http.Request)
	Remove(w http.ResponseWriter, r *http.Request)
}

type operatorHandlerImpl struct {
	upgrades subscription.UpgradeService
	now      func() time.Time
}

func NewOperatorHandler(upgrades subscription.UpgradeService) OperatorHandler {
	return &operatorHandlerImpl{upgrades: upgrades, now: time.Now}
}

// Checkout opens the payment of a new seat
// POST /api/v1/operators/checkout - Manager only
func (h *operatorHandlerImpl) Checkout(w http.ResponseWriter, r *http.Request) {
	manager, ok := middleware.ProfileFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req subscription.CreateOperatorPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Output(w, subscription.Failure(subscription.FailureValidation, subscription.MsgInvalidRequest))
		return
	}

	method, verrs := req.PaymentMethod.Decode(clientIP(r), h.now())
	if len(verrs) > 0 {
		response.Output(w, subscription.ValidationFailure(verrs))
		return
	}

	candidate := subscription.OperatorCandidate{Name: req.Name, Email: req.Email, Role: req.Role}
	response.Output(w, h.upgrades.CreateOperatorPayment(r.Context(), manager.ID, candidate, method))
}

// GetPaymentStatus polls a seat payment
// GET /api/v1/operators/payments/{paymentId} - Manager only
func (h *operatorHandlerImpl) GetPaymentStatus(w http.ResponseWriter, r *http.Request) {
	manager, ok := middleware.ProfileFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	paymentID := chi.URLParam(r, "paymentId")
	if paymentID == "" {
		response.BadRequest(w, "payment ID is required", nil)
		return
	}
	response.Output(w, h.upgrades.CheckOperatorPaymentStatus(r.Context(), manager.ID, paymentID))
}

// ConfirmPayment provisions the operator once the seat payment is confirmed
// POST /api/v1/operators/payments/{paymentId}/confirm - Manager only
func (h *operatorHandlerImpl) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	manager, ok := middleware.ProfileFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	paymentID := chi.URLParam(r, "paymentId")
	if paymentID == "" {
		response.BadRequest(w, "payment ID is required", nil)
		return
	}
	response.Output(w, h.upgrades.ConfirmPaymentAndCreateOperator(r.Context(), manager.ID, paymentID))
}

// Remove deletes an operator and lowers the subscription value
// DELETE /api/v1/operators/{operatorId} - Manager only
func (h *operatorHandlerImpl) Remove(w http.ResponseWriter, r *http.Request) {
	manager, ok := middleware.ProfileFromContext(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	operatorID := chi.URLParam(r, "operatorId")
	if !validator.IsValidUUID(operatorID) {
		response.Output(w, subscription.Failure(subscription.FailureNotFound, subscription.MsgOperatorNotFound))
		return
	}
	response.Output(w, h.upgrades.RemoveOperatorAndUpdateSubscription(r.Context(), manager.ID, operatorID))
}
