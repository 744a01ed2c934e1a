package response

import (
	"errors"
	"net/http"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/profile"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/subscription"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/validator"
)

// HandleError maps domain errors to HTTP responses
func HandleError(w http.ResponseWriter, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		ValidationError(w, validationErrs.ToMap())
		return
	}

	switch {
	case errors.Is(err, profile.ErrProfileNotFound):
		NotFound(w, subscription.MsgProfileNotFound)
	case errors.Is(err, profile.ErrNotManager):
		Forbidden(w, subscription.MsgNotManager)
	case errors.Is(err, profile.ErrOperatorNotOwned):
		Forbidden(w, subscription.MsgOperatorNotOwned)
	case errors.Is(err, profile.ErrEmailExists):
		Conflict(w, subscription.MsgEmailInUse)
	case errors.Is(err, profile.ErrVersionConflict):
		Conflict(w, subscription.MsgOperationInProgress)
	case errors.Is(err, subscription.ErrInvalidPaymentMethod):
		BadRequest(w, err.Error(), nil)
	case errors.Is(err, subscription.ErrNoLinkedSubscription):
		ValidationError(w, map[string]string{"subscription": subscription.MsgNoLinkedSubscription})
	default:
		InternalServerError(w, "An unexpected error occurred")
	}
}
