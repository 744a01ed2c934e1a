package response

import (
	"net/http"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/subscription"
)

// Output writes a workflow result as the body. Successful outputs are 200,
// failures use the status matching their kind.
func Output(w http.ResponseWriter, out subscription.Output) {
	writeJSON(w, StatusFor(out), out)
}

// StatusFor maps an Output to its HTTP status code.
func StatusFor(out subscription.Output) int {
	if out.IsValid {
		return http.StatusOK
	}
	switch out.Kind {
	case subscription.FailureNotFound:
		return http.StatusNotFound
	case subscription.FailureForbidden:
		return http.StatusForbidden
	case subscription.FailureConflict:
		return http.StatusConflict
	case subscription.FailureGateway:
		return http.StatusBadGateway
	case subscription.FailureInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}
