package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/profile"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/subscription"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		out  subscription.Output
		want int
	}{
		{"success", subscription.Success(nil), http.StatusOK},
		{"validation", subscription.Failure(subscription.FailureValidation, "x"), http.StatusUnprocessableEntity},
		{"not found", subscription.Failure(subscription.FailureNotFound, "x"), http.StatusNotFound},
		{"forbidden", subscription.Failure(subscription.FailureForbidden, "x"), http.StatusForbidden},
		{"conflict", subscription.Failure(subscription.FailureConflict, "x"), http.StatusConflict},
		{"gateway", subscription.Failure(subscription.FailureGateway, "x"), http.StatusBadGateway},
		{"internal", subscription.Failure(subscription.FailureInternal, "x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.out))
		})
	}
}

func TestOutput_WritesEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Output(rec, subscription.Failure(subscription.FailureGateway, subscription.MsgCheckoutFailed))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["isValid"])
	assert.Equal(t, []any{subscription.MsgCheckoutFailed}, body["errorMessages"])
	assert.Equal(t, []any{}, body["successMessages"])
	assert.NotContains(t, body, "Kind")
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{validator.ValidationErrors{{Field: "email", Message: "Email inválido"}}, http.StatusUnprocessableEntity},
		{fmt.Errorf("load: %w", profile.ErrProfileNotFound), http.StatusNotFound},
		{profile.ErrNotManager, http.StatusForbidden},
		{profile.ErrEmailExists, http.StatusConflict},
		{profile.ErrVersionConflict, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			HandleError(rec, tt.err)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	BadRequest(rec, "Invalid payload", map[string]string{"event": "required"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	require.NotNil(t, body.Error)
	assert.Equal(t, "BAD_REQUEST", body.Error.Code)
	assert.Equal(t, map[string]string{"event": "required"}, body.Error.Details)
}
