package http

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/domain/subscription"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/handler/http/response"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/asaas"
	"go.uber.org/zap"
)

// maxWebhookBody bounds the payload read from the gateway.
const maxWebhookBody = 1 << 20

type WebhookHandler interface {
	HandleAsaas(w http.ResponseWriter, r *http.Request)
}

type webhookHandlerImpl struct {
	webhooks subscription.WebhookService
	verifier *asaas.WebhookVerifier
	logger   *zap.Logger
}

func NewWebhookHandler(webhooks subscription.WebhookService, verifier *asaas.WebhookVerifier, logger *zap.Logger) WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &webhookHandlerImpl{webhooks: webhooks, verifier: verifier, logger: logger.Named("webhook")}
}

// HandleAsaas processes Asaas notifications
// POST /api/v1/webhooks/asaas - Public (token verified)
func (h *webhookHandlerImpl) HandleAsaas(w http.ResponseWriter, r *http.Request) {
	if !h.verifier.Verify(r.Header.Get(asaas.WebhookTokenHeader)) {
		h.logger.Warn("webhook rejected: invalid access token")
		response.Unauthorized(w, "invalid webhook token")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(w, "failed to read request body", nil)
		return
	}

	var event asaas.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		response.BadRequest(w, "invalid webhook payload", nil)
		return
	}

	if err := h.webhooks.HandleEvent(r.Context(), event); err != nil {
		// Any non-2xx makes the gateway deliver again.
		response.InternalServerError(w, "webhook processing failed")
		return
	}

	response.Success(w, map[string]bool{"received": true})
}
