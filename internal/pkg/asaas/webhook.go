package asaas

import (
	"crypto/subtle"
	"strings"
)

// WebhookTokenHeader carries the token configured in the Asaas dashboard.
const WebhookTokenHeader = "asaas-access-token"

// WebhookVerifier checks the authentication token sent with webhooks.
type WebhookVerifier struct {
	webhookToken string
}

func NewWebhookVerifier(webhookToken string) *WebhookVerifier {
	return &WebhookVerifier{webhookToken: strings.TrimSpace(webhookToken)}
}

// Verify compares the received token in constant time.
func (v *WebhookVerifier) Verify(token string) bool {
	if v.webhookToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(v.webhookToken)) == 1
}

type EventType string

const (
	EventPaymentCreated          EventType = "PAYMENT_CREATED"
	EventPaymentConfirmed        EventType = "PAYMENT_CONFIRMED"
	EventPaymentReceived         EventType = "PAYMENT_RECEIVED"
	EventPaymentOverdue          EventType = "PAYMENT_OVERDUE"
	EventPaymentRefunded         EventType = "PAYMENT_REFUNDED"
	EventPaymentDeleted          EventType = "PAYMENT_DELETED"
	EventSubscriptionDeleted     EventType = "SUBSCRIPTION_DELETED"
	EventSubscriptionInactivated EventType = "SUBSCRIPTION_INACTIVATED"
)

// WebhookEvent is the envelope Asaas posts for payment and subscription events.
type WebhookEvent struct {
	ID           string        `json:"id"`
	Event        EventType     `json:"event"`
	DateCreated  string        `json:"dateCreated"`
	Payment      *Payment      `json:"payment,omitempty"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

// DedupKey identifies the event for idempotent processing. Older payloads
// without an id fall back to event type plus resource id.
func (e WebhookEvent) DedupKey() string {
	if e.ID != "" {
		return e.ID
	}
	switch {
	case e.Payment != nil:
		return string(e.Event) + ":" + e.Payment.ID
	case e.Subscription != nil:
		return string(e.Event) + ":" + e.Subscription.ID
	}
	return ""
}
