// Package supabase wraps the Supabase Auth (GoTrue) admin API used to
// provision invited operator accounts.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/matheuswillock/lead-flow-app-sub001/internal/config"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/observability"
	"github.com/matheuswillock/lead-flow-app-sub001/internal/pkg/resilience"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

const serviceName = "supabase"

var (
	ErrUserAlreadyExists = errors.New("supabase: user already registered")
	ErrEmptyActionLink   = errors.New("supabase: invite link missing from response")
)

// InviteRequest describes the invited account.
type InviteRequest struct {
	Email      string
	RedirectTo string
	Metadata   map[string]any
}

// InviteLink is the created identity plus the link that lets the user set a password.
type InviteLink struct {
	UserID     string
	ActionLink string
}

type generateLinkBody struct {
	Type       string         `json:"type"`
	Email      string         `json:"email"`
	Data       map[string]any `json:"data,omitempty"`
	RedirectTo string         `json:"redirect_to,omitempty"`
}

// generateLinkResponse covers both GoTrue answer shapes: legacy flat
// fields and the newer "properties" object.
type generateLinkResponse struct {
	ID         string `json:"id"`
	ActionLink string `json:"action_link"`
	User       *struct {
		ID string `json:"id"`
	} `json:"user,omitempty"`
	Properties *struct {
		ActionLink string `json:"action_link"`
	} `json:"properties,omitempty"`
}

type apiError struct {
	Code      any    `json:"code"`
	ErrorCode string `json:"error_code"`
	Msg       string `json:"msg"`
	Message   string `json:"message"`
}

// Client calls the GoTrue admin endpoints with the service-role key.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	retry          resilience.Config
	logger         *zap.Logger
	metrics        *observability.Metrics
}

// NewClient creates a Supabase admin client.
func NewClient(cfg config.SupabaseConfig, httpClient *http.Client, retry resilience.Config, logger *zap.Logger, metrics *observability.Metrics) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(cfg.URL, "/"),
		serviceRoleKey: cfg.ServiceRoleKey,
		cb:             resilience.NewCircuitBreaker(serviceName),
		retry:          retry,
		logger:         logger,
		metrics:        metrics,
	}
}

// GenerateInviteLink creates an invited user and returns its id and invite link.
func (c *Client) GenerateInviteLink(ctx context.Context, req InviteRequest) (*InviteLink, error) {
	return c.generateLink(ctx, "GenerateInviteLink", "invite", req)
}

// GenerateRecoveryLink returns a set-password link for a user that already
// exists, such as one invited by an attempt whose email never went out.
func (c *Client) GenerateRecoveryLink(ctx context.Context, req InviteRequest) (*InviteLink, error) {
	return c.generateLink(ctx, "GenerateRecoveryLink", "recovery", req)
}

func (c *Client) generateLink(ctx context.Context, operation, linkType string, req InviteRequest) (*InviteLink, error) {
	ctx, span := tracer.Start(ctx, "Supabase."+operation)
	defer span.End()
	span.SetAttributes(
		attribute.String("user.email", req.Email),
		attribute.String("link.type", linkType),
	)

	body := generateLinkBody{
		Type:       linkType,
		Email:      req.Email,
		RedirectTo: req.RedirectTo,
	}
	if linkType == "invite" {
		body.Data = req.Metadata
	}

	var out generateLinkResponse
	start := time.Now()
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.retry, func() error {
			return c.doRequest(ctx, http.MethodPost, "/auth/v1/admin/generate_link", body, &out)
		})
	})
	c.metrics.ObserveGateway(serviceName, operation, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, ErrUserAlreadyExists) {
			c.metrics.IncrGatewayError(serviceName)
		}
		return nil, fmt.Errorf("generate %s link: %w", linkType, err)
	}

	link := &InviteLink{UserID: out.ID, ActionLink: out.ActionLink}
	if link.UserID == "" && out.User != nil {
		link.UserID = out.User.ID
	}
	if link.ActionLink == "" && out.Properties != nil {
		link.ActionLink = out.Properties.ActionLink
	}
	if link.ActionLink == "" || link.UserID == "" {
		return nil, ErrEmptyActionLink
	}
	return link, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return resilience.Permanent(fmt.Errorf("encode request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return resilience.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("apikey", c.serviceRoleKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceRoleKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("supabase: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		msg := apiErr.Msg
		if msg == "" {
			msg = apiErr.Message
		}
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("error_code", apiErr.ErrorCode),
			zap.String("message", msg),
		)

		if apiErr.ErrorCode == "email_exists" || apiErr.ErrorCode == "user_already_exists" ||
			strings.Contains(strings.ToLower(msg), "already been registered") {
			return resilience.Permanent(ErrUserAlreadyExists)
		}
		statusErr := fmt.Errorf("supabase returned status %d: %s", resp.StatusCode, msg)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return statusErr
		}
		return resilience.Permanent(statusErr)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return resilience.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
