// Package asaas is a thin HTTP adapter for the Asaas billing API (v3).
package asaas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
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

var tracer = otel.Tracer("asaas")

const serviceName = "asaas"

// ErrNotFound is returned when the resource does not exist in the
// configured environment (or was deleted).
var ErrNotFound = errors.New("asaas: resource not found")

// APIError represents a non-2xx Asaas answer.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("asaas API error [%d] %s: %s", e.StatusCode, e.Code, e.Description)
}

// Is lets errors.Is(err, ErrNotFound) match missing-resource answers.
func (e *APIError) Is(target error) bool {
	if target != ErrNotFound {
		return false
	}
	if e.StatusCode == http.StatusNotFound {
		return true
	}
	return e.StatusCode == http.StatusBadRequest &&
		(e.Code == "invalid_customer" || e.Code == "not_found" || strings.HasSuffix(e.Code, "_not_found"))
}

type errorResponse struct {
	Errors []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

// Client talks to the Asaas REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cb         *gobreaker.CircuitBreaker
	bulkhead   *resilience.Bulkhead
	retry      resilience.Config
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewClient creates a new Asaas client for the configured environment.
func NewClient(cfg config.AsaasConfig, httpClient *http.Client, retry resilience.Config, logger *zap.Logger, metrics *observability.Metrics) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		cb:         resilience.NewCircuitBreaker(serviceName),
		retry:      retry,
		logger:     logger,
		metrics:    metrics,
	}
	if retry.MaxConcurrency > 0 {
		c.bulkhead = resilience.NewBulkhead(retry.MaxConcurrency)
	}
	return c
}

// call wraps doRequest with tracing, a concurrency limit, circuit breaking,
// retries and metrics.
func (c *Client) call(ctx context.Context, operation, method, path string, body, out any) error {
	ctx, span := tracer.Start(ctx, "Asaas."+operation)
	defer span.End()
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("asaas.path", path),
	)

	if c.bulkhead != nil {
		if err := c.bulkhead.Acquire(ctx); err != nil {
			return err
		}
		defer c.bulkhead.Release()
	}

	start := time.Now()
	_, err := c.cb.Execute(func() (any, error) {
		var sent error
		err := resilience.RetryWithBackoff(ctx, c.retry, func() error {
			err := c.doRequest(ctx, method, path, body, out)
			if err != nil && !resilience.IsPermanent(err) && !retrySafe(method, err) {
				sent = err
				return resilience.Permanent(err)
			}
			return err
		})
		if sent != nil {
			return nil, sent
		}
		return nil, err
	})
	c.metrics.ObserveGateway(serviceName, operation, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, ErrNotFound) {
			c.metrics.IncrGatewayError(serviceName)
		}
		return err
	}
	return nil
}

// retrySafe reports whether a failed request can be repeated. A POST may
// have been committed by Asaas once it left the client, so it is repeated
// only when the connection was never made or Asaas rate limited it.
func retrySafe(method string, err error) bool {
	if method != http.MethodPost {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func (c *Client) doRequest(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return resilience.Permanent(fmt.Errorf("encode request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return resilience.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("access_token", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "lead-flow")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("asaas: request failed",
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
		apiErr := parseAPIError(resp.StatusCode, raw)
		c.logger.Warn("asaas: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code),
			zap.String("description", apiErr.Description),
		)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return apiErr
		}
		return resilience.Permanent(apiErr)
	}

	c.logger.Debug("asaas: request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resilience.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func parseAPIError(status int, raw []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	var parsed errorResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && len(parsed.Errors) > 0 {
		apiErr.Code = parsed.Errors[0].Code
		apiErr.Description = parsed.Errors[0].Description
		return apiErr
	}
	apiErr.Description = strings.TrimSpace(string(raw))
	return apiErr
}
