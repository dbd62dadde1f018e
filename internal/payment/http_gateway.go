// Package payment talks to the payment service over HTTP.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const idempotencyKeyHeader = "Idempotency-Key"

// Config holds the payment service client settings.
type Config struct {
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
}

// StatusError is returned for a non-2xx response from the payment service.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("payment service %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// HTTPGateway captures, refunds and checks authorization of booking payments.
type HTTPGateway struct {
	baseURL     string
	apiKey      string
	client      *http.Client
	maxAttempts int
	logger      *zap.Logger
}

// NewHTTPGateway creates a new HTTPGateway.
func NewHTTPGateway(cfg Config, logger *zap.Logger) *HTTPGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &HTTPGateway{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		client:      &http.Client{Timeout: cfg.Timeout},
		maxAttempts: cfg.MaxAttempts,
		logger:      logger.Named("payment-gateway"),
	}
}

type refundRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

type refundResponse struct {
	RefundID string `json:"refund_id"`
}

type authorizationResponse struct {
	Authorized bool `json:"authorized"`
}

// CaptureAuthorizedPayment captures the payment authorized for a booking.
func (g *HTTPGateway) CaptureAuthorizedPayment(ctx context.Context, bookingID uuid.UUID) error {
	return g.do(ctx, http.MethodPost, fmt.Sprintf("/v1/payments/%s/capture", bookingID), nil, nil, nil)
}

// IssueRefund refunds amount minor units of a booking's captured payment.
// Every attempt carries the same Idempotency-Key; without one, a key is generated per call.
func (g *HTTPGateway) IssueRefund(ctx context.Context, bookingID uuid.UUID, amount int64, idempotencyKey string) (string, error) {
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	header := http.Header{}
	header.Set(idempotencyKeyHeader, idempotencyKey)

	var resp refundResponse
	if err := g.do(ctx, http.MethodPost, fmt.Sprintf("/v1/payments/%s/refunds", bookingID), header, refundRequest{AmountCents: amount}, &resp); err != nil {
		return "", err
	}
	return resp.RefundID, nil
}

// IsAuthorized reports whether the booking's payment currently holds an authorization.
func (g *HTTPGateway) IsAuthorized(ctx context.Context, bookingID uuid.UUID) (bool, error) {
	var resp authorizationResponse
	if err := g.do(ctx, http.MethodGet, fmt.Sprintf("/v1/payments/%s/authorization", bookingID), nil, nil, &resp); err != nil {
		return false, err
	}
	return resp.Authorized, nil
}

// do sends one request, retrying transport errors and 5xx responses.
func (g *HTTPGateway) do(ctx context.Context, method, path string, header http.Header, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode payment request: %w", err)
		}
	}

	op := func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		for name, values := range header {
			req.Header[name] = values
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if g.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+g.apiKey)
		}

		resp, err := g.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			statusErr := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
			if resp.StatusCode >= 500 {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode payment response: %w", err))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	notify := func(err error, wait time.Duration) {
		g.logger.Warn("retrying payment request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	return backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(g.maxAttempts-1)), ctx), notify)
}
