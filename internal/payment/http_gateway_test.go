package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

func newTestGateway(t *testing.T, h http.HandlerFunc) *HTTPGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPGateway(Config{BaseURL: srv.URL + "/", APIKey: "secret", Timeout: time.Second, MaxAttempts: 3}, zap.NewNop())
}

func TestHTTPGateway_Capture(t *testing.T) {
	id := uuid.New()
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payments/"+id.String()+"/capture", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, gw.CaptureAuthorizedPayment(context.Background(), id))
}

func TestHTTPGateway_Refund(t *testing.T) {
	id := uuid.New()
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		var req refundRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(3000), req.AmountCents)
		_ = json.NewEncoder(w).Encode(refundResponse{RefundID: "rf_123"})
	})

	refundID, err := gw.IssueRefund(context.Background(), id, 3000, id.String()+":v4:refund")
	require.NoError(t, err)
	assert.Equal(t, "rf_123", refundID)
}

func TestHTTPGateway_RefundRetriesReuseIdempotencyKey(t *testing.T) {
	id := uuid.New()
	var mu sync.Mutex
	var keys []string
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		first := len(keys) == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(refundResponse{RefundID: "rf_456"})
	})

	_, err := gw.IssueRefund(context.Background(), id, 3000, id.String()+":v4:refund")
	require.NoError(t, err)

	require.Len(t, keys, 2)
	assert.Equal(t, id.String()+":v4:refund", keys[0])
	assert.Equal(t, keys[0], keys[1])
}

func TestHTTPGateway_RefundWithoutKeyStillSendsOneAcrossRetries(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		first := len(keys) == 1
		mu.Unlock()
		if first {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(refundResponse{RefundID: "rf_789"})
	})

	_, err := gw.IssueRefund(context.Background(), uuid.New(), 500, "")
	require.NoError(t, err)

	require.Len(t, keys, 2)
	assert.NotEmpty(t, keys[0])
	assert.Equal(t, keys[0], keys[1])
}

func TestHTTPGateway_IsAuthorized(t *testing.T) {
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		_ = json.NewEncoder(w).Encode(authorizationResponse{Authorized: true})
	})

	ok, err := gw.IsAuthorized(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHTTPGateway_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Inc() < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, gw.CaptureAuthorizedPayment(context.Background(), uuid.New()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPGateway_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Inc()
		http.Error(w, "card declined", http.StatusPaymentRequired)
	})

	err := gw.CaptureAuthorizedPayment(context.Background(), uuid.New())
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusPaymentRequired, statusErr.StatusCode)
	assert.Equal(t, "card declined", statusErr.Body)
	assert.Equal(t, int32(1), calls.Load())
}
