package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTransfer() Transfer {
	return Transfer{
		PaymentID:   "pay-42",
		InvoiceID:   "inv-7",
		ClientName:  "Lumen Events",
		Amount:      decimal.RequireFromString("1500.00"),
		Date:        "2025-08-01",
		Method:      "bank_transfer",
		Description: "Payment for invoice INV-0007",
	}
}

func TestHTTP_Forward_PostsJSON(t *testing.T) {
	// GIVEN: An accounting endpoint that accepts transfers
	// WHEN: Forwarding a transfer
	// THEN: It receives the JSON body, auth header and idempotency key

	var got Transfer
	var auth, key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		key = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	err := NewHTTP(srv.URL, " secret ").Forward(context.Background(), sampleTransfer())
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "pay-42", key)
	assert.Equal(t, "inv-7", got.InvoiceID)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("1500")))
	assert.Equal(t, "bank_transfer", got.Method)
}

func TestHTTP_Forward_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "ledger closed for audit", http.StatusConflict)
	}))
	defer srv.Close()

	err := NewHTTP(srv.URL, "").Forward(context.Background(), sampleTransfer())

	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusConflict, status.StatusCode)
	assert.Contains(t, err.Error(), "ledger closed for audit")
	assert.False(t, status.Temporary())
}

func TestWithRetry_RetriesOnceOnServerError(t *testing.T) {
	// GIVEN: An endpoint failing with 503 on the first call only
	// THEN: The single retry succeeds

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := WithRetry(NewHTTP(srv.URL, ""), time.Second, 1).Forward(context.Background(), sampleTransfer())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestWithRetry_AtMostOneRetry(t *testing.T) {
	var calls atomic.Int32
	b := Func(func(ctx context.Context, tr Transfer) error {
		calls.Add(1)
		return errors.New("connection refused")
	})

	err := WithRetry(b, time.Second, 5).Forward(context.Background(), sampleTransfer())
	assert.EqualError(t, err, "connection refused")
	assert.Equal(t, int32(2), calls.Load(), "retries are clamped to one")
}

func TestWithRetry_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	b := Func(func(ctx context.Context, tr Transfer) error {
		calls.Add(1)
		return &StatusError{StatusCode: http.StatusBadRequest}
	})

	err := WithRetry(b, time.Second, 1).Forward(context.Background(), sampleTransfer())
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWithRetry_TimeoutPerAttempt(t *testing.T) {
	// GIVEN: A downstream that hangs until its context is done
	// WHEN: Each attempt is bounded by 20ms with one retry
	// THEN: Forward gives up with DeadlineExceeded well under a second

	var calls atomic.Int32
	b := Func(func(ctx context.Context, tr Transfer) error {
		calls.Add(1)
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	err := WithRetry(b, 20*time.Millisecond, 1).Forward(context.Background(), sampleTransfer())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(2), calls.Load())
	assert.Less(t, time.Since(start), time.Second)
}

func TestWithRetry_ParentCanceled_NoRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	b := Func(func(ctx context.Context, tr Transfer) error {
		calls.Add(1)
		cancel()
		return errors.New("aborted")
	})

	err := WithRetry(b, time.Second, 1).Forward(ctx, sampleTransfer())
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop{}.Forward(context.Background(), sampleTransfer()))
}
