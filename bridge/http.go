package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTP posts each transfer as JSON to an accounting endpoint.
type HTTP struct {
	endpoint   string
	authToken  string
	httpClient *http.Client
}

// NewHTTP returns an HTTP bridge. Timeouts come from the context; wrap it in
// WithRetry to bound each attempt.
func NewHTTP(endpoint, authToken string) *HTTP {
	return &HTTP{
		endpoint:   endpoint,
		authToken:  strings.TrimSpace(authToken),
		httpClient: &http.Client{},
	}
}

// Forward sends the transfer. The payment id doubles as the downstream
// idempotency key so a retried attempt cannot book the payment twice.
func (h *HTTP) Forward(ctx context.Context, t Transfer) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", t.PaymentID)
	if h.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+h.authToken)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}

// StatusError is a non-2xx answer from the accounting system.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("accounting returned %d", e.StatusCode)
	}
	return fmt.Sprintf("accounting returned %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed if repeated.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}
