package bridge

import (
	"context"
	"errors"
	"time"
)

// retryPause is the delay before the single retry.
const retryPause = 100 * time.Millisecond

// Retrying bounds every attempt with a timeout and retries transient
// failures at most once.
type Retrying struct {
	next    Bridge
	timeout time.Duration
	retries int
}

// WithRetry wraps next. retries is clamped to [0, 1].
func WithRetry(next Bridge, timeout time.Duration, retries int) *Retrying {
	if retries < 0 {
		retries = 0
	}
	if retries > 1 {
		retries = 1
	}
	return &Retrying{next: next, timeout: timeout, retries: retries}
}

func (r *Retrying) Forward(ctx context.Context, t Transfer) error {
	var err error
	for attempt := 0; attempt <= r.retries; attempt++ {
		err = r.attempt(ctx, t)
		if err == nil {
			return nil
		}
		if attempt == r.retries || !isTransient(ctx, err) {
			break
		}

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(retryPause):
		}
	}
	return err
}

func (r *Retrying) attempt(ctx context.Context, t Transfer) error {
	if r.timeout <= 0 {
		return r.next.Forward(ctx, t)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.next.Forward(attemptCtx, t)
}

// isTransient reports whether err is worth one more attempt. Definite
// rejections (4xx) are not; timeouts and 5xx are. A done parent context
// never is.
func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Temporary()
	}
	return true
}
