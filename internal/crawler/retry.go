package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"net"
	"net/http"
	"time"
)

// RetryPolicy decides whether a page fetch is attempted again.
type RetryPolicy interface {
	ShouldRetry(resp FetchResponse, err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// JitteredBackoff retries network timeouts, 429 and 5xx responses with a
// doubling, half-jittered delay.
type JitteredBackoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewJitteredBackoff returns a policy allowing maxAttempts fetches per page.
func NewJitteredBackoff(maxAttempts int) *JitteredBackoff {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &JitteredBackoff{
		MaxAttempts: maxAttempts,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// ShouldRetry implements RetryPolicy. attempt counts from 1.
func (p *JitteredBackoff) ShouldRetry(resp FetchResponse, err error, attempt int) bool {
	if p == nil || attempt >= p.MaxAttempts {
		return false
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return netErr.Timeout()
		}
		return false
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
}

// Backoff implements RetryPolicy.
func (p *JitteredBackoff) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay << max(attempt-1, 0)
	if delay <= 0 || delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	half := delay / 2
	return half + jitter(half)
}

func jitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
