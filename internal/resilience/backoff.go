// Package resilience provides the retry backoff policy and proxy rotation
// applied to outbound fetch requests. The policy is a plain, independently
// testable type; the Retrier is the thin adapter schedulers call, so neither
// is coupled to any fetch framework.
package resilience

import (
	"context"
	"errors"
	"math"
	"net"
	"time"

	"github.com/sociallens/social-ingest/internal/metrics"
)

// ErrExhausted is surfaced once the attempt cap is exceeded. It wraps the
// last underlying failure so callers can still classify it.
var ErrExhausted = errors.New("retry attempts exhausted")

// BackoffPolicy computes exponential delays capped at MaxDelay.
type BackoffPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultBackoffPolicy returns the policy used when no configuration is
// supplied.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns the wait before retry number attempt (1-based):
// min(base * 2^(attempt-1), max). Attempts below one are treated as one.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	exp := float64(attempt - 1)
	if exp < 0 {
		exp = 0
	}
	delay := float64(p.BaseDelay) * math.Pow(2, exp)
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Retryable reports whether the error is worth retrying. Context
// cancellation is terminal; network timeouts and temporary conditions are
// retryable, as are generic transient errors from the fetch boundary.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// Retrier runs an operation under the backoff policy, recording each
// scheduled delay so the sequence is observable after the fact.
type Retrier struct {
	policy BackoffPolicy

	// sleep is injectable for tests; defaults to a context-aware wait.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier builds a Retrier. Zero policy fields fall back to defaults.
func NewRetrier(policy BackoffPolicy) *Retrier {
	def := DefaultBackoffPolicy()
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = def.BaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = def.MaxDelay
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	metrics.Init()
	return &Retrier{policy: policy, sleep: sleepCtx}
}

// Policy returns the effective backoff policy.
func (r *Retrier) Policy() BackoffPolicy {
	return r.policy
}

// Do invokes op until it succeeds, the error is classified terminal, or the
// attempt cap is reached. The returned schedule holds every delay that was
// applied, in order. Exhaustion is reported via ErrExhausted wrapping the
// last failure, never silently dropped.
func (r *Retrier) Do(ctx context.Context, reason string, op func(ctx context.Context) error) ([]time.Duration, error) {
	var schedule []time.Duration
	var lastErr error

	for attempt := 0; ; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return schedule, nil
		}
		if !Retryable(lastErr) {
			return schedule, lastErr
		}
		retryNum := attempt + 1
		if retryNum > r.policy.MaxAttempts {
			return schedule, errors.Join(ErrExhausted, lastErr)
		}

		delay := r.policy.Delay(retryNum)
		schedule = append(schedule, delay)
		metrics.ObserveRetryDelay(reason, delay)
		if err := r.sleep(ctx, delay); err != nil {
			return schedule, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
