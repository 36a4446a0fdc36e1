package retriever

import (
	"context"
	"fmt"
	"time"

	"biblechat/internal/domain"
)

// RetryPolicy bounds how transient retrieval failures are retried. The
// numbers are configuration, not contract; see config defaults.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Delay returns the exponential backoff before the given attempt (1-based),
// capped at MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Retrying wraps a Retriever with bounded backoff retries for the transient
// error class. Policy errors pass through untouched on the first failure.
type Retrying struct {
	inner  domain.Retriever
	policy RetryPolicy
}

// NewRetrying wraps inner with the given policy. MaxAttempts < 1 is treated
// as a single attempt.
func NewRetrying(inner domain.Retriever, policy RetryPolicy) *Retrying {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 200 * time.Millisecond
	}
	return &Retrying{inner: inner, policy: policy}
}

func (r *Retrying) Retrieve(ctx context.Context, query string, k int) ([]domain.Passage, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(r.policy.Delay(attempt - 1)):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", domain.ErrRetrievalTimeout, ctx.Err())
			}
		}
		passages, err := r.inner.Retrieve(ctx, query, k)
		if err == nil {
			return passages, nil
		}
		if !domain.Transient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
