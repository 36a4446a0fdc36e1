package retriever

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"biblechat/internal/cache"
	"biblechat/internal/domain"
)

// scripted returns one queued response per call.
type scripted struct {
	calls     int
	responses []func() ([]domain.Passage, error)
}

func (s *scripted) Retrieve(ctx context.Context, query string, k int) ([]domain.Passage, error) {
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		return nil, errors.New("unexpected call")
	}
	return s.responses[i]()
}

func timeoutErr() ([]domain.Passage, error) {
	return nil, fmt.Errorf("%w: dial tcp", domain.ErrRetrievalTimeout)
}

func okResult() ([]domain.Passage, error) {
	return []domain.Passage{{Text: "Be kind", Source: "Ephesians 4:32", Score: 0.92}}, nil
}

func TestRetryingSucceedsWithinBudget(t *testing.T) {
	inner := &scripted{responses: []func() ([]domain.Passage, error){timeoutErr, timeoutErr, okResult}}
	r := NewRetrying(inner, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond})
	got, err := r.Retrieve(context.Background(), "forgiveness", 4)
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if len(got) != 1 || got[0].Source != "Ephesians 4:32" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 calls, got %d", inner.calls)
	}
}

func TestRetryingExhaustsBudget(t *testing.T) {
	inner := &scripted{responses: []func() ([]domain.Passage, error){timeoutErr, timeoutErr, timeoutErr}}
	r := NewRetrying(inner, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond})
	_, err := r.Retrieve(context.Background(), "q", 4)
	if !errors.Is(err, domain.ErrRetrievalTimeout) {
		t.Fatalf("expected ErrRetrievalTimeout, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 calls, got %d", inner.calls)
	}
}

func TestRetryingDoesNotRetryPolicyErrors(t *testing.T) {
	inner := &scripted{responses: []func() ([]domain.Passage, error){
		func() ([]domain.Passage, error) { return nil, domain.ErrPayloadTooLarge },
	}}
	r := NewRetrying(inner, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond})
	_, err := r.Retrieve(context.Background(), "q", 4)
	if !errors.Is(err, domain.ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("policy error retried: %d calls", inner.calls)
	}
}

func TestRetryingHonorsCancellation(t *testing.T) {
	inner := &scripted{responses: []func() ([]domain.Passage, error){timeoutErr, timeoutErr, timeoutErr}}
	r := NewRetrying(inner, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Retrieve(ctx, "q", 4)
	if !errors.Is(err, domain.ErrRetrievalTimeout) {
		t.Fatalf("expected ErrRetrievalTimeout on cancelled ctx, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 call before cancellation, got %d", inner.calls)
	}
}

func TestDelayIsCapped(t *testing.T) {
	p := RetryPolicy{BaseDelay: 200 * time.Millisecond, MaxDelay: time.Second}
	if got := p.Delay(1); got != 200*time.Millisecond {
		t.Errorf("attempt 1: got %v", got)
	}
	if got := p.Delay(10); got != time.Second {
		t.Errorf("attempt 10 should be capped: got %v", got)
	}
}

func TestCachedHitsSecondTime(t *testing.T) {
	inner := &scripted{responses: []func() ([]domain.Passage, error){okResult}}
	c := NewCached(inner, cache.NewMemory(), time.Minute)
	ctx := context.Background()

	first, err := c.Retrieve(ctx, "forgiveness", 4)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	second, err := c.Retrieve(ctx, "forgiveness", 4)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected a single upstream call, got %d", inner.calls)
	}
	if len(second) != len(first) || second[0].Source != first[0].Source {
		t.Errorf("cached result differs: %+v vs %+v", first, second)
	}
}

func TestCachedKeyIncludesK(t *testing.T) {
	inner := &scripted{responses: []func() ([]domain.Passage, error){okResult, okResult}}
	c := NewCached(inner, cache.NewMemory(), time.Minute)
	ctx := context.Background()
	if _, err := c.Retrieve(ctx, "q", 2); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Retrieve(ctx, "q", 3); err != nil {
		t.Fatal(err)
	}
	if inner.calls != 2 {
		t.Fatalf("different k must not share a cache entry: %d calls", inner.calls)
	}
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	inner := &scripted{responses: []func() ([]domain.Passage, error){timeoutErr, okResult}}
	c := NewCached(inner, cache.NewMemory(), time.Minute)
	ctx := context.Background()
	if _, err := c.Retrieve(ctx, "q", 4); err == nil {
		t.Fatal("expected error from first call")
	}
	got, err := c.Retrieve(ctx, "q", 4)
	if err != nil || len(got) != 1 {
		t.Fatalf("second call should reach upstream: %v %+v", err, got)
	}
}
