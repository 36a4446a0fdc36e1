package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"biblechat/internal/cache"
	"biblechat/internal/domain"
)

// Cached wraps a Retriever with a request-level cache keyed by (query, k),
// so repeated identical queries within a session skip the network round trip.
type Cached struct {
	inner domain.Retriever
	store cache.Store
	ttl   time.Duration
}

// NewCached wraps inner with the given cache store.
func NewCached(inner domain.Retriever, store cache.Store, ttl time.Duration) *Cached {
	return &Cached{inner: inner, store: store, ttl: ttl}
}

func (c *Cached) Retrieve(ctx context.Context, query string, k int) ([]domain.Passage, error) {
	key := cache.Key("retrieve", fmt.Sprintf("%d:%s", k, query))
	if data, ok := c.store.Get(ctx, key); ok {
		var passages []domain.Passage
		if err := json.Unmarshal(data, &passages); err == nil {
			return passages, nil
		}
	}
	passages, err := c.inner.Retrieve(ctx, query, k)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(passages); err == nil {
		c.store.Set(ctx, key, data, c.ttl)
	}
	return passages, nil
}
