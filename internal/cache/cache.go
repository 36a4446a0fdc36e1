package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Store is a byte-value cache with per-entry TTL, used for request-level
// caching of retrieval results and full answers. Implementations are safe for
// concurrent use. Set is best-effort; a cache write failure never fails the
// request.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Key builds a namespaced cache key, hashing the raw input so arbitrary query
// text stays within backend key limits.
func Key(namespace, raw string) string {
	h := sha256.Sum256([]byte(raw))
	return namespace + ":" + hex.EncodeToString(h[:])
}
