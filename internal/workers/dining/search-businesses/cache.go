// internal/workers/dining/search-businesses/cache.go
package searchbusinesses

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"dinner-workers/internal/common/logger"
	"dinner-workers/internal/common/metrics"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "dining:search:"

// ResponseCache keeps complete search results for a short TTL. It only saves
// duplicate upstream calls; every failure is logged and treated as a miss.
type ResponseCache struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

// NewResponseCache returns nil when caching is disabled.
func NewResponseCache(client *redis.Client, ttl time.Duration, log logger.Logger) *ResponseCache {
	if client == nil || ttl <= 0 {
		return nil
	}
	return &ResponseCache{client: client, ttl: ttl, logger: log}
}

// CacheKey hashes the normalized request parameters.
func CacheKey(params url.Values, pages int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|pages=%d", params.Encode(), pages)))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *ResponseCache) Get(ctx context.Context, key string) (*Output, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		metrics.SearchCache.WithLabelValues("miss").Inc()
		return nil, false
	}
	if err != nil {
		metrics.SearchCache.WithLabelValues("error").Inc()
		c.logger.Warn("search cache read failed", map[string]interface{}{"error": err.Error()})
		return nil, false
	}

	var out Output
	if err := json.Unmarshal(data, &out); err != nil {
		metrics.SearchCache.WithLabelValues("error").Inc()
		c.logger.Warn("search cache entry is corrupt", map[string]interface{}{"key": key, "error": err.Error()})
		return nil, false
	}
	metrics.SearchCache.WithLabelValues("hit").Inc()
	out.Cached = true
	return &out, true
}

// Set stores a complete result. Warnings describe the request that produced
// it, not the result, so they are left out of the entry.
func (c *ResponseCache) Set(ctx context.Context, key string, out *Output) {
	if c == nil || out == nil || out.Partial {
		return
	}
	entry := *out
	entry.Warnings = nil
	data, err := json.Marshal(&entry)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("search cache write failed", map[string]interface{}{"error": err.Error()})
	}
}
