package embeddings

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CachedEmbedder memoises another embedder's vectors in Redis.
// Cache failures are logged and never fail an Encode.
type CachedEmbedder struct {
	next   Embedder
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
	hits   int64
	mu     sync.Mutex
}

// NewCachedEmbedder wraps next with a Redis cache
func NewCachedEmbedder(next Embedder, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedEmbedder {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedEmbedder{
		next:   next,
		client: client,
		ttl:    ttl,
		prefix: "embedding:" + next.Stats().ServiceType + ":",
		logger: logger,
	}
}

// Encode returns the cached vector for text or computes and stores it
func (c *CachedEmbedder) Encode(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	if vec, err := c.get(ctx, key); err == nil {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return vec, nil
	} else if err != redis.Nil {
		c.logger.Debug("Embedding cache read failed", zap.Error(err))
	}

	vec, err := c.next.Encode(ctx, text)
	if err != nil {
		return nil, err
	}

	c.set(ctx, key, vec)
	return vec, nil
}

// Stats returns the wrapped embedder's statistics plus cache hits
func (c *CachedEmbedder) Stats() ModelStats {
	stats := c.next.Stats()
	c.mu.Lock()
	stats.CacheHits = c.hits
	c.mu.Unlock()
	return stats
}

// Close closes the wrapped embedder
func (c *CachedEmbedder) Close() error {
	return c.next.Close()
}

func (c *CachedEmbedder) get(ctx context.Context, key string) ([]float32, error) {
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	// comma-separated floats
	parts := strings.Split(data, ",")
	embedding := make([]float32, len(parts))
	for i, part := range parts {
		val, err := strconv.ParseFloat(part, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse cached embedding: %w", ErrCacheError, err)
		}
		embedding[i] = float32(val)
	}
	return embedding, nil
}

func (c *CachedEmbedder) set(ctx context.Context, key string, embedding []float32) {
	parts := make([]string, len(embedding))
	for i, val := range embedding {
		parts[i] = strconv.FormatFloat(float64(val), 'g', -1, 32)
	}

	if err := c.client.Set(ctx, key, strings.Join(parts, ","), c.ttl).Err(); err != nil {
		c.logger.Warn("Failed to cache embedding", zap.Error(err))
	}
}

func (c *CachedEmbedder) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s%x", c.prefix, hash[:8])
}
