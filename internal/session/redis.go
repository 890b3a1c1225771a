package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raaihank/sentinel-chat/internal/entity"
)

// RedisConfig configures the Redis snapshot repository
type RedisConfig struct {
	RedisURL       string `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int    `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int    `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	KeyPrefix      string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// RedisStats reports repository usage
type RedisStats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRate     float64 `json:"hit_rate"`
	TotalKeys   int64   `json:"total_keys"`
	MemoryUsage int64   `json:"memory_usage_bytes"`
}

// RedisRepository stores entity snapshots as JSON under <prefix>:<id>
type RedisRepository struct {
	client *redis.Client
	config RedisConfig
	logger *zap.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisRepository connects to Redis and verifies the connection
func NewRedisRepository(config RedisConfig, logger *zap.Logger) (*RedisRepository, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if config.MaxConnections > 0 {
		opts.PoolSize = config.MaxConnections
	}
	opts.MinIdleConns = config.MinIdleConns

	repo := newRedisRepository(redis.NewClient(opts), config, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := repo.client.Ping(ctx).Err(); err != nil {
		repo.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Session repository initialized",
		zap.String("redis_url", maskRedisURL(config.RedisURL)),
		zap.Int("max_connections", config.MaxConnections),
		zap.String("key_prefix", repo.config.KeyPrefix))

	return repo, nil
}

func newRedisRepository(client *redis.Client, config RedisConfig, logger *zap.Logger) *RedisRepository {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "session:chat"
	}
	return &RedisRepository{client: client, config: config, logger: logger}
}

func (r *RedisRepository) key(id string) string {
	return r.config.KeyPrefix + ":" + id
}

// Load reads the snapshot stored for id
func (r *RedisRepository) Load(ctx context.Context, id string) (entity.Snapshot, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err == redis.Nil {
		r.misses.Add(1)
		return entity.Snapshot{}, ErrNotFound
	}
	if err != nil {
		return entity.Snapshot{}, fmt.Errorf("failed to load session: %w", err)
	}

	var snap entity.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		r.logger.Error("Dropping corrupted session snapshot", zap.String("session_id", id), zap.Error(err))
		r.client.Del(ctx, r.key(id))
		r.misses.Add(1)
		return entity.Snapshot{}, ErrNotFound
	}

	r.hits.Add(1)
	return snap, nil
}

// Save writes the snapshot for id with the given expiry
func (r *RedisRepository) Save(ctx context.Context, id string, snap entity.Snapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}
	if err := r.client.Set(ctx, r.key(id), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	r.logger.Debug("Session snapshot saved",
		zap.String("session_id", id),
		zap.Int("entities", len(snap.Entities)),
		zap.Duration("ttl", ttl))
	return nil
}

// Delete removes the snapshot for id
func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Stats returns hit rates and Redis memory usage
func (r *RedisRepository) Stats(ctx context.Context) (*RedisStats, error) {
	stats := &RedisStats{Hits: r.hits.Load(), Misses: r.misses.Load()}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total) * 100
	}

	info, err := r.client.Info(ctx, "memory").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get Redis info: %w", err)
	}
	for _, line := range strings.Split(info, "\r\n") {
		if mem, ok := strings.CutPrefix(line, "used_memory:"); ok {
			if n, err := strconv.ParseInt(mem, 10, 64); err == nil {
				stats.MemoryUsage = n
			}
		}
	}

	keys, err := r.scan(ctx)
	if err != nil {
		return nil, err
	}
	stats.TotalKeys = int64(len(keys))
	return stats, nil
}

// Clear removes every session snapshot under the key prefix
func (r *RedisRepository) Clear(ctx context.Context) error {
	keys, err := r.scan(ctx)
	if err != nil {
		return err
	}

	const batchSize = 100
	for i := 0; i < len(keys); i += batchSize {
		end := min(i+batchSize, len(keys))
		if err := r.client.Del(ctx, keys[i:end]...).Err(); err != nil {
			return fmt.Errorf("failed to delete session keys: %w", err)
		}
	}

	r.logger.Info("Session repository cleared", zap.Int("deleted_keys", len(keys)))
	return nil
}

func (r *RedisRepository) scan(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.config.KeyPrefix+":*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan session keys: %w", err)
	}
	return keys, nil
}

// Close closes the Redis connection
func (r *RedisRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// maskRedisURL hides the password in a Redis URL for logging
func maskRedisURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	if colon <= strings.Index(userPart, "://")+2 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
