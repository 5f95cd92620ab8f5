package cache

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisCacheConfig holds the Redis connection configuration.
type RedisCacheConfig struct {
	// Addr is host:port or a redis:// / rediss:// URL.
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int

	Config
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() *RedisCacheConfig {
	return &RedisCacheConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		Config:       DefaultConfig(),
	}
}

// RedisCache is the shared cache used in hybrid mode. Values are stored as an envelope
// carrying their write and expiry times; Redis itself keeps the key for the TTL plus the
// stale retention window.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
	config    Config
}

// NewRedisCache creates a new Redis cache. The client pool is created once and reused by
// every call.
func NewRedisCache(config *RedisCacheConfig) (*RedisCache, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	opts, err := redisOptions(config)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		// Reads treat an unreachable cache as a miss, so a cold Redis is not fatal.
		slog.Warn("redis cache not reachable at startup", "addr", opts.Addr, "error", err)
	} else {
		slog.Info("redis cache connected", "addr", opts.Addr)
	}

	return &RedisCache{
		client:    client,
		keyPrefix: config.KeyPrefix,
		config:    config.Config.withDefaults(),
	}, nil
}

func redisOptions(config *RedisCacheConfig) (*redis.Options, error) {
	var opts *redis.Options
	if strings.HasPrefix(config.Addr, "redis://") || strings.HasPrefix(config.Addr, "rediss://") {
		parsed, err := redis.ParseURL(config.Addr)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse redis url")
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: config.Addr, DB: config.DB}
	}
	if config.Password != "" {
		opts.Password = config.Password
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.MinIdleConns > 0 {
		opts.MinIdleConns = config.MinIdleConns
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second
	// Honour the caller's deadline instead of only the socket timeouts.
	opts.ContextTimeoutEnabled = true
	return opts, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := r.client.Get(ctx, r.fullKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "failed to get cache value")
	}

	entry, err := decodeEntry(data)
	if err != nil {
		// A foreign or corrupt value is dropped and treated as a miss.
		slog.Warn("dropping undecodable cache value", "key", key, "error", err)
		_ = r.client.Del(ctx, r.fullKey(key)).Err()
		return nil, false, nil
	}
	return entry, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.config.DefaultTTL
	}

	now := r.config.Now()
	data, err := encodeEntry(&Entry{Value: value, StoredAt: now, ExpiresAt: now.Add(ttl)})
	if err != nil {
		return err
	}

	if err := r.client.Set(ctx, r.fullKey(key), data, ttl+r.config.StaleRetention).Err(); err != nil {
		return errors.Wrap(err, "failed to set cache value")
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.fullKey(key)).Err(); err != nil {
		return errors.Wrap(err, "failed to delete cache value")
	}
	return nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Clear removes every key under the configured prefix.
func (r *RedisCache) Clear(ctx context.Context) error {
	pattern := r.keyPrefix + "*"
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return errors.Wrap(err, "failed to clear cache")
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return errors.Wrap(err, "failed to scan cache keys")
	}
	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return errors.Wrap(err, "failed to clear cache")
		}
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

func (r *RedisCache) fullKey(key string) string {
	return r.keyPrefix + key
}

var _ Store = (*RedisCache)(nil)
