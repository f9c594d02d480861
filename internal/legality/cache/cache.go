// Package cache stores rendered check results in Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/buildpass/buildpass-backend/pkg/config"
)

const (
	keyPrefix     = "legality:check:"
	generationKey = "legality:reference:generation"
	DefaultTTL    = 10 * time.Minute
)

// Client wraps the go-redis client with health checking
type Client struct {
	*redis.Client
}

// NewClient connects to the configured Redis. It returns nil, nil when no URL is set.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{Client: client}, nil
}

// Health returns the health status of the Redis connection
func (c *Client) Health(ctx context.Context) map[string]string {
	status := map[string]string{"status": "up"}
	if err := c.Ping(ctx).Err(); err != nil {
		status["status"] = "down"
		status["error"] = err.Error()
	}
	return status
}

// CheckCache keeps serialized check responses for a short time. Entries are
// keyed by a digest of the request together with the catalog version and the
// reference generation, so a new catalog or an overlay import yields new keys.
type CheckCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCheckCache creates a cache; ttl <= 0 uses DefaultTTL
func NewCheckCache(client *redis.Client, ttl time.Duration) *CheckCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CheckCache{client: client, ttl: ttl}
}

// Key derives the cache key from the canonical request parts
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0x1f})
	}
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached payload. ok is false on a miss.
func (c *CheckCache) Get(ctx context.Context, key string) (payload []byte, ok bool, err error) {
	payload, err = c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// Set stores the payload with the configured TTL
func (c *CheckCache) Set(ctx context.Context, key string, payload []byte) error {
	return c.client.Set(ctx, key, payload, c.ttl).Err()
}

// Generation returns the current reference generation, 0 before the first import
func (c *CheckCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Invalidate advances the reference generation. Cached responses keyed on an
// older generation are no longer read and expire with their TTL.
func (c *CheckCache) Invalidate(ctx context.Context) (int64, error) {
	return c.client.Incr(ctx, generationKey).Result()
}
