// Package cache provides a small Redis client wrapper for caching detection
// results by image content.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SyedDaiam9101/detector-service/internal/detection"
	"github.com/SyedDaiam9101/detector-service/internal/inference"
)

// DefaultTTL is used when New is given a non-positive ttl.
const DefaultTTL = 10 * time.Minute

// Cache wraps a Redis client for detection result storage
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a new Cache instance connected to the specified Redis address
// If addr is empty, defaults to localhost:6379
func New(ctx context.Context, addr string, ttl time.Duration) (*Cache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return &Cache{client: client, ttl: ttl}, nil
}

// Key derives the cache key for an image payload under the given model and
// parameters. Identical bytes with identical settings share a key.
func Key(data []byte, p inference.Params, model string) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("detect:%s:%s:%.4f:%.4f:%d",
		model, hex.EncodeToString(sum[:]), p.Conf, p.IoU, p.ImgSize)
}

// SetDetections stores formatted detections under key with the cache TTL
func (c *Cache) SetDetections(ctx context.Context, key string, dets []detection.Formatted) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache client is nil")
	}

	payload, err := json.Marshal(dets)
	if err != nil {
		return fmt.Errorf("failed to encode detections: %w", err)
	}

	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set detections for %s: %w", key, err)
	}
	return nil
}

// GetDetections retrieves cached detections. The boolean is false on a miss.
func (c *Cache) GetDetections(ctx context.Context, key string) ([]detection.Formatted, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, fmt.Errorf("cache client is nil")
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil // Key does not exist
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get detections for %s: %w", key, err)
	}

	var dets []detection.Formatted
	if err := json.Unmarshal(data, &dets); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached detections: %w", err)
	}
	if dets == nil {
		dets = []detection.Formatted{}
	}
	return dets, true, nil
}

// TTL returns the expiry applied to stored entries.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c != nil && c.client != nil {
		return c.client.Close()
	}
	return nil
}
