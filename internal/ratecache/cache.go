// Package ratecache memoises tax provider quotes in Redis so repeated pricing
// of an unchanged cart does not hammer the external provider. Keys are content
// digests of the quote request; an unchanged cart therefore hits the same key.
package ratecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps Redis helpers for JSON payloads. A nil client degrades to a
// no-op cache so the engine keeps working without Redis.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// New constructs a cache helper with the given TTL and key prefix.
func New(client *redis.Client, ttl time.Duration, prefix string) *Cache {
	if prefix == "" {
		prefix = "pricing:taxquote:"
	}
	return &Cache{client: client, ttl: ttl, prefix: prefix}
}

// Key derives a stable cache key from any JSON-serialisable request payload.
func Key(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the
// key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v as JSON and stores it with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if c == nil || c.client == nil || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, data, c.ttl).Err()
}
