package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisStore persists carts as JSON blobs in Redis with a sliding TTL. Reads
// refresh the TTL so active carts stay alive while abandoned ones expire.
type RedisStore struct {
	R      *redis.Client
	TTL    time.Duration
	Prefix string
}

// NewRedisStore constructs a store with the given TTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{R: client, TTL: ttl, Prefix: "cart:"}
}

func (s *RedisStore) key(id uuid.UUID) string {
	prefix := s.Prefix
	if prefix == "" {
		prefix = "cart:"
	}
	return prefix + id.String()
}

func (s *RedisStore) ttl() time.Duration {
	if s.TTL <= 0 {
		return 72 * time.Hour
	}
	return s.TTL
}

// Get returns the cart with the given ID, refreshing its TTL.
func (s *RedisStore) Get(ctx context.Context, id uuid.UUID) (*Cart, error) {
	data, err := s.R.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cart get: %w", err)
	}
	var c Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("cart decode: %w", err)
	}
	s.R.Expire(ctx, s.key(id), s.ttl())
	return &c, nil
}

// Put stores or replaces a cart.
func (s *RedisStore) Put(ctx context.Context, c *Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("cart encode: %w", err)
	}
	if err := s.R.Set(ctx, s.key(c.ID), data, s.ttl()).Err(); err != nil {
		return fmt.Errorf("cart put: %w", err)
	}
	return nil
}

// Delete removes a cart.
func (s *RedisStore) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.R.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("cart delete: %w", err)
	}
	return nil
}
