package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("platform/cache: miss")

// Store is the shared key/value cache used by both services. Every value is
// re-creatable from the authoritative stores and carries its own expiry.
type Store struct {
	client redis.UniversalClient
}

// NewStore wraps a Redis client.
func NewStore(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Client exposes the underlying Redis client.
func (s *Store) Client() redis.UniversalClient {
	return s.client
}

// Get returns the raw value stored under key.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("platform/cache: get %s: %w", key, err)
	}
	return val, nil
}

// Set stores value under key. A zero ttl keeps the key until deleted.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("platform/cache: set %s: %w", key, err)
	}
	return nil
}

// SetNX stores value only when key is absent and reports whether it did.
func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("platform/cache: setnx %s: %w", key, err)
	}
	return ok, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("platform/cache: exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Del removes keys and returns how many existed.
func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("platform/cache: del: %w", err)
	}
	return n, nil
}

// Incr atomically increments the counter under key.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("platform/cache: incr %s: %w", key, err)
	}
	return n, nil
}

// IncrExpire increments the counter under key and refreshes its TTL in one
// transaction.
func (s *Store) IncrExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("platform/cache: incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

// Decr atomically decrements the counter under key.
func (s *Store) Decr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Decr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("platform/cache: decr %s: %w", key, err)
	}
	return n, nil
}

// GetInt reads an integer counter, returning 0 when the key is absent.
func (s *Store) GetInt(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("platform/cache: get %s: %w", key, err)
	}
	return n, nil
}

// GetJSON decodes the JSON value under key into dest.
func (s *Store) GetJSON(ctx context.Context, key string, dest any) error {
	payload, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("platform/cache: get %s: %w", key, err)
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("platform/cache: decode %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes value as JSON and stores it with ttl.
func (s *Store) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("platform/cache: encode %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("platform/cache: set %s: %w", key, err)
	}
	return nil
}
