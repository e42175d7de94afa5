package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/kinoteka/kinoteka/internal/platform/cache"
)

const stateKeyPrefix = "oauth:state:"

// ErrInvalidState indicates an unknown, expired, reused or mismatched state.
var ErrInvalidState = errors.New("oauth: invalid state")

// StateStore issues single-use anti-forgery states bound to a provider.
type StateStore struct {
	cache *cache.Store
	ttl   time.Duration
}

// NewStateStore constructs a StateStore.
func NewStateStore(c *cache.Store, ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StateStore{cache: c, ttl: ttl}
}

// Issue creates a state for provider.
func (s *StateStore) Issue(ctx context.Context, provider string) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("oauth: random state: %w", err)
	}
	state := hex.EncodeToString(buf)
	ok, err := s.cache.SetNX(ctx, stateKeyPrefix+state, provider, s.ttl)
	if err != nil {
		return "", fmt.Errorf("oauth: store state: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("oauth: state collision")
	}
	return state, nil
}

// Consume validates and deletes a state. Only one caller can consume a given
// state.
func (s *StateStore) Consume(ctx context.Context, provider, state string) error {
	if state == "" {
		return ErrInvalidState
	}
	key := stateKeyPrefix + state
	bound, err := s.cache.Get(ctx, key)
	if errors.Is(err, cache.ErrMiss) {
		return ErrInvalidState
	}
	if err != nil {
		return fmt.Errorf("oauth: load state: %w", err)
	}
	n, err := s.cache.Del(ctx, key)
	if err != nil {
		return fmt.Errorf("oauth: delete state: %w", err)
	}
	if n == 0 || bound != provider {
		return ErrInvalidState
	}
	return nil
}
