package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solcast/marketd/internal/domain"
)

const candidateTTL = 2 * time.Minute

// TokenCache implements domain.TokenCache using a single JSON-serialized
// candidate page with a short TTL. Creation cycles read the cache first and
// only hit the feed on a miss; the websocket launch stream invalidates it so
// brand-new tokens show up in the next cycle.
//
// Key schema:
//
//	tokens:candidates - string value with the JSON candidate page
type TokenCache struct {
	rdb *redis.Client
}

// NewTokenCache creates a TokenCache backed by the given Client.
func NewTokenCache(c *Client) *TokenCache {
	return &TokenCache{rdb: c.Underlying()}
}

const candidatesKey = "tokens:candidates"

// SetCandidates stores the current candidate page with a 2-minute TTL.
func (tc *TokenCache) SetCandidates(ctx context.Context, tokens []domain.Token) error {
	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("redis: marshal candidates: %w", err)
	}

	if err := tc.rdb.Set(ctx, candidatesKey, data, candidateTTL).Err(); err != nil {
		return fmt.Errorf("redis: set candidates: %w", err)
	}
	return nil
}

// GetCandidates returns the cached candidate page and whether a fresh entry
// existed.
func (tc *TokenCache) GetCandidates(ctx context.Context) ([]domain.Token, bool, error) {
	data, err := tc.rdb.Get(ctx, candidatesKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis: get candidates: %w", err)
	}

	var tokens []domain.Token
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, false, fmt.Errorf("redis: unmarshal candidates: %w", err)
	}
	return tokens, true, nil
}

// Invalidate drops the cached page so the next creation cycle refetches the
// feed. The launch stream calls this when a new token appears.
func (tc *TokenCache) Invalidate(ctx context.Context) error {
	if err := tc.rdb.Del(ctx, candidatesKey).Err(); err != nil {
		return fmt.Errorf("redis: invalidate candidates: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.TokenCache = (*TokenCache)(nil)
