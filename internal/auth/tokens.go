// Package auth issues and validates the bearer tokens that identify staff
// on API requests, and loads the principal into the request context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrTokenInvalid indicates an unknown or expired token.
var ErrTokenInvalid = errors.New("auth: invalid token")

// TokenStore maps opaque bearer tokens to user ids in Redis with a TTL.
type TokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(client *redis.Client, ttl time.Duration) *TokenStore {
	return &TokenStore{client: client, ttl: ttl}
}

func tokenKey(token string) string {
	return "auth:token:" + token
}

// Issue creates a fresh token for the user.
func (s *TokenStore) Issue(ctx context.Context, userID int64) (string, error) {
	token := uuid.NewString()
	if err := s.client.Set(ctx, tokenKey(token), strconv.FormatInt(userID, 10), s.ttl).Err(); err != nil {
		return "", fmt.Errorf("auth: store token: %w", err)
	}
	return token, nil
}

// Resolve returns the user id behind the token, refreshing its TTL.
func (s *TokenStore) Resolve(ctx context.Context, token string) (int64, error) {
	raw, err := s.client.Get(ctx, tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrTokenInvalid
	}
	if err != nil {
		return 0, fmt.Errorf("auth: load token: %w", err)
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ErrTokenInvalid
	}
	_ = s.client.Expire(ctx, tokenKey(token), s.ttl).Err()
	return userID, nil
}

// Revoke deletes the token. Revoking an unknown token is not an error.
func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	return s.client.Del(ctx, tokenKey(token)).Err()
}
