// Package auth resolves bearer tokens to actors. Tokens live in Redis so
// the core process holds no session state of its own; credential handling
// stays with the external identity collaborator.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ledgermatch/ledgermatch/internal/shared"
)

// ErrTokenUnknown indicates the bearer token is missing or expired.
var ErrTokenUnknown = errors.New("auth: unknown token")

type tokenPayload struct {
	ActorID int64  `json:"actor_id"`
	Email   string `json:"email"`
	Role    string `json:"role"`
}

// TokenStore maps opaque bearer tokens to actors.
type TokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(client *redis.Client, ttl time.Duration) *TokenStore {
	return &TokenStore{client: client, ttl: ttl}
}

// Issue creates a new token for the actor.
func (s *TokenStore) Issue(ctx context.Context, actor shared.Actor) (string, error) {
	token := uuid.NewString()
	payload, err := json.Marshal(tokenPayload{ActorID: actor.ID, Email: actor.Email, Role: actor.Role})
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, tokenKey(token), payload, s.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// Resolve looks a token up and refreshes its TTL.
func (s *TokenStore) Resolve(ctx context.Context, token string) (shared.Actor, error) {
	if token == "" {
		return shared.Actor{}, ErrTokenUnknown
	}
	data, err := s.client.Get(ctx, tokenKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return shared.Actor{}, ErrTokenUnknown
		}
		return shared.Actor{}, err
	}
	var payload tokenPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return shared.Actor{}, err
	}
	_ = s.client.Expire(ctx, tokenKey(token), s.ttl).Err()
	return shared.Actor{ID: payload.ActorID, Email: payload.Email, Role: payload.Role}, nil
}

// Revoke deletes a token.
func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, tokenKey(token)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func tokenKey(token string) string {
	return "auth:token:" + token
}
