// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package auth resolves playback tokens to upstream credentials and checks
// the administrative key.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidToken is returned for malformed tokens.
	ErrInvalidToken = errors.New("auth: invalid token format")
	// ErrUnknownToken is returned when no credential is stored for a token.
	ErrUnknownToken = errors.New("auth: unknown token")
)

// TokenStore maps playback tokens to sealed upstream credentials. Tokens are
// issued elsewhere; this service only reads them.
type TokenStore interface {
	Lookup(ctx context.Context, token string) (string, error)
	Put(ctx context.Context, token, sealed string, ttl time.Duration) error
}

// DefaultRedisPrefix namespaces token keys.
const DefaultRedisPrefix = "tune2hls:token:"

// RedisTokenStore keeps tokens in Redis as plain string keys with TTL.
type RedisTokenStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisTokenStore returns a store using prefix (DefaultRedisPrefix if empty).
func NewRedisTokenStore(client redis.UniversalClient, prefix string) *RedisTokenStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisTokenStore{client: client, prefix: prefix}
}

// Lookup implements TokenStore.
func (s *RedisTokenStore) Lookup(ctx context.Context, token string) (string, error) {
	v, err := s.client.Get(ctx, s.prefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrUnknownToken
	}
	if err != nil {
		return "", fmt.Errorf("auth: token lookup: %w", err)
	}
	return v, nil
}

// Put implements TokenStore. A zero ttl stores without expiry.
func (s *RedisTokenStore) Put(ctx context.Context, token, sealed string, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+token, sealed, ttl).Err()
}

// MemoryTokenStore is a process-local TokenStore.
type MemoryTokenStore struct {
	mu      sync.RWMutex
	entries map[string]memoryToken
	now     func() time.Time
}

type memoryToken struct {
	sealed  string
	expires time.Time
}

// NewMemoryTokenStore returns an empty store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{entries: make(map[string]memoryToken), now: time.Now}
}

// Lookup implements TokenStore.
func (s *MemoryTokenStore) Lookup(_ context.Context, token string) (string, error) {
	s.mu.RLock()
	e, ok := s.entries[token]
	s.mu.RUnlock()
	if !ok || (!e.expires.IsZero() && s.now().After(e.expires)) {
		return "", ErrUnknownToken
	}
	return e.sealed, nil
}

// Put implements TokenStore.
func (s *MemoryTokenStore) Put(_ context.Context, token, sealed string, ttl time.Duration) error {
	e := memoryToken{sealed: sealed}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[token] = e
	s.mu.Unlock()
	return nil
}
