// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisOpTimeout   = 2 * time.Second
	redisScanBatch   = 200
	redisClearBudget = 5 * time.Second
)

// Redis is a Redis-backed Cache storing JSON encoded values under a key prefix.
// Errors are logged and reported as misses so callers fall back to the source.
type Redis[V any] struct {
	client redis.UniversalClient
	prefix string
	logger zerolog.Logger
	stats  counters
}

// NewRedis wraps an existing client. The prefix isolates this cache from other
// users of the same database; Clear only removes keys under it.
func NewRedis[V any](client redis.UniversalClient, prefix string, logger zerolog.Logger) *Redis[V] {
	return &Redis[V]{client: client, prefix: prefix, logger: logger}
}

func (c *Redis[V]) key(k string) string { return c.prefix + k }

// Get retrieves a value from Redis.
func (c *Redis[V]) Get(key string) (V, bool) {
	var zero V
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		c.stats.misses.Add(1)
		return zero, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis get failed")
		c.stats.misses.Add(1)
		return zero, false
	}

	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("json unmarshal failed")
		c.stats.misses.Add(1)
		return zero, false
	}
	c.stats.hits.Add(1)
	return v, true
}

// Set stores a value with TTL. A ttl <= 0 stores without expiry.
func (c *Redis[V]) Set(key string, value V, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("json marshal failed")
		return
	}
	if ttl < 0 {
		ttl = 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis set failed")
		return
	}
	c.stats.sets.Add(1)
}

// Delete removes a value.
func (c *Redis[V]) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis delete failed")
	}
}

// Clear removes every key under the prefix.
func (c *Redis[V]) Clear() {
	ctx, cancel := context.WithTimeout(context.Background(), redisClearBudget)
	defer cancel()

	iter := c.client.Scan(ctx, 0, c.prefix+"*", redisScanBatch).Iterator()
	var batch []string
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := c.client.Del(ctx, batch...).Err(); err != nil {
			c.logger.Warn().Err(err).Msg("redis clear failed")
		}
		batch = batch[:0]
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= redisScanBatch {
			flush()
		}
	}
	flush()
	if err := iter.Err(); err != nil {
		c.logger.Warn().Err(err).Msg("redis scan failed")
	}
}

// Stats returns counters. CurrentSize is not tracked for Redis.
func (c *Redis[V]) Stats() Stats {
	return c.stats.snapshot(0)
}
