// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Feedfuse Contributors

package cache

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	fferr "github.com/feedfuse/feedfuse/pkg/errors"
)

// redisKeyPrefix namespaces feedfuse entries on shared Redis instances.
const redisKeyPrefix = "feedfuse:cache:"

// Redis is the optional shared Store backend. Redis enforces TTL natively,
// so expiry needs no sweep on our side.
type Redis struct {
	client *redis.Client
}

// Compile-time check that Redis implements Store.
var _ Store = (*Redis)(nil)

// NewRedis builds a Redis store from URL or host:port input. Supporting
// both formats keeps local and container config paths simple.
func NewRedis(addr string) (*Redis, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fferr.Wrapf(err, fferr.CodeConfigValidateInvalidValue, "parsing redis url")
		}
		return &Redis{client: redis.NewClient(opt)}, nil
	}
	return &Redis{client: redis.NewClient(&redis.Options{Addr: addr})}, nil
}

// Get fetches the entry. A redis.Nil reply is a plain miss; transport
// errors are surfaced for the caller to degrade on.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fferr.Wrap(err, fferr.CodeCacheReadFailure, "redis get", fferr.FieldCacheKey(key))
	}
	return value, true, nil
}

// Put stores the entry with Redis-side expiry.
func (r *Redis) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, redisKeyPrefix+key, value, ttl).Err(); err != nil {
		return fferr.Wrap(err, fferr.CodeCacheWriteFailure, "redis set", fferr.FieldCacheKey(key))
	}
	return nil
}

// Ping verifies connectivity; used by startup checks and doctor.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fferr.Wrap(err, fferr.CodeCacheReadFailure, "redis ping")
	}
	return nil
}

// Close releases the client's connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
