// Package redisstore backs the catalog cache and the admin API rate limiter
// with Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "ratelimit:"

// Store is a thin wrapper over a go-redis client.
type Store struct {
	rdb *redis.Client
}

// New connects to addr and verifies the connection with PING.
func New(ctx context.Context, addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	slog.Debug("redisstore.New: connected", "addr", addr, "db", db)
	return &Store{rdb: rdb}, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Close closes the client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Get returns the value at key. A missing key is found == false.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores value at key with ttl.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Allow counts one request for client in the current fixed window and
// reports whether it is within limit. When refused, retryAfter is the time
// left until the window resets.
func (s *Store) Allow(ctx context.Context, client string, limit int, window time.Duration) (allowed bool, retryAfter time.Duration, err error) {
	key := rateLimitPrefix + client

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		ttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("rate limit %s: %w", client, err)
	}
	// first hit of a window (or a key that lost its expiry) starts the clock
	if ttl.Val() < 0 {
		if err := s.rdb.PExpire(ctx, key, window).Err(); err != nil {
			return false, 0, fmt.Errorf("rate limit expire %s: %w", client, err)
		}
	}

	count := incr.Val()
	if count <= int64(limit) {
		return true, 0, nil
	}
	retryAfter = ttl.Val()
	if retryAfter <= 0 {
		retryAfter = window
	}
	return false, retryAfter, nil
}
