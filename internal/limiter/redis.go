package limiter

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window IP throttle backed by Redis counters.
type Redis struct {
	client   redis.UniversalClient
	window   time.Duration
	maxFails int
	blockFor time.Duration
}

// NewRedis constructs a Redis-backed throttle. Reaching maxFails inside window
// blocks the address for blockFor; a non-positive blockFor means window.
func NewRedis(client redis.UniversalClient, window time.Duration, maxFails int, blockFor time.Duration) *Redis {
	if blockFor <= 0 {
		blockFor = window
	}
	return &Redis{client: client, window: window, maxFails: maxFails, blockFor: blockFor}
}

func redisKey(ipHash []byte) string {
	return "login:ip:" + hex.EncodeToString(ipHash)
}

// Allow reports whether the address is under its failure budget.
func (l *Redis) Allow(ctx context.Context, ipHash []byte) (bool, time.Duration, error) {
	key := redisKey(ipHash)
	count, err := l.client.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return true, 0, nil
		}
		return false, 0, fmt.Errorf("redis get: %w", err)
	}
	if count < int64(l.maxFails) {
		return true, 0, nil
	}
	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis ttl: %w", err)
	}
	if ttl < 0 {
		ttl = l.blockFor
	}
	return false, ttl, nil
}

// Success clears the failure counter.
func (l *Redis) Success(ctx context.Context, ipHash []byte) error {
	if err := l.client.Del(ctx, redisKey(ipHash)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Failure increments the counter; the window starts at the first failure and
// the failure that reaches maxFails restarts the key's TTL as the block.
func (l *Redis) Failure(ctx context.Context, ipHash []byte) (bool, time.Duration, error) {
	key := redisKey(ipHash)
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("redis incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			return false, 0, fmt.Errorf("redis expire: %w", err)
		}
	}
	if count == int64(l.maxFails) {
		if err := l.client.Expire(ctx, key, l.blockFor).Err(); err != nil {
			return false, 0, fmt.Errorf("redis expire: %w", err)
		}
	}
	if count >= int64(l.maxFails) {
		return true, l.blockFor, nil
	}
	return false, 0, nil
}
