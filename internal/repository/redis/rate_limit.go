package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arklim/department-iam/internal/core/port"
)

// SlidingWindowConfig defines configuration for the sliding window limiter.
type SlidingWindowConfig struct {
	KeyPrefix string
	TTL       time.Duration
}

// RateLimitRepository persists attempts in Redis sorted sets scored by timestamp.
// It backs both the HTTP login limiter and the resend throttle guard.
type RateLimitRepository struct {
	client redis.UniversalClient
	cfg    SlidingWindowConfig
}

// NewRateLimitRepository constructs a repository using the provided Redis client and config.
func NewRateLimitRepository(client redis.UniversalClient, cfg SlidingWindowConfig) *RateLimitRepository {
	return &RateLimitRepository{client: client, cfg: cfg}
}

// RecordAttempt stores the provided timestamp and refreshes the key TTL.
func (r *RateLimitRepository) RecordAttempt(ctx context.Context, identifier string, at time.Time) error {
	key := r.key(identifier)
	member := redis.Z{Score: float64(at.UnixNano()), Member: at.UnixNano()}

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, member)
	if r.cfg.TTL > 0 {
		pipe.Expire(ctx, key, r.cfg.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record attempt: %w", err)
	}

	return nil
}

// CountAttempts returns how many attempts occurred within the window ending at reference time.
func (r *RateLimitRepository) CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	if window <= 0 {
		return 0, errors.New("window must be positive")
	}

	min, max := windowBounds(window, reference)
	count, err := r.client.ZCount(ctx, r.key(identifier), min, max).Result()
	if err != nil {
		return 0, fmt.Errorf("redis zcount: %w", err)
	}

	return int(count), nil
}

// TrimWindow removes attempts at or before the start of the window.
func (r *RateLimitRepository) TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error {
	if window <= 0 {
		return errors.New("window must be positive")
	}

	threshold := fmt.Sprintf("%d", reference.Add(-window).UnixNano())
	if err := r.client.ZRemRangeByScore(ctx, r.key(identifier), "-inf", threshold).Err(); err != nil {
		return fmt.Errorf("redis zremrangebyscore: %w", err)
	}

	return nil
}

// OldestAttempt returns the oldest attempt remaining inside the active window.
func (r *RateLimitRepository) OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	if window <= 0 {
		return time.Time{}, false, errors.New("window must be positive")
	}

	min, max := windowBounds(window, reference)
	values, err := r.client.ZRangeByScore(ctx, r.key(identifier), &redis.ZRangeBy{
		Min:   min,
		Max:   max,
		Count: 1,
	}).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis zrangebyscore: %w", err)
	}

	return firstTimestamp(values)
}

// NewestAttempt returns the most recent recorded attempt.
func (r *RateLimitRepository) NewestAttempt(ctx context.Context, identifier string) (time.Time, bool, error) {
	values, err := r.client.ZRevRange(ctx, r.key(identifier), 0, 0).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis zrevrange: %w", err)
	}

	return firstTimestamp(values)
}

func (r *RateLimitRepository) key(identifier string) string {
	return joinKey(r.cfg.KeyPrefix, identifier)
}

// windowBounds excludes the exact window start so an attempt expires once the
// full window has elapsed.
func windowBounds(window time.Duration, reference time.Time) (string, string) {
	return fmt.Sprintf("(%d", reference.Add(-window).UnixNano()), fmt.Sprintf("%d", reference.UnixNano())
}

func firstTimestamp(values []string) (time.Time, bool, error) {
	if len(values) == 0 {
		return time.Time{}, false, nil
	}
	ts, err := parseNanos(values[0])
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)
