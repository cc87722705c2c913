package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arklim/department-iam/internal/core/port"
)

const defaultFreshnessPrefix = "iam:freshness"

var _ port.FreshnessStore = (*FreshnessRepository)(nil)

// FreshnessRepository stores the latest issue instant per key as a plain string with TTL.
type FreshnessRepository struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewFreshnessRepository constructs a freshness store. A non-positive ttl keeps entries forever.
func NewFreshnessRepository(client redis.UniversalClient, prefix string, ttl time.Duration) *FreshnessRepository {
	if prefix == "" {
		prefix = defaultFreshnessPrefix
	}
	return &FreshnessRepository{client: client, prefix: prefix, ttl: ttl}
}

// Latest returns the stored instant for key.
func (r *FreshnessRepository) Latest(ctx context.Context, key string) (time.Time, bool, error) {
	raw, err := r.client.Get(ctx, joinKey(r.prefix, key)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis get freshness: %w", err)
	}

	at, err := parseNanos(raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

// Store overwrites the instant for key.
func (r *FreshnessRepository) Store(ctx context.Context, key string, at time.Time) error {
	ttl := r.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, joinKey(r.prefix, key), formatNanos(at), ttl).Err(); err != nil {
		return fmt.Errorf("redis set freshness: %w", err)
	}
	return nil
}

// Clear removes the entry for key.
func (r *FreshnessRepository) Clear(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, joinKey(r.prefix, key)).Err(); err != nil {
		return fmt.Errorf("redis delete freshness: %w", err)
	}
	return nil
}
