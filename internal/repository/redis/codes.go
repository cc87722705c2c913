package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arklim/department-iam/internal/core/domain"
	"github.com/arklim/department-iam/internal/core/port"
)

const defaultCodePrefix = "iam:codes"

var _ port.CodeStore = (*CodeRepository)(nil)

// CodeRepository stores hashed one-time codes as fields of a per-user hash. Each field
// value holds the issue and expiry instants so several codes can be outstanding.
type CodeRepository struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewCodeRepository constructs a code store under the given key prefix.
func NewCodeRepository(client redis.UniversalClient, prefix string) *CodeRepository {
	if prefix == "" {
		prefix = defaultCodePrefix
	}
	return &CodeRepository{client: client, prefix: prefix, now: time.Now}
}

// Put records a code hash. The key TTL is extended to cover the newest code.
func (r *CodeRepository) Put(ctx context.Context, purpose domain.ArtifactClass, userID, codeHash string, issuedAt time.Time, ttl time.Duration) error {
	if codeHash == "" {
		return errors.New("code hash is required")
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	key := r.key(purpose, userID)
	value := formatNanos(issuedAt) + "|" + formatNanos(issuedAt.Add(ttl))

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, codeHash, value)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put code: %w", err)
	}
	return nil
}

// Lookup reports when the code was issued, provided it exists and has not expired at now.
func (r *CodeRepository) Lookup(ctx context.Context, purpose domain.ArtifactClass, userID, codeHash string) (time.Time, bool, error) {
	raw, err := r.client.HGet(ctx, r.key(purpose, userID), codeHash).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("redis hget code: %w", err)
	}

	issuedRaw, expiresRaw, ok := strings.Cut(raw, "|")
	if !ok {
		return time.Time{}, false, errors.New("malformed code entry")
	}
	issuedAt, err := parseNanos(issuedRaw)
	if err != nil {
		return time.Time{}, false, err
	}
	expiresAt, err := parseNanos(expiresRaw)
	if err != nil {
		return time.Time{}, false, err
	}
	if !expiresAt.After(r.now()) {
		return time.Time{}, false, nil
	}

	return issuedAt, true, nil
}

// Clear drops every outstanding code for the purpose and user.
func (r *CodeRepository) Clear(ctx context.Context, purpose domain.ArtifactClass, userID string) error {
	if err := r.client.Del(ctx, r.key(purpose, userID)).Err(); err != nil {
		return fmt.Errorf("redis clear codes: %w", err)
	}
	return nil
}

// WithClock overrides the internal clock, used in tests.
func (r *CodeRepository) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

func (r *CodeRepository) key(purpose domain.ArtifactClass, userID string) string {
	return joinKey(r.prefix, string(purpose), userID)
}
