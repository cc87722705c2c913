package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arklim/department-iam/internal/core/domain"
	"github.com/arklim/department-iam/internal/core/port"
	"github.com/arklim/department-iam/internal/repository"
)

const (
	defaultStepUpPrefix = "iam:step_up"

	fieldTokenHash = "token_hash"
	fieldChannel   = "channel"
	fieldIssuedAt  = "issued_at"
	fieldExpiresAt = "expires_at"
	fieldAttempts  = "attempts"
)

// recordAttemptScript increments the attempt counter only on a live challenge,
// so an expired key is never recreated without a TTL.
var recordAttemptScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
return redis.call("HINCRBY", KEYS[1], ARGV[1], 1)
`)

var _ port.StepUpStore = (*StepUpRepository)(nil)

// StepUpRepository keeps one pending second-factor challenge per user as a Redis hash.
type StepUpRepository struct {
	client redis.UniversalClient
	prefix string
}

// NewStepUpRepository constructs a step-up store under the given key prefix.
func NewStepUpRepository(client redis.UniversalClient, prefix string) *StepUpRepository {
	if prefix == "" {
		prefix = defaultStepUpPrefix
	}
	return &StepUpRepository{client: client, prefix: prefix}
}

// Save replaces the user's pending challenge.
func (r *StepUpRepository) Save(ctx context.Context, session domain.StepUpSession, ttl time.Duration) error {
	if session.UserID == "" {
		return errors.New("user id is required")
	}
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	key := joinKey(r.prefix, session.UserID)
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]any{
		fieldTokenHash: session.TokenHash,
		fieldChannel:   session.Channel.String(),
		fieldIssuedAt:  formatNanos(session.IssuedAt),
		fieldExpiresAt: formatNanos(session.ExpiresAt),
		fieldAttempts:  session.Attempts,
	})
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save step-up session: %w", err)
	}
	return nil
}

// Get loads the user's pending challenge.
func (r *StepUpRepository) Get(ctx context.Context, userID string) (*domain.StepUpSession, error) {
	values, err := r.client.HGetAll(ctx, joinKey(r.prefix, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall step-up session: %w", err)
	}
	if len(values) == 0 || values[fieldTokenHash] == "" {
		return nil, repository.ErrNotFound
	}

	channel, err := domain.ParseTwoFactorChannel(values[fieldChannel])
	if err != nil {
		return nil, fmt.Errorf("decode step-up channel: %w", err)
	}
	issuedAt, err := parseNanos(values[fieldIssuedAt])
	if err != nil {
		return nil, fmt.Errorf("decode step-up issued_at: %w", err)
	}
	expiresAt, err := parseNanos(values[fieldExpiresAt])
	if err != nil {
		return nil, fmt.Errorf("decode step-up expires_at: %w", err)
	}

	attempts := 0
	if raw := values[fieldAttempts]; raw != "" {
		if attempts, err = strconv.Atoi(raw); err != nil {
			return nil, fmt.Errorf("decode step-up attempts: %w", err)
		}
	}

	return &domain.StepUpSession{
		UserID:         userID,
		TokenHash:      values[fieldTokenHash],
		Channel:        channel,
		IssuedAt:       issuedAt,
		ExpiresAt:      expiresAt,
		Attempts: attempts,
	}, nil
}

// RecordAttempt bumps the attempt counter of the user's pending challenge.
func (r *StepUpRepository) RecordAttempt(ctx context.Context, userID string) (int, error) {
	n, err := recordAttemptScript.Run(ctx, r.client, []string{joinKey(r.prefix, userID)}, fieldAttempts).Int()
	if err != nil {
		return 0, fmt.Errorf("redis record step-up attempt: %w", err)
	}
	if n < 0 {
		return 0, repository.ErrNotFound
	}
	return n, nil
}

// Delete removes the user's pending challenge. Missing entries are not an error.
func (r *StepUpRepository) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, joinKey(r.prefix, userID)).Err(); err != nil {
		return fmt.Errorf("redis delete step-up session: %w", err)
	}
	return nil
}
