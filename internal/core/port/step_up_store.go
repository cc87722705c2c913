package port

import (
	"context"
	"time"

	"github.com/arklim/department-iam/internal/core/domain"
)

// StepUpStore keeps pending second-factor challenges keyed by user, with expiry.
type StepUpStore interface {
	Save(ctx context.Context, session domain.StepUpSession, ttl time.Duration) error
	Get(ctx context.Context, userID string) (*domain.StepUpSession, error)
	// RecordAttempt increments the challenge's attempt counter and returns
	// the new count. A missing or expired challenge yields repository.ErrNotFound.
	RecordAttempt(ctx context.Context, userID string) (int, error)
	Delete(ctx context.Context, userID string) error
}
