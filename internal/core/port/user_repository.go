package port

import (
	"context"
	"time"

	"github.com/arklim/department-iam/internal/core/domain"
)

// UserRepository persists accounts. Lookups return repository.ErrNotFound for unknown users.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// GetByEmail matches on the normalized address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, user domain.User) error
	// RecordAccessFailure increments the failure counter; once maxFailures is reached the
	// counter resets and the lockout end is set to lockoutUntil. It returns the stored lockout end.
	RecordAccessFailure(ctx context.Context, id string, maxFailures int, lockoutUntil time.Time) (*time.Time, error)
	ResetAccessFailures(ctx context.Context, id string) error
}
