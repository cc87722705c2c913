package port

import (
	"context"
	"time"

	"github.com/arklim/department-iam/internal/core/domain"
)

// RefreshTokenRepository stores issued refresh credentials. Rows are never deleted;
// revocation is terminal.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token domain.RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	// Rotate atomically revokes the active row identified by oldHash, links it to
	// next, and inserts next. It returns repository.ErrNotFound when no active row
	// matched at the given instant.
	Rotate(ctx context.Context, oldHash string, next domain.RefreshToken, at time.Time) (*domain.RefreshToken, error)
	Revoke(ctx context.Context, hash string, at time.Time) (bool, error)
}
