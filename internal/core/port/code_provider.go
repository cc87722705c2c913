package port

import (
	"context"
	"time"

	"github.com/arklim/department-iam/internal/core/domain"
)

// CodeStore persists hashed one-time codes and confirmation tokens per user and purpose.
// Several codes may be outstanding at once; each remembers when it was issued.
type CodeStore interface {
	Put(ctx context.Context, purpose domain.ArtifactClass, userID, codeHash string, issuedAt time.Time, ttl time.Duration) error
	Lookup(ctx context.Context, purpose domain.ArtifactClass, userID, codeHash string) (time.Time, bool, error)
	Clear(ctx context.Context, purpose domain.ArtifactClass, userID string) error
}
