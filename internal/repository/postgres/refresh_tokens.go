package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/department-iam/internal/core/domain"
	"github.com/arklim/department-iam/internal/core/port"
	"github.com/arklim/department-iam/internal/repository"
)

var _ port.RefreshTokenRepository = (*RefreshTokenRepository)(nil)

var refreshTokenColumns = []string{
	"id",
	"user_id",
	"token_hash",
	"expires_at",
	"is_revoked",
	"revoked_at",
	"replaced_by_token_hash",
	"created_at",
}

// RefreshTokenRepository implements port.RefreshTokenRepository on iam.refresh_tokens.
type RefreshTokenRepository struct {
	db      pgBeginner
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewRefreshTokenRepository constructs a repository backed by a pool or any executor able to begin transactions.
func NewRefreshTokenRepository(db pgBeginner) *RefreshTokenRepository {
	return &RefreshTokenRepository{
		db:      db,
		exec:    db,
		builder: newBuilder(),
	}
}

// WithTx returns a repository instance executing within the provided transaction.
func (r *RefreshTokenRepository) WithTx(tx pgx.Tx) *RefreshTokenRepository {
	if tx == nil {
		return r
	}
	return &RefreshTokenRepository{db: tx, exec: tx, builder: r.builder}
}

// Create appends a refresh token row.
func (r *RefreshTokenRepository) Create(ctx context.Context, token domain.RefreshToken) error {
	stmt, args, err := r.builder.Insert("iam.refresh_tokens").
		Columns(refreshTokenColumns...).
		Values(
			token.ID,
			token.UserID,
			token.TokenHash,
			token.ExpiresAt,
			token.IsRevoked,
			token.RevokedAt,
			token.ReplacedByTokenHash,
			token.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert refresh token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// GetByHash loads a refresh token by the hash of its opaque value.
func (r *RefreshTokenRepository) GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	stmt, args, err := r.builder.Select(refreshTokenColumns...).
		From("iam.refresh_tokens").
		Where(squirrel.Eq{"token_hash": hash}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select refresh token sql: %w", err)
	}

	var token domain.RefreshToken
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.ExpiresAt,
		&token.IsRevoked,
		&token.RevokedAt,
		&token.ReplacedByTokenHash,
		&token.CreatedAt,
	); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}

	return &token, nil
}

// Rotate revokes the active row for oldHash and inserts next in one transaction. The
// conditional update is the serialization point: of two concurrent rotations of the
// same token only one matches a non-revoked row.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldHash string, next domain.RefreshToken, at time.Time) (rotated *domain.RefreshToken, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin rotate refresh token: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback rotate refresh token: %w", rbErr))
			}
		}
	}()

	stmt, args, err := r.builder.Update("iam.refresh_tokens").
		Set("is_revoked", true).
		Set("revoked_at", at).
		Set("replaced_by_token_hash", next.TokenHash).
		Where(squirrel.Eq{"token_hash": oldHash, "is_revoked": false}).
		Where(squirrel.Gt{"expires_at": at}).
		Suffix("RETURNING id, user_id, expires_at, created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build revoke refresh token sql: %w", err)
	}

	previous := domain.RefreshToken{
		TokenHash:           oldHash,
		IsRevoked:           true,
		RevokedAt:           &at,
		ReplacedByTokenHash: &next.TokenHash,
	}
	if err = tx.QueryRow(ctx, stmt, args...).Scan(
		&previous.ID,
		&previous.UserID,
		&previous.ExpiresAt,
		&previous.CreatedAt,
	); err != nil {
		if isNoRows(err) {
			err = repository.ErrNotFound
			return nil, err
		}
		return nil, fmt.Errorf("revoke refresh token: %w", err)
	}

	next.UserID = previous.UserID
	if err = r.WithTx(tx).Create(ctx, next); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit rotate refresh token: %w", err)
	}

	return &previous, nil
}

// Revoke marks an active token revoked. It reports false when no active row matched.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, hash string, at time.Time) (bool, error) {
	stmt, args, err := r.builder.Update("iam.refresh_tokens").
		Set("is_revoked", true).
		Set("revoked_at", at).
		Where(squirrel.Eq{"token_hash": hash, "is_revoked": false}).
		Where(squirrel.Gt{"expires_at": at}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build revoke refresh token sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}

	return ct.RowsAffected() > 0, nil
}
