package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/department-iam/internal/core/domain"
	"github.com/arklim/department-iam/internal/core/port"
	"github.com/arklim/department-iam/internal/repository"
)

var _ port.UserRepository = (*UserRepository)(nil)

var userColumns = []string{
	"id",
	"email",
	"normalized_email",
	"first_name",
	"last_name",
	"password_hash",
	"email_confirmed",
	"two_factor_enabled",
	"authenticator_enabled",
	"authenticator_secret",
	"pending_authenticator_secret",
	"access_failed_count",
	"lockout_end",
	"is_active",
	"is_deleted",
	"created_at",
	"updated_at",
}

// UserRepository implements port.UserRepository using PostgreSQL.
type UserRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUserRepository wires a PostgreSQL-backed user repository.
func NewUserRepository(exec pgExecutor) *UserRepository {
	return &UserRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *UserRepository) WithTx(tx pgx.Tx) *UserRepository {
	if tx == nil {
		return r
	}
	return &UserRepository{exec: tx, builder: r.builder}
}

// Create inserts a new user row.
func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	if user.NormalizedEmail == "" {
		user.NormalizedEmail = domain.NormalizeEmail(user.Email)
	}

	stmt, args, err := r.builder.Insert("iam.users").
		Columns(userColumns...).
		Values(
			user.ID,
			user.Email,
			user.NormalizedEmail,
			user.FirstName,
			user.LastName,
			user.PasswordHash,
			user.EmailConfirmed,
			user.TwoFactorEnabled,
			user.AuthenticatorEnabled,
			user.AuthenticatorSecret,
			user.PendingAuthenticatorSecret,
			user.AccessFailedCount,
			user.LockoutEnd,
			user.IsActive,
			user.IsDeleted,
			user.CreatedAt,
			user.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert user sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert user: %w", repository.ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by identifier.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

// GetByEmail retrieves a user by email, case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"normalized_email": domain.NormalizeEmail(email)})
}

func (r *UserRepository) getOne(ctx context.Context, pred squirrel.Eq) (*domain.User, error) {
	stmt, args, err := r.builder.
		Select(userColumns...).
		From("iam.users").
		Where(pred).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	user, err := scanUser(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	return user, nil
}

// Update writes every mutable user field.
func (r *UserRepository) Update(ctx context.Context, user domain.User) error {
	updatedAt := user.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	stmt, args, err := r.builder.Update("iam.users").
		Set("email", user.Email).
		Set("normalized_email", domain.NormalizeEmail(user.Email)).
		Set("first_name", user.FirstName).
		Set("last_name", user.LastName).
		Set("password_hash", user.PasswordHash).
		Set("email_confirmed", user.EmailConfirmed).
		Set("two_factor_enabled", user.TwoFactorEnabled).
		Set("authenticator_enabled", user.AuthenticatorEnabled).
		Set("authenticator_secret", user.AuthenticatorSecret).
		Set("pending_authenticator_secret", user.PendingAuthenticatorSecret).
		Set("is_active", user.IsActive).
		Set("is_deleted", user.IsDeleted).
		Set("updated_at", updatedAt).
		Where(squirrel.Eq{"id": user.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update user sql: %w", err)
	}

	ct, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// RecordAccessFailure bumps the failure counter in a single statement so concurrent
// failed sign-ins cannot lose increments.
func (r *UserRepository) RecordAccessFailure(ctx context.Context, id string, maxFailures int, lockoutUntil time.Time) (*time.Time, error) {
	stmt, args, err := r.builder.Update("iam.users").
		Set("access_failed_count", squirrel.Expr(
			"CASE WHEN access_failed_count + 1 >= ? THEN 0 ELSE access_failed_count + 1 END", maxFailures)).
		Set("lockout_end", squirrel.Expr(
			"CASE WHEN access_failed_count + 1 >= ? THEN ? ELSE lockout_end END", maxFailures, lockoutUntil)).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING lockout_end").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build record access failure sql: %w", err)
	}

	var lockoutEnd *time.Time
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&lockoutEnd); err != nil {
		if isNoRows(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("record access failure: %w", err)
	}

	return lockoutEnd, nil
}

// ResetAccessFailures clears the failure counter and any lockout.
func (r *UserRepository) ResetAccessFailures(ctx context.Context, id string) error {
	stmt, args, err := r.builder.Update("iam.users").
		Set("access_failed_count", 0).
		Set("lockout_end", nil).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build reset access failures sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("reset access failures: %w", err)
	}

	return nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.NormalizedEmail,
		&user.FirstName,
		&user.LastName,
		&user.PasswordHash,
		&user.EmailConfirmed,
		&user.TwoFactorEnabled,
		&user.AuthenticatorEnabled,
		&user.AuthenticatorSecret,
		&user.PendingAuthenticatorSecret,
		&user.AccessFailedCount,
		&user.LockoutEnd,
		&user.IsActive,
		&user.IsDeleted,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	user.Email = strings.TrimSpace(user.Email)
	return &user, nil
}
