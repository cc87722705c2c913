package domain

import "time"

const (
	// AccessTokenLifetime is the fixed validity window of signed access tokens.
	AccessTokenLifetime = 15 * time.Minute
	// RefreshTokenLifetime is the fixed validity window of opaque refresh tokens.
	RefreshTokenLifetime = 7 * 24 * time.Hour
)

// RefreshToken represents a persisted refresh credential. Only the hash of the
// opaque value is stored; ReplacedByTokenHash links to the rotation successor.
type RefreshToken struct {
	ID                  string
	UserID              string
	TokenHash           string
	ExpiresAt           time.Time
	IsRevoked           bool
	RevokedAt           *time.Time
	ReplacedByTokenHash *string
	CreatedAt           time.Time
}

// IsExpired reports whether the token has elapsed its validity window.
func (t RefreshToken) IsExpired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// IsActive returns true when the token can still be presented for rotation.
func (t RefreshToken) IsActive(at time.Time) bool {
	return !t.IsRevoked && !t.IsExpired(at)
}

// TokenPair is the credential bundle handed to a caller after a completed sign-in.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	ExpiresInSeconds int
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// SessionOutcome is the result of a sign-in step. Exactly one of Tokens or
// RequiresTwoFactor is populated.
type SessionOutcome struct {
	Tokens            *TokenPair
	RequiresTwoFactor bool
	Channel           TwoFactorChannel
	StepUpToken       string
	User              User
}
