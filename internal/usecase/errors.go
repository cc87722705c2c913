package usecase

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidation indicates caller input failed basic validation.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials covers unknown email, unconfirmed email, wrong password and locked accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidOrExpiredToken indicates the refresh token is unknown, revoked or expired.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrInvalidSession indicates the step-up token does not match the pending challenge.
	ErrInvalidSession = errors.New("invalid session")
	// ErrInvalidCode indicates a second-factor code or confirmation token was rejected.
	ErrInvalidCode = errors.New("invalid code")
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited indicates a resend was rejected by the throttle guard.
	ErrRateLimited = errors.New("rate limited")
	// ErrConfigurationMissing indicates signing material or a template is absent.
	ErrConfigurationMissing = errors.New("configuration missing")
	// ErrInvalidUserID indicates a user id that is not a UUID.
	ErrInvalidUserID = errors.New("invalid user id")
	// ErrEmailTaken indicates the email is already registered.
	ErrEmailTaken = errors.New("email already registered")
	// ErrPasswordPolicyViolation indicates the password does not satisfy the strength policy.
	ErrPasswordPolicyViolation = errors.New("password does not meet complexity requirements")
	// ErrTwoFactorChannelUnsupported indicates the operation does not apply to the user's channel.
	ErrTwoFactorChannelUnsupported = errors.New("operation not supported for two-factor channel")
)

// RateLimitError carries the remaining wait before the next attempt is allowed.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}

// Is matches ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

func requiredField(name string) error {
	return fmt.Errorf("%w: %s is required", ErrValidation, name)
}
