package domain

import (
	"strings"
	"time"
)

// User mirrors the persisted representation in the users table.
// PendingAuthenticatorSecret holds a secret from Setup until Enable confirms it.
type User struct {
	ID                         string
	Email                      string
	NormalizedEmail            string
	FirstName                  string
	LastName                   string
	PasswordHash               string
	EmailConfirmed             bool
	TwoFactorEnabled           bool
	AuthenticatorEnabled       bool
	AuthenticatorSecret        *string
	PendingAuthenticatorSecret *string
	AccessFailedCount          int
	LockoutEnd                 *time.Time
	IsActive                   bool
	IsDeleted                  bool
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

// NormalizeEmail produces the case-insensitive lookup key for an email address.
func NormalizeEmail(email string) string {
	return strings.ToUpper(strings.TrimSpace(email))
}

// CanSignIn reports whether the account may authenticate at all.
func (u User) CanSignIn() bool {
	return u.IsActive && !u.IsDeleted
}

// IsLockedOut reports whether a lockout is in effect at the supplied moment.
func (u User) IsLockedOut(at time.Time) bool {
	return u.LockoutEnd != nil && u.LockoutEnd.After(at)
}

// TwoFactorChannel resolves the channel used for step-up verification.
func (u User) TwoFactorChannel() TwoFactorChannel {
	if u.AuthenticatorEnabled {
		return TwoFactorChannelAuthenticator
	}
	return TwoFactorChannelEmail
}

// Sanitized returns a copy without credential material.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	u.AuthenticatorSecret = nil
	u.PendingAuthenticatorSecret = nil
	return u
}
