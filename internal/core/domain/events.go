package domain

import "time"

// SecurityEventType names an audit-relevant account or session change.
type SecurityEventType string

const (
	SecurityEventLoginSucceeded        SecurityEventType = "login.succeeded"
	SecurityEventTwoFactorVerified     SecurityEventType = "two_factor.verified"
	SecurityEventSessionRefreshed      SecurityEventType = "session.refreshed"
	SecurityEventSessionRevoked        SecurityEventType = "session.revoked"
	SecurityEventAuthenticatorEnabled  SecurityEventType = "authenticator.enabled"
	SecurityEventAuthenticatorDisabled SecurityEventType = "authenticator.disabled"
	SecurityEventUserRegistered        SecurityEventType = "user.registered"
	SecurityEventEmailConfirmed        SecurityEventType = "email.confirmed"
)

// SecurityEvent is published after a state change has been committed.
type SecurityEvent struct {
	ID         string
	Type       SecurityEventType
	UserID     string
	OccurredAt time.Time
	Attributes map[string]string
}
