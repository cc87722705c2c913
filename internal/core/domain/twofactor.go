package domain

import (
	"fmt"
	"strings"
	"time"
)

// TwoFactorChannel enumerates the supported second factors.
type TwoFactorChannel string

const (
	TwoFactorChannelEmail         TwoFactorChannel = "Email"
	TwoFactorChannelAuthenticator TwoFactorChannel = "Authenticator"
)

// ParseTwoFactorChannel resolves user input into a channel, case-insensitively.
func ParseTwoFactorChannel(value string) (TwoFactorChannel, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "email":
		return TwoFactorChannelEmail, nil
	case "authenticator", "totp":
		return TwoFactorChannelAuthenticator, nil
	default:
		return "", fmt.Errorf("unsupported two-factor channel %q", value)
	}
}

// String implements fmt.Stringer.
func (c TwoFactorChannel) String() string {
	return string(c)
}

// ArtifactClass scopes freshness and throttle state by the kind of artifact issued.
type ArtifactClass string

const (
	ArtifactConfirmation ArtifactClass = "confirmation"
	ArtifactTwoFactor    ArtifactClass = "two_factor"
)

// StepUpSession binds a password-verified sign-in to a pending second-factor challenge.
type StepUpSession struct {
	UserID    string
	TokenHash string
	Channel   TwoFactorChannel
	IssuedAt  time.Time
	ExpiresAt time.Time
	// Attempts counts verification attempts made against this challenge.
	Attempts int
}

// IsExpired reports whether the challenge window has closed.
func (s StepUpSession) IsExpired(at time.Time) bool {
	return !s.ExpiresAt.After(at)
}

// AuthenticatorSetup is returned when a user starts authenticator enrollment.
type AuthenticatorSetup struct {
	ProvisioningURI string
	ManualEntryKey  string
}

// IssuedCode describes a one-time code or token handed to the mail transport.
type IssuedCode struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
