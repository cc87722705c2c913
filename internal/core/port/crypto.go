package port

import "time"

// PasswordHasher hashes and verifies secrets using the configured algorithm.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password string, encoded string) (bool, error)
}

// TOTPVerifier validates time-based one-time codes against a base32 secret.
type TOTPVerifier interface {
	Validate(code, secret string, at time.Time) (bool, error)
}
