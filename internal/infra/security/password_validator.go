package security

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

const (
	defaultMinPasswordLength = 8
	defaultMinZxcvbnScore    = 2
	maxZxcvbnScore           = 4
)

// PasswordValidationError names the first policy check a password failed.
type PasswordValidationError struct {
	Code    string
	Message string
}

func (e *PasswordValidationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// PasswordPolicy validates registration passwords. The user's email and names
// are handed to zxcvbn so passwords derived from them score lower.
type PasswordPolicy struct {
	minLength int
	minScore  int
}

// NewPasswordPolicy returns the service password policy.
func NewPasswordPolicy() *PasswordPolicy {
	return &PasswordPolicy{minLength: defaultMinPasswordLength, minScore: defaultMinZxcvbnScore}
}

// Validate checks length, then letters, then digits, then zxcvbn strength.
func (p *PasswordPolicy) Validate(password string, userInputs ...string) error {
	if p == nil {
		return errors.New("password policy not configured")
	}

	if n := len([]rune(password)); n < p.minLength {
		return violation("min_length", fmt.Sprintf("password must be at least %d characters long", p.minLength))
	}
	if !strings.ContainsFunc(password, unicode.IsLetter) {
		return violation("letter", "password must include at least one letter")
	}
	if !strings.ContainsFunc(password, unicode.IsDigit) {
		return violation("digit", "password must include at least one digit")
	}

	if score := min(p.minScore, maxZxcvbnScore); score > 0 {
		if zxcvbn.PasswordStrength(password, nonBlank(userInputs)).Score < score {
			return violation("weak_password", "password is too weak; choose a more complex value")
		}
	}
	return nil
}

func violation(code, msg string) *PasswordValidationError {
	return &PasswordValidationError{Code: code, Message: msg}
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
