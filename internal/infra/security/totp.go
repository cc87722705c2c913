package security

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/arklim/department-iam/internal/core/port"
)

const (
	totpPeriod     = 30
	totpSecretSize = 20
	totpSkew       = 1
)

// ErrMissingSecret is returned when secret is empty.
var ErrMissingSecret = errors.New("totp secret is required")

var _ port.TOTPVerifier = (*TOTPManager)(nil)

// TOTPManager generates authenticator secrets and validates 6-digit SHA1 codes with
// a tolerance of one 30 second step either side.
type TOTPManager struct {
	issuer string
}

// NewTOTPManager constructs a manager labelling provisioning URIs with issuer.
func NewTOTPManager(issuer string) *TOTPManager {
	return &TOTPManager{issuer: strings.TrimSpace(issuer)}
}

// Issuer returns the configured issuer label.
func (m *TOTPManager) Issuer() string {
	return m.issuer
}

// GenerateSecret returns a new random 160-bit secret, base32 encoded without padding.
func (m *TOTPManager) GenerateSecret(account string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: account,
		Period:      totpPeriod,
		SecretSize:  totpSecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("totp: generate secret: %w", err)
	}
	return key.Secret(), nil
}

// ProvisioningURI renders otpauth://totp/{issuer}:{account}?secret=..&issuer=..&algorithm=SHA1&digits=6&period=30.
func (m *TOTPManager) ProvisioningURI(account, secret string) string {
	issuer := percentEncode(m.issuer)
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s&algorithm=SHA1&digits=6&period=%d",
		issuer, percentEncode(account), secret, issuer, totpPeriod)
}

// ManualEntryKey formats secret as lowercase groups of four separated by spaces.
func ManualEntryKey(secret string) string {
	lower := strings.ToLower(secret)
	var b strings.Builder
	for i, r := range lower {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Validate checks code against secret at the supplied instant.
func (m *TOTPManager) Validate(code, secret string, at time.Time) (bool, error) {
	if strings.TrimSpace(secret) == "" {
		return false, ErrMissingSecret
	}
	code = strings.ReplaceAll(strings.TrimSpace(code), " ", "")

	ok, err := totp.ValidateCustom(code, secret, at.UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		if errors.Is(err, otp.ErrValidateInputInvalidLength) {
			return false, nil
		}
		return false, fmt.Errorf("totp: validate: %w", err)
	}
	return ok, nil
}

// GenerateCode computes the code for secret at the given instant.
func (m *TOTPManager) GenerateCode(secret string, at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, at.UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("totp: generate code: %w", err)
	}
	return code, nil
}

func percentEncode(value string) string {
	return strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
}
