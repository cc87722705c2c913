package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"

	"github.com/arklim/department-iam/internal/core/domain"
)

const minSigningKeyBytes = 32

var (
	// ErrSigningKeyMissing indicates no symmetric signing key was configured.
	ErrSigningKeyMissing = errors.New("jwt: signing key missing")
	// ErrSigningKeyTooShort indicates the configured key is below 256 bits.
	ErrSigningKeyTooShort = errors.New("jwt: signing key must be at least 32 bytes")
	// ErrInvalidAccessToken is returned when a bearer token fails validation.
	ErrInvalidAccessToken = errors.New("jwt: invalid access token")
)

// AccessTokenClaims carries identity and role claims alongside the registered claims.
type AccessTokenClaims struct {
	Email      string   `json:"email"`
	GivenName  string   `json:"given_name,omitempty"`
	FamilyName string   `json:"family_name,omitempty"`
	Roles      []string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig holds the signing material and identifiers used by AccessTokenIssuer.
type JWTConfig struct {
	SigningKey string
	Issuer     string
	Audience   string
}

// AccessTokenIssuer mints and validates HS256 access tokens with a fixed lifetime.
type AccessTokenIssuer struct {
	key      []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewAccessTokenIssuer validates the signing configuration.
func NewAccessTokenIssuer(cfg JWTConfig) (*AccessTokenIssuer, error) {
	key := strings.TrimSpace(cfg.SigningKey)
	if key == "" {
		return nil, ErrSigningKeyMissing
	}
	if len(key) < minSigningKeyBytes {
		return nil, ErrSigningKeyTooShort
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, fmt.Errorf("jwt: issuer is required")
	}

	return &AccessTokenIssuer{
		key:      []byte(key),
		issuer:   issuer,
		audience: strings.TrimSpace(cfg.Audience),
		now:      time.Now,
	}, nil
}

// WithClock overrides the internal clock, used in tests.
func (i *AccessTokenIssuer) WithClock(clock func() time.Time) {
	if clock != nil {
		i.now = clock
	}
}

// Issue signs an access token for user valid for domain.AccessTokenLifetime from at.
func (i *AccessTokenIssuer) Issue(user domain.User, roles []string, at time.Time) (string, time.Time, error) {
	if strings.TrimSpace(user.ID) == "" {
		return "", time.Time{}, fmt.Errorf("jwt: user id is required")
	}

	issuedAt := at.UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(domain.AccessTokenLifetime)

	claims := &AccessTokenClaims{
		Email:      user.Email,
		GivenName:  user.FirstName,
		FamilyName: user.LastName,
		Roles:      normalizeRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: sign token: %w", err)
	}

	return signed, expiresAt, nil
}

// Parse validates signature, issuer, audience and time claims of a bearer token.
func (i *AccessTokenIssuer) Parse(raw string) (*AccessTokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	}
	if i.audience != "" {
		opts = append(opts, jwt.WithAudience(i.audience))
	}

	claims := &AccessTokenClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
		return i.key, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidAccessToken
	}

	return claims, nil
}

func normalizeRoles(input []string) []string {
	if len(input) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(input))
	result := make([]string, 0, len(input))
	for _, role := range input {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if _, exists := seen[role]; exists {
			continue
		}
		seen[role] = struct{}{}
		result = append(result, role)
	}

	if len(result) == 0 {
		return nil
	}

	return result
}
