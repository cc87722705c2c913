package security

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arklim/department-iam/internal/core/domain"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func testHasher(t *testing.T) *Argon2Hasher {
	t.Helper()
	hasher, err := NewArgon2Hasher(Argon2Config{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("NewArgon2Hasher returned error: %v", err)
	}
	return hasher
}

func TestArgon2Hasher_RoundTrip(t *testing.T) {
	hasher := testHasher(t)

	encoded, err := hasher.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != argon2Variant || parts[1] != argon2Version {
		t.Fatalf("unexpected hash format: %q", encoded)
	}

	ok, err := hasher.Verify("correct horse battery staple", encoded)
	if err != nil || !ok {
		t.Fatalf("expected password to verify, got ok=%v err=%v", ok, err)
	}
	ok, err = hasher.Verify("Tr0ub4dor&3", encoded)
	if err != nil || ok {
		t.Fatalf("expected wrong password to fail, got ok=%v err=%v", ok, err)
	}
}

func TestArgon2Hasher_RejectsMalformedHash(t *testing.T) {
	hasher := testHasher(t)
	if _, err := hasher.Verify("secret", "argon2id$v=19$bogus"); !errors.Is(err, errInvalidHashFormat) {
		t.Fatalf("expected errInvalidHashFormat, got %v", err)
	}
}

func TestNewArgon2Hasher_ValidatesConfig(t *testing.T) {
	if _, err := NewArgon2Hasher(Argon2Config{}); !errors.Is(err, errInvalidConfig) {
		t.Fatalf("expected errInvalidConfig, got %v", err)
	}
}

func TestTokenGenerators(t *testing.T) {
	refresh, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken returned error: %v", err)
	}
	raw, err := hex.DecodeString(refresh)
	if err != nil || len(raw) != 32 {
		t.Fatalf("expected 32 hex-encoded bytes, got %q", refresh)
	}

	stepUp, err := GenerateStepUpToken()
	if err != nil {
		t.Fatalf("GenerateStepUpToken returned error: %v", err)
	}
	raw, err = base64.StdEncoding.DecodeString(stepUp)
	if err != nil || len(raw) != 32 {
		t.Fatalf("expected 32 base64-encoded bytes, got %q", stepUp)
	}

	code, err := GenerateNumericCode(6)
	if err != nil {
		t.Fatalf("GenerateNumericCode returned error: %v", err)
	}
	if len(code) != 6 || strings.Trim(code, "0123456789") != "" {
		t.Fatalf("expected six digits, got %q", code)
	}

	if HashToken("a") == HashToken("b") || len(HashToken("a")) != 64 {
		t.Fatalf("unexpected token hash output")
	}
}

func TestAccessTokenIssuer_IssueAndParse(t *testing.T) {
	issuer, err := NewAccessTokenIssuer(JWTConfig{SigningKey: testSigningKey, Issuer: "iam", Audience: "portal"})
	if err != nil {
		t.Fatalf("NewAccessTokenIssuer returned error: %v", err)
	}
	now := time.Now().UTC()
	issuer.WithClock(func() time.Time { return now })

	user := domain.User{ID: "user-1", Email: "a@x.com", FirstName: "Ada", LastName: "Lovelace"}
	token, expiresAt, err := issuer.Issue(user, []string{"Editor", "Viewer", "Editor"}, now)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if got := expiresAt.Sub(now.Truncate(time.Second)); got != 15*time.Minute {
		t.Fatalf("expected 15 minute lifetime, got %v", got)
	}

	claims, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "a@x.com" || claims.GivenName != "Ada" || claims.FamilyName != "Lovelace" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Roles) != 2 {
		t.Fatalf("expected deduplicated roles, got %v", claims.Roles)
	}
	if claims.ID == "" {
		t.Fatalf("expected jti to be set")
	}

	issuer.WithClock(func() time.Time { return now.Add(16 * time.Minute) })
	if _, err := issuer.Parse(token); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("expected expired token to be rejected, got %v", err)
	}
}

func TestAccessTokenIssuer_RejectsForeignSignature(t *testing.T) {
	issuer, err := NewAccessTokenIssuer(JWTConfig{SigningKey: testSigningKey, Issuer: "iam"})
	if err != nil {
		t.Fatalf("NewAccessTokenIssuer returned error: %v", err)
	}

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    "iam",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("ffffffffffffffffffffffffffffffff"))
	if err != nil {
		t.Fatalf("sign forged token: %v", err)
	}

	if _, err := issuer.Parse(forged); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("expected forged token rejection, got %v", err)
	}
}

func TestNewAccessTokenIssuer_RequiresKey(t *testing.T) {
	if _, err := NewAccessTokenIssuer(JWTConfig{Issuer: "iam"}); !errors.Is(err, ErrSigningKeyMissing) {
		t.Fatalf("expected ErrSigningKeyMissing, got %v", err)
	}
	if _, err := NewAccessTokenIssuer(JWTConfig{SigningKey: "short", Issuer: "iam"}); !errors.Is(err, ErrSigningKeyTooShort) {
		t.Fatalf("expected ErrSigningKeyTooShort, got %v", err)
	}
}

func TestTOTPManager_OneStepTolerance(t *testing.T) {
	manager := NewTOTPManager("Dept IAM")
	secret, err := manager.GenerateSecret("a@x.com")
	if err != nil {
		t.Fatalf("GenerateSecret returned error: %v", err)
	}
	if len(secret) != 32 {
		t.Fatalf("expected 160-bit base32 secret, got %d chars", len(secret))
	}

	at := time.Unix(1_700_000_010, 0).UTC()
	code, err := manager.GenerateCode(secret, at)
	if err != nil {
		t.Fatalf("GenerateCode returned error: %v", err)
	}

	for _, offset := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		ok, err := manager.Validate(code, secret, at.Add(offset))
		if err != nil || !ok {
			t.Fatalf("expected code accepted at offset %v, got ok=%v err=%v", offset, ok, err)
		}
	}
	for _, offset := range []time.Duration{-90 * time.Second, 90 * time.Second} {
		ok, err := manager.Validate(code, secret, at.Add(offset))
		if err != nil || ok {
			t.Fatalf("expected code rejected at offset %v, got ok=%v err=%v", offset, ok, err)
		}
	}

	ok, err := manager.Validate("12", secret, at)
	if err != nil || ok {
		t.Fatalf("expected short code rejected without error, got ok=%v err=%v", ok, err)
	}
}

func TestTOTPManager_ProvisioningURIFormat(t *testing.T) {
	manager := NewTOTPManager("Dept IAM")
	uri := manager.ProvisioningURI("a+b@x.com", "JBSWY3DPEHPK3PXP")

	want := "otpauth://totp/Dept%20IAM:a%2Bb%40x.com?secret=JBSWY3DPEHPK3PXP&issuer=Dept%20IAM&algorithm=SHA1&digits=6&period=30"
	if uri != want {
		t.Fatalf("unexpected uri:\n got %s\nwant %s", uri, want)
	}

	if key := ManualEntryKey("JBSWY3DPEHPK3PXP"); key != "jbsw y3dp ehpk 3pxp" {
		t.Fatalf("unexpected manual key %q", key)
	}
}

func TestPasswordPolicy(t *testing.T) {
	policy := NewPasswordPolicy()

	if err := policy.Validate("C0mplex!Passphrase#2025", "a@x.com"); err != nil {
		t.Fatalf("expected strong password to pass, got %v", err)
	}

	assertViolation := func(password, expectedCode string) {
		t.Helper()
		var vErr *PasswordValidationError
		if err := policy.Validate(password); !errors.As(err, &vErr) || vErr.Code != expectedCode {
			t.Fatalf("expected %s violation for %q, got %v", expectedCode, password, err)
		}
	}

	assertViolation("Sh0rt", "min_length")
	assertViolation("12345678", "letter")
	assertViolation("passwordonly", "digit")
	assertViolation("password1", "weak_password")
}
