package usecase

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/arklim/department-iam/internal/core/domain"
	"github.com/arklim/department-iam/internal/infra/security"
)

func newAuthenticatorHarness(t *testing.T, user domain.User) (*AuthenticatorService, *fakeUserRepo, *recordingMailer, *recordingEvents, *testClock) {
	t.Helper()
	users := newFakeUserRepo(user)
	mailer := &recordingMailer{}
	events := &recordingEvents{}
	clock := newTestClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))

	svc := NewAuthenticatorService(users, security.NewTOTPManager("Department IAM"), NewNotifier(mailer, nil), events, nil)
	svc.WithClock(clock.Now)
	return svc, users, mailer, events, clock
}

func TestAuthenticatorEnrollmentLifecycle(t *testing.T) {
	user := newConfirmedUser(t, testHasher(t), "enroll@x.com", "Secret1")
	svc, users, mailer, events, clock := newAuthenticatorHarness(t, user)
	ctx := context.Background()

	setup, err := svc.Setup(ctx, user.ID)
	if err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	if !strings.HasPrefix(setup.ProvisioningURI, "otpauth://totp/Department%20IAM:enroll%40x.com?secret=") {
		t.Fatalf("unexpected provisioning uri %q", setup.ProvisioningURI)
	}
	parsed, err := url.Parse(setup.ProvisioningURI)
	if err != nil {
		t.Fatalf("parse provisioning uri: %v", err)
	}
	secret := parsed.Query().Get("secret")
	if len(secret) != 32 {
		t.Fatalf("expected 160-bit base32 secret, got %q", secret)
	}
	if setup.ManualEntryKey != security.ManualEntryKey(secret) {
		t.Fatalf("unexpected manual key %q", setup.ManualEntryKey)
	}

	stored := users.get(t, user.ID)
	if stored.AuthenticatorEnabled || stored.AuthenticatorSecret != nil ||
		stored.PendingAuthenticatorSecret == nil || *stored.PendingAuthenticatorSecret != secret {
		t.Fatalf("expected unconfirmed secret to be stored as pending, got %+v", stored)
	}

	if err := svc.Enable(ctx, user.ID, "000000"); !errors.Is(err, ErrInvalidCode) {
		code, _ := security.NewTOTPManager("").GenerateCode(secret, clock.Now())
		if code != "000000" {
			t.Fatalf("expected ErrInvalidCode, got %v", err)
		}
	}

	code, err := security.NewTOTPManager("").GenerateCode(secret, clock.Now())
	if err != nil {
		t.Fatalf("GenerateCode returned error: %v", err)
	}
	if err := svc.Enable(ctx, user.ID, code); err != nil {
		t.Fatalf("Enable returned error: %v", err)
	}
	stored = users.get(t, user.ID)
	if !stored.AuthenticatorEnabled || !stored.TwoFactorEnabled {
		t.Fatalf("expected both flags set, got %+v", stored)
	}
	if stored.AuthenticatorSecret == nil || *stored.AuthenticatorSecret != secret || stored.PendingAuthenticatorSecret != nil {
		t.Fatalf("expected pending secret promoted, got %+v", stored)
	}

	if err := svc.Disable(ctx, user.ID); err != nil {
		t.Fatalf("Disable returned error: %v", err)
	}
	stored = users.get(t, user.ID)
	if stored.AuthenticatorEnabled || stored.TwoFactorEnabled || stored.AuthenticatorSecret != nil {
		t.Fatalf("expected authenticator cleared, got %+v", stored)
	}

	if mailer.count() != 3 {
		t.Fatalf("expected 3 notification emails, got %d", mailer.count())
	}
	if got := events.types(); len(got) != 2 || got[0] != domain.SecurityEventAuthenticatorEnabled || got[1] != domain.SecurityEventAuthenticatorDisabled {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestAuthenticatorResetupKeepsLiveSecretUntilEnabled(t *testing.T) {
	user := newConfirmedUser(t, testHasher(t), "rotate@x.com", "Secret1")
	live := "JBSWY3DPEHPK3PXP"
	user.AuthenticatorEnabled = true
	user.TwoFactorEnabled = true
	user.AuthenticatorSecret = &live

	svc, users, _, _, clock := newAuthenticatorHarness(t, user)
	ctx := context.Background()

	setup, err := svc.Setup(ctx, user.ID)
	if err != nil {
		t.Fatalf("Setup returned error: %v", err)
	}
	parsed, err := url.Parse(setup.ProvisioningURI)
	if err != nil {
		t.Fatalf("parse provisioning uri: %v", err)
	}
	next := parsed.Query().Get("secret")

	stored := users.get(t, user.ID)
	if !stored.AuthenticatorEnabled || stored.AuthenticatorSecret == nil || *stored.AuthenticatorSecret != live {
		t.Fatalf("expected live authenticator untouched before confirmation, got %+v", stored)
	}
	if stored.TwoFactorChannel() != domain.TwoFactorChannelAuthenticator {
		t.Fatalf("expected sign-in to stay on the authenticator channel, got %s", stored.TwoFactorChannel())
	}

	code, err := security.NewTOTPManager("").GenerateCode(next, clock.Now())
	if err != nil {
		t.Fatalf("GenerateCode returned error: %v", err)
	}
	if err := svc.Enable(ctx, user.ID, code); err != nil {
		t.Fatalf("Enable returned error: %v", err)
	}
	stored = users.get(t, user.ID)
	if stored.AuthenticatorSecret == nil || *stored.AuthenticatorSecret != next || stored.PendingAuthenticatorSecret != nil {
		t.Fatalf("expected new secret to replace the live one, got %+v", stored)
	}
}

func TestAuthenticatorMailFailureDoesNotUndoChange(t *testing.T) {
	user := newConfirmedUser(t, testHasher(t), "quiet@x.com", "Secret1")
	secret := "JBSWY3DPEHPK3PXP"
	user.AuthenticatorEnabled = true
	user.TwoFactorEnabled = true
	user.AuthenticatorSecret = &secret

	svc, users, mailer, events, _ := newAuthenticatorHarness(t, user)
	mailer.err = errors.New("smtp down")
	events.err = errors.New("kafka down")

	if err := svc.Disable(context.Background(), user.ID); err != nil {
		t.Fatalf("Disable returned error: %v", err)
	}
	if stored := users.get(t, user.ID); stored.TwoFactorEnabled {
		t.Fatalf("expected change to persist despite mail failure")
	}
}

func TestAuthenticatorRejectsBadUserIDs(t *testing.T) {
	user := newConfirmedUser(t, testHasher(t), "ids@x.com", "Secret1")
	svc, _, _, _, _ := newAuthenticatorHarness(t, user)
	ctx := context.Background()

	if _, err := svc.Setup(ctx, "nope"); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
	if err := svc.Disable(ctx, "55555555-5555-5555-5555-555555555555"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.Enable(ctx, user.ID, "123456"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode without a pending secret, got %v", err)
	}
}
