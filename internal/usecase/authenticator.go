package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/department-iam/internal/core/domain"
	"github.com/arklim/department-iam/internal/core/port"
	"github.com/arklim/department-iam/internal/infra/security"
	"github.com/arklim/department-iam/internal/infra/telemetry"
	"github.com/arklim/department-iam/internal/repository"
)

// AuthenticatorService manages authenticator app enrollment. Notification emails
// are best effort and never undo a stored change.
type AuthenticatorService struct {
	users    port.UserRepository
	totp     *security.TOTPManager
	notifier *Notifier
	events   port.EventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewAuthenticatorService constructs an AuthenticatorService instance.
func NewAuthenticatorService(users port.UserRepository, totp *security.TOTPManager, notifier *Notifier, events port.EventPublisher, logger *zap.Logger) *AuthenticatorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthenticatorService{users: users, totp: totp, notifier: notifier, events: events, logger: logger, now: time.Now}
}

// WithClock overrides the internal clock, used in tests.
func (s *AuthenticatorService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

func (s *AuthenticatorService) loadUser(ctx context.Context, userID string) (*domain.User, error) {
	if _, err := uuid.Parse(strings.TrimSpace(userID)); err != nil {
		return nil, ErrInvalidUserID
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.CanSignIn() {
		return nil, ErrNotFound
	}
	return user, nil
}

// Setup stores a fresh pending secret and returns the provisioning details.
// An enabled authenticator keeps working on its current secret until Enable confirms the new one.
func (s *AuthenticatorService) Setup(ctx context.Context, userID string) (setup domain.AuthenticatorSetup, err error) {
	ctx, span := telemetry.StartSpan(ctx, "AuthenticatorService.Setup")
	defer func() { telemetry.EndSpan(span, err) }()

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return domain.AuthenticatorSetup{}, err
	}

	secret, err := s.totp.GenerateSecret(user.Email)
	if err != nil {
		return domain.AuthenticatorSetup{}, err
	}

	user.PendingAuthenticatorSecret = &secret
	user.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, *user); err != nil {
		return domain.AuthenticatorSetup{}, fmt.Errorf("store authenticator secret: %w", err)
	}

	s.notifier.SendBestEffort(ctx, TemplateAuthenticatorSetup, user.Email, MailData{Name: displayName(*user)})

	return domain.AuthenticatorSetup{
		ProvisioningURI: s.totp.ProvisioningURI(user.Email, secret),
		ManualEntryKey:  security.ManualEntryKey(secret),
	}, nil
}

// Enable confirms the pending secret with one code, promotes it to the live secret
// and turns on two-factor sign-in.
func (s *AuthenticatorService) Enable(ctx context.Context, userID, code string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "AuthenticatorService.Enable")
	defer func() { telemetry.EndSpan(span, err) }()

	if strings.TrimSpace(code) == "" {
		return requiredField("code")
	}

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.PendingAuthenticatorSecret == nil {
		return ErrInvalidCode
	}

	now := s.now().UTC()
	ok, err := s.totp.Validate(code, *user.PendingAuthenticatorSecret, now)
	if err != nil {
		return fmt.Errorf("validate totp: %w", err)
	}
	if !ok {
		return ErrInvalidCode
	}

	user.AuthenticatorSecret = user.PendingAuthenticatorSecret
	user.PendingAuthenticatorSecret = nil
	user.AuthenticatorEnabled = true
	user.TwoFactorEnabled = true
	user.UpdatedAt = now
	if err := s.users.Update(ctx, *user); err != nil {
		return fmt.Errorf("enable authenticator: %w", err)
	}

	s.notifier.SendBestEffort(ctx, TemplateAuthenticatorEnabled, user.Email, MailData{Name: displayName(*user)})
	publishEvent(ctx, s.events, s.logger, domain.SecurityEventAuthenticatorEnabled, user.ID, now, nil)
	return nil
}

// Disable clears both secrets and both two-factor flags.
func (s *AuthenticatorService) Disable(ctx context.Context, userID string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "AuthenticatorService.Disable")
	defer func() { telemetry.EndSpan(span, err) }()

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	user.AuthenticatorSecret = nil
	user.PendingAuthenticatorSecret = nil
	user.AuthenticatorEnabled = false
	user.TwoFactorEnabled = false
	user.UpdatedAt = now
	if err := s.users.Update(ctx, *user); err != nil {
		return fmt.Errorf("disable authenticator: %w", err)
	}

	s.notifier.SendBestEffort(ctx, TemplateAuthenticatorDisabled, user.Email, MailData{Name: displayName(*user)})
	publishEvent(ctx, s.events, s.logger, domain.SecurityEventAuthenticatorDisabled, user.ID, now, nil)
	return nil
}
