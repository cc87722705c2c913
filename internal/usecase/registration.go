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

const (
	confirmationTokenBytes = 32

	defaultConfirmationTTL = 24 * time.Hour
)

// RegistrationService handles new account onboarding and email confirmation.
type RegistrationService struct {
	users           port.UserRepository
	hasher          port.PasswordHasher
	policy          *security.PasswordPolicy
	codes           port.CodeStore
	freshness       *FreshnessGuard
	throttle        *ThrottleGuard
	notifier        *Notifier
	events          port.EventPublisher
	logger          *zap.Logger
	confirmationTTL time.Duration
	now             func() time.Time
}

// NewRegistrationService constructs a registration service.
func NewRegistrationService(
	users port.UserRepository,
	hasher port.PasswordHasher,
	policy *security.PasswordPolicy,
	codes port.CodeStore,
	freshness *FreshnessGuard,
	throttle *ThrottleGuard,
	notifier *Notifier,
	events port.EventPublisher,
	confirmationTTL time.Duration,
	logger *zap.Logger,
) *RegistrationService {
	if policy == nil {
		policy = security.NewPasswordPolicy()
	}
	if confirmationTTL <= 0 {
		confirmationTTL = defaultConfirmationTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationService{
		users:           users,
		hasher:          hasher,
		policy:          policy,
		codes:           codes,
		freshness:       freshness,
		throttle:        throttle,
		notifier:        notifier,
		events:          events,
		logger:          logger,
		confirmationTTL: confirmationTTL,
		now:             time.Now,
	}
}

// WithClock overrides the internal clock, used in tests.
func (s *RegistrationService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// RegisterInput carries the fields of a sign-up request.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// Register creates an unconfirmed user and mails a confirmation token. A mail failure
// is logged; the account still exists and the caller can request a resend.
func (s *RegistrationService) Register(ctx context.Context, input RegisterInput) (registered domain.User, err error) {
	ctx, span := telemetry.StartSpan(ctx, "RegistrationService.Register")
	defer func() { telemetry.EndSpan(span, err) }()

	email := strings.TrimSpace(input.Email)
	if email == "" {
		return domain.User{}, requiredField("email")
	}
	if !strings.Contains(email, "@") {
		return domain.User{}, fmt.Errorf("%w: email is malformed", ErrValidation)
	}
	if input.Password == "" {
		return domain.User{}, requiredField("password")
	}

	if err := s.policy.Validate(input.Password, email, input.FirstName, input.LastName); err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", ErrPasswordPolicyViolation, err)
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return domain.User{}, ErrEmailTaken
	} else if !errors.Is(err, repository.ErrNotFound) {
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}

	passwordHash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user := domain.User{
		ID:              uuid.NewString(),
		Email:           email,
		NormalizedEmail: domain.NormalizeEmail(email),
		FirstName:       strings.TrimSpace(input.FirstName),
		LastName:        strings.TrimSpace(input.LastName),
		PasswordHash:    passwordHash,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return domain.User{}, ErrEmailTaken
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}

	s.throttle.Record(ctx, domain.ArtifactConfirmation, user.Email)
	if err := s.sendConfirmation(ctx, user, now); err != nil {
		s.logger.Warn("confirmation email failed",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
	}

	publishEvent(ctx, s.events, s.logger, domain.SecurityEventUserRegistered, user.ID, now, nil)
	return user.Sanitized(), nil
}

// ResendConfirmation mails a new confirmation token. Unknown and already confirmed
// addresses succeed silently.
func (s *RegistrationService) ResendConfirmation(ctx context.Context, email string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "RegistrationService.ResendConfirmation")
	defer func() { telemetry.EndSpan(span, err) }()

	if strings.TrimSpace(email) == "" {
		return requiredField("email")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if user.EmailConfirmed || !user.CanSignIn() {
		return nil
	}

	if err := s.throttle.Check(ctx, domain.ArtifactConfirmation, user.Email); err != nil {
		return err
	}
	s.throttle.Record(ctx, domain.ArtifactConfirmation, user.Email)

	return s.sendConfirmation(ctx, *user, s.now().UTC())
}

func (s *RegistrationService) sendConfirmation(ctx context.Context, user domain.User, now time.Time) error {
	token, err := security.GenerateSecureToken(confirmationTokenBytes)
	if err != nil {
		return fmt.Errorf("generate confirmation token: %w", err)
	}
	if err := s.codes.Put(ctx, domain.ArtifactConfirmation, user.ID, security.HashToken(token), now, s.confirmationTTL); err != nil {
		return fmt.Errorf("store confirmation token: %w", err)
	}
	s.freshness.Store(ctx, domain.ArtifactConfirmation, user.Email, now)

	return s.notifier.Send(ctx, TemplateConfirmation, user.Email, MailData{
		Name:             displayName(user),
		Token:            token,
		ExpiresInMinutes: int(s.confirmationTTL / time.Minute),
	})
}

// ConfirmEmail marks the address confirmed when token is the newest one issued.
func (s *RegistrationService) ConfirmEmail(ctx context.Context, email, token string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "RegistrationService.ConfirmEmail")
	defer func() { telemetry.EndSpan(span, err) }()

	if strings.TrimSpace(email) == "" {
		return requiredField("email")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return requiredField("token")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidCode
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if user.EmailConfirmed {
		return nil
	}

	issuedAt, ok, err := s.codes.Lookup(ctx, domain.ArtifactConfirmation, user.ID, security.HashToken(token))
	if err != nil {
		return fmt.Errorf("lookup confirmation token: %w", err)
	}
	if !ok || !s.freshness.IsLatest(ctx, domain.ArtifactConfirmation, user.Email, issuedAt) {
		return ErrInvalidCode
	}

	now := s.now().UTC()
	user.EmailConfirmed = true
	user.UpdatedAt = now
	if err := s.users.Update(ctx, *user); err != nil {
		return fmt.Errorf("confirm email: %w", err)
	}

	if err := s.codes.Clear(ctx, domain.ArtifactConfirmation, user.ID); err != nil {
		s.logger.Warn("clear confirmation tokens failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	s.freshness.Clear(ctx, domain.ArtifactConfirmation, user.Email)

	publishEvent(ctx, s.events, s.logger, domain.SecurityEventEmailConfirmed, user.ID, now, nil)
	return nil
}
