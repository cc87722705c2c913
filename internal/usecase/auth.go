package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/arklim/department-iam/internal/core/domain"
	"github.com/arklim/department-iam/internal/core/port"
	"github.com/arklim/department-iam/internal/infra/logger"
	"github.com/arklim/department-iam/internal/infra/security"
	"github.com/arklim/department-iam/internal/infra/telemetry"
	"github.com/arklim/department-iam/internal/repository"
)

const (
	twoFactorCodeLength = 6

	defaultStepUpTTL       = 10 * time.Minute
	defaultCodeTTL         = 5 * time.Minute
	defaultMaxFailures     = 5
	defaultMaxCodeAttempts = 5
	defaultLockoutDuration = 15 * time.Minute
)

// RoleSource lists the role names embedded in access tokens.
type RoleSource interface {
	GetUserRoles(ctx context.Context, userID string) ([]string, error)
}

// AuthConfig bounds step-up challenges and the lockout policy.
type AuthConfig struct {
	StepUpTTL       time.Duration
	CodeTTL         time.Duration
	MaxFailures     int
	LockoutDuration time.Duration
	// MaxCodeAttempts is how many codes one step-up challenge accepts before it is discarded.
	MaxCodeAttempts int
}

// AuthDeps groups the collaborators of AuthService.
type AuthDeps struct {
	Users         port.UserRepository
	RefreshTokens port.RefreshTokenRepository
	Roles         RoleSource
	Hasher        port.PasswordHasher
	TOTP          port.TOTPVerifier
	Issuer        *security.AccessTokenIssuer
	StepUps       port.StepUpStore
	Codes         port.CodeStore
	Freshness     *FreshnessGuard
	Throttle      *ThrottleGuard
	Notifier      *Notifier
	Events        port.EventPublisher
	Metrics       *telemetry.Metrics
	Logger        *zap.Logger
}

// AuthService coordinates sign-in, step-up verification and refresh token rotation.
type AuthService struct {
	AuthDeps
	cfg AuthConfig
	now func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(deps AuthDeps, cfg AuthConfig) (*AuthService, error) {
	if deps.Issuer == nil {
		return nil, fmt.Errorf("%w: access token issuer", ErrConfigurationMissing)
	}
	if cfg.StepUpTTL <= 0 {
		cfg.StepUpTTL = defaultStepUpTTL
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = defaultCodeTTL
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	if cfg.LockoutDuration <= 0 {
		cfg.LockoutDuration = defaultLockoutDuration
	}
	if cfg.MaxCodeAttempts <= 0 {
		cfg.MaxCodeAttempts = defaultMaxCodeAttempts
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &AuthService{AuthDeps: deps, cfg: cfg, now: time.Now}, nil
}

// WithClock overrides the internal clock, used in tests.
func (s *AuthService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Authenticate verifies the password and either issues a session or opens a
// second-factor challenge. Every credential failure is reported as ErrInvalidCredentials.
func (s *AuthService) Authenticate(ctx context.Context, email, password string) (outcome domain.SessionOutcome, err error) {
	ctx, span := telemetry.StartSpan(ctx, "AuthService.Authenticate")
	defer func() { telemetry.EndSpan(span, err) }()

	if strings.TrimSpace(email) == "" {
		return domain.SessionOutcome{}, requiredField("email")
	}
	if password == "" {
		return domain.SessionOutcome{}, requiredField("password")
	}

	log := logger.Enrich(s.Logger, ctx).With(zap.String("email", logger.MaskEmail(email)))

	user, err := s.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.Metrics.ObserveLogin(telemetry.OutcomeFailure)
			return domain.SessionOutcome{}, ErrInvalidCredentials
		}
		return domain.SessionOutcome{}, fmt.Errorf("lookup user: %w", err)
	}

	if !user.CanSignIn() || !user.EmailConfirmed {
		s.Metrics.ObserveLogin(telemetry.OutcomeFailure)
		return domain.SessionOutcome{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if user.IsLockedOut(now) {
		s.Metrics.ObserveLogin(telemetry.OutcomeLockedOut)
		log.Info("sign-in rejected, account locked", zap.Timep("lockout_end", user.LockoutEnd))
		return domain.SessionOutcome{}, ErrInvalidCredentials
	}

	ok, err := s.Hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return domain.SessionOutcome{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		s.recordFailure(ctx, log, user, now)
		return domain.SessionOutcome{}, ErrInvalidCredentials
	}

	if user.AccessFailedCount > 0 || user.LockoutEnd != nil {
		if err := s.Users.ResetAccessFailures(ctx, user.ID); err != nil {
			return domain.SessionOutcome{}, fmt.Errorf("reset access failures: %w", err)
		}
	}

	if user.TwoFactorEnabled {
		outcome, err = s.beginStepUp(ctx, *user, now)
		if err != nil {
			return domain.SessionOutcome{}, err
		}
		s.Metrics.ObserveLogin(telemetry.OutcomeTwoFactor)
		return outcome, nil
	}

	pair, err := s.IssueSession(ctx, *user)
	if err != nil {
		return domain.SessionOutcome{}, err
	}
	s.Metrics.ObserveLogin(telemetry.OutcomeSuccess)
	publishEvent(ctx, s.Events, s.Logger, domain.SecurityEventLoginSucceeded, user.ID, now, nil)

	return domain.SessionOutcome{Tokens: &pair, User: user.Sanitized()}, nil
}

func (s *AuthService) recordFailure(ctx context.Context, log *zap.Logger, user *domain.User, now time.Time) {
	lockoutEnd, err := s.Users.RecordAccessFailure(ctx, user.ID, s.cfg.MaxFailures, now.Add(s.cfg.LockoutDuration))
	if err != nil {
		log.Warn("record access failure failed", zap.Error(err))
		s.Metrics.ObserveLogin(telemetry.OutcomeFailure)
		return
	}
	if lockoutEnd != nil && lockoutEnd.After(now) {
		log.Info("account locked after repeated failures", zap.Time("lockout_end", *lockoutEnd))
		s.Metrics.ObserveLogin(telemetry.OutcomeLockedOut)
		return
	}
	s.Metrics.ObserveLogin(telemetry.OutcomeFailure)
}

func (s *AuthService) beginStepUp(ctx context.Context, user domain.User, now time.Time) (domain.SessionOutcome, error) {
	token, err := security.GenerateStepUpToken()
	if err != nil {
		return domain.SessionOutcome{}, fmt.Errorf("generate step-up token: %w", err)
	}

	channel := user.TwoFactorChannel()
	session := domain.StepUpSession{
		UserID:    user.ID,
		TokenHash: security.HashToken(token),
		Channel:   channel,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.StepUpTTL),
	}
	if err := s.StepUps.Save(ctx, session, s.cfg.StepUpTTL); err != nil {
		return domain.SessionOutcome{}, fmt.Errorf("store step-up session: %w", err)
	}

	if channel == domain.TwoFactorChannelEmail {
		if err := s.deliverTwoFactorCode(ctx, user, now); err != nil {
			return domain.SessionOutcome{}, err
		}
	}

	return domain.SessionOutcome{
		RequiresTwoFactor: true,
		Channel:           channel,
		StepUpToken:       token,
		User:              user.Sanitized(),
	}, nil
}

// deliverTwoFactorCode stores a new code, marks it as the newest and mails it.
func (s *AuthService) deliverTwoFactorCode(ctx context.Context, user domain.User, now time.Time) error {
	code, err := security.GenerateNumericCode(twoFactorCodeLength)
	if err != nil {
		return fmt.Errorf("generate two-factor code: %w", err)
	}
	if err := s.Codes.Put(ctx, domain.ArtifactTwoFactor, user.ID, security.HashToken(code), now, s.cfg.CodeTTL); err != nil {
		return fmt.Errorf("store two-factor code: %w", err)
	}
	s.Freshness.Store(ctx, domain.ArtifactTwoFactor, user.Email, now)

	return s.Notifier.Send(ctx, TemplateTwoFactorCode, user.Email, MailData{
		Name:             displayName(user),
		Code:             code,
		ExpiresInMinutes: int(s.cfg.CodeTTL / time.Minute),
	})
}

// IssueSession mints a 15 minute access token and appends a 7 day refresh token row.
func (s *AuthService) IssueSession(ctx context.Context, user domain.User) (pair domain.TokenPair, err error) {
	ctx, span := telemetry.StartSpan(ctx, "AuthService.IssueSession", attribute.String("user_id", user.ID))
	defer func() { telemetry.EndSpan(span, err) }()

	if user.ID == "" {
		return domain.TokenPair{}, requiredField("user id")
	}

	roles, err := s.Roles.GetUserRoles(ctx, user.ID)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("resolve roles: %w", err)
	}

	now := s.now().UTC()
	raw, err := security.GenerateRefreshToken()
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("generate refresh token: %w", err)
	}
	record := domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: security.HashToken(raw),
		ExpiresAt: now.Add(domain.RefreshTokenLifetime),
		CreatedAt: now,
	}
	if err := s.RefreshTokens.Create(ctx, record); err != nil {
		return domain.TokenPair{}, fmt.Errorf("store refresh token: %w", err)
	}

	return s.buildPair(user, roles, raw, record.ExpiresAt, now)
}

func (s *AuthService) buildPair(user domain.User, roles []string, refresh string, refreshExpiresAt, now time.Time) (domain.TokenPair, error) {
	access, accessExpiresAt, err := s.Issuer.Issue(user, roles, now)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}
	return domain.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		ExpiresInSeconds: int(domain.AccessTokenLifetime / time.Second),
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is revoked
// and linked to its successor in one transaction; any second use fails.
func (s *AuthService) Refresh(ctx context.Context, token string) (pair domain.TokenPair, err error) {
	ctx, span := telemetry.StartSpan(ctx, "AuthService.Refresh")
	defer func() { telemetry.EndSpan(span, err) }()

	token = strings.TrimSpace(token)
	if token == "" {
		return domain.TokenPair{}, requiredField("refresh token")
	}

	now := s.now().UTC()
	hash := security.HashToken(token)

	current, err := s.RefreshTokens.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.Metrics.ObserveRefresh(telemetry.OutcomeFailure)
			return domain.TokenPair{}, ErrInvalidOrExpiredToken
		}
		return domain.TokenPair{}, fmt.Errorf("lookup refresh token: %w", err)
	}
	if !current.IsActive(now) {
		s.Metrics.ObserveRefresh(telemetry.OutcomeFailure)
		return domain.TokenPair{}, ErrInvalidOrExpiredToken
	}

	user, err := s.Users.GetByID(ctx, current.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.Metrics.ObserveRefresh(telemetry.OutcomeFailure)
			return domain.TokenPair{}, ErrInvalidOrExpiredToken
		}
		return domain.TokenPair{}, fmt.Errorf("lookup user: %w", err)
	}
	if !user.CanSignIn() {
		s.Metrics.ObserveRefresh(telemetry.OutcomeFailure)
		return domain.TokenPair{}, ErrInvalidOrExpiredToken
	}

	roles, err := s.Roles.GetUserRoles(ctx, user.ID)
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("resolve roles: %w", err)
	}

	raw, err := security.GenerateRefreshToken()
	if err != nil {
		return domain.TokenPair{}, fmt.Errorf("generate refresh token: %w", err)
	}
	next := domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: security.HashToken(raw),
		ExpiresAt: now.Add(domain.RefreshTokenLifetime),
		CreatedAt: now,
	}
	if _, err := s.RefreshTokens.Rotate(ctx, hash, next, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.Metrics.ObserveRefresh(telemetry.OutcomeFailure)
			return domain.TokenPair{}, ErrInvalidOrExpiredToken
		}
		return domain.TokenPair{}, fmt.Errorf("rotate refresh token: %w", err)
	}

	pair, err = s.buildPair(*user, roles, raw, next.ExpiresAt, now)
	if err != nil {
		return domain.TokenPair{}, err
	}
	s.Metrics.ObserveRefresh(telemetry.OutcomeSuccess)
	publishEvent(ctx, s.Events, s.Logger, domain.SecurityEventSessionRefreshed, user.ID, now, nil)
	return pair, nil
}

// Revoke marks an active refresh token revoked. It returns false when there was nothing to revoke.
func (s *AuthService) Revoke(ctx context.Context, token string) (revoked bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "AuthService.Revoke")
	defer func() { telemetry.EndSpan(span, err) }()

	token = strings.TrimSpace(token)
	if token == "" {
		return false, requiredField("refresh token")
	}

	now := s.now().UTC()
	hash := security.HashToken(token)
	revoked, err = s.RefreshTokens.Revoke(ctx, hash, now)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	if !revoked {
		s.Metrics.ObserveRevoke(telemetry.OutcomeNothingToRevoke)
		return false, nil
	}

	s.Metrics.ObserveRevoke(telemetry.OutcomeRevoked)
	if record, err := s.RefreshTokens.GetByHash(ctx, hash); err == nil {
		publishEvent(ctx, s.Events, s.Logger, domain.SecurityEventSessionRevoked, record.UserID, now, nil)
	}
	return true, nil
}

// VerifyTwoFactorInput carries a second-factor attempt.
type VerifyTwoFactorInput struct {
	Email       string
	StepUpToken string
	Code        string
	Channel     string
}

// VerifyTwoFactor completes a pending challenge and issues a session.
func (s *AuthService) VerifyTwoFactor(ctx context.Context, input VerifyTwoFactorInput) (outcome domain.SessionOutcome, err error) {
	ctx, span := telemetry.StartSpan(ctx, "AuthService.VerifyTwoFactor", attribute.String("channel", input.Channel))
	defer func() { telemetry.EndSpan(span, err) }()

	switch {
	case strings.TrimSpace(input.Email) == "":
		return domain.SessionOutcome{}, requiredField("email")
	case strings.TrimSpace(input.StepUpToken) == "":
		return domain.SessionOutcome{}, requiredField("step-up token")
	case strings.TrimSpace(input.Code) == "":
		return domain.SessionOutcome{}, requiredField("code")
	}
	channel, err := domain.ParseTwoFactorChannel(input.Channel)
	if err != nil {
		return domain.SessionOutcome{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	user, session, err := s.pendingChallenge(ctx, input.Email, input.StepUpToken)
	if err != nil {
		s.Metrics.ObserveTwoFactor(channel.String(), telemetry.OutcomeInvalidSession)
		return domain.SessionOutcome{}, err
	}
	if session.Channel != channel {
		s.Metrics.ObserveTwoFactor(channel.String(), telemetry.OutcomeInvalidSession)
		return domain.SessionOutcome{}, ErrInvalidSession
	}

	attempt, err := s.StepUps.RecordAttempt(ctx, user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.Metrics.ObserveTwoFactor(channel.String(), telemetry.OutcomeInvalidSession)
			return domain.SessionOutcome{}, ErrInvalidSession
		}
		return domain.SessionOutcome{}, fmt.Errorf("record step-up attempt: %w", err)
	}
	if attempt > s.cfg.MaxCodeAttempts {
		s.discardChallenge(ctx, user.ID)
		s.Metrics.ObserveTwoFactor(channel.String(), telemetry.OutcomeInvalidSession)
		return domain.SessionOutcome{}, ErrInvalidSession
	}

	now := s.now().UTC()
	code := strings.TrimSpace(input.Code)
	switch channel {
	case domain.TwoFactorChannelAuthenticator:
		err = s.verifyAuthenticatorCode(user, code, now)
	case domain.TwoFactorChannelEmail:
		err = s.verifyEmailCode(ctx, user, code)
	}
	if err != nil {
		if errors.Is(err, ErrInvalidCode) {
			s.Metrics.ObserveTwoFactor(channel.String(), telemetry.OutcomeInvalidCode)
			if attempt >= s.cfg.MaxCodeAttempts {
				logger.Enrich(s.Logger, ctx).Info("step-up challenge exhausted", zap.String("user_id", user.ID))
				s.discardChallenge(ctx, user.ID)
			}
		}
		return domain.SessionOutcome{}, err
	}

	if err := s.StepUps.Delete(ctx, user.ID); err != nil {
		return domain.SessionOutcome{}, fmt.Errorf("delete step-up session: %w", err)
	}
	if channel == domain.TwoFactorChannelEmail {
		if err := s.Codes.Clear(ctx, domain.ArtifactTwoFactor, user.ID); err != nil {
			s.Logger.Warn("clear two-factor codes failed", zap.String("user_id", user.ID), zap.Error(err))
		}
		s.Freshness.Clear(ctx, domain.ArtifactTwoFactor, user.Email)
	}

	pair, err := s.IssueSession(ctx, user)
	if err != nil {
		return domain.SessionOutcome{}, err
	}

	s.Metrics.ObserveTwoFactor(channel.String(), telemetry.OutcomeSuccess)
	publishEvent(ctx, s.Events, s.Logger, domain.SecurityEventTwoFactorVerified, user.ID, now,
		map[string]string{"channel": channel.String()})
	return domain.SessionOutcome{Tokens: &pair, Channel: channel, User: user.Sanitized()}, nil
}

// discardChallenge drops a challenge that used up its attempts. A failed delete
// leaves the counter past the limit, which still rejects later codes.
func (s *AuthService) discardChallenge(ctx context.Context, userID string) {
	if err := s.StepUps.Delete(ctx, userID); err != nil {
		s.Logger.Warn("delete exhausted step-up session failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// pendingChallenge loads the user and the step-up session bound to token.
func (s *AuthService) pendingChallenge(ctx context.Context, email, token string) (domain.User, domain.StepUpSession, error) {
	user, err := s.Users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.User{}, domain.StepUpSession{}, ErrInvalidSession
		}
		return domain.User{}, domain.StepUpSession{}, fmt.Errorf("lookup user: %w", err)
	}
	if !user.CanSignIn() {
		return domain.User{}, domain.StepUpSession{}, ErrInvalidSession
	}

	session, err := s.StepUps.Get(ctx, user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.User{}, domain.StepUpSession{}, ErrInvalidSession
		}
		return domain.User{}, domain.StepUpSession{}, fmt.Errorf("load step-up session: %w", err)
	}

	presented := security.HashToken(strings.TrimSpace(token))
	if subtle.ConstantTimeCompare([]byte(presented), []byte(session.TokenHash)) != 1 {
		return domain.User{}, domain.StepUpSession{}, ErrInvalidSession
	}
	return *user, *session, nil
}

func (s *AuthService) verifyAuthenticatorCode(user domain.User, code string, now time.Time) error {
	if !user.AuthenticatorEnabled || user.AuthenticatorSecret == nil {
		return ErrInvalidCode
	}
	ok, err := s.TOTP.Validate(code, *user.AuthenticatorSecret, now)
	if err != nil {
		return fmt.Errorf("validate totp: %w", err)
	}
	if !ok {
		return ErrInvalidCode
	}
	return nil
}

func (s *AuthService) verifyEmailCode(ctx context.Context, user domain.User, code string) error {
	issuedAt, ok, err := s.Codes.Lookup(ctx, domain.ArtifactTwoFactor, user.ID, security.HashToken(code))
	if err != nil {
		return fmt.Errorf("lookup two-factor code: %w", err)
	}
	if !ok {
		return ErrInvalidCode
	}
	if !s.Freshness.IsLatest(ctx, domain.ArtifactTwoFactor, user.Email, issuedAt) {
		return ErrInvalidCode
	}
	return nil
}

// ResendTwoFactorCode mails a new code for a pending email challenge. Earlier codes
// stop being accepted once the new one is recorded.
func (s *AuthService) ResendTwoFactorCode(ctx context.Context, email, stepUpToken string) (err error) {
	ctx, span := telemetry.StartSpan(ctx, "AuthService.ResendTwoFactorCode")
	defer func() { telemetry.EndSpan(span, err) }()

	if strings.TrimSpace(email) == "" {
		return requiredField("email")
	}
	if strings.TrimSpace(stepUpToken) == "" {
		return requiredField("step-up token")
	}

	user, session, err := s.pendingChallenge(ctx, email, stepUpToken)
	if err != nil {
		return err
	}
	if session.Channel != domain.TwoFactorChannelEmail {
		return ErrTwoFactorChannelUnsupported
	}

	if err := s.Throttle.Check(ctx, domain.ArtifactTwoFactor, user.Email); err != nil {
		s.Metrics.ObserveTwoFactor(session.Channel.String(), telemetry.OutcomeRateLimited)
		return err
	}
	s.Throttle.Record(ctx, domain.ArtifactTwoFactor, user.Email)

	return s.deliverTwoFactorCode(ctx, user, s.now().UTC())
}

// ParseAccessToken validates a bearer token.
func (s *AuthService) ParseAccessToken(raw string) (*security.AccessTokenClaims, error) {
	return s.Issuer.Parse(raw)
}
