package usecase

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	uuid "github.com/google/uuid"

	"github.com/arklim/department-iam/internal/core/domain"
	"github.com/arklim/department-iam/internal/infra/security"
	"github.com/arklim/department-iam/internal/repository"
	"github.com/arklim/department-iam/internal/repository/memory"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(at time.Time) *testClock {
	return &testClock{now: at}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newFakeUserRepo(users ...domain.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: make(map[string]domain.User)}
	for _, u := range users {
		if u.NormalizedEmail == "" {
			u.NormalizedEmail = domain.NormalizeEmail(u.Email)
		}
		repo.users[u.ID] = u
	}
	return repo
}

func (r *fakeUserRepo) Create(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.NormalizedEmail == user.NormalizedEmail {
			return repository.ErrConflict
		}
	}
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[id]; ok {
		copy := user
		return &copy, nil
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	normalized := domain.NormalizeEmail(email)
	for _, user := range r.users {
		if user.NormalizedEmail == normalized {
			copy := user
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepo) Update(_ context.Context, user domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return repository.ErrNotFound
	}
	r.users[user.ID] = user
	return nil
}

func (r *fakeUserRepo) RecordAccessFailure(_ context.Context, id string, maxFailures int, lockoutUntil time.Time) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	user.AccessFailedCount++
	if user.AccessFailedCount >= maxFailures {
		user.AccessFailedCount = 0
		end := lockoutUntil
		user.LockoutEnd = &end
	}
	r.users[id] = user
	return user.LockoutEnd, nil
}

func (r *fakeUserRepo) ResetAccessFailures(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.AccessFailedCount = 0
	user.LockoutEnd = nil
	r.users[id] = user
	return nil
}

func (r *fakeUserRepo) get(t *testing.T, id string) domain.User {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		t.Fatalf("user %s not found", id)
	}
	return user
}

// fakeRefreshRepo mirrors the conditional-update semantics of the Postgres repository.
type fakeRefreshRepo struct {
	mu   sync.Mutex
	rows map[string]domain.RefreshToken
}

func newFakeRefreshRepo() *fakeRefreshRepo {
	return &fakeRefreshRepo{rows: make(map[string]domain.RefreshToken)}
}

func (r *fakeRefreshRepo) Create(_ context.Context, token domain.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rows[token.TokenHash]; exists {
		return errors.New("duplicate token hash")
	}
	r.rows[token.TokenHash] = token
	return nil
}

func (r *fakeRefreshRepo) GetByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[hash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &row, nil
}

func (r *fakeRefreshRepo) Rotate(_ context.Context, oldHash string, next domain.RefreshToken, at time.Time) (*domain.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[oldHash]
	if !ok || row.IsRevoked || !row.ExpiresAt.After(at) {
		return nil, repository.ErrNotFound
	}
	revokedAt := at
	nextHash := next.TokenHash
	row.IsRevoked = true
	row.RevokedAt = &revokedAt
	row.ReplacedByTokenHash = &nextHash
	r.rows[oldHash] = row

	next.UserID = row.UserID
	r.rows[next.TokenHash] = next
	return &row, nil
}

func (r *fakeRefreshRepo) Revoke(_ context.Context, hash string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[hash]
	if !ok || row.IsRevoked || !row.ExpiresAt.After(at) {
		return false, nil
	}
	revokedAt := at
	row.IsRevoked = true
	row.RevokedAt = &revokedAt
	r.rows[hash] = row
	return true, nil
}

func (r *fakeRefreshRepo) all() []domain.RefreshToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RefreshToken, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, row)
	}
	return out
}

type staticRoles []string

func (s staticRoles) GetUserRoles(context.Context, string) ([]string, error) {
	return append([]string(nil), s...), nil
}

type recordingMailer struct {
	mu       sync.Mutex
	messages []domain.MailMessage
	err      error
}

func (m *recordingMailer) Send(_ context.Context, message domain.MailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, message)
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func (m *recordingMailer) last(t *testing.T) domain.MailMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		t.Fatalf("no mail sent")
	}
	return m.messages[len(m.messages)-1]
}

var (
	codePattern  = regexp.MustCompile(`<strong>(\d{6})</strong>`)
	tokenPattern = regexp.MustCompile(`<code>([A-Za-z0-9_-]+)</code>`)
)

func lastCode(t *testing.T, m *recordingMailer) string {
	t.Helper()
	match := codePattern.FindStringSubmatch(m.last(t).HTMLBody)
	if len(match) != 2 {
		t.Fatalf("no code in mail body %q", m.last(t).HTMLBody)
	}
	return match[1]
}

func lastToken(t *testing.T, m *recordingMailer) string {
	t.Helper()
	match := tokenPattern.FindStringSubmatch(m.last(t).HTMLBody)
	if len(match) != 2 {
		t.Fatalf("no token in mail body %q", m.last(t).HTMLBody)
	}
	return match[1]
}

type recordingEvents struct {
	mu     sync.Mutex
	events []domain.SecurityEvent
	err    error
}

func (p *recordingEvents) PublishSecurityEvent(_ context.Context, event domain.SecurityEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingEvents) types() []domain.SecurityEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.SecurityEventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func testHasher(t *testing.T) *security.Argon2Hasher {
	t.Helper()
	hasher, err := security.NewArgon2Hasher(security.Argon2Config{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("NewArgon2Hasher returned error: %v", err)
	}
	return hasher
}

func newConfirmedUser(t *testing.T, hasher *security.Argon2Hasher, email, password string) domain.User {
	t.Helper()
	hash, err := hasher.Hash(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return domain.User{
		ID:              uuid.NewString(),
		Email:           email,
		NormalizedEmail: domain.NormalizeEmail(email),
		FirstName:       "Ada",
		LastName:        "Lovelace",
		PasswordHash:    hash,
		EmailConfirmed:  true,
		IsActive:        true,
	}
}

type authHarness struct {
	svc      *AuthService
	users    *fakeUserRepo
	tokens   *fakeRefreshRepo
	mailer   *recordingMailer
	events   *recordingEvents
	stepUps  *memory.StepUpStore
	codes    *memory.CodeStore
	throttle *ThrottleGuard
	issuer   *security.AccessTokenIssuer
	totp     *security.TOTPManager
	clock    *testClock
}

func newAuthHarness(t *testing.T, users ...domain.User) *authHarness {
	t.Helper()

	clock := newTestClock(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))

	issuer, err := security.NewAccessTokenIssuer(security.JWTConfig{
		SigningKey: testSigningKey,
		Issuer:     "department-iam",
		Audience:   "department-portal",
	})
	if err != nil {
		t.Fatalf("NewAccessTokenIssuer returned error: %v", err)
	}
	issuer.WithClock(clock.Now)

	stepUps := memory.NewStepUpStore()
	stepUps.WithClock(clock.Now)
	codes := memory.NewCodeStore()
	codes.WithClock(clock.Now)

	throttle := NewThrottleGuard(memory.NewRateLimitStore(), ThrottleConfig{}, nil, nil)
	throttle.WithClock(clock.Now)

	h := &authHarness{
		users:    newFakeUserRepo(users...),
		tokens:   newFakeRefreshRepo(),
		mailer:   &recordingMailer{},
		events:   &recordingEvents{},
		stepUps:  stepUps,
		codes:    codes,
		throttle: throttle,
		issuer:   issuer,
		totp:     security.NewTOTPManager("Department IAM"),
		clock:    clock,
	}

	svc, err := NewAuthService(AuthDeps{
		Users:         h.users,
		RefreshTokens: h.tokens,
		Roles:         staticRoles{"Editor"},
		Hasher:        testHasher(t),
		TOTP:          h.totp,
		Issuer:        issuer,
		StepUps:       stepUps,
		Codes:         codes,
		Freshness:     NewFreshnessGuard(memory.NewFreshnessStore(0), nil, nil),
		Throttle:      throttle,
		Notifier:      NewNotifier(h.mailer, nil),
		Events:        h.events,
	}, AuthConfig{})
	if err != nil {
		t.Fatalf("NewAuthService returned error: %v", err)
	}
	svc.WithClock(clock.Now)
	h.svc = svc
	return h
}
