package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"

	"github.com/arklim/department-iam/internal/core/domain"
	"github.com/arklim/department-iam/internal/repository"
)

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := red.NewClient(&red.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return client, server
}

func TestStepUpRepository_SaveGetDelete(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewStepUpRepository(client, "stepup")
	ctx := context.Background()

	issued := time.Unix(1_700_000_000, 0).UTC()
	session := domain.StepUpSession{
		UserID:    "user-1",
		TokenHash: "hash",
		Channel:   domain.TwoFactorChannelAuthenticator,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(10 * time.Minute),
	}

	if err := repo.Save(ctx, session, 10*time.Minute); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if ttl := server.TTL("stepup:user-1"); ttl <= 0 || ttl > 10*time.Minute {
		t.Fatalf("expected ttl within (0, 10m], got %v", ttl)
	}

	got, err := repo.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.TokenHash != "hash" || got.Channel != domain.TwoFactorChannelAuthenticator {
		t.Fatalf("unexpected session: %+v", got)
	}
	if !got.ExpiresAt.Equal(session.ExpiresAt) {
		t.Fatalf("expected expiry %v, got %v", session.ExpiresAt, got.ExpiresAt)
	}

	if err := repo.Delete(ctx, "user-1"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := repo.Get(ctx, "user-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStepUpRepository_RecordAttempt(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewStepUpRepository(client, "stepup")
	ctx := context.Background()

	if _, err := repo.RecordAttempt(ctx, "ghost"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing challenge, got %v", err)
	}
	if server.Exists("stepup:ghost") {
		t.Fatalf("missing challenge must not be recreated")
	}

	issued := time.Unix(1_700_000_000, 0).UTC()
	session := domain.StepUpSession{
		UserID:    "user-1",
		TokenHash: "hash",
		Channel:   domain.TwoFactorChannelEmail,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(10 * time.Minute),
	}
	if err := repo.Save(ctx, session, 10*time.Minute); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	for want := 1; want <= 3; want++ {
		got, err := repo.RecordAttempt(ctx, "user-1")
		if err != nil {
			t.Fatalf("RecordAttempt returned error: %v", err)
		}
		if got != want {
			t.Fatalf("expected %d attempts, got %d", want, got)
		}
	}

	loaded, err := repo.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if loaded.Attempts != 3 {
		t.Fatalf("expected 3 attempts on reload, got %d", loaded.Attempts)
	}
	if ttl := server.TTL("stepup:user-1"); ttl <= 0 {
		t.Fatalf("expected ttl to survive attempt counting, got %v", ttl)
	}

	if err := repo.Save(ctx, session, 10*time.Minute); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if loaded, _ = repo.Get(ctx, "user-1"); loaded.Attempts != 0 {
		t.Fatalf("expected a new challenge to reset attempts, got %d", loaded.Attempts)
	}
}

func TestCodeRepository_MultipleOutstandingCodes(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewCodeRepository(client, "codes")
	ctx := context.Background()

	base := time.Now().UTC()
	repo.WithClock(func() time.Time { return base.Add(time.Minute) })

	if err := repo.Put(ctx, domain.ArtifactTwoFactor, "user-1", "h1", base, 5*time.Minute); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if err := repo.Put(ctx, domain.ArtifactTwoFactor, "user-1", "h2", base.Add(30*time.Second), 5*time.Minute); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	issued, ok, err := repo.Lookup(ctx, domain.ArtifactTwoFactor, "user-1", "h1")
	if err != nil || !ok {
		t.Fatalf("expected first code to be found, got ok=%v err=%v", ok, err)
	}
	if !issued.Equal(base) {
		t.Fatalf("expected issued %v, got %v", base, issued)
	}

	if _, ok, _ := repo.Lookup(ctx, domain.ArtifactConfirmation, "user-1", "h1"); ok {
		t.Fatalf("expected purposes to be isolated")
	}

	repo.WithClock(func() time.Time { return base.Add(10 * time.Minute) })
	if _, ok, _ := repo.Lookup(ctx, domain.ArtifactTwoFactor, "user-1", "h2"); ok {
		t.Fatalf("expected expired code to be rejected")
	}

	if err := repo.Clear(ctx, domain.ArtifactTwoFactor, "user-1"); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}
}

func TestFreshnessRepository_StoreLatestClear(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewFreshnessRepository(client, "fresh", time.Hour)
	ctx := context.Background()

	if _, ok, err := repo.Latest(ctx, "two_factor:a@x.com"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	at := time.Unix(1_700_000_000, 123).UTC()
	if err := repo.Store(ctx, "two_factor:a@x.com", at); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}
	if ttl := server.TTL("fresh:two_factor:a@x.com"); ttl != time.Hour {
		t.Fatalf("expected ttl 1h, got %v", ttl)
	}

	got, ok, err := repo.Latest(ctx, "two_factor:a@x.com")
	if err != nil || !ok || !got.Equal(at) {
		t.Fatalf("expected %v, got %v ok=%v err=%v", at, got, ok, err)
	}

	if err := repo.Clear(ctx, "two_factor:a@x.com"); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}
	if _, ok, _ := repo.Latest(ctx, "two_factor:a@x.com"); ok {
		t.Fatalf("expected entry to be cleared")
	}
}

func TestRateLimitRepository_WindowOperations(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{KeyPrefix: "throttle", TTL: 25 * time.Hour})
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0).UTC()
	for i := 0; i < 3; i++ {
		if err := repo.RecordAttempt(ctx, "a@x.com", base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("RecordAttempt returned error: %v", err)
		}
	}

	reference := base.Add(24 * time.Hour)
	count, err := repo.CountAttempts(ctx, "a@x.com", 24*time.Hour, reference)
	if err != nil {
		t.Fatalf("CountAttempts returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected attempt at window start to be excluded, got %d", count)
	}

	oldest, ok, err := repo.OldestAttempt(ctx, "a@x.com", 24*time.Hour, reference)
	if err != nil || !ok || !oldest.Equal(base.Add(time.Hour)) {
		t.Fatalf("unexpected oldest attempt %v ok=%v err=%v", oldest, ok, err)
	}

	newest, ok, err := repo.NewestAttempt(ctx, "a@x.com")
	if err != nil || !ok || !newest.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("unexpected newest attempt %v ok=%v err=%v", newest, ok, err)
	}

	if err := repo.TrimWindow(ctx, "a@x.com", 24*time.Hour, reference); err != nil {
		t.Fatalf("TrimWindow returned error: %v", err)
	}
	total, err := client.ZCard(ctx, "throttle:a@x.com").Result()
	if err != nil {
		t.Fatalf("ZCard returned error: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 attempts after trim, got %d", total)
	}
}
