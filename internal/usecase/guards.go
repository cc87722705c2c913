package usecase

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/department-iam/internal/core/domain"
	"github.com/arklim/department-iam/internal/core/port"
	"github.com/arklim/department-iam/internal/infra/telemetry"
)

const (
	freshnessTolerance = time.Second

	defaultThrottleCooldown = 60 * time.Second
	defaultThrottleDailyCap = 5
	defaultThrottleWindow   = 24 * time.Hour
)

func guardKey(class domain.ArtifactClass, identifier string) string {
	return string(class) + ":" + strings.ToLower(strings.TrimSpace(identifier))
}

// FreshnessGuard remembers the newest artifact issued per identifier so superseded
// codes and tokens can be rejected. Store failures fail open.
type FreshnessGuard struct {
	store   port.FreshnessStore
	metrics *telemetry.Metrics
	logger  *zap.Logger
}

// NewFreshnessGuard constructs a guard over store.
func NewFreshnessGuard(store port.FreshnessStore, metrics *telemetry.Metrics, logger *zap.Logger) *FreshnessGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FreshnessGuard{store: store, metrics: metrics, logger: logger}
}

// IsLatest accepts ts when nothing is recorded or ts is no more than one second older
// than the recorded instant.
func (g *FreshnessGuard) IsLatest(ctx context.Context, class domain.ArtifactClass, identifier string, ts time.Time) bool {
	latest, ok, err := g.store.Latest(ctx, guardKey(class, identifier))
	if err != nil {
		g.failOpen("freshness", class, err)
		return true
	}
	if !ok {
		return true
	}
	return !ts.Before(latest.Add(-freshnessTolerance))
}

// Store records ts as the newest instant, overwriting any previous value.
func (g *FreshnessGuard) Store(ctx context.Context, class domain.ArtifactClass, identifier string, ts time.Time) {
	if err := g.store.Store(ctx, guardKey(class, identifier), ts); err != nil {
		g.failOpen("freshness", class, err)
	}
}

// Clear forgets the identifier.
func (g *FreshnessGuard) Clear(ctx context.Context, class domain.ArtifactClass, identifier string) {
	if err := g.store.Clear(ctx, guardKey(class, identifier)); err != nil {
		g.failOpen("freshness", class, err)
	}
}

func (g *FreshnessGuard) failOpen(guard string, class domain.ArtifactClass, err error) {
	g.metrics.ObserveFailOpen(guard)
	g.logger.Warn("guard store unavailable, failing open",
		zap.String("guard", guard),
		zap.String("class", string(class)),
		zap.Error(err),
	)
}

// ThrottleConfig bounds resend frequency per identifier.
type ThrottleConfig struct {
	Cooldown time.Duration
	DailyCap int
	Window   time.Duration
}

// ThrottleGuard enforces a cooldown between attempts and a rolling cap per window.
// Store failures fail open.
type ThrottleGuard struct {
	store   port.RateLimitStore
	cfg     ThrottleConfig
	metrics *telemetry.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewThrottleGuard constructs a guard; zero config values fall back to 60s, 5 and 24h.
func NewThrottleGuard(store port.RateLimitStore, cfg ThrottleConfig, metrics *telemetry.Metrics, logger *zap.Logger) *ThrottleGuard {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultThrottleCooldown
	}
	if cfg.DailyCap <= 0 {
		cfg.DailyCap = defaultThrottleDailyCap
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultThrottleWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThrottleGuard{store: store, cfg: cfg, metrics: metrics, logger: logger, now: time.Now}
}

// WithClock overrides the internal clock, used in tests.
func (g *ThrottleGuard) WithClock(clock func() time.Time) {
	if clock != nil {
		g.now = clock
	}
}

// Check returns a *RateLimitError when another attempt is not allowed yet.
func (g *ThrottleGuard) Check(ctx context.Context, class domain.ArtifactClass, identifier string) error {
	key := guardKey(class, identifier)
	now := g.now()

	if err := g.store.TrimWindow(ctx, key, g.cfg.Window, now); err != nil {
		g.failOpen(class, err)
		return nil
	}

	if newest, ok, err := g.store.NewestAttempt(ctx, key); err != nil {
		g.failOpen(class, err)
		return nil
	} else if ok {
		if elapsed := now.Sub(newest); elapsed < g.cfg.Cooldown {
			return g.reject(class, g.cfg.Cooldown-elapsed)
		}
	}

	count, err := g.store.CountAttempts(ctx, key, g.cfg.Window, now)
	if err != nil {
		g.failOpen(class, err)
		return nil
	}
	if count < g.cfg.DailyCap {
		return nil
	}

	retryAfter := g.cfg.Cooldown
	if oldest, ok, err := g.store.OldestAttempt(ctx, key, g.cfg.Window, now); err == nil && ok {
		if wait := oldest.Add(g.cfg.Window).Sub(now); wait > 0 {
			retryAfter = wait
		}
	}
	return g.reject(class, retryAfter)
}

// Record counts one attempt at the current instant.
func (g *ThrottleGuard) Record(ctx context.Context, class domain.ArtifactClass, identifier string) {
	if err := g.store.RecordAttempt(ctx, guardKey(class, identifier), g.now()); err != nil {
		g.failOpen(class, err)
	}
}

func (g *ThrottleGuard) reject(class domain.ArtifactClass, retryAfter time.Duration) error {
	g.metrics.ObserveThrottled(string(class))
	return &RateLimitError{RetryAfter: retryAfter}
}

func (g *ThrottleGuard) failOpen(class domain.ArtifactClass, err error) {
	g.metrics.ObserveFailOpen("throttle")
	g.logger.Warn("guard store unavailable, failing open",
		zap.String("guard", "throttle"),
		zap.String("class", string(class)),
		zap.Error(err),
	)
}
