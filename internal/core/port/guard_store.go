package port

import (
	"context"
	"time"
)

// FreshnessStore tracks the latest issued artifact timestamp per key.
type FreshnessStore interface {
	Latest(ctx context.Context, key string) (time.Time, bool, error)
	Store(ctx context.Context, key string, at time.Time) error
	Clear(ctx context.Context, key string) error
}

// RateLimitStore keeps attempt timestamps per identifier for sliding-window limits.
// A window ending at reference covers (reference-window, reference].
type RateLimitStore interface {
	// TrimWindow drops attempts that fell out of the window.
	TrimWindow(ctx context.Context, identifier string, window time.Duration, reference time.Time) error
	CountAttempts(ctx context.Context, identifier string, window time.Duration, reference time.Time) (int, error)
	RecordAttempt(ctx context.Context, identifier string, at time.Time) error
	// OldestAttempt reports the earliest attempt still inside the window, used to compute when it reopens.
	OldestAttempt(ctx context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error)
	// NewestAttempt reports the latest attempt regardless of window, used for cooldowns.
	NewestAttempt(ctx context.Context, identifier string) (time.Time, bool, error)
}
