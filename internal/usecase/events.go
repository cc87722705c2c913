package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/department-iam/internal/core/domain"
	"github.com/arklim/department-iam/internal/core/port"
)

// publishEvent emits a security event after the state change it describes has committed.
// Failures are logged and swallowed.
func publishEvent(ctx context.Context, publisher port.EventPublisher, log *zap.Logger, eventType domain.SecurityEventType, userID string, at time.Time, attrs map[string]string) {
	if publisher == nil {
		return
	}
	event := domain.SecurityEvent{
		Type:       eventType,
		UserID:     userID,
		OccurredAt: at,
		Attributes: attrs,
	}
	if err := publisher.PublishSecurityEvent(ctx, event); err != nil {
		log.Warn("security event publish failed",
			zap.String("event_type", string(eventType)),
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}
