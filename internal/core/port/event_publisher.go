package port

import (
	"context"

	"github.com/arklim/department-iam/internal/core/domain"
)

// EventPublisher emits security audit events.
type EventPublisher interface {
	PublishSecurityEvent(ctx context.Context, event domain.SecurityEvent) error
}
