package port

import (
	"context"

	"github.com/arklim/department-iam/internal/core/domain"
)

// Mailer hands rendered messages to the outbound mail transport.
type Mailer interface {
	Send(ctx context.Context, message domain.MailMessage) error
}
