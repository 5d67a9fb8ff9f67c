package port

import (
	"context"

	"github.com/atbmarket/account-service/internal/core/domain"
)

// EventPublisher emits account lifecycle events to the message bus.
// Publishing is best effort; failures must not roll back the triggering
// operation.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, event domain.UserRegisteredEvent) error
	PublishUserUpdated(ctx context.Context, event domain.UserUpdatedEvent) error
	PublishUserDeleted(ctx context.Context, event domain.UserDeletedEvent) error
}
