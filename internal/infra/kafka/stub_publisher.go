package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/atbmarket/account-service/internal/core/domain"
	"github.com/atbmarket/account-service/internal/core/port"
)

// StubPublisher logs events instead of publishing them. Used when no broker
// is configured or the producer failed to start.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a logging-only event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

func (s *StubPublisher) PublishUserRegistered(_ context.Context, event domain.UserRegisteredEvent) error {
	s.logger.Debug("event skipped: user registered", zap.String("user_id", event.UserID))
	return nil
}

func (s *StubPublisher) PublishUserUpdated(_ context.Context, event domain.UserUpdatedEvent) error {
	s.logger.Debug("event skipped: user updated", zap.String("user_id", event.UserID))
	return nil
}

func (s *StubPublisher) PublishUserDeleted(_ context.Context, event domain.UserDeletedEvent) error {
	s.logger.Debug("event skipped: user deleted", zap.String("user_id", event.UserID))
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
