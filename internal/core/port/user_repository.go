package port

import (
	"context"

	"github.com/atbmarket/account-service/internal/core/domain"
)

// UserFilter narrows List and Count results.
type UserFilter struct {
	Limit  int
	Offset int
}

// UserRepository exposes persistence behavior for users.
//
// Create and Update rely on database unique constraints: a concurrent insert
// that slips past ExistsByUsername/ExistsByEmail surfaces as
// repository.ErrDuplicateUsername or repository.ErrDuplicateEmail.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	List(ctx context.Context, filter UserFilter) ([]domain.User, error)
	Count(ctx context.Context) (int, error)
	Update(ctx context.Context, user domain.User) error
	Delete(ctx context.Context, id string) error
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}
