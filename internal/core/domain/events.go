package domain

import "time"

// UserRegisteredEvent is published after a successful registration commit.
type UserRegisteredEvent struct {
	EventID      string
	UserID       string
	Username     string
	Email        string
	Phone        *string
	HasImage     bool
	RegisteredAt time.Time
}

// UserUpdatedEvent is published after a profile update commit.
type UserUpdatedEvent struct {
	EventID       string
	UserID        string
	ChangedFields []string
	UpdatedAt     time.Time
}

// UserDeletedEvent is published after an account has been removed.
type UserDeletedEvent struct {
	EventID   string
	UserID    string
	Username  string
	DeletedAt time.Time
}
