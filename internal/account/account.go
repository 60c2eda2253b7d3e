package account

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no user matches the lookup
	ErrNotFound = errors.New("user not found")

	// ErrDuplicate is returned when a login or email is already taken
	ErrDuplicate = errors.New("user already exists")

	// ErrInvalidUser is returned when the store rejects the user fields
	ErrInvalidUser = errors.New("invalid user")
)

// User is a stored account.
type User struct {
	ID          int64     `db:"id" json:"id"`
	Login       string    `db:"login" json:"login"`
	Email       string    `db:"email" json:"email"`
	Role        string    `db:"role" json:"role"`
	FirstName   string    `db:"first_name" json:"first_name,omitempty"`
	LastName    string    `db:"last_name" json:"last_name,omitempty"`
	DisplayName string    `db:"display_name" json:"display_name,omitempty"`
	Nickname    string    `db:"nickname" json:"nickname,omitempty"`
	URL         string    `db:"url" json:"url,omitempty"`
	Description string    `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// NewUser carries the fields of an account to create. PasswordHash is
// already hashed by the caller.
type NewUser struct {
	Login        string
	Email        string
	PasswordHash string
	Role         string
	FirstName    string
	LastName     string
	DisplayName  string
	Nickname     string
	URL          string
	Description  string
}

// Finder looks users up by one of their identifiers.
type Finder interface {
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByLogin(ctx context.Context, login string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// Store is everything the appliers need from the account backend.
type Store interface {
	Finder
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByLogin(ctx context.Context, login string) (bool, error)
	CreateUser(ctx context.Context, u NewUser) (int64, error)
	SetMeta(ctx context.Context, userID int64, key, value string) error
}
