package identity

import (
	"errors"
	"time"

	"github.com/lattice-saas/lattice/internal/authz"
)

// User represents an account.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	Role         authz.StaticRole
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

var (
	// ErrDuplicateEmail indicates an email collision.
	ErrDuplicateEmail = errors.New("identity: email already registered")
	// ErrOwnerExists indicates an attempt to create a second OWNER.
	ErrOwnerExists = errors.New("identity: an owner already exists")
)
