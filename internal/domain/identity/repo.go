package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("user not found")
	// ErrDuplicateEmail is returned when registration reuses an address.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrUserReferenced is returned when deletion would orphan active
	// appointments.
	ErrUserReferenced = errors.New("user has active appointments")
)

// Repository persists users and caseload assignments.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, role string, limit, offset int) ([]*User, int, error)
	SetDisabled(ctx context.Context, id uuid.UUID, disabled bool) error
	Delete(ctx context.Context, id uuid.UUID) error
	// Impact counts the rows that reference the user and would be orphaned
	// or cascaded by deletion.
	Impact(ctx context.Context, id uuid.UUID) (*DeletionImpact, error)

	Assign(ctx context.Context, therapistID, clientID uuid.UUID) error
	Unassign(ctx context.Context, therapistID, clientID uuid.UUID) error
	ListClients(ctx context.Context, therapistID uuid.UUID) ([]*User, error)
	IsAssigned(ctx context.Context, therapistID, clientID uuid.UUID) (bool, error)
}
