// Package identity manages the practice's people: client and therapist
// accounts, the admin role, and the caseload assignments that link a
// therapist to the clients they may book directly.
package identity

import (
	"time"

	"github.com/google/uuid"
)

// User roles.
const (
	RoleClient    = "client"
	RoleTherapist = "therapist"
	RoleAdmin     = "admin"
)

var validRoles = map[string]bool{
	RoleClient: true, RoleTherapist: true, RoleAdmin: true,
}

type User struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	FullName  string    `db:"full_name" json:"full_name"`
	Role      string    `db:"role" json:"role"`
	Disabled  bool      `db:"disabled" json:"disabled"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Assignment links a client to a therapist's caseload.
type Assignment struct {
	TherapistID uuid.UUID `db:"therapist_id" json:"therapist_id"`
	ClientID    uuid.UUID `db:"client_id" json:"client_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// DeletionImpact summarizes what removing a user would orphan. Deletion is
// refused while ActiveAppointments is non-zero.
type DeletionImpact struct {
	ActiveAppointments int `json:"active_appointments"`
	PendingRequests    int `json:"pending_requests"`
	Assignments        int `json:"assignments"`
}
