package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// RegisterUser creates an account. Email is normalized to lower case and
// must be unique; the role must be one of client, therapist or admin.
func (s *Service) RegisterUser(ctx context.Context, email, fullName, role string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("valid email is required")
	}
	if strings.TrimSpace(fullName) == "" {
		return nil, fmt.Errorf("full_name is required")
	}
	if !validRoles[role] {
		return nil, fmt.Errorf("invalid role: %s", role)
	}

	u := &User{Email: email, FullName: fullName, Role: role}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
}

func (s *Service) ListUsers(ctx context.Context, role string, limit, offset int) ([]*User, int, error) {
	if role != "" && !validRoles[role] {
		return nil, 0, fmt.Errorf("invalid role: %s", role)
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, role, limit, offset)
}

func (s *Service) SetDisabled(ctx context.Context, id uuid.UUID, disabled bool) error {
	return s.repo.SetDisabled(ctx, id, disabled)
}

// DeletionImpact reports what removing the user would affect, so an admin
// can review before confirming.
func (s *Service) DeletionImpact(ctx context.Context, id uuid.UUID) (*DeletionImpact, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Impact(ctx, id)
}

// DeleteUser removes an account. Users holding non-cancelled appointments
// cannot be deleted; cancel or complete the sessions first.
func (s *Service) DeleteUser(ctx context.Context, id uuid.UUID) error {
	impact, err := s.DeletionImpact(ctx, id)
	if err != nil {
		return err
	}
	if impact.ActiveAppointments > 0 {
		return ErrUserReferenced
	}
	return s.repo.Delete(ctx, id)
}

// AssignClient puts a client on a therapist's caseload. Both sides must
// exist and carry the matching role.
func (s *Service) AssignClient(ctx context.Context, therapistID, clientID uuid.UUID) error {
	therapist, err := s.repo.GetByID(ctx, therapistID)
	if err != nil {
		return err
	}
	if therapist.Role != RoleTherapist {
		return fmt.Errorf("%s is not a therapist", therapistID)
	}
	client, err := s.repo.GetByID(ctx, clientID)
	if err != nil {
		return err
	}
	if client.Role != RoleClient {
		return fmt.Errorf("%s is not a client", clientID)
	}
	return s.repo.Assign(ctx, therapistID, clientID)
}

func (s *Service) UnassignClient(ctx context.Context, therapistID, clientID uuid.UUID) error {
	return s.repo.Unassign(ctx, therapistID, clientID)
}

func (s *Service) ListClients(ctx context.Context, therapistID uuid.UUID) ([]*User, error) {
	return s.repo.ListClients(ctx, therapistID)
}

// IsAssigned reports whether the client is on the therapist's caseload.
// The booking engine consults this before a provider-direct appointment.
func (s *Service) IsAssigned(ctx context.Context, therapistID, clientID uuid.UUID) (bool, error) {
	return s.repo.IsAssigned(ctx, therapistID, clientID)
}

// UserName resolves a display name, empty when the user is unknown.
func (s *Service) UserName(ctx context.Context, id uuid.UUID) (string, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err == ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return u.FullName, nil
}
