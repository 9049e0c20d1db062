package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SlotRepository persists the availability grid.
type SlotRepository interface {
	Create(ctx context.Context, slot *Slot) error
	GetByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, providerID uuid.UUID, from, to time.Time, status string) ([]*Slot, error)
	// CountAvailable counts available slots fully inside [start, end).
	CountAvailable(ctx context.Context, providerID uuid.UUID, start, end time.Time) (int, error)
	// MarkBooked flips available slots in [start, end) to booked and
	// returns how many rows changed.
	MarkBooked(ctx context.Context, providerID uuid.UUID, start, end time.Time) (int64, error)
	// UpsertBooked writes a booked row for every grid cell in [start, end),
	// creating missing cells with created_by_booking set.
	UpsertBooked(ctx context.Context, providerID uuid.UUID, start, end time.Time) error
	// Release flips booked slots in [start, end) back to available and
	// returns how many rows changed.
	Release(ctx context.Context, providerID uuid.UUID, start, end time.Time) (int64, error)
}

// RequestRepository persists the scheduling request ledger.
type RequestRepository interface {
	Create(ctx context.Context, req *SchedulingRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*SchedulingRequest, error)
	// Update persists a response or cancellation on an existing request.
	Update(ctx context.Context, req *SchedulingRequest) error
	ListPendingByProvider(ctx context.Context, providerID uuid.UUID) ([]*SchedulingRequest, error)
	// ListByProviderInWindow returns requests, any status, whose asked-for
	// start falls in [from, to).
	ListByProviderInWindow(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]*SchedulingRequest, error)
	ListRecentByClient(ctx context.Context, clientID uuid.UUID, since time.Time, limit int) ([]*SchedulingRequest, error)
}

// Overlap describes an existing appointment colliding with a requested span.
type Overlap struct {
	Start      time.Time
	End        time.Time
	ClientName string
}

// AppointmentRepository persists the provider calendar.
type AppointmentRepository interface {
	// InsertIfFree inserts the appointment only if no non-cancelled
	// appointment of the same provider overlaps it. Returns false without
	// inserting when the span is taken.
	InsertIfFree(ctx context.Context, appt *Appointment) (bool, error)
	// FindOverlap returns the first colliding appointment, or nil.
	FindOverlap(ctx context.Context, providerID uuid.UUID, start, end time.Time) (*Overlap, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	ListByProvider(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]*AppointmentView, error)
	ListByClient(ctx context.Context, clientID uuid.UUID, from time.Time) ([]*Appointment, error)
}
