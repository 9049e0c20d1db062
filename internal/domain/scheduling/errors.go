package scheduling

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidRange is returned when a start time is not before its end.
	ErrInvalidRange = errors.New("start time must be before end time")
	// ErrPastDate is returned for operations on times already in the past.
	ErrPastDate = errors.New("cannot schedule in the past")
	// ErrMisaligned is returned when a time does not fall on the 15-minute grid.
	ErrMisaligned = errors.New("times must align to the 15-minute grid")
	// ErrDuplicateSlot is returned when a slot already exists at the same start.
	ErrDuplicateSlot = errors.New("slot already exists at this time")
	// ErrNotFound is returned when the target does not exist or is not
	// visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrNotOwned is returned when the caller does not own the target.
	ErrNotOwned = errors.New("resource belongs to another user")
	// ErrSlotBooked is returned when a booked slot would be destroyed.
	ErrSlotBooked = errors.New("slot is booked")
	// ErrInsufficientAvailability is returned when a request's range is not
	// fully covered by available slots.
	ErrInsufficientAvailability = errors.New("not enough available slots in the requested range")
	// ErrInvalidState is returned for state-machine transitions that are not
	// allowed from the current status.
	ErrInvalidState = errors.New("operation not allowed in the current state")
	// ErrSlotConflict is returned when a booking would overlap an existing
	// appointment. Use errors.As with *ConflictError for the details.
	ErrSlotConflict = errors.New("time conflicts with an existing appointment")
	// ErrNotAssigned is returned when a provider books a client who is not
	// on their caseload.
	ErrNotAssigned = errors.New("client is not assigned to this provider")
)

// ConflictError carries the colliding appointment's details so the caller
// can surface which session is in the way.
type ConflictError struct {
	Start      time.Time
	End        time.Time
	ClientName string
}

func (e *ConflictError) Error() string {
	if e.ClientName != "" {
		return fmt.Sprintf("time conflicts with an appointment for %s from %s to %s",
			e.ClientName, e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
	}
	return fmt.Sprintf("time conflicts with an appointment from %s to %s",
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

func (e *ConflictError) Unwrap() error { return ErrSlotConflict }
