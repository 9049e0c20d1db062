package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// sessionTransitions maps each lifecycle status to the statuses an
// appointment may move from. Cancellation has its own path because it
// also releases slots.
var sessionTransitions = map[string][]string{
	ApptConfirmed:  {ApptScheduled},
	ApptInProgress: {ApptScheduled, ApptConfirmed},
	ApptCompleted:  {ApptInProgress},
	ApptNoShow:     {ApptScheduled, ApptConfirmed},
}

// ConfirmAppointment acknowledges an upcoming session. Either participant
// may confirm.
func (s *Service) ConfirmAppointment(ctx context.Context, callerID, apptID uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, callerID, apptID, ApptConfirmed, false)
}

// StartSession marks the session as underway when the client arrives.
func (s *Service) StartSession(ctx context.Context, providerID, apptID uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, providerID, apptID, ApptInProgress, true)
}

// EndSession closes an in-progress session as completed.
func (s *Service) EndSession(ctx context.Context, providerID, apptID uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, providerID, apptID, ApptCompleted, true)
}

// MarkNoShow records that the client never arrived. The booked cells stay
// booked; the provider's time was spent either way.
func (s *Service) MarkNoShow(ctx context.Context, providerID, apptID uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, providerID, apptID, ApptNoShow, true)
}

func (s *Service) transition(ctx context.Context, callerID, apptID uuid.UUID, target string, providerOnly bool) (*Appointment, error) {
	appt, err := s.appts.GetByID(ctx, apptID)
	if err != nil {
		return nil, err
	}
	if providerOnly {
		if appt.ProviderID != callerID {
			return nil, ErrNotOwned
		}
	} else if appt.ProviderID != callerID && appt.ClientID != callerID {
		return nil, ErrNotOwned
	}

	allowed := false
	for _, from := range sessionTransitions[target] {
		if appt.Status == from {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, ErrInvalidState
	}

	if err := s.appts.UpdateStatus(ctx, apptID, target); err != nil {
		return nil, err
	}
	appt.Status = target
	return appt, nil
}
