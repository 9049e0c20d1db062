package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/therapia/therapia/internal/domain/notification"
)

// RespondToRequest records a provider's decision on a pending request.
// Approval books the span and creates the appointment atomically; any
// non-pending request is terminal and cannot be answered again.
func (s *Service) RespondToRequest(ctx context.Context, providerID, requestID uuid.UUID, status string, response *string, alternatives json.RawMessage) (*SchedulingRequest, *Appointment, error) {
	switch status {
	case RequestApproved, RequestDeclined, RequestCounterProposed:
	default:
		return nil, nil, fmt.Errorf("invalid response status: %s", status)
	}

	req, err := s.requests.GetByID(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if req.ProviderID != providerID {
		return nil, nil, ErrNotOwned
	}
	if req.Status != RequestPending {
		return nil, nil, ErrInvalidState
	}

	now := s.now()
	req.Status = status
	req.ProviderResponse = response
	req.RespondedAt = &now
	switch status {
	case RequestCounterProposed:
		req.SuggestedAlternatives = alternatives
	case RequestDeclined:
		by := "therapist"
		req.CancelledBy = &by
		req.CancellationReason = response
	}

	var appt *Appointment
	err = s.runTx(ctx, func(ctx context.Context) error {
		if status == RequestApproved {
			a, err := s.book(ctx, req)
			if err != nil {
				return err
			}
			appt = a
		}
		if err := s.requests.Update(ctx, req); err != nil {
			return err
		}
		return s.notifier.Create(ctx, s.responseNotification(req, appt))
	})
	if err != nil {
		return nil, nil, err
	}

	if status == RequestApproved {
		s.invalidateAvailability(ctx, providerID)
	}
	return req, appt, nil
}

// book turns an approved request into an appointment. The insert itself
// rejects overlapping appointments, so two racing approvals for the same
// span cannot both succeed.
func (s *Service) book(ctx context.Context, req *SchedulingRequest) (*Appointment, error) {
	appt := &Appointment{
		ProviderID:          req.ProviderID,
		ClientID:            req.ClientID,
		SchedulingRequestID: &req.ID,
		StartTS:             req.StartTS,
		EndTS:               req.EndTS,
		Status:              ApptScheduled,
	}
	inserted, err := s.appts.InsertIfFree(ctx, appt)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, s.conflictFor(ctx, req.ProviderID, req.StartTS, req.EndTS)
	}

	expected := int64(len(increments(req.StartTS, req.EndTS)))
	booked, err := s.slots.MarkBooked(ctx, req.ProviderID, req.StartTS, req.EndTS)
	if err != nil {
		return nil, err
	}
	if booked < expected {
		// Availability was withdrawn between request and approval. The
		// appointment stands; backfill the missing slots so the calendar
		// stays consistent.
		s.log.Warn().
			Str("request_id", req.ID.String()).
			Int64("booked", booked).
			Int64("expected", expected).
			Msg("backfilling slots for approved request")
		if err := s.slots.UpsertBooked(ctx, req.ProviderID, req.StartTS, req.EndTS); err != nil {
			return nil, err
		}
	}
	return appt, nil
}

func (s *Service) conflictFor(ctx context.Context, providerID uuid.UUID, start, end time.Time) error {
	ov, err := s.appts.FindOverlap(ctx, providerID, start, end)
	if err != nil || ov == nil {
		return ErrSlotConflict
	}
	return &ConflictError{Start: ov.Start, End: ov.End, ClientName: ov.ClientName}
}

func (s *Service) responseNotification(req *SchedulingRequest, appt *Appointment) *notification.Notification {
	n := &notification.Notification{
		UserID:           req.ClientID,
		RelatedRequestID: &req.ID,
	}
	when := req.StartTS.Format("Mon Jan 2 15:04")
	switch req.Status {
	case RequestApproved:
		n.Type = notification.TypeRequestApproved
		n.Title = "Request approved"
		n.Message = fmt.Sprintf("Your session on %s is booked", when)
		if appt != nil {
			n.RelatedAppointmentID = &appt.ID
		}
	case RequestDeclined:
		n.Type = notification.TypeRequestDeclined
		n.Title = "Request declined"
		n.Message = fmt.Sprintf("Your request for %s was declined", when)
	case RequestCounterProposed:
		n.Type = notification.TypeCounterProposal
		n.Title = "Alternative times suggested"
		n.Message = fmt.Sprintf("Your therapist suggested alternatives to %s", when)
	}
	return n
}

// CreateAppointment books a session directly, bypassing the request ledger.
// The client must be assigned to the provider. A recurring rule books the
// whole series or nothing.
func (s *Service) CreateAppointment(ctx context.Context, providerID, clientID uuid.UUID, start, end time.Time, location *string, recurringRule *string) ([]*Appointment, error) {
	if err := s.validateSpan(start, end); err != nil {
		return nil, err
	}
	if recurringRule != nil {
		if _, ok := recurIntervals[*recurringRule]; !ok {
			return nil, fmt.Errorf("invalid recurring rule: %s", *recurringRule)
		}
	}

	assigned, err := s.dir.IsAssigned(ctx, providerID, clientID)
	if err != nil {
		return nil, err
	}
	if !assigned {
		return nil, ErrNotAssigned
	}

	occurrences := 1
	var step time.Duration
	if recurringRule != nil {
		step = recurIntervals[*recurringRule]
		occurrences = recurOccurrences
	}

	var created []*Appointment
	err = s.runTx(ctx, func(ctx context.Context) error {
		for i := 0; i < occurrences; i++ {
			offset := time.Duration(i) * step
			appt := &Appointment{
				ProviderID:    providerID,
				ClientID:      clientID,
				StartTS:       start.Add(offset),
				EndTS:         end.Add(offset),
				Status:        ApptScheduled,
				Location:      location,
				RecurringRule: recurringRule,
			}
			inserted, err := s.appts.InsertIfFree(ctx, appt)
			if err != nil {
				return err
			}
			if !inserted {
				return s.conflictFor(ctx, providerID, appt.StartTS, appt.EndTS)
			}
			if err := s.slots.UpsertBooked(ctx, providerID, appt.StartTS, appt.EndTS); err != nil {
				return err
			}
			created = append(created, appt)
		}

		return s.notifier.Create(ctx, &notification.Notification{
			UserID:               clientID,
			Type:                 notification.TypeAppointmentScheduled,
			Title:                "Appointment scheduled",
			Message:              fmt.Sprintf("A session on %s was added to your calendar", start.Format("Mon Jan 2 15:04")),
			RelatedAppointmentID: &created[0].ID,
		})
	})
	if err != nil {
		return nil, err
	}
	s.invalidateAvailability(ctx, providerID)
	return created, nil
}

// CancelAppointment releases the booked span back to availability. Either
// participant may cancel; cancelling twice is an error.
func (s *Service) CancelAppointment(ctx context.Context, callerID, apptID uuid.UUID, reason *string) (*Appointment, error) {
	appt, err := s.appts.GetByID(ctx, apptID)
	if err != nil {
		return nil, err
	}
	if appt.ProviderID != callerID && appt.ClientID != callerID {
		return nil, ErrNotOwned
	}
	if appt.Status == ApptCancelled {
		return nil, ErrInvalidState
	}

	appt.Status = ApptCancelled
	err = s.runTx(ctx, func(ctx context.Context) error {
		if err := s.appts.UpdateStatus(ctx, apptID, ApptCancelled); err != nil {
			return err
		}
		if _, err := s.slots.Release(ctx, appt.ProviderID, appt.StartTS, appt.EndTS); err != nil {
			return err
		}

		other := appt.ClientID
		if callerID == appt.ClientID {
			other = appt.ProviderID
		}
		msg := fmt.Sprintf("The session on %s was cancelled", appt.StartTS.Format("Mon Jan 2 15:04"))
		if reason != nil && *reason != "" {
			msg = fmt.Sprintf("%s: %s", msg, *reason)
		}
		return s.notifier.Create(ctx, &notification.Notification{
			UserID:               other,
			Type:                 notification.TypeAppointmentCancelled,
			Title:                "Appointment cancelled",
			Message:              msg,
			RelatedAppointmentID: &appt.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	s.invalidateAvailability(ctx, appt.ProviderID)
	return appt, nil
}

// RescheduleAppointment replaces a session with one at the new span, in a
// single transaction: cancel the old appointment, release its slots, then
// book the replacement. The other party gets both a cancellation and a
// reschedule notification.
func (s *Service) RescheduleAppointment(ctx context.Context, callerID, apptID uuid.UUID, newStart, newEnd time.Time) (*Appointment, error) {
	if err := s.validateSpan(newStart, newEnd); err != nil {
		return nil, err
	}

	old, err := s.appts.GetByID(ctx, apptID)
	if err != nil {
		return nil, err
	}
	if old.ProviderID != callerID && old.ClientID != callerID {
		return nil, ErrNotOwned
	}
	if old.Status == ApptCancelled || old.Status == ApptCompleted {
		return nil, ErrInvalidState
	}

	replacement := &Appointment{
		ClientID:            old.ClientID,
		ProviderID:          old.ProviderID,
		SchedulingRequestID: old.SchedulingRequestID,
		StartTS:             newStart,
		EndTS:               newEnd,
		Status:              ApptScheduled,
		Location:            old.Location,
	}
	err = s.runTx(ctx, func(ctx context.Context) error {
		// Cancelling first takes the old span out of the overlap check,
		// so a session may move within its own old span.
		if err := s.appts.UpdateStatus(ctx, old.ID, ApptCancelled); err != nil {
			return err
		}
		inserted, err := s.appts.InsertIfFree(ctx, replacement)
		if err != nil {
			return err
		}
		if !inserted {
			return s.conflictFor(ctx, old.ProviderID, newStart, newEnd)
		}
		if _, err := s.slots.Release(ctx, old.ProviderID, old.StartTS, old.EndTS); err != nil {
			return err
		}
		if err := s.slots.UpsertBooked(ctx, old.ProviderID, newStart, newEnd); err != nil {
			return err
		}

		other := old.ClientID
		if callerID == old.ClientID {
			other = old.ProviderID
		}
		oldWhen := old.StartTS.Format("Mon Jan 2 15:04")
		if err := s.notifier.Create(ctx, &notification.Notification{
			UserID:               other,
			Type:                 notification.TypeAppointmentCancelled,
			Title:                "Appointment cancelled",
			Message:              fmt.Sprintf("The session on %s was cancelled", oldWhen),
			RelatedAppointmentID: &old.ID,
		}); err != nil {
			return err
		}
		return s.notifier.Create(ctx, &notification.Notification{
			UserID:               other,
			Type:                 notification.TypeAppointmentRescheduled,
			Title:                "Appointment rescheduled",
			Message:              fmt.Sprintf("The session on %s moved to %s", oldWhen, newStart.Format("Mon Jan 2 15:04")),
			RelatedAppointmentID: &replacement.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	s.invalidateAvailability(ctx, old.ProviderID)
	return replacement, nil
}

// ProviderAppointments returns a provider's calendar for [from, to), with
// client names attached.
func (s *Service) ProviderAppointments(ctx context.Context, providerID uuid.UUID, from, to time.Time) ([]*AppointmentView, error) {
	return s.appts.ListByProvider(ctx, providerID, from, to)
}

// ClientAppointments returns a client's upcoming sessions from the given
// time onward.
func (s *Service) ClientAppointments(ctx context.Context, clientID uuid.UUID, from time.Time) ([]*Appointment, error) {
	if from.IsZero() {
		from = s.now()
	}
	return s.appts.ListByClient(ctx, clientID, from)
}
