// Package scheduling implements the practice calendar: provider availability
// slots, client scheduling requests, and the booking engine that turns an
// approved request into an appointment while keeping the slot grid and the
// provider's calendar consistent.
package scheduling

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SlotDuration is the granularity of the availability grid. Every slot
// covers exactly one increment and all bookable times align to it.
const SlotDuration = 15 * time.Minute

// Slot statuses.
const (
	SlotAvailable = "available"
	SlotBooked    = "booked"
	SlotBlocked   = "blocked"
)

var validSlotStatuses = map[string]bool{
	SlotAvailable: true, SlotBooked: true, SlotBlocked: true,
}

// Scheduling request statuses. A request is terminal in every status except
// pending.
const (
	RequestPending        = "pending"
	RequestApproved       = "approved"
	RequestDeclined       = "declined"
	RequestCounterProposed = "counter_proposed"
	RequestCancelled      = "cancelled"
)

// Appointment statuses.
const (
	ApptScheduled  = "scheduled"
	ApptConfirmed  = "confirmed"
	ApptInProgress = "in_progress"
	ApptCompleted  = "completed"
	ApptCancelled  = "cancelled"
	ApptNoShow     = "no_show"
)

// Recurring rules for provider-created appointment series.
const (
	RecurWeekly   = "weekly"
	RecurBiweekly = "biweekly"
	RecurMonthly  = "monthly"
)

var recurIntervals = map[string]time.Duration{
	RecurWeekly:   7 * 24 * time.Hour,
	RecurBiweekly: 14 * 24 * time.Hour,
	RecurMonthly:  30 * 24 * time.Hour,
}

// recurOccurrences is how many sessions a recurring rule books up front.
const recurOccurrences = 12

// Slot is one 15-minute cell of a provider's availability grid.
type Slot struct {
	ID               uuid.UUID `db:"id" json:"id"`
	ProviderID       uuid.UUID `db:"provider_id" json:"provider_id"`
	StartTS          time.Time `db:"start_ts" json:"start_ts"`
	EndTS            time.Time `db:"end_ts" json:"end_ts"`
	Status           string    `db:"status" json:"status"`
	CreatedByBooking bool      `db:"created_by_booking" json:"created_by_booking"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// SchedulingRequest is a client's ask for an appointment, pending until the
// provider responds or the client withdraws it.
type SchedulingRequest struct {
	ID                    uuid.UUID       `db:"id" json:"id"`
	ClientID              uuid.UUID       `db:"client_id" json:"client_id"`
	ProviderID            uuid.UUID       `db:"provider_id" json:"provider_id"`
	RequestedSlotID       *uuid.UUID      `db:"requested_slot_id" json:"requested_slot_id,omitempty"`
	StartTS               time.Time       `db:"start_ts" json:"start_ts"`
	EndTS                 time.Time       `db:"end_ts" json:"end_ts"`
	Status                string          `db:"status" json:"status"`
	ClientMessage         *string         `db:"client_message" json:"client_message,omitempty"`
	ProviderResponse      *string         `db:"provider_response" json:"provider_response,omitempty"`
	SuggestedAlternatives json.RawMessage `db:"suggested_alternatives" json:"suggested_alternatives,omitempty"`
	CancelledBy           *string         `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancellationReason    *string         `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
	RespondedAt           *time.Time      `db:"responded_at" json:"responded_at,omitempty"`
}

// Appointment is a confirmed session on a provider's calendar.
type Appointment struct {
	ID                  uuid.UUID  `db:"id" json:"id"`
	ClientID            uuid.UUID  `db:"client_id" json:"client_id"`
	ProviderID          uuid.UUID  `db:"provider_id" json:"provider_id"`
	SchedulingRequestID *uuid.UUID `db:"scheduling_request_id" json:"scheduling_request_id,omitempty"`
	StartTS             time.Time  `db:"start_ts" json:"start_ts"`
	EndTS               time.Time  `db:"end_ts" json:"end_ts"`
	Status              string     `db:"status" json:"status"`
	Location            *string    `db:"location" json:"location,omitempty"`
	RecurringRule       *string    `db:"recurring_rule" json:"recurring_rule,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// AppointmentView is an appointment joined with the client's display name
// for provider-facing calendar responses.
type AppointmentView struct {
	Appointment
	ClientName string `db:"client_name" json:"client_name"`
}

// WeekView is a provider's calendar for one week.
type WeekView struct {
	WeekStart    time.Time            `json:"week_start"`
	WeekEnd      time.Time            `json:"week_end"`
	Slots        []*Slot              `json:"slots"`
	Appointments []*AppointmentView   `json:"appointments"`
	Requests     []*SchedulingRequest `json:"scheduling_requests"`
}

// aligned reports whether t falls on the 15-minute grid.
func aligned(t time.Time) bool {
	return t.Truncate(SlotDuration).Equal(t)
}

// increments returns the grid cells covering [start, end).
func increments(start, end time.Time) []time.Time {
	var out []time.Time
	for t := start; t.Before(end); t = t.Add(SlotDuration) {
		out = append(out, t)
	}
	return out
}
