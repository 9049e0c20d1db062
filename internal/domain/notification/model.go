// Package notification keeps the append-only in-app notification ledger.
// Rows are written by the booking engine inside its transaction and read by
// the addressee; connected users also get a live push over WebSocket.
package notification

import (
	"time"

	"github.com/google/uuid"
)

// Notification types, one per scheduling event.
const (
	TypeSchedulingRequest      = "scheduling_request"
	TypeRequestApproved        = "request_approved"
	TypeRequestDeclined        = "request_declined"
	TypeRequestCancelled       = "request_cancelled"
	TypeCounterProposal        = "counter_proposal"
	TypeAppointmentScheduled   = "appointment_scheduled"
	TypeAppointmentCancelled   = "appointment_cancelled"
	TypeAppointmentRescheduled = "appointment_rescheduled"
)

var validTypes = map[string]bool{
	TypeSchedulingRequest:      true,
	TypeRequestApproved:        true,
	TypeRequestDeclined:        true,
	TypeRequestCancelled:       true,
	TypeCounterProposal:        true,
	TypeAppointmentScheduled:   true,
	TypeAppointmentCancelled:   true,
	TypeAppointmentRescheduled: true,
}

// Notification is one entry in a user's notification feed.
type Notification struct {
	ID                   uuid.UUID  `db:"id" json:"id"`
	UserID               uuid.UUID  `db:"user_id" json:"user_id"`
	Type                 string     `db:"type" json:"type"`
	Title                string     `db:"title" json:"title"`
	Message              string     `db:"message" json:"message"`
	RelatedRequestID     *uuid.UUID `db:"related_request_id" json:"related_request_id,omitempty"`
	RelatedAppointmentID *uuid.UUID `db:"related_appointment_id" json:"related_appointment_id,omitempty"`
	IsRead               bool       `db:"is_read" json:"is_read"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
}
