// Package queue defines message payloads exchanged over the message broker
// together with the publisher and the audit-log consumer.
package queue

import (
	"time"

	"github.com/circlein/amenity-booking/internal/model"
)

// Routing keys on the bookings topic exchange.
const (
	EventBookingConfirmed  = "booking.confirmed"
	EventBookingWaitlisted = "booking.waitlisted"
	EventBookingCancelled  = "booking.cancelled"
	EventBookingPromoted   = "booking.promoted"
)

// BookingEvent is published after a booking transaction commits.  It
// carries enough information for downstream consumers to log, notify, or
// trigger analytics without querying the primary database.
type BookingEvent struct {
	Type         string `json:"type"`
	BookingID    string `json:"booking_id"`
	FacilityID   string `json:"facility_id"`
	FacilityName string `json:"facility_name"`
	Date         string `json:"date"`
	TimeSlot     string `json:"time_slot"`
	Status       string `json:"status"`
	UserID       string `json:"user_id"`
	ActorID      string `json:"actor_id,omitempty"`
	StartsAt     string `json:"starts_at"`
	EndsAt       string `json:"ends_at"`
	OccurredAt   string `json:"occurred_at"`
}

// NewBookingEvent builds an event of the given type for rec.  actorID is
// the caller that caused the transition and may differ from the owner.
func NewBookingEvent(typ string, rec *model.BookingRecord, actorID string, at time.Time) BookingEvent {
	ev := BookingEvent{
		Type:         typ,
		BookingID:    rec.ID,
		FacilityID:   rec.FacilityID,
		FacilityName: rec.FacilityName,
		Date:         rec.Date,
		TimeSlot:     rec.TimeSlot,
		Status:       string(rec.Status),
		UserID:       rec.UserID,
		ActorID:      actorID,
		OccurredAt:   at.UTC().Format(time.RFC3339),
	}
	if !rec.StartAt.IsZero() {
		ev.StartsAt = rec.StartAt.UTC().Format(time.RFC3339)
	}
	if !rec.EndAt.IsZero() {
		ev.EndsAt = rec.EndAt.UTC().Format(time.RFC3339)
	}
	return ev
}
