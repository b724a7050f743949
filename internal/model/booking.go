package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// BookingStatus is the lifecycle state of a BookingRecord.  Records are
// never deleted; they only move between these states.
type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusWaitlist  BookingStatus = "waitlist"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// Roles understood by the engine.  Anything else is treated as a resident.
const (
	RoleResident = "resident"
	RoleAdmin    = "admin"
)

// BookingRecord is a persisted reservation of an amenity for a time window
// on a calendar date.  It is created by admission and afterwards only
// status-transitioned by cancellation or waitlist promotion.
//
// Fields:
//
//	ID           – generated identifier (UUID).
//	FacilityID   – amenity being booked.
//	FacilityName – display name captured at booking time (may be empty).
//	Date         – local calendar date of StartAt, YYYY-MM-DD.
//	TimeSlot     – canonical display range "HH:MM - HH:MM" (24h).
//	StartAt      – absolute start instant; zero when a legacy row lacks it.
//	EndAt        – absolute end instant.
//	Status       – confirmed, waitlist or cancelled.
//	UserID       – owner of the booking.
//	UserEmail    – owner e-mail as supplied by the identity provider.
//	UserName     – owner display name.
//	Waitlist     – callers queued behind this confirmed booking, oldest first.
//	CreatedAt    – server-assigned creation time.
type BookingRecord struct {
	ID           string        `json:"id"`
	FacilityID   string        `json:"facilityId"`
	FacilityName string        `json:"facilityName"`
	Date         string        `json:"date"`
	TimeSlot     string        `json:"timeSlot"`
	StartAt      time.Time     `json:"startAt"`
	EndAt        time.Time     `json:"endAt"`
	Status       BookingStatus `json:"status"`
	UserID       string        `json:"userId"`
	UserEmail    string        `json:"userEmail,omitempty"`
	UserName     string        `json:"userName,omitempty"`
	Waitlist     Waitlist      `json:"waitlist"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// Overlaps reports whether [StartAt, EndAt) intersects [start, end).
func (b *BookingRecord) Overlaps(start, end time.Time) bool {
	return b.StartAt.Before(end) && b.EndAt.After(start)
}

// Clone returns a deep copy so callers can mutate the waitlist freely.
func (b *BookingRecord) Clone() *BookingRecord {
	cp := *b
	if b.Waitlist != nil {
		cp.Waitlist = append(Waitlist(nil), b.Waitlist...)
	}
	return &cp
}

// WaitlistEntry is one caller waiting for a held slot.  BookingID points at
// the caller's own record in status waitlist.
type WaitlistEntry struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName,omitempty"`
	BookingID string `json:"bookingId,omitempty"`
}

// Waitlist is stored as a JSON column.
type Waitlist []WaitlistEntry

// Contains reports whether the user already has an entry.
func (w Waitlist) Contains(userID string) bool {
	for _, e := range w {
		if e.UserID == userID {
			return true
		}
	}
	return false
}

// Without returns w minus the entry pointing at bookingID, and whether such
// an entry was present.
func (w Waitlist) Without(bookingID string) (Waitlist, bool) {
	out := make(Waitlist, 0, len(w))
	found := false
	for _, e := range w {
		if e.BookingID == bookingID {
			found = true
			continue
		}
		out = append(out, e)
	}
	return out, found
}

// Value implements driver.Valuer.
func (w Waitlist) Value() (driver.Value, error) {
	if len(w) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]WaitlistEntry(w))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (w *Waitlist) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*w = Waitlist{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("waitlist: unsupported column type")
	}
	if len(raw) == 0 {
		*w = Waitlist{}
		return nil
	}
	var entries []WaitlistEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return err
	}
	*w = entries
	return nil
}
