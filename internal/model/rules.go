package model

// BookingRules is the singleton admission policy.  Durations are minutes;
// the cancellation deadline is hours before the booking starts.
type BookingRules struct {
	MaxPerFamily              int `db:"max_per_family" json:"maxPerFamily"`
	MaxAdvanceBookingDays     int `db:"max_advance_booking_days" json:"maxAdvanceBookingDays"`
	MinBookingDuration        int `db:"min_booking_duration" json:"minBookingDuration"`
	MaxBookingDuration        int `db:"max_booking_duration" json:"maxBookingDuration"`
	CancellationDeadlineHours int `db:"cancellation_deadline_hours" json:"cancellationDeadlineHours"`
}

// DefaultBookingRules mirrors the values written by the initialization
// routine.
func DefaultBookingRules() BookingRules {
	return BookingRules{
		MaxPerFamily:              2,
		MaxAdvanceBookingDays:     7,
		MinBookingDuration:        30,
		MaxBookingDuration:        120,
		CancellationDeadlineHours: 2,
	}
}
