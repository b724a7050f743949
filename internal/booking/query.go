package booking

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/circlein/amenity-booking/internal/logger"
	"github.com/circlein/amenity-booking/internal/model"
	"github.com/circlein/amenity-booking/internal/repository"
	"github.com/circlein/amenity-booking/internal/timenorm"
)

// Query selects the bookings of one day.  MineOnly restricts the result to
// the caller's own bookings.
type Query struct {
	Date       string `json:"date" validate:"required"`
	FacilityID string `json:"facilityId"`
	MineOnly   bool   `json:"mineOnly"`
}

// QueryService answers read requests.  Results are always ordered by start
// time, whether or not the store can sort server-side.
type QueryService struct {
	store Store
	loc   *time.Location
	retry retryPolicy
}

// Find returns the bookings matching q ordered by start time ascending.
func (s *QueryService) Find(ctx context.Context, who Identity, q Query) ([]*model.BookingRecord, error) {
	if who.UserID == "" {
		return nil, ErrUnauthorized
	}
	if len(missingFields(q)) > 0 {
		return nil, withFields(ErrMissingDate, "date")
	}

	f := repository.BookingFilter{Date: q.Date, FacilityID: q.FacilityID}
	if q.MineOnly {
		f.UserID = who.UserID
	}

	var out []*model.BookingRecord
	err := s.retry.run(ctx, "find", func() error {
		recs, err := s.store.Find(ctx, f, true)
		if errors.Is(err, repository.ErrOrderingUnavailable) {
			logger.FromContext(ctx).Warn().Str("date", q.Date).Msg("server-side ordering unavailable, sorting in memory")
			recs, err = s.store.Find(ctx, f, false)
		}
		if err != nil {
			return err
		}
		// The store orders by instant only. The stable re-sort keeps that
		// order and places legacy rows at their slot-derived start, so
		// both paths return the same sequence.
		SortByStart(recs, s.loc)
		out = recs
		return nil
	})
	if err != nil {
		return nil, AsError(err)
	}
	if out == nil {
		out = []*model.BookingRecord{}
	}
	return out, nil
}

// Get returns booking id if who owns it or is an admin.
func (s *QueryService) Get(ctx context.Context, who Identity, id string) (*model.BookingRecord, error) {
	if who.UserID == "" {
		return nil, ErrUnauthorized
	}
	var rec *model.BookingRecord
	err := s.retry.run(ctx, "get", func() error {
		r, err := s.store.Get(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		rec = r
		return err
	})
	if err != nil {
		return nil, AsError(err)
	}
	if rec.UserID != who.UserID && !who.IsAdmin() {
		return nil, ErrForbidden
	}
	return rec, nil
}

// SortByStart orders recs by start instant, ascending and stable.  Records
// whose start cannot be determined sort last.
func SortByStart(recs []*model.BookingRecord, loc *time.Location) {
	type keyed struct {
		rec   *model.BookingRecord
		start time.Time
		ok    bool
	}
	ks := make([]keyed, len(recs))
	for i, r := range recs {
		start, ok := startOf(r, loc)
		ks[i] = keyed{rec: r, start: start, ok: ok}
	}
	sort.SliceStable(ks, func(i, j int) bool {
		if ks[i].ok != ks[j].ok {
			return ks[i].ok
		}
		return ks[i].ok && ks[i].start.Before(ks[j].start)
	})
	for i := range ks {
		recs[i] = ks[i].rec
	}
}

// startOf returns the start instant of rec, deriving it from date and the
// first half of timeSlot for rows that carry no instant.
func startOf(rec *model.BookingRecord, loc *time.Location) (time.Time, bool) {
	if !rec.StartAt.IsZero() {
		return rec.StartAt, true
	}
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation(dateLayout, rec.Date, loc)
	if err != nil {
		return time.Time{}, false
	}
	m := slotPattern.FindStringSubmatch(rec.TimeSlot)
	if m == nil {
		return time.Time{}, false
	}
	c, err := timenorm.ParseClock(m[1])
	if err != nil {
		return time.Time{}, false
	}
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, loc), true
}
