package booking

import (
	"context"
	"errors"
	"time"

	"github.com/circlein/amenity-booking/internal/logger"
	"github.com/circlein/amenity-booking/internal/model"
	"github.com/circlein/amenity-booking/internal/repository"
)

// Cancellation is the outcome of a successful cancel.  Promoted is the
// waitlisted booking that took over the freed slot, if any.
type Cancellation struct {
	Booking  *model.BookingRecord `json:"booking"`
	Promoted *model.BookingRecord `json:"promoted,omitempty"`
}

// CancellationAuthority decides whether a caller may cancel a booking and
// performs the transition, together with waitlist promotion, in one store
// transaction.
type CancellationAuthority struct {
	store    Store
	query    *QueryService
	loc      *time.Location
	waitlist bool
	retry    retryPolicy
}

// Cancel moves booking id to cancelled.  Owners must cancel at least
// rules.CancellationDeadlineHours before the start; admins bypass the
// deadline.  Waitlist entries can be withdrawn at any time.
func (a *CancellationAuthority) Cancel(ctx context.Context, who Identity, id string, rules model.BookingRules, now time.Time) (*Cancellation, error) {
	if who.UserID == "" {
		return nil, ErrUnauthorized
	}
	if id == "" {
		e := withFields(ErrMissingFields, "bookingId")
		e.Message = "Missing required fields: bookingId"
		return nil, e
	}

	// Cheap read outside the transaction so that the common rejections do
	// not take row locks.
	current, err := a.query.Get(ctx, who, id)
	if err != nil {
		return nil, err
	}
	if err := a.authorize(current, who, rules, now); err != nil {
		return nil, err
	}

	var out *Cancellation
	err = a.retry.run(ctx, "cancel", func() error {
		out = nil
		return a.store.RunInTx(ctx, func(tx repository.BookingTx) error {
			rec, err := tx.GetForUpdate(ctx, id)
			if errors.Is(err, repository.ErrNotFound) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			if err := a.authorize(rec, who, rules, now); err != nil {
				return err
			}

			from := rec.Status
			rec.Status = model.BookingStatusCancelled
			if err := tx.Update(ctx, rec, from); err != nil {
				if errors.Is(err, repository.ErrStaleRecord) {
					return ErrAlreadyCancelled
				}
				return err
			}
			out = &Cancellation{Booking: rec}

			if from == model.BookingStatusWaitlist {
				return a.withdraw(ctx, tx, rec)
			}
			if !a.waitlist || from != model.BookingStatusConfirmed || len(rec.Waitlist) == 0 {
				return nil
			}
			promoted, err := a.promote(ctx, tx, rec)
			if err != nil {
				return err
			}
			out.Promoted = promoted
			return nil
		})
	})
	if err != nil {
		return nil, AsError(err)
	}

	l := logger.FromContext(ctx).Info().Str("booking_id", id).Str("actor_id", who.UserID).Bool("admin", who.IsAdmin())
	if out.Promoted != nil {
		l = l.Str("promoted_id", out.Promoted.ID).Str("promoted_user", out.Promoted.UserID)
	}
	l.Msg("booking cancelled")
	return out, nil
}

// authorize applies the checks in order: ownership, current status, then
// the deadline for owners of confirmed bookings.
func (a *CancellationAuthority) authorize(rec *model.BookingRecord, who Identity, rules model.BookingRules, now time.Time) error {
	if rec.UserID != who.UserID && !who.IsAdmin() {
		return ErrForbidden
	}
	if rec.Status == model.BookingStatusCancelled {
		return ErrAlreadyCancelled
	}
	if who.IsAdmin() || rec.Status != model.BookingStatusConfirmed {
		return nil
	}
	start, ok := startOf(rec, a.loc)
	deadline := time.Duration(rules.CancellationDeadlineHours) * time.Hour
	if !ok || start.Sub(now) < deadline {
		return ErrDeadlinePassed
	}
	return nil
}

// promote confirms the earliest waiting booking that fits the freed slot.
// Entries ahead of it that are still blocked by another confirmed booking
// stay queued and move, with everything behind, onto the promoted record.
// Entries whose booking is no longer waiting are dropped.
func (a *CancellationAuthority) promote(ctx context.Context, tx repository.BookingTx, freed *model.BookingRecord) (*model.BookingRecord, error) {
	held, err := tx.ConfirmedOn(ctx, freed.FacilityID, freed.Date)
	if err != nil {
		return nil, err
	}

	var kept model.Waitlist
	for i, entry := range freed.Waitlist {
		if entry.BookingID == "" {
			continue
		}
		cand, err := tx.GetForUpdate(ctx, entry.BookingID)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if cand.Status != model.BookingStatusWaitlist {
			continue
		}
		if blockedBy(cand, held) {
			kept = append(kept, entry)
			continue
		}

		cand.Status = model.BookingStatusConfirmed
		cand.Waitlist = append(kept, freed.Waitlist[i+1:]...)
		if cand.Waitlist == nil {
			cand.Waitlist = model.Waitlist{}
		}
		if err := tx.Update(ctx, cand, model.BookingStatusWaitlist); err != nil {
			return nil, err
		}
		return cand, nil
	}
	return nil, nil
}

// withdraw removes the queue entry of a cancelled waitlist record from the
// confirmed booking that carries it, so the caller may queue again and
// later positions count only live entries.
func (a *CancellationAuthority) withdraw(ctx context.Context, tx repository.BookingTx, rec *model.BookingRecord) error {
	held, err := tx.ConfirmedOn(ctx, rec.FacilityID, rec.Date)
	if err != nil {
		return err
	}
	for _, h := range held {
		rest, found := h.Waitlist.Without(rec.ID)
		if !found {
			continue
		}
		h.Waitlist = rest
		return tx.Update(ctx, h, model.BookingStatusConfirmed)
	}
	return nil
}

func blockedBy(cand *model.BookingRecord, held []*model.BookingRecord) bool {
	for _, h := range held {
		if h.ID == cand.ID {
			continue
		}
		if h.TimeSlot == cand.TimeSlot {
			return true
		}
		if !h.StartAt.IsZero() && !h.EndAt.IsZero() && h.Overlaps(cand.StartAt, cand.EndAt) {
			return true
		}
	}
	return false
}
