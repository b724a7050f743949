package booking

import (
	"context"
	"time"

	"github.com/circlein/amenity-booking/internal/logger"
	"github.com/circlein/amenity-booking/internal/model"
	"github.com/circlein/amenity-booking/internal/repository"
)

// Admission is the outcome of a successful admit.  When Waitlisted is set
// the booking was queued behind HeldBy at the given 1-based Position.
type Admission struct {
	Booking    *model.BookingRecord `json:"booking"`
	Waitlisted bool                 `json:"waitlisted"`
	Position   int                  `json:"position,omitempty"`
	HeldBy     string               `json:"heldBy,omitempty"`
}

// AdmissionController checks a slot and reserves it inside one store
// transaction.  A lost race against a concurrent writer aborts the
// transaction and the whole check-and-insert is run again.
type AdmissionController struct {
	store    Store
	mode     ConflictMode
	waitlist bool
	retry    retryPolicy
	now      func() time.Time
	newID    func() string
}

// Admit reserves v for who.  It returns ErrSlotConflict when the slot is
// held (and the waitlist is disabled or who is already holding or queued)
// and a TransientStoreFailure once the retry budget is spent.
func (c *AdmissionController) Admit(ctx context.Context, v Validated, who Identity) (*Admission, error) {
	var out *Admission
	err := c.retry.run(ctx, "admit", func() error {
		out = nil
		return c.store.RunInTx(ctx, func(tx repository.BookingTx) error {
			held, err := tx.ConfirmedOn(ctx, v.FacilityID, v.Date)
			if err != nil {
				return err
			}
			holder := c.firstConflict(held, v)

			rec := c.newRecord(v, who)
			if holder == nil {
				if err := tx.Insert(ctx, rec); err != nil {
					return err
				}
				out = &Admission{Booking: rec}
				return nil
			}

			if !c.waitlist {
				return ErrSlotConflict
			}
			if holder.UserID == who.UserID || holder.Waitlist.Contains(who.UserID) {
				return withMessage(ErrSlotConflict, "you already hold or are queued for this time slot")
			}

			rec.Status = model.BookingStatusWaitlist
			if err := tx.Insert(ctx, rec); err != nil {
				return err
			}
			updated := holder.Clone()
			updated.Waitlist = append(updated.Waitlist, model.WaitlistEntry{
				UserID:    who.UserID,
				UserName:  who.Name,
				BookingID: rec.ID,
			})
			if err := tx.Update(ctx, updated, model.BookingStatusConfirmed); err != nil {
				return err
			}
			out = &Admission{Booking: rec, Waitlisted: true, Position: len(updated.Waitlist), HeldBy: holder.ID}
			return nil
		})
	})
	if err != nil {
		if be := AsError(err); be.Kind == KindConflict {
			logger.FromContext(ctx).Info().Str("facility", v.FacilityID).Str("date", v.Date).
				Str("slot", v.TimeSlot).Str("user_id", who.UserID).Msg("slot conflict")
		}
		return nil, AsError(err)
	}

	ev := logger.FromContext(ctx).Info().Str("booking_id", out.Booking.ID).Str("facility", v.FacilityID).
		Str("date", v.Date).Str("slot", v.TimeSlot).Str("user_id", who.UserID)
	if out.Waitlisted {
		ev.Int("position", out.Position).Msg("booking waitlisted")
	} else {
		ev.Msg("booking confirmed")
	}
	return out, nil
}

// firstConflict returns the first confirmed booking that holds the
// requested slot under the configured granularity.
func (c *AdmissionController) firstConflict(held []*model.BookingRecord, v Validated) *model.BookingRecord {
	for _, h := range held {
		if h.TimeSlot == v.TimeSlot {
			return h
		}
		if c.mode != ConflictOverlap {
			continue
		}
		// Rows without instants can only be compared by slot text.
		if h.StartAt.IsZero() || h.EndAt.IsZero() {
			continue
		}
		if h.Overlaps(v.StartAt, v.EndAt) {
			return h
		}
	}
	return nil
}

func (c *AdmissionController) newRecord(v Validated, who Identity) *model.BookingRecord {
	return &model.BookingRecord{
		ID:           c.newID(),
		FacilityID:   v.FacilityID,
		FacilityName: v.FacilityName,
		Date:         v.Date,
		TimeSlot:     v.TimeSlot,
		StartAt:      v.StartAt.UTC(),
		EndAt:        v.EndAt.UTC(),
		Status:       model.BookingStatusConfirmed,
		UserID:       who.UserID,
		UserEmail:    who.Email,
		UserName:     who.Name,
		Waitlist:     model.Waitlist{},
		CreatedAt:    c.now().UTC(),
	}
}
