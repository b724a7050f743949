package booking

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circlein/amenity-booking/internal/model"
	"github.com/circlein/amenity-booking/internal/queue"
	"github.com/circlein/amenity-booking/internal/repository"
)

var engineNow = time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)

var (
	alice = Identity{UserID: "u-alice", Role: model.RoleResident, Email: "alice@example.com", Name: "Alice"}
	bob   = Identity{UserID: "u-bob", Role: model.RoleResident, Name: "Bob"}
	carol = Identity{UserID: "u-carol", Role: model.RoleResident, Name: "Carol"}
	admin = Identity{UserID: "u-admin", Role: model.RoleAdmin, Name: "Admin"}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.BookingEvent
}

func (p *recordingPublisher) PublishBookingEvent(_ context.Context, ev queue.BookingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// flakyStore fails the first n transactions with a write-write conflict.
type flakyStore struct {
	*repository.MemoryBookingRepo
	failures int32
	calls    int32
}

func (s *flakyStore) RunInTx(ctx context.Context, fn func(repository.BookingTx) error) error {
	atomic.AddInt32(&s.calls, 1)
	if atomic.AddInt32(&s.failures, -1) >= 0 {
		return repository.ErrTxConflict
	}
	return s.MemoryBookingRepo.RunInTx(ctx, fn)
}

func newTestEngine(store Store, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = func() time.Time { return engineNow }
	}
	return New(Deps{Store: store}, opts)
}

func payload(t *testing.T, body string) *Payload {
	t.Helper()
	p, err := DecodeJSONBytes([]byte(body))
	require.NoError(t, err)
	return p
}

func slotPayload(t *testing.T, facility, date, slot string) *Payload {
	return payload(t, fmt.Sprintf(`{"facilityId":%q,"date":%q,"timeSlot":%q}`, facility, date, slot))
}

func TestCreateConcurrentRequestsAdmitExactlyOne(t *testing.T) {
	store := repository.NewMemoryBookingRepo()
	eng := newTestEngine(store, Options{})

	const n = 20
	var (
		wg        sync.WaitGroup
		created   int32
		conflicts int32
		other     = make(chan error, n)
	)
	payloads := make([]*Payload, n)
	for i := range payloads {
		payloads[i] = slotPayload(t, "tennis-court", "2024-01-12", "10:00 - 11:00")
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			who := Identity{UserID: fmt.Sprintf("u-%d", i), Role: model.RoleResident}
			_, err := eng.Create(context.Background(), who, payloads[i])
			switch {
			case err == nil:
				atomic.AddInt32(&created, 1)
			case AsError(err).Code == ErrSlotConflict.Code:
				atomic.AddInt32(&conflicts, 1)
			default:
				other <- err
			}
		}(i)
	}
	wg.Wait()
	close(other)

	for err := range other {
		t.Errorf("unexpected error: %v", err)
	}
	assert.EqualValues(t, 1, created)
	assert.EqualValues(t, n-1, conflicts)

	recs, err := store.Find(context.Background(), repository.BookingFilter{Date: "2024-01-12"}, true)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.BookingStatusConfirmed, recs[0].Status)
}

func TestCreateRejectsOverlapInOverlapMode(t *testing.T) {
	eng := newTestEngine(repository.NewMemoryBookingRepo(), Options{ConflictMode: ConflictOverlap})
	ctx := context.Background()

	_, err := eng.Create(ctx, alice, slotPayload(t, "gym", "2024-01-12", "10:00 - 11:00"))
	require.NoError(t, err)

	_, err = eng.Create(ctx, bob, slotPayload(t, "gym", "2024-01-12", "10:30 AM - 11:30 AM"))
	assert.ErrorIs(t, err, ErrSlotConflict)

	_, err = eng.Create(ctx, bob, slotPayload(t, "gym", "2024-01-12", "11:00 - 12:00"))
	assert.NoError(t, err, "adjacent slots do not overlap")

	_, err = eng.Create(ctx, bob, slotPayload(t, "swimming-pool", "2024-01-12", "10:00 - 11:00"))
	assert.NoError(t, err, "other facilities are independent")
}

func TestCreateExactModeOnlyRejectsIdenticalSlots(t *testing.T) {
	eng := newTestEngine(repository.NewMemoryBookingRepo(), Options{ConflictMode: ConflictExact})
	ctx := context.Background()

	_, err := eng.Create(ctx, alice, slotPayload(t, "gym", "2024-01-12", "10:00 - 11:00"))
	require.NoError(t, err)

	_, err = eng.Create(ctx, bob, slotPayload(t, "gym", "2024-01-12", "10:30 - 11:30"))
	assert.NoError(t, err)

	// "10:00 AM - 11:00 AM" normalizes to the held slot.
	_, err = eng.Create(ctx, carol, slotPayload(t, "gym", "2024-01-12", "10:00 AM - 11:00 AM"))
	assert.ErrorIs(t, err, ErrSlotConflict)
}

func TestCreateRetriesThenSucceeds(t *testing.T) {
	store := &flakyStore{MemoryBookingRepo: repository.NewMemoryBookingRepo(), failures: 2}
	eng := newTestEngine(store, Options{MaxAttempts: 3, RetryBase: time.Millisecond})

	adm, err := eng.Create(context.Background(), alice, slotPayload(t, "gym", "2024-01-12", "10:00 - 11:00"))

	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusConfirmed, adm.Booking.Status)
	assert.EqualValues(t, 3, atomic.LoadInt32(&store.calls))
}

func TestCreateSurfacesTransientFailureAfterRetries(t *testing.T) {
	store := &flakyStore{MemoryBookingRepo: repository.NewMemoryBookingRepo(), failures: 100}
	eng := newTestEngine(store, Options{MaxAttempts: 3, RetryBase: time.Millisecond})

	_, err := eng.Create(context.Background(), alice, slotPayload(t, "gym", "2024-01-12", "10:00 - 11:00"))

	require.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, KindTransient, AsError(err).Kind)
	assert.EqualValues(t, 3, atomic.LoadInt32(&store.calls))
}

func TestCreateFillsRecordAndPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	amenities := repository.NewMemoryAmenityRepo()
	_, err := amenities.Seed(context.Background(), model.DefaultAmenities())
	require.NoError(t, err)
	eng := New(Deps{Store: repository.NewMemoryBookingRepo(), Amenities: amenities, Events: pub}, Options{
		Now:   func() time.Time { return engineNow },
		NewID: func() string { return "b-1" },
	})

	adm, err := eng.Create(context.Background(), alice, payload(t, `{"amenityId":"gym","startTime":"2024-01-12T09:00:00Z","endTime":"2024-01-12T10:00:00Z"}`))

	require.NoError(t, err)
	rec := adm.Booking
	assert.Equal(t, "b-1", rec.ID)
	assert.Equal(t, "Gym", rec.FacilityName)
	assert.Equal(t, "2024-01-12", rec.Date)
	assert.Equal(t, "09:00 - 10:00", rec.TimeSlot)
	assert.Equal(t, "alice@example.com", rec.UserEmail)
	assert.Equal(t, engineNow, rec.CreatedAt)
	assert.True(t, rec.StartAt.Before(rec.EndAt))
	assert.Equal(t, []string{queue.EventBookingConfirmed}, pub.types())
}

func TestCreateRequiresIdentity(t *testing.T) {
	eng := newTestEngine(repository.NewMemoryBookingRepo(), Options{})
	_, err := eng.Create(context.Background(), Identity{}, slotPayload(t, "gym", "2024-01-12", "10:00 - 11:00"))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestCreateUsesStoredRules(t *testing.T) {
	rules := repository.NewMemoryRulesRepo()
	_, err := rules.Seed(context.Background(), model.BookingRules{MaxAdvanceBookingDays: 1, MinBookingDuration: 60, MaxBookingDuration: 60, CancellationDeadlineHours: 2})
	require.NoError(t, err)
	eng := New(Deps{Store: repository.NewMemoryBookingRepo(), Rules: rules}, Options{Now: func() time.Time { return engineNow }})

	_, err = eng.Create(context.Background(), alice, slotPayload(t, "gym", "2024-01-12", "10:00 - 11:00"))
	assert.ErrorIs(t, err, ErrDateOutOfWindow)

	_, err = eng.Create(context.Background(), alice, slotPayload(t, "gym", "2024-01-11", "10:00 - 10:30"))
	assert.ErrorIs(t, err, ErrDurationPolicy)
}

func seeded(id, user, facility string, start time.Time, d time.Duration) *model.BookingRecord {
	end := start.Add(d)
	return &model.BookingRecord{
		ID:         id,
		FacilityID: facility,
		Date:       start.Format("2006-01-02"),
		TimeSlot:   start.Format("15:04") + " - " + end.Format("15:04"),
		StartAt:    start,
		EndAt:      end,
		Status:     model.BookingStatusConfirmed,
		UserID:     user,
		Waitlist:   model.Waitlist{},
		CreatedAt:  engineNow.Add(-time.Hour),
	}
}

func TestCancelDeadline(t *testing.T) {
	store := repository.NewMemoryBookingRepo()
	store.Seed(
		seeded("soon", alice.UserID, "gym", engineNow.Add(time.Hour), time.Hour),
		seeded("later", alice.UserID, "gym", engineNow.Add(3*time.Hour), time.Hour),
	)
	eng := newTestEngine(store, Options{})
	ctx := context.Background()

	_, err := eng.Cancel(ctx, alice, "soon")
	assert.ErrorIs(t, err, ErrDeadlinePassed)

	res, err := eng.Cancel(ctx, alice, "later")
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusCancelled, res.Booking.Status)

	rec, err := store.Get(ctx, "later")
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusCancelled, rec.Status)
}

func TestCancelAuthority(t *testing.T) {
	store := repository.NewMemoryBookingRepo()
	store.Seed(
		seeded("b1", alice.UserID, "gym", engineNow.Add(30*time.Minute), time.Hour),
		seeded("b2", alice.UserID, "gym", engineNow.Add(5*time.Hour), time.Hour),
	)
	eng := newTestEngine(store, Options{})
	ctx := context.Background()

	_, err := eng.Cancel(ctx, Identity{}, "b1")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = eng.Cancel(ctx, bob, "b2")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = eng.Cancel(ctx, alice, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = eng.Cancel(ctx, alice, "")
	assert.ErrorIs(t, err, ErrMissingFields)

	_, err = eng.Cancel(ctx, admin, "b1")
	require.NoError(t, err, "admins bypass the deadline")

	_, err = eng.Cancel(ctx, admin, "b1")
	assert.ErrorIs(t, err, ErrAlreadyCancelled)
}

func TestWaitlistQueueAndPromotion(t *testing.T) {
	store := repository.NewMemoryBookingRepo()
	pub := &recordingPublisher{}
	eng := New(Deps{Store: store, Events: pub}, Options{
		Waitlist: true,
		Now:      func() time.Time { return engineNow },
	})
	ctx := context.Background()
	slot := func() *Payload { return slotPayload(t, "tennis-court", "2024-01-12", "10:00 - 11:00") }

	held, err := eng.Create(ctx, alice, slot())
	require.NoError(t, err)
	require.False(t, held.Waitlisted)

	first, err := eng.Create(ctx, bob, slot())
	require.NoError(t, err)
	assert.True(t, first.Waitlisted)
	assert.Equal(t, 1, first.Position)
	assert.Equal(t, held.Booking.ID, first.HeldBy)
	assert.Equal(t, model.BookingStatusWaitlist, first.Booking.Status)

	second, err := eng.Create(ctx, carol, slot())
	require.NoError(t, err)
	assert.Equal(t, 2, second.Position)

	_, err = eng.Create(ctx, bob, slot())
	assert.ErrorIs(t, err, ErrSlotConflict, "already queued")
	_, err = eng.Create(ctx, alice, slot())
	assert.ErrorIs(t, err, ErrSlotConflict, "already holding")

	res, err := eng.Cancel(ctx, alice, held.Booking.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Promoted)
	assert.Equal(t, first.Booking.ID, res.Promoted.ID)
	assert.Equal(t, model.BookingStatusConfirmed, res.Promoted.Status)
	require.Len(t, res.Promoted.Waitlist, 1)
	assert.Equal(t, carol.UserID, res.Promoted.Waitlist[0].UserID)

	recs, err := eng.Find(ctx, admin, Query{Date: "2024-01-12"})
	require.NoError(t, err)
	confirmed := 0
	for _, r := range recs {
		if r.Status == model.BookingStatusConfirmed {
			confirmed++
		}
	}
	assert.Equal(t, 1, confirmed)
	assert.Equal(t, []string{
		queue.EventBookingConfirmed,
		queue.EventBookingWaitlisted,
		queue.EventBookingWaitlisted,
		queue.EventBookingCancelled,
		queue.EventBookingPromoted,
	}, pub.types())
}

func TestWaitlistSkipsWithdrawnEntries(t *testing.T) {
	store := repository.NewMemoryBookingRepo()
	eng := newTestEngine(store, Options{Waitlist: true})
	ctx := context.Background()
	slot := func() *Payload { return slotPayload(t, "gym", "2024-01-12", "10:00 - 11:00") }

	held, err := eng.Create(ctx, alice, slot())
	require.NoError(t, err)
	first, err := eng.Create(ctx, bob, slot())
	require.NoError(t, err)
	second, err := eng.Create(ctx, carol, slot())
	require.NoError(t, err)

	_, err = eng.Cancel(ctx, bob, first.Booking.ID)
	require.NoError(t, err, "waitlist entries are withdrawn without a deadline")

	res, err := eng.Cancel(ctx, alice, held.Booking.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Promoted)
	assert.Equal(t, second.Booking.ID, res.Promoted.ID)
	assert.Empty(t, res.Promoted.Waitlist)
}

func TestWaitlistWithdrawFreesQueuePosition(t *testing.T) {
	store := repository.NewMemoryBookingRepo()
	eng := newTestEngine(store, Options{Waitlist: true})
	ctx := context.Background()
	slot := func() *Payload { return slotPayload(t, "gym", "2024-01-12", "10:00 - 11:00") }

	held, err := eng.Create(ctx, alice, slot())
	require.NoError(t, err)
	queued, err := eng.Create(ctx, bob, slot())
	require.NoError(t, err)
	require.Equal(t, 1, queued.Position)

	_, err = eng.Cancel(ctx, bob, queued.Booking.ID)
	require.NoError(t, err)

	holder, err := store.Get(ctx, held.Booking.ID)
	require.NoError(t, err)
	assert.Empty(t, holder.Waitlist, "withdrawn entry leaves the holder")

	next, err := eng.Create(ctx, carol, slot())
	require.NoError(t, err)
	assert.Equal(t, 1, next.Position, "only live entries count")

	again, err := eng.Create(ctx, bob, slot())
	require.NoError(t, err, "a withdrawn caller may queue again")
	assert.True(t, again.Waitlisted)
	assert.Equal(t, 2, again.Position)

	res, err := eng.Cancel(ctx, alice, held.Booking.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Promoted)
	assert.Equal(t, next.Booking.ID, res.Promoted.ID)
	require.Len(t, res.Promoted.Waitlist, 1)
	assert.Equal(t, again.Booking.ID, res.Promoted.Waitlist[0].BookingID)
}

func TestFindOrdersByStartWithAndWithoutServerOrdering(t *testing.T) {
	store := repository.NewMemoryBookingRepo()
	day := time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC)
	store.Seed(
		seeded("c", alice.UserID, "gym", day.Add(15*time.Hour), time.Hour),
		seeded("a", bob.UserID, "gym", day.Add(8*time.Hour), time.Hour),
		seeded("d", alice.UserID, "swimming-pool", day.Add(18*time.Hour), time.Hour),
		seeded("b", alice.UserID, "gym", day.Add(9*time.Hour+30*time.Minute), time.Hour),
	)
	eng := newTestEngine(store, Options{})
	ctx := context.Background()
	q := Query{Date: "2024-01-12"}

	ordered, err := eng.Find(ctx, admin, q)
	require.NoError(t, err)

	store.DisableOrdering(true)
	fallback, err := eng.Find(ctx, admin, q)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(ordered))
	assert.Equal(t, ids(ordered), ids(fallback))
}

func TestFindPlacesLegacyRowsIdenticallyOnBothPaths(t *testing.T) {
	store := repository.NewMemoryBookingRepo()
	day := time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC)
	legacy := func(id, slot string) *model.BookingRecord {
		r := seeded(id, alice.UserID, "gym", day, time.Hour)
		r.StartAt, r.EndAt = time.Time{}, time.Time{}
		r.TimeSlot = slot
		return r
	}
	store.Seed(
		legacy("unparsable", "morning"),
		seeded("ten", bob.UserID, "gym", day.Add(10*time.Hour), time.Hour),
		legacy("seven", "7:00 AM - 8:00 AM"),
		seeded("eight", bob.UserID, "pool", day.Add(8*time.Hour), time.Hour),
		legacy("noon", "12:00 - 13:00"),
	)
	eng := newTestEngine(store, Options{})
	ctx := context.Background()
	q := Query{Date: "2024-01-12"}

	ordered, err := eng.Find(ctx, admin, q)
	require.NoError(t, err)
	store.DisableOrdering(true)
	fallback, err := eng.Find(ctx, admin, q)
	require.NoError(t, err)

	want := []string{"seven", "eight", "ten", "noon", "unparsable"}
	assert.Equal(t, want, ids(ordered))
	assert.Equal(t, want, ids(fallback))
}

func TestFindFilters(t *testing.T) {
	store := repository.NewMemoryBookingRepo()
	day := time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC)
	store.Seed(
		seeded("a", alice.UserID, "gym", day.Add(8*time.Hour), time.Hour),
		seeded("b", bob.UserID, "gym", day.Add(9*time.Hour), time.Hour),
		seeded("c", alice.UserID, "swimming-pool", day.Add(10*time.Hour), time.Hour),
		seeded("x", alice.UserID, "gym", day.AddDate(0, 0, 1).Add(8*time.Hour), time.Hour),
	)
	eng := newTestEngine(store, Options{})
	ctx := context.Background()

	mine, err := eng.Find(ctx, alice, Query{Date: "2024-01-12", MineOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(mine))

	gym, err := eng.Find(ctx, alice, Query{Date: "2024-01-12", FacilityID: "gym"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(gym))

	none, err := eng.Find(ctx, alice, Query{Date: "2024-02-01"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	_, err = eng.Find(ctx, alice, Query{})
	assert.ErrorIs(t, err, ErrMissingDate)

	_, err = eng.Find(ctx, Identity{}, Query{Date: "2024-01-12"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSortByStartPutsUnparsableLast(t *testing.T) {
	recs := []*model.BookingRecord{
		{ID: "bad", Date: "2024-01-12", TimeSlot: "whenever"},
		{ID: "late", Date: "2024-01-12", TimeSlot: "3:00 PM - 4:00 PM"},
		{ID: "early", Date: "2024-01-12", TimeSlot: "08:00 - 09:00"},
		{ID: "nodate", TimeSlot: "07:00 - 08:00"},
	}

	SortByStart(recs, time.UTC)

	assert.Equal(t, []string{"early", "late", "bad", "nodate"}, ids(recs))
}

func TestGetVisibility(t *testing.T) {
	store := repository.NewMemoryBookingRepo()
	store.Seed(seeded("b1", alice.UserID, "gym", engineNow.Add(5*time.Hour), time.Hour))
	eng := newTestEngine(store, Options{})
	ctx := context.Background()

	rec, err := eng.Get(ctx, alice, "b1")
	require.NoError(t, err)
	assert.Equal(t, "b1", rec.ID)

	_, err = eng.Get(ctx, admin, "b1")
	assert.NoError(t, err)

	_, err = eng.Get(ctx, bob, "b1")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = eng.Get(ctx, bob, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestErrorIsMatchesByCode(t *testing.T) {
	e := withFields(ErrMissingFields, "date")
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", e), ErrMissingFields)
	assert.NotErrorIs(t, e, ErrInvalidDate)
	assert.True(t, strings.HasPrefix(e.Error(), "MissingFields"))
	assert.Equal(t, KindTransient, AsError(fmt.Errorf("boom")).Kind)
}

func ids(recs []*model.BookingRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}
