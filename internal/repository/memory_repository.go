package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/circlein/amenity-booking/internal/model"
)

// MemoryBookingRepo is a transactional in-memory booking store.  A single
// mutex serializes transactions, and writes made inside a transaction are
// staged and only become visible when the transaction function returns
// nil.  It backs tests and the STORE_DRIVER=memory mode.
type MemoryBookingRepo struct {
	mu      sync.Mutex
	rows    map[string]*model.BookingRecord
	order   []string
	noOrder bool
}

// NewMemoryBookingRepo returns an empty store.
func NewMemoryBookingRepo() *MemoryBookingRepo {
	return &MemoryBookingRepo{rows: make(map[string]*model.BookingRecord)}
}

// DisableOrdering makes ordered queries fail with ErrOrderingUnavailable,
// the way a document store without a composite index would.
func (m *MemoryBookingRepo) DisableOrdering(disabled bool) {
	m.mu.Lock()
	m.noOrder = disabled
	m.mu.Unlock()
}

// Seed stores records directly, bypassing transactions.
func (m *MemoryBookingRepo) Seed(recs ...*model.BookingRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range recs {
		m.put(r.Clone())
	}
}

func (m *MemoryBookingRepo) put(rec *model.BookingRecord) {
	if _, ok := m.rows[rec.ID]; !ok {
		m.order = append(m.order, rec.ID)
	}
	m.rows[rec.ID] = rec
}

// RunInTx runs fn with exclusive access to the store.
func (m *MemoryBookingRepo) RunInTx(ctx context.Context, fn func(BookingTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{repo: m, staged: make(map[string]*model.BookingRecord)}
	if err := fn(tx); err != nil {
		return err
	}
	for _, id := range tx.stagedOrder {
		m.put(tx.staged[id])
	}
	return nil
}

// Find returns matching bookings in insertion order, or sorted by StartAt
// when ordered is set.
func (m *MemoryBookingRepo) Find(ctx context.Context, f BookingFilter, ordered bool) ([]*model.BookingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ordered && m.noOrder {
		return nil, ErrOrderingUnavailable
	}

	var out []*model.BookingRecord
	for _, id := range m.order {
		r := m.rows[id]
		if r.Date != f.Date {
			continue
		}
		if f.FacilityID != "" && r.FacilityID != f.FacilityID {
			continue
		}
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		out = append(out, r.Clone())
	}
	if ordered {
		// Same placement as the SQL store: a zero StartAt (NULL) sorts last.
		sort.SliceStable(out, func(i, j int) bool {
			zi, zj := out[i].StartAt.IsZero(), out[j].StartAt.IsZero()
			if zi != zj {
				return zj
			}
			return out[i].StartAt.Before(out[j].StartAt)
		})
	}
	return out, nil
}

// Get returns a single booking or ErrNotFound.
func (m *MemoryBookingRepo) Get(ctx context.Context, id string) (*model.BookingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

type memoryTx struct {
	repo        *MemoryBookingRepo
	staged      map[string]*model.BookingRecord
	stagedOrder []string
}

func (t *memoryTx) current(id string) (*model.BookingRecord, bool) {
	if r, ok := t.staged[id]; ok {
		return r, true
	}
	r, ok := t.repo.rows[id]
	return r, ok
}

func (t *memoryTx) stage(rec *model.BookingRecord) {
	if _, ok := t.staged[rec.ID]; !ok {
		t.stagedOrder = append(t.stagedOrder, rec.ID)
	}
	t.staged[rec.ID] = rec
}

func (t *memoryTx) ConfirmedOn(ctx context.Context, facilityID, date string) ([]*model.BookingRecord, error) {
	var out []*model.BookingRecord
	seen := make(map[string]bool)
	visit := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		r, _ := t.current(id)
		if r.FacilityID == facilityID && r.Date == date && r.Status == model.BookingStatusConfirmed {
			out = append(out, r.Clone())
		}
	}
	for _, id := range t.repo.order {
		visit(id)
	}
	for _, id := range t.stagedOrder {
		visit(id)
	}
	return out, nil
}

func (t *memoryTx) GetForUpdate(ctx context.Context, id string) (*model.BookingRecord, error) {
	r, ok := t.current(id)
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (t *memoryTx) Insert(ctx context.Context, rec *model.BookingRecord) error {
	if _, ok := t.current(rec.ID); ok {
		return ErrTxConflict
	}
	// Same backstop as the confirmed_slot unique key in MySQL.
	if rec.Status == model.BookingStatusConfirmed {
		held, _ := t.ConfirmedOn(ctx, rec.FacilityID, rec.Date)
		for _, h := range held {
			if h.TimeSlot == rec.TimeSlot {
				return ErrTxConflict
			}
		}
	}
	t.stage(rec.Clone())
	return nil
}

func (t *memoryTx) Update(ctx context.Context, rec *model.BookingRecord, from model.BookingStatus) error {
	cur, ok := t.current(rec.ID)
	if !ok || cur.Status != from {
		return ErrStaleRecord
	}
	next := cur.Clone()
	next.Status = rec.Status
	next.Waitlist = append(model.Waitlist{}, rec.Waitlist...)
	if next.Status == model.BookingStatusConfirmed && from != model.BookingStatusConfirmed {
		held, _ := t.ConfirmedOn(ctx, next.FacilityID, next.Date)
		for _, h := range held {
			if h.TimeSlot == next.TimeSlot {
				return ErrTxConflict
			}
		}
	}
	t.stage(next)
	return nil
}
