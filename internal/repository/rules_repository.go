package repository

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/circlein/amenity-booking/internal/model"
)

// rulesRowID is the primary key of the singleton booking_rules row.
const rulesRowID = 1

// RulesRepo reads and seeds the booking_rules singleton in MySQL.
type RulesRepo struct {
	db *sqlx.DB
}

// NewRulesRepo returns a new RulesRepo bound to the given database.
func NewRulesRepo(db *sqlx.DB) *RulesRepo { return &RulesRepo{db: db} }

// Get returns the stored rules or ErrNotFound if the row was never seeded.
func (r *RulesRepo) Get(ctx context.Context) (model.BookingRules, error) {
	const q = `SELECT max_per_family, max_advance_booking_days, min_booking_duration,
                      max_booking_duration, cancellation_deadline_hours
               FROM booking_rules WHERE id = ?`
	var rules model.BookingRules
	err := r.db.GetContext(ctx, &rules, q, rulesRowID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.BookingRules{}, ErrNotFound
	}
	if err != nil {
		return model.BookingRules{}, classify(err)
	}
	return rules, nil
}

// Seed writes rules unless the row already exists.  It reports whether a
// row was created.
func (r *RulesRepo) Seed(ctx context.Context, rules model.BookingRules) (bool, error) {
	const q = `INSERT IGNORE INTO booking_rules (id, max_per_family, max_advance_booking_days,
                      min_booking_duration, max_booking_duration, cancellation_deadline_hours)
               VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q, rulesRowID, rules.MaxPerFamily, rules.MaxAdvanceBookingDays,
		rules.MinBookingDuration, rules.MaxBookingDuration, rules.CancellationDeadlineHours)
	if err != nil {
		return false, classify(err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MemoryRulesRepo keeps the rules singleton in memory.
type MemoryRulesRepo struct {
	mu    sync.RWMutex
	rules *model.BookingRules
}

// NewMemoryRulesRepo returns a repo with no rules stored.
func NewMemoryRulesRepo() *MemoryRulesRepo { return &MemoryRulesRepo{} }

func (r *MemoryRulesRepo) Get(ctx context.Context) (model.BookingRules, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.rules == nil {
		return model.BookingRules{}, ErrNotFound
	}
	return *r.rules, nil
}

func (r *MemoryRulesRepo) Seed(ctx context.Context, rules model.BookingRules) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rules != nil {
		return false, nil
	}
	r.rules = &rules
	return true, nil
}
