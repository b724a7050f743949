package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/circlein/amenity-booking/internal/model"
)

// BookingFilter narrows a booking query.  Date is required; empty
// FacilityID or UserID mean "any".
type BookingFilter struct {
	Date       string
	FacilityID string
	UserID     string
}

// BookingTx is the unit of work the engine runs inside a store
// transaction.  Reads made through it lock what they return until the
// transaction ends.
type BookingTx interface {
	// ConfirmedOn returns the confirmed bookings for a facility and date.
	ConfirmedOn(ctx context.Context, facilityID, date string) ([]*model.BookingRecord, error)
	// GetForUpdate returns one booking or ErrNotFound.
	GetForUpdate(ctx context.Context, id string) (*model.BookingRecord, error)
	// Insert stores a new booking.
	Insert(ctx context.Context, rec *model.BookingRecord) error
	// Update writes rec's status and waitlist provided the stored status
	// still equals from; otherwise it returns ErrStaleRecord.
	Update(ctx context.Context, rec *model.BookingRecord, from model.BookingStatus) error
}

// BookingRepo stores bookings in MySQL.  All instants are stored in UTC.
type BookingRepo struct {
	db *sqlx.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sqlx.DB) *BookingRepo { return &BookingRepo{db: db} }

// bookingRow mirrors the bookings table.  start_at/end_at are nullable for
// rows imported from the legacy document store.
type bookingRow struct {
	ID           string         `db:"id"`
	FacilityID   string         `db:"facility_id"`
	FacilityName string         `db:"facility_name"`
	Date         string         `db:"booking_date"`
	TimeSlot     string         `db:"time_slot"`
	StartAt      sql.NullTime   `db:"start_at"`
	EndAt        sql.NullTime   `db:"end_at"`
	Status       string         `db:"status"`
	UserID       string         `db:"user_id"`
	UserEmail    string         `db:"user_email"`
	UserName     string         `db:"user_name"`
	Waitlist     model.Waitlist `db:"waitlist"`
	CreatedAt    time.Time      `db:"created_at"`
}

const bookingColumns = `id, facility_id, facility_name, booking_date, time_slot, start_at, end_at,
       status, user_id, user_email, user_name, waitlist, created_at`

func (r bookingRow) record() *model.BookingRecord {
	rec := &model.BookingRecord{
		ID:           r.ID,
		FacilityID:   r.FacilityID,
		FacilityName: r.FacilityName,
		Date:         r.Date,
		TimeSlot:     r.TimeSlot,
		Status:       model.BookingStatus(r.Status),
		UserID:       r.UserID,
		UserEmail:    r.UserEmail,
		UserName:     r.UserName,
		Waitlist:     r.Waitlist,
		CreatedAt:    r.CreatedAt.UTC(),
	}
	if r.StartAt.Valid {
		rec.StartAt = r.StartAt.Time.UTC()
	}
	if r.EndAt.Valid {
		rec.EndAt = r.EndAt.Time.UTC()
	}
	if rec.Waitlist == nil {
		rec.Waitlist = model.Waitlist{}
	}
	return rec
}

func rowFrom(rec *model.BookingRecord) bookingRow {
	row := bookingRow{
		ID:           rec.ID,
		FacilityID:   rec.FacilityID,
		FacilityName: rec.FacilityName,
		Date:         rec.Date,
		TimeSlot:     rec.TimeSlot,
		Status:       string(rec.Status),
		UserID:       rec.UserID,
		UserEmail:    rec.UserEmail,
		UserName:     rec.UserName,
		Waitlist:     rec.Waitlist,
		CreatedAt:    rec.CreatedAt.UTC(),
	}
	if !rec.StartAt.IsZero() {
		row.StartAt = sql.NullTime{Time: rec.StartAt.UTC(), Valid: true}
	}
	if !rec.EndAt.IsZero() {
		row.EndAt = sql.NullTime{Time: rec.EndAt.UTC(), Valid: true}
	}
	return row
}

func records(rows []bookingRow) []*model.BookingRecord {
	out := make([]*model.BookingRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out
}

// RunInTx runs fn inside a REPEATABLE READ transaction.  The transaction
// commits when fn returns nil and rolls back otherwise.  Lock conflicts
// surface as ErrTxConflict.
func (r *BookingRepo) RunInTx(ctx context.Context, fn func(BookingTx) error) error {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return classify(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&bookingTx{tx: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	committed = true
	return nil
}

// Find returns the bookings matching f.  With ordered set the rows are
// sorted by start_at server-side; a sort failure yields
// ErrOrderingUnavailable.
func (r *BookingRepo) Find(ctx context.Context, f BookingFilter, ordered bool) ([]*model.BookingRecord, error) {
	var (
		where = []string{"booking_date = ?"}
		args  = []interface{}{f.Date}
	)
	if f.FacilityID != "" {
		where = append(where, "facility_id = ?")
		args = append(args, f.FacilityID)
	}
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE ` + strings.Join(where, " AND ")
	if ordered {
		// Legacy rows without an instant go last rather than first.
		q += ` ORDER BY start_at IS NULL, start_at ASC`
	}

	var rows []bookingRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, classify(err)
	}
	return records(rows), nil
}

// Get returns a single booking or ErrNotFound.
func (r *BookingRepo) Get(ctx context.Context, id string) (*model.BookingRecord, error) {
	var row bookingRow
	err := r.db.GetContext(ctx, &row, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return row.record(), nil
}

type bookingTx struct {
	tx *sqlx.Tx
}

func (t *bookingTx) ConfirmedOn(ctx context.Context, facilityID, date string) ([]*model.BookingRecord, error) {
	const q = `SELECT ` + bookingColumns + ` FROM bookings
               WHERE facility_id = ? AND booking_date = ? AND status = 'confirmed'
               FOR UPDATE`
	var rows []bookingRow
	if err := t.tx.SelectContext(ctx, &rows, q, facilityID, date); err != nil {
		return nil, classify(err)
	}
	return records(rows), nil
}

func (t *bookingTx) GetForUpdate(ctx context.Context, id string) (*model.BookingRecord, error) {
	var row bookingRow
	err := t.tx.GetContext(ctx, &row, `SELECT `+bookingColumns+` FROM bookings WHERE id = ? FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return row.record(), nil
}

func (t *bookingTx) Insert(ctx context.Context, rec *model.BookingRecord) error {
	const q = `INSERT INTO bookings (` + bookingColumns + `)
               VALUES (:id, :facility_id, :facility_name, :booking_date, :time_slot, :start_at, :end_at,
                       :status, :user_id, :user_email, :user_name, :waitlist, :created_at)`
	if _, err := t.tx.NamedExecContext(ctx, q, rowFrom(rec)); err != nil {
		return classify(err)
	}
	return nil
}

func (t *bookingTx) Update(ctx context.Context, rec *model.BookingRecord, from model.BookingStatus) error {
	const q = `UPDATE bookings SET status = ?, waitlist = ? WHERE id = ? AND status = ?`
	res, err := t.tx.ExecContext(ctx, q, string(rec.Status), rec.Waitlist, rec.ID, string(from))
	if err != nil {
		return classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err)
	}
	if n == 0 {
		return ErrStaleRecord
	}
	return nil
}
