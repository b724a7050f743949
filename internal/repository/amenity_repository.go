package repository

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/circlein/amenity-booking/internal/model"
)

// AmenityRepo reads and seeds the amenity catalog in MySQL.
type AmenityRepo struct {
	db *sqlx.DB
}

// NewAmenityRepo returns a new AmenityRepo bound to the given database.
func NewAmenityRepo(db *sqlx.DB) *AmenityRepo { return &AmenityRepo{db: db} }

// ListActive returns active amenities ordered by name.
func (r *AmenityRepo) ListActive(ctx context.Context) ([]model.Amenity, error) {
	const q = `SELECT id, name, description, max_capacity, is_active FROM amenities WHERE is_active = 1 ORDER BY name`
	out := []model.Amenity{}
	if err := r.db.SelectContext(ctx, &out, q); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// Get returns one amenity or ErrNotFound.
func (r *AmenityRepo) Get(ctx context.Context, id string) (*model.Amenity, error) {
	const q = `SELECT id, name, description, max_capacity, is_active FROM amenities WHERE id = ?`
	var a model.Amenity
	err := r.db.GetContext(ctx, &a, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return &a, nil
}

// Seed inserts the given amenities, leaving existing ids untouched.  It
// returns how many rows were created.
func (r *AmenityRepo) Seed(ctx context.Context, items []model.Amenity) (int, error) {
	const q = `INSERT IGNORE INTO amenities (id, name, description, max_capacity, is_active)
               VALUES (:id, :name, :description, :max_capacity, :is_active)`
	created := 0
	for _, a := range items {
		res, err := r.db.NamedExecContext(ctx, q, a)
		if err != nil {
			return created, classify(err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created++
		}
	}
	return created, nil
}

// MemoryAmenityRepo is the in-memory catalog.
type MemoryAmenityRepo struct {
	mu    sync.RWMutex
	items map[string]model.Amenity
}

// NewMemoryAmenityRepo returns an empty catalog.
func NewMemoryAmenityRepo() *MemoryAmenityRepo {
	return &MemoryAmenityRepo{items: make(map[string]model.Amenity)}
}

func (r *MemoryAmenityRepo) ListActive(ctx context.Context) ([]model.Amenity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []model.Amenity{}
	for _, a := range r.items {
		if a.IsActive {
			out = append(out, a)
		}
	}
	sortAmenities(out)
	return out, nil
}

func (r *MemoryAmenityRepo) Get(ctx context.Context, id string) (*model.Amenity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (r *MemoryAmenityRepo) Seed(ctx context.Context, items []model.Amenity) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	created := 0
	for _, a := range items {
		if _, ok := r.items[a.ID]; ok {
			continue
		}
		r.items[a.ID] = a
		created++
	}
	return created, nil
}

func sortAmenities(items []model.Amenity) {
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
}
