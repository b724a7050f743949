// Package booking is the admission engine for amenity reservations.  It
// turns loosely-shaped create requests into canonical bookings, admits them
// under a store transaction so that confirmed bookings for one amenity
// never overlap, and implements cancellation, waitlist promotion and the
// per-day query.
//
// The engine keeps no shared in-process state.  All coordination between
// concurrent requests happens inside the Store's transactions.
package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/circlein/amenity-booking/internal/logger"
	"github.com/circlein/amenity-booking/internal/model"
	"github.com/circlein/amenity-booking/internal/queue"
	"github.com/circlein/amenity-booking/internal/repository"
	"github.com/circlein/amenity-booking/internal/timenorm"
)

// Store is the persistence capability the engine needs: a transaction
// primitive, a filtered query with optional server-side ordering and a
// point read.
type Store interface {
	RunInTx(ctx context.Context, fn func(repository.BookingTx) error) error
	Find(ctx context.Context, f repository.BookingFilter, ordered bool) ([]*model.BookingRecord, error)
	Get(ctx context.Context, id string) (*model.BookingRecord, error)
}

// AmenityLookup resolves display names for facilities.
type AmenityLookup interface {
	Get(ctx context.Context, id string) (*model.Amenity, error)
}

// RulesSource returns the persisted booking rules, or
// repository.ErrNotFound when none were stored.
type RulesSource interface {
	Get(ctx context.Context) (model.BookingRules, error)
}

// EventPublisher receives an event after each committed transition.
type EventPublisher interface {
	PublishBookingEvent(ctx context.Context, ev queue.BookingEvent) error
}

// Identity is the caller as established by the identity provider.
type Identity struct {
	UserID string
	Role   string
	Email  string
	Name   string
}

// IsAdmin reports whether the caller holds the admin role.
func (i Identity) IsAdmin() bool { return i.Role == model.RoleAdmin }

// ConflictMode selects how admission decides that a slot is taken.
type ConflictMode string

const (
	// ConflictOverlap rejects any confirmed booking whose interval
	// intersects the requested one.
	ConflictOverlap ConflictMode = "overlap"
	// ConflictExact only rejects identical (facility, date, timeSlot)
	// triples.
	ConflictExact ConflictMode = "exact"
)

// Options configures an Engine.  Zero values pick sensible defaults.
type Options struct {
	Location     *time.Location
	ConflictMode ConflictMode
	Waitlist     bool
	MaxAttempts  int
	RetryBase    time.Duration
	DefaultRules model.BookingRules
	Now          func() time.Time
	NewID        func() string
}

// Engine wires the coercer, validator, admission controller, cancellation
// authority and query service around one store.
type Engine struct {
	amenities AmenityLookup
	rules     RulesSource
	events    EventPublisher

	norm         timenorm.Normalizer
	policy       *PolicyValidator
	admission    *AdmissionController
	cancellation *CancellationAuthority
	query        *QueryService

	defaults model.BookingRules
	now      func() time.Time
}

// Deps are the optional collaborators of an Engine.  Only Store is
// required.
type Deps struct {
	Store     Store
	Amenities AmenityLookup
	Rules     RulesSource
	Events    EventPublisher
}

// New builds an Engine.
func New(deps Deps, opts Options) *Engine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.ConflictMode == "" {
		opts.ConflictMode = ConflictOverlap
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.DefaultRules == (model.BookingRules{}) {
		opts.DefaultRules = model.DefaultBookingRules()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	norm := timenorm.New(opts.Location)
	retry := retryPolicy{attempts: opts.MaxAttempts, base: opts.RetryBase}
	query := &QueryService{store: deps.Store, loc: opts.Location, retry: retry}

	return &Engine{
		amenities: deps.Amenities,
		rules:     deps.Rules,
		events:    deps.Events,
		norm:      norm,
		policy:    NewPolicyValidator(norm),
		admission: &AdmissionController{
			store:    deps.Store,
			mode:     opts.ConflictMode,
			waitlist: opts.Waitlist,
			retry:    retry,
			now:      opts.Now,
			newID:    opts.NewID,
		},
		cancellation: &CancellationAuthority{
			store:    deps.Store,
			query:    query,
			loc:      opts.Location,
			waitlist: opts.Waitlist,
			retry:    retry,
		},
		query:    query,
		defaults: opts.DefaultRules,
		now:      opts.Now,
	}
}

// Normalizer exposes the engine's time normalizer.
func (e *Engine) Normalizer() timenorm.Normalizer { return e.norm }

// Rules returns the stored rules, falling back to the configured defaults
// when none are stored or the rules source is unavailable.
func (e *Engine) Rules(ctx context.Context) model.BookingRules {
	if e.rules == nil {
		return e.defaults
	}
	rules, err := e.rules.Get(ctx)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.FromContext(ctx).Warn().Err(err).Msg("booking rules unavailable, using defaults")
		}
		return e.defaults
	}
	return rules
}

// Create coerces p, validates it against the current rules and admits it.
func (e *Engine) Create(ctx context.Context, who Identity, p *Payload) (*Admission, error) {
	if who.UserID == "" {
		return nil, ErrUnauthorized
	}
	req := Coerce(p, e.norm)
	now := e.now()

	v, err := e.policy.Validate(req, e.Rules(ctx), now)
	if err != nil {
		logger.FromContext(ctx).Debug().Err(err).Str("facility", req.FacilityID).Msg("booking request rejected")
		return nil, err
	}
	if v.FacilityName == "" && e.amenities != nil {
		if a, err := e.amenities.Get(ctx, v.FacilityID); err == nil {
			v.FacilityName = a.Name
		}
	}

	adm, err := e.admission.Admit(ctx, v, who)
	if err != nil {
		return nil, err
	}

	typ := queue.EventBookingConfirmed
	if adm.Waitlisted {
		typ = queue.EventBookingWaitlisted
	}
	e.publish(ctx, typ, adm.Booking, who.UserID)
	return adm, nil
}

// Find answers the per-day query.
func (e *Engine) Find(ctx context.Context, who Identity, q Query) ([]*model.BookingRecord, error) {
	return e.query.Find(ctx, who, q)
}

// Get returns one booking visible to who.
func (e *Engine) Get(ctx context.Context, who Identity, id string) (*model.BookingRecord, error) {
	return e.query.Get(ctx, who, id)
}

// Cancel cancels a booking on behalf of who, promoting the next waiting
// caller when the waitlist is enabled.
func (e *Engine) Cancel(ctx context.Context, who Identity, id string) (*Cancellation, error) {
	res, err := e.cancellation.Cancel(ctx, who, id, e.Rules(ctx), e.now())
	if err != nil {
		return nil, err
	}
	e.publish(ctx, queue.EventBookingCancelled, res.Booking, who.UserID)
	if res.Promoted != nil {
		e.publish(ctx, queue.EventBookingPromoted, res.Promoted, who.UserID)
	}
	return res, nil
}

// publish never fails the request: the transition is already committed.
func (e *Engine) publish(ctx context.Context, typ string, rec *model.BookingRecord, actor string) {
	if e.events == nil || rec == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := e.events.PublishBookingEvent(pctx, queue.NewBookingEvent(typ, rec, actor, e.now())); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("event", typ).Str("booking_id", rec.ID).Msg("publish booking event failed")
	}
}
