package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/circlein/amenity-booking/internal/logger"
	"github.com/circlein/amenity-booking/internal/middleware"
	"github.com/circlein/amenity-booking/internal/model"
)

// RulesSeeder stores the booking rules singleton if absent.
type RulesSeeder interface {
	Seed(ctx context.Context, rules model.BookingRules) (bool, error)
}

// CacheInvalidator drops cached catalog responses.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// AdminHandler runs the one-off initialization of the catalog and rules.
type AdminHandler struct {
	Catalog AmenityCatalog
	Rules   RulesSeeder
	Cache   CacheInvalidator
	Default model.BookingRules
}

func NewAdminHandler(catalog AmenityCatalog, rules RulesSeeder, cache CacheInvalidator, defaults model.BookingRules) *AdminHandler {
	if catalog == nil || rules == nil {
		panic("nil repository passed to NewAdminHandler")
	}
	return &AdminHandler{Catalog: catalog, Rules: rules, Cache: cache, Default: defaults}
}

// Init handles POST /v1/admin/init.  Seeding is idempotent: existing
// amenities and rules are left untouched and reported as not created.
func (h *AdminHandler) Init(c echo.Context) error {
	ctx := c.Request().Context()

	created, err := h.Catalog.Seed(ctx, model.DefaultAmenities())
	if err != nil {
		return fail(c, err)
	}
	rulesCreated, err := h.Rules.Seed(ctx, h.Default)
	if err != nil {
		return fail(c, err)
	}
	if h.Cache != nil && created > 0 {
		if err := h.Cache.Invalidate(ctx); err != nil {
			logger.FromContext(ctx).Warn().Err(err).Msg("amenity cache invalidation failed")
		}
	}

	logger.FromContext(ctx).Info().
		Str("actor_id", middleware.CallerIdentity(c).UserID).
		Int("amenities_created", created).
		Bool("rules_created", rulesCreated).
		Msg("initialization complete")
	return ok(c, http.StatusOK, echo.Map{
		"amenitiesCreated": created,
		"rulesCreated":     rulesCreated,
		"rules":            h.Default,
	})
}
