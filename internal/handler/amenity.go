package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/circlein/amenity-booking/internal/model"
)

// AmenityCatalog lists and seeds amenities.
type AmenityCatalog interface {
	ListActive(ctx context.Context) ([]model.Amenity, error)
	Seed(ctx context.Context, items []model.Amenity) (int, error)
}

// AmenityHandler serves the public amenity catalog.
type AmenityHandler struct {
	Catalog AmenityCatalog
}

func NewAmenityHandler(catalog AmenityCatalog) *AmenityHandler {
	if catalog == nil {
		panic("nil catalog passed to NewAmenityHandler")
	}
	return &AmenityHandler{Catalog: catalog}
}

// List handles GET /v1/amenities.
func (h *AmenityHandler) List(c echo.Context) error {
	items, err := h.Catalog.ListActive(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	if items == nil {
		items = []model.Amenity{}
	}
	return ok(c, http.StatusOK, items)
}
