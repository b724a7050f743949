package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/circlein/amenity-booking/internal/handler"
	"github.com/circlein/amenity-booking/internal/middleware"
	"github.com/circlein/amenity-booking/internal/model"
)

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterBookings mounts the booking endpoints under /v1/bookings.  Every
// route requires a valid access token; writes additionally pass through
// the rate limiter (a pass-through when Redis is unavailable).
func RegisterBookings(e *echo.Echo, h *handler.BookingHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1/bookings", middleware.JWTAuth(jwtSecret))

	g.GET("", h.List)
	g.GET("/:id", h.Get)

	g.POST("", h.Create, limiter)
	g.POST("/cancel", h.Cancel, limiter)
	g.DELETE("/:id", h.Delete, limiter)
}

// RegisterCatalog mounts the public amenity catalog and the admin-only
// initialization endpoint.
func RegisterCatalog(e *echo.Echo, a *handler.AmenityHandler, adm *handler.AdminHandler, jwtSecret string, cache *middleware.ResponseCache) {
	e.GET("/v1/amenities", a.List, cache.Middleware())

	admin := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin),
	)
	admin.POST("/init", adm.Init)
}
