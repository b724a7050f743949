package middleware

// identity.go turns the values JWTAuth stored in the Echo context back into
// the caller identity the booking engine consumes.

import (
	"github.com/labstack/echo/v4"

	"github.com/circlein/amenity-booking/internal/booking"
)

// CallerIdentity returns the authenticated caller.  The zero Identity
// (empty UserID) means the request is anonymous.
func CallerIdentity(c echo.Context) booking.Identity {
	get := func(key string) string {
		s, _ := c.Get(key).(string)
		return s
	}
	return booking.Identity{
		UserID: get(ctxUserID),
		Role:   get(ctxRole),
		Email:  get(ctxEmail),
		Name:   get(ctxName),
	}
}

// currentUserID keys per-user limits.  Anonymous callers share one bucket
// per IP through the ip strategies.
func currentUserID(c echo.Context) string {
	if id := CallerIdentity(c).UserID; id != "" {
		return id
	}
	return "anon"
}
