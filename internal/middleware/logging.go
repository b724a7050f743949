package middleware

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/circlein/amenity-booking/internal/logger"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// RequestLogger attaches a request-scoped zerolog logger to the request
// context and writes one line per request once the handler returns.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			reqID := req.Header.Get(HeaderRequestID)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			c.Response().Header().Set(HeaderRequestID, reqID)

			l := log.With().Str("request_id", reqID).Logger()
			c.SetRequest(req.WithContext(logger.WithContext(req.Context(), &l)))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			ev := l.Info()
			switch {
			case status >= 500:
				ev = l.Error().Err(err)
			case status >= 400:
				ev = l.Warn()
			}
			ev.Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Str("user_id", CallerIdentity(c).UserID).
				Msg("request")
			return nil
		}
	}
}
