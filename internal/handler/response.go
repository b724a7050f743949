package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/circlein/amenity-booking/internal/booking"
	"github.com/circlein/amenity-booking/internal/logger"
)

// retryAfterSeconds is advertised on TransientStoreFailure responses.
const retryAfterSeconds = "1"

// errorBody is the "error" member of a failure envelope.
type errorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

func ok(c echo.Context, status int, data any) error {
	return c.JSON(status, echo.Map{"success": true, "data": data})
}

// fail writes err as a failure envelope.  Untagged errors are reported as
// transient so that clients never see driver messages.
func fail(c echo.Context, err error) error {
	be := booking.AsError(err)
	status := statusFor(be)
	if status >= http.StatusInternalServerError {
		c.Response().Header().Set("Retry-After", retryAfterSeconds)
		logger.FromContext(c.Request().Context()).Error().Err(err).Str("code", be.Code).Msg("request failed")
	}
	return c.JSON(status, echo.Map{
		"success": false,
		"error":   errorBody{Code: be.Code, Message: be.Message, Fields: be.Fields},
	})
}

func statusFor(be *booking.Error) int {
	switch be.Code {
	case booking.ErrUnauthorized.Code:
		return http.StatusUnauthorized
	case booking.ErrForbidden.Code:
		return http.StatusForbidden
	case booking.ErrNotFound.Code:
		return http.StatusNotFound
	}
	switch be.Kind {
	case booking.KindInput:
		return http.StatusBadRequest
	case booking.KindConflict:
		return http.StatusConflict
	case booking.KindAuth:
		return http.StatusForbidden
	default:
		return http.StatusServiceUnavailable
	}
}
