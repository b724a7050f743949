package handler

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/circlein/amenity-booking/internal/booking"
	"github.com/circlein/amenity-booking/internal/logger"
	"github.com/circlein/amenity-booking/internal/middleware"
)

// maxBodyBytes bounds create and cancel bodies.
const maxBodyBytes = 64 << 10

// BookingHandler exposes the admission engine over HTTP.  All methods
// assume JWTAuth already ran; the engine itself rejects anonymous callers.
type BookingHandler struct {
	Engine *booking.Engine
}

// NewBookingHandler panics on a nil engine.
func NewBookingHandler(engine *booking.Engine) *BookingHandler {
	if engine == nil {
		panic("nil engine passed to NewBookingHandler")
	}
	return &BookingHandler{Engine: engine}
}

// Create handles POST /v1/bookings.  The body may be JSON or a form; any
// field naming the coercer understands is accepted.  A confirmed booking
// answers 201, a waitlisted one 202.
func (h *BookingHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()
	p := readPayload(c)

	adm, err := h.Engine.Create(ctx, middleware.CallerIdentity(c), p)
	if err != nil {
		return fail(c, err)
	}
	status := http.StatusCreated
	if adm.Waitlisted {
		status = http.StatusAccepted
	}
	return ok(c, status, adm)
}

// List handles GET /v1/bookings?date=&facility=&mine=.  mine defaults to
// true; "0" or "false" lists every caller's bookings for the day.
func (h *BookingHandler) List(c echo.Context) error {
	q := booking.Query{
		Date:       strings.TrimSpace(c.QueryParam("date")),
		FacilityID: strings.TrimSpace(c.QueryParam("facility")),
		MineOnly:   true,
	}
	if q.FacilityID == "" {
		q.FacilityID = strings.TrimSpace(c.QueryParam("facilityId"))
	}
	switch strings.ToLower(strings.TrimSpace(c.QueryParam("mine"))) {
	case "0", "false", "no":
		q.MineOnly = false
	}

	recs, err := h.Engine.Find(c.Request().Context(), middleware.CallerIdentity(c), q)
	if err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusOK, recs)
}

// Get handles GET /v1/bookings/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	rec, err := h.Engine.Get(c.Request().Context(), middleware.CallerIdentity(c), c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	return ok(c, http.StatusOK, rec)
}

// Cancel handles POST /v1/bookings/cancel with a {"bookingId": ...} body.
// The id may also arrive under "id", as a number or as a form field.
func (h *BookingHandler) Cancel(c echo.Context) error {
	id := readPayload(c).FirstString("bookingId", "booking_id", "id")
	return h.cancel(c, id)
}

// Delete handles DELETE /v1/bookings/:id.  It is the same transition as
// Cancel.
func (h *BookingHandler) Delete(c echo.Context) error {
	return h.cancel(c, strings.TrimSpace(c.Param("id")))
}

func (h *BookingHandler) cancel(c echo.Context, id string) error {
	res, err := h.Engine.Cancel(c.Request().Context(), middleware.CallerIdentity(c), id)
	if err != nil {
		return fail(c, err)
	}
	msg := "Booking cancelled"
	if res.Promoted != nil {
		msg = "Booking cancelled; the next waitlisted booking was confirmed"
	}
	return ok(c, http.StatusOK, echo.Map{
		"message":  msg,
		"booking":  res.Booking,
		"promoted": res.Promoted,
	})
}

// readPayload turns the request body into an ordered payload.  A body that
// cannot be parsed yields an empty payload, which the validator then
// reports field by field.
func readPayload(c echo.Context) *booking.Payload {
	req := c.Request()
	ctype := strings.ToLower(req.Header.Get(echo.HeaderContentType))

	if strings.HasPrefix(ctype, echo.MIMEApplicationForm) || strings.HasPrefix(ctype, echo.MIMEMultipartForm) {
		form, err := c.FormParams()
		if err != nil {
			logger.FromContext(req.Context()).Debug().Err(err).Msg("unreadable form body")
			return &booking.Payload{}
		}
		return booking.FromValues(form)
	}

	if req.Body == nil {
		return &booking.Payload{}
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		return &booking.Payload{}
	}
	p, err := booking.DecodeJSONBytes(body)
	if err != nil {
		logger.FromContext(req.Context()).Debug().Err(err).Msg("unreadable json body")
		return &booking.Payload{}
	}
	return p
}
