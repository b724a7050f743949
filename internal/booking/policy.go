package booking

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/circlein/amenity-booking/internal/model"
	"github.com/circlein/amenity-booking/internal/timenorm"
)

const dateLayout = "2006-01-02"

var slotPattern = regexp.MustCompile(`^(.+?)\s*-\s*(.+)$`)

var validate *validator.Validate

func init() {
	validate = validator.New()
	// Report json names so missing fields read the way clients sent them.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// missingFields returns the json names of every required field that is
// empty, in struct order.
func missingFields(s any) []string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			fields = append(fields, fe.Field())
		}
	}
	return fields
}

// TimeRange is a same-day window in minutes since local midnight.
type TimeRange struct {
	StartMinute int `json:"startMinute"`
	EndMinute   int `json:"endMinute"`
}

// Minutes returns the length of the range.
func (r TimeRange) Minutes() int { return r.EndMinute - r.StartMinute }

// Validated is a request that passed every policy check and is ready for
// admission.  TimeSlot is the canonical 24-hour form of the submitted slot.
type Validated struct {
	FacilityID   string
	FacilityName string
	Date         string
	TimeSlot     string
	Range        TimeRange
	StartAt      time.Time
	EndAt        time.Time
}

// PolicyValidator enforces completeness, the advance-booking window and the
// duration policy.  It never touches the store.
type PolicyValidator struct {
	norm timenorm.Normalizer
}

// NewPolicyValidator returns a validator reading dates in n's location.
func NewPolicyValidator(n timenorm.Normalizer) *PolicyValidator {
	return &PolicyValidator{norm: n}
}

// Validate runs the checks in order; the first failing check wins, except
// that all missing fields are reported together.
func (v *PolicyValidator) Validate(req Request, rules model.BookingRules, now time.Time) (Validated, error) {
	if missing := missingFields(req); len(missing) > 0 {
		e := withFields(ErrMissingFields, missing...)
		e.Message = "Missing required fields: " + strings.Join(missing, ", ")
		return Validated{}, e
	}

	loc := v.norm.Location()
	day, err := time.ParseInLocation(dateLayout, req.Date, loc)
	if err != nil {
		return Validated{}, withFields(ErrInvalidDate, "date")
	}

	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	last := today.AddDate(0, 0, rules.MaxAdvanceBookingDays)
	if day.Before(today) || day.After(last) {
		e := withFields(ErrDateOutOfWindow, "date")
		e.Message = fmt.Sprintf("Date must be within %d days", rules.MaxAdvanceBookingDays)
		return Validated{}, e
	}

	m := slotPattern.FindStringSubmatch(strings.TrimSpace(req.TimeSlot))
	if m == nil {
		return Validated{}, withFields(ErrInvalidTimeRange, "timeSlot")
	}
	from, err := timenorm.ParseClock(m[1])
	if err != nil {
		return Validated{}, withFields(ErrInvalidTimeRange, "timeSlot")
	}
	to, err := timenorm.ParseClock(m[2])
	if err != nil {
		return Validated{}, withFields(ErrInvalidTimeRange, "timeSlot")
	}

	// Slots never cross midnight: both ends live on the requested date.
	startAt := time.Date(day.Year(), day.Month(), day.Day(), from.Hour, from.Minute, 0, 0, loc)
	endAt := time.Date(day.Year(), day.Month(), day.Day(), to.Hour, to.Minute, 0, 0, loc)
	if !endAt.After(startAt) {
		return Validated{}, withFields(ErrInvalidTimeRange, "timeSlot")
	}

	minutes := int(endAt.Sub(startAt) / time.Minute)
	if minutes < rules.MinBookingDuration || minutes > rules.MaxBookingDuration {
		e := withFields(ErrDurationPolicy, "timeSlot")
		e.Message = fmt.Sprintf("Booking must last between %d and %d minutes", rules.MinBookingDuration, rules.MaxBookingDuration)
		return Validated{}, e
	}

	return Validated{
		FacilityID:   req.FacilityID,
		FacilityName: req.FacilityName,
		Date:         day.Format(dateLayout),
		TimeSlot:     from.String() + " - " + to.String(),
		Range:        TimeRange{StartMinute: from.MinuteOfDay(), EndMinute: to.MinuteOfDay()},
		StartAt:      startAt,
		EndAt:        endAt,
	}, nil
}
