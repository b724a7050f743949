// Package timenorm converts the assorted time representations that reach
// the booking API (ISO-8601 strings, 12h/24h clock strings, store-native
// timestamp values, epoch milliseconds and {seconds, nanoseconds} objects)
// into a canonical 24-hour "HH:MM" clock or an absolute instant.
//
// Everything here is pure; the only input besides the value is the
// reference location used to read wall-clock fields.
package timenorm

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnparsable is returned (wrapped) for any value that cannot be read.
var ErrUnparsable = errors.New("unparsable time value")

var clockPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?:\s*([AaPp][Mm]))?$`)

// Clock is a wall-clock time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

// String renders the canonical 24-hour form.
func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// MinuteOfDay returns the number of minutes since midnight.
func (c Clock) MinuteOfDay() int { return c.Hour*60 + c.Minute }

// ParseClock reads "H:MM" or "HH:MM", optionally followed by AM/PM.
// 12 AM becomes 00, PM adds twelve to hours below 12.  Hours outside 0-23
// or minutes outside 0-59 after conversion are rejected.
func ParseClock(s string) (Clock, error) {
	m := clockPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Clock{}, fmt.Errorf("%w: %q", ErrUnparsable, s)
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	switch strings.ToUpper(m[3]) {
	case "PM":
		if h < 12 {
			h += 12
		}
	case "AM":
		if h == 12 {
			h = 0
		}
	}
	if h < 0 || h > 23 || min < 0 || min > 59 {
		return Clock{}, fmt.Errorf("%w: %q out of range", ErrUnparsable, s)
	}
	return Clock{Hour: h, Minute: min}, nil
}

// Timestamper is implemented by store-native timestamp types that know how
// to convert themselves to an instant (protobuf-style AsTime).
type Timestamper interface {
	AsTime() time.Time
}

// Timestamp is the serialized {seconds, nanoseconds} shape document stores
// emit for their native timestamp type.
type Timestamp struct {
	Seconds     int64 `json:"seconds"`
	Nanoseconds int64 `json:"nanoseconds"`
}

// AsTime implements Timestamper.
func (t Timestamp) AsTime() time.Time { return time.Unix(t.Seconds, t.Nanoseconds).UTC() }

// Normalizer reads time values relative to a reference location.
type Normalizer struct {
	loc *time.Location
}

// New returns a Normalizer for loc; nil means UTC.
func New(loc *time.Location) Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return Normalizer{loc: loc}
}

// Location returns the reference location.
func (n Normalizer) Location() *time.Location {
	if n.loc == nil {
		return time.UTC
	}
	return n.loc
}

// Clock returns the canonical "HH:MM" for v.  Clock strings are converted
// directly; every other accepted shape is first resolved to an instant and
// then read in the reference location.
func (n Normalizer) Clock(v any) (string, error) {
	if s, ok := v.(string); ok && clockPattern.MatchString(strings.TrimSpace(s)) {
		c, err := ParseClock(s)
		if err != nil {
			return "", err
		}
		return c.String(), nil
	}
	t, err := n.Instant(v)
	if err != nil {
		return "", err
	}
	t = t.In(n.Location())
	return Clock{Hour: t.Hour(), Minute: t.Minute()}.String(), nil
}

// Instant resolves v to an absolute time.
func (n Normalizer) Instant(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, fmt.Errorf("%w: nil", ErrUnparsable)
	case time.Time:
		if t.IsZero() {
			return time.Time{}, fmt.Errorf("%w: zero time", ErrUnparsable)
		}
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("%w: nil", ErrUnparsable)
		}
		return n.Instant(*t)
	case Timestamper:
		return t.AsTime(), nil
	case string:
		return n.parseISO(t)
	case json.Number:
		ms, err := t.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrUnparsable, t.String())
		}
		return fromEpochMillis(ms)
	case float64:
		return fromEpochMillis(t)
	case float32:
		return fromEpochMillis(float64(t))
	case int:
		return time.UnixMilli(int64(t)).UTC(), nil
	case int64:
		return time.UnixMilli(t).UTC(), nil
	case map[string]any:
		return fromSecondsObject(t)
	}
	return time.Time{}, fmt.Errorf("%w: unsupported type %T", ErrUnparsable, v)
}

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseISO accepts RFC 3339 with or without offset.  Strings without an
// offset are wall-clock times in the reference location.
func (n Normalizer) parseISO(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty string", ErrUnparsable)
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, n.Location()); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparsable, s)
}

func fromEpochMillis(ms float64) (time.Time, error) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return time.Time{}, fmt.Errorf("%w: non-finite epoch", ErrUnparsable)
	}
	sec := math.Floor(ms / 1000)
	nsec := (ms - sec*1000) * 1e6
	return time.Unix(int64(sec), int64(nsec)).UTC(), nil
}

// fromSecondsObject reads {seconds, nanoseconds}; the underscore-prefixed
// keys some SDKs serialize are accepted too.
func fromSecondsObject(m map[string]any) (time.Time, error) {
	sec, okS := numberField(m, "seconds", "_seconds")
	nsec, okN := numberField(m, "nanoseconds", "_nanoseconds")
	if !okS || !okN {
		return time.Time{}, fmt.Errorf("%w: object without seconds/nanoseconds", ErrUnparsable)
	}
	return time.Unix(sec, nsec).UTC(), nil
}

func numberField(m map[string]any, keys ...string) (int64, bool) {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return int64(v), true
		case int64:
			return v, true
		case int:
			return int64(v), true
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n, true
			}
			if f, err := v.Float64(); err == nil {
				return int64(f), true
			}
		}
	}
	return 0, false
}
