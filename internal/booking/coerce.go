package booking

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/circlein/amenity-booking/internal/timenorm"
)

// Accepted field-name synonyms per logical field, in priority order.
var (
	facilityKeys     = []string{"facility", "facilityId", "amenityId", "room", "resource", "id"}
	facilityNameKeys = []string{"facilityName", "amenityName", "facilityLabel", "name", "title"}
	dateKeys         = []string{"date", "bookingDate", "selectedDate"}
	timeSlotKeys     = []string{"timeSlot", "slot", "selectedSlot"}
	startKeys        = []string{"startTime", "start", "startISO"}
	endKeys          = []string{"endTime", "end", "endISO"}
)

// Request is the canonical create request.  Absent fields are empty
// strings, never nil, so validation only has to test for emptiness.
type Request struct {
	FacilityID   string `json:"facilityId" validate:"required"`
	FacilityName string `json:"facilityName"`
	Date         string `json:"date" validate:"required"`
	TimeSlot     string `json:"timeSlot" validate:"required"`
}

// Payload is a decoded request body that remembers the insertion order of
// its keys.  Values are string, json.Number, bool, nil, []any or *Payload.
type Payload struct {
	fields []payloadField
}

type payloadField struct {
	key   string
	value any
}

// Get returns the value stored under key.
func (p *Payload) Get(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	for _, f := range p.fields {
		if f.key == key {
			return f.value, true
		}
	}
	return nil, false
}

// Set stores v under key.  Re-setting a key keeps its original position.
func (p *Payload) Set(key string, v any) {
	for i := range p.fields {
		if p.fields[i].key == key {
			p.fields[i].value = v
			return
		}
	}
	p.fields = append(p.fields, payloadField{key: key, value: v})
}

// Len returns the number of top-level keys.
func (p *Payload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.fields)
}

// Map flattens the payload into a plain map; nested payloads become nested
// maps.  Used when a nested object is itself a time value.
func (p *Payload) Map() map[string]any {
	m := make(map[string]any, p.Len())
	if p == nil {
		return m
	}
	for _, f := range p.fields {
		if sub, ok := f.value.(*Payload); ok {
			m[f.key] = sub.Map()
			continue
		}
		m[f.key] = f.value
	}
	return m
}

// DecodeJSON reads a JSON object preserving key order.  Numbers are kept
// as json.Number.  A body that is not a JSON object is an error.
func DecodeJSON(r io.Reader) (*Payload, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("payload: expected JSON object, got %v", tok)
	}
	return decodeObject(dec)
}

// DecodeJSONBytes is DecodeJSON over an in-memory body.
func DecodeJSONBytes(b []byte) (*Payload, error) {
	return DecodeJSON(bytes.NewReader(b))
}

func decodeObject(dec *json.Decoder) (*Payload, error) {
	p := &Payload{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("payload: unexpected key %v", tok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		p.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch d {
	case '{':
		return decodeObject(dec)
	case '[':
		arr := []any{}
		for dec.More() {
			v, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	}
	return nil, fmt.Errorf("payload: unexpected delimiter %v", d)
}

// FromValues builds a flat payload from form values, taking the first
// value of each key.  Keys are sorted because url.Values carries no order;
// a flat payload is never searched by position.
func FromValues(v url.Values) *Payload {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	p := &Payload{}
	for _, k := range keys {
		if len(v[k]) > 0 {
			p.Set(k, v[k][0])
		}
	}
	return p
}

// scalarString renders a scalar payload value.  Empty strings, nil and
// objects do not count as a match.
func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

// firstString resolves the first synonym present at the top level, then
// searches nested objects one level deep in insertion order.
func firstString(p *Payload, keys []string) string {
	if p == nil {
		return ""
	}
	for _, k := range keys {
		if v, ok := p.Get(k); ok {
			if s, ok := scalarString(v); ok {
				return s
			}
		}
	}
	for _, f := range p.fields {
		sub, ok := f.value.(*Payload)
		if !ok {
			continue
		}
		for _, k := range keys {
			if v, ok := sub.Get(k); ok {
				if s, ok := scalarString(v); ok {
					return s
				}
			}
		}
	}
	return ""
}

// FirstString resolves keys with the same rules Coerce uses for every
// string field: synonym order at the top level, then one nested level,
// with scalars such as numbers rendered as text.
func (p *Payload) FirstString(keys ...string) string {
	return firstString(p, keys)
}

// firstTimeValue is firstString for start/end instants.  It also accepts
// numbers and {seconds, nanoseconds} objects at the top level so the
// normalizer sees the value in its native shape.
func firstTimeValue(p *Payload, keys []string) any {
	if p == nil {
		return nil
	}
	for _, k := range keys {
		v, ok := p.Get(k)
		if !ok {
			continue
		}
		switch t := v.(type) {
		case *Payload:
			return t.Map()
		case json.Number:
			return t
		}
		if s, ok := scalarString(v); ok {
			return s
		}
	}
	if s := firstString(p, keys); s != "" {
		return s
	}
	return nil
}

// Coerce extracts a Request from p.  It never fails: unusable input yields
// a Request with empty fields that validation rejects.  When date or
// timeSlot is absent but start/end instants are present, they are derived
// in the normalizer's reference location.
func Coerce(p *Payload, n timenorm.Normalizer) Request {
	req := Request{
		FacilityID:   firstString(p, facilityKeys),
		FacilityName: firstString(p, facilityNameKeys),
		Date:         firstString(p, dateKeys),
		TimeSlot:     firstString(p, timeSlotKeys),
	}
	if req.Date != "" && req.TimeSlot != "" {
		return req
	}

	start := firstTimeValue(p, startKeys)
	if start == nil {
		return req
	}
	if req.Date == "" {
		if t, err := n.Instant(start); err == nil {
			req.Date = t.In(n.Location()).Format(dateLayout)
		}
	}
	if req.TimeSlot == "" {
		end := firstTimeValue(p, endKeys)
		if end == nil {
			return req
		}
		from, err1 := n.Clock(start)
		to, err2 := n.Clock(end)
		if err1 == nil && err2 == nil {
			req.TimeSlot = from + " - " + to
		}
	}
	return req
}
