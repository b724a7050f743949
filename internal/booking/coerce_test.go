package booking

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circlein/amenity-booking/internal/timenorm"
)

func decode(t *testing.T, body string) *Payload {
	t.Helper()
	p, err := DecodeJSON(strings.NewReader(body))
	require.NoError(t, err)
	return p
}

func TestCoerceDerivesDateAndSlotFromInstants(t *testing.T) {
	p := decode(t, `{"amenityId":"pool-1","startTime":"2024-01-10T09:00:00Z","endTime":"2024-01-10T10:00:00Z"}`)

	got := Coerce(p, timenorm.New(time.UTC))

	assert.Equal(t, Request{FacilityID: "pool-1", Date: "2024-01-10", TimeSlot: "09:00 - 10:00"}, got)
}

func TestCoerceUsesReferenceLocationForDerivedFields(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	p := decode(t, `{"facility":"gym","start":"2024-01-10T20:00:00Z","end":"2024-01-10T21:00:00Z"}`)

	got := Coerce(p, timenorm.New(loc))

	assert.Equal(t, "2024-01-11", got.Date)
	assert.Equal(t, "01:30 - 02:30", got.TimeSlot)
}

func TestCoerceAcceptsEpochMillisAndTimestampObjects(t *testing.T) {
	p := decode(t, `{"facility":"gym","start":1704877200000,"end":{"seconds":1704880800,"nanoseconds":0}}`)

	got := Coerce(p, timenorm.New(time.UTC))

	assert.Equal(t, "2024-01-10", got.Date)
	assert.Equal(t, "09:00 - 10:00", got.TimeSlot)
}

func TestCoerceSynonymPriorityBeatsInsertionOrder(t *testing.T) {
	p := decode(t, `{"id":"generic","facility":"court-2","title":"Court","facilityName":"Tennis Court"}`)

	got := Coerce(p, timenorm.New(time.UTC))

	assert.Equal(t, "court-2", got.FacilityID)
	assert.Equal(t, "Tennis Court", got.FacilityName)
}

func TestCoerceSearchesOneNestedLevelInInsertionOrder(t *testing.T) {
	p := decode(t, `{
		"booking": {"facilityId": "gym", "date": "2024-01-12"},
		"meta": {"facilityId": "other", "slot": "9:00 AM - 10:30 AM"},
		"deep": {"inner": {"timeSlot": "never"}}
	}`)

	got := Coerce(p, timenorm.New(time.UTC))

	assert.Equal(t, "gym", got.FacilityID)
	assert.Equal(t, "2024-01-12", got.Date)
	assert.Equal(t, "9:00 AM - 10:30 AM", got.TimeSlot)
}

func TestCoerceStringifiesScalars(t *testing.T) {
	p := decode(t, `{"facilityId":42,"date":"  2024-01-12 ","timeSlot":"10:00 - 11:00","name":true}`)

	got := Coerce(p, timenorm.New(time.UTC))

	assert.Equal(t, "42", got.FacilityID)
	assert.Equal(t, "2024-01-12", got.Date)
	assert.Equal(t, "true", got.FacilityName)
}

func TestCoerceFormValues(t *testing.T) {
	p := FromValues(url.Values{
		"room": {"community-hall"},
		"date": {"2024-01-12"},
		"slot": {"18:00 - 19:00"},
	})

	got := Coerce(p, timenorm.New(time.UTC))

	assert.Equal(t, Request{FacilityID: "community-hall", Date: "2024-01-12", TimeSlot: "18:00 - 19:00"}, got)
}

func TestCoerceNeverFails(t *testing.T) {
	assert.Equal(t, Request{}, Coerce(nil, timenorm.New(time.UTC)))
	assert.Equal(t, Request{}, Coerce(decode(t, `{"facility":null,"start":"soon","end":"later"}`), timenorm.New(time.UTC)))
}

func TestDecodeJSONRejectsNonObjects(t *testing.T) {
	for _, body := range []string{`[1,2]`, `"x"`, ``, `{"a":`} {
		_, err := DecodeJSON(strings.NewReader(body))
		assert.Error(t, err, body)
	}
}

func TestPayloadDuplicateKeyKeepsFirstPosition(t *testing.T) {
	p := decode(t, `{"a":{"facility":"one"},"b":{"facility":"two"},"a":{"facility":"three"}}`)

	got := Coerce(p, timenorm.New(time.UTC))

	assert.Equal(t, 2, p.Len())
	assert.Equal(t, "three", got.FacilityID)
}
