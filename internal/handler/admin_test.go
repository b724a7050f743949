package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circlein/amenity-booking/internal/booking"
	"github.com/circlein/amenity-booking/internal/model"
	"github.com/circlein/amenity-booking/internal/repository"
)

func TestAdminInitSeedsCatalogOnce(t *testing.T) {
	s := newTestServer(t, repository.NewMemoryBookingRepo(), booking.Options{})
	root := token(t, "root", model.RoleAdmin)

	rec, env := s.do(t, http.MethodPost, "/v1/admin/init", token(t, "alice", model.RoleResident), "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden", env.Error.Code)

	rec, env = s.do(t, http.MethodPost, "/v1/admin/init", root, "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var first struct {
		AmenitiesCreated int  `json:"amenitiesCreated"`
		RulesCreated     bool `json:"rulesCreated"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &first))
	assert.Equal(t, 5, first.AmenitiesCreated)
	assert.True(t, first.RulesCreated)

	rec, env = s.do(t, http.MethodPost, "/v1/admin/init", root, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var second struct {
		AmenitiesCreated int  `json:"amenitiesCreated"`
		RulesCreated     bool `json:"rulesCreated"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &second))
	assert.Zero(t, second.AmenitiesCreated)
	assert.False(t, second.RulesCreated)

	rules, err := s.rules.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.DefaultBookingRules(), rules)
}

func TestAmenitiesListedAfterInit(t *testing.T) {
	s := newTestServer(t, repository.NewMemoryBookingRepo(), booking.Options{})

	rec, env := s.do(t, http.MethodGet, "/v1/amenities", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(env.Data))

	_, _ = s.do(t, http.MethodPost, "/v1/admin/init", token(t, "root", model.RoleAdmin), "", "")

	rec, env = s.do(t, http.MethodGet, "/v1/amenities", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []model.Amenity
	require.NoError(t, json.Unmarshal(env.Data, &items))
	require.Len(t, items, 5)
	assert.Equal(t, "Badminton Court", items[0].Name)
}

func TestCreateFillsFacilityNameFromCatalog(t *testing.T) {
	s := newTestServer(t, repository.NewMemoryBookingRepo(), booking.Options{})
	_, err := s.amenities.Seed(context.Background(), model.DefaultAmenities())
	require.NoError(t, err)

	rec, env := s.create(t, token(t, "alice", ""), `{"facilityId":"swimming-pool","date":"2024-01-12","timeSlot":"09:00 - 10:00"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var adm booking.Admission
	require.NoError(t, json.Unmarshal(env.Data, &adm))
	assert.Equal(t, "Swimming Pool", adm.Booking.FacilityName)
}
