package model

// Amenity is a bookable shared resource such as a court, pool or hall.
// Amenities are created by the initialization routine and are immutable
// afterwards as far as the booking engine is concerned.
//
// Fields:
//
//	ID          – stable identifier used as facilityId in bookings.
//	Name        – display name.
//	Description – free text shown in the catalog.
//	MaxCapacity – number of people the amenity accommodates.
//	IsActive    – inactive amenities are hidden from the catalog.
type Amenity struct {
	ID          string `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
	MaxCapacity int    `db:"max_capacity" json:"maxCapacity"`
	IsActive    bool   `db:"is_active" json:"isActive"`
}

// DefaultAmenities is the catalog seeded by the initialization routine.
// IDs are slugs so that seeding twice is a no-op.
func DefaultAmenities() []Amenity {
	return []Amenity{
		{ID: "badminton-court", Name: "Badminton Court", Description: "Professional badminton court with proper lighting", MaxCapacity: 4, IsActive: true},
		{ID: "swimming-pool", Name: "Swimming Pool", Description: "Olympic-size swimming pool", MaxCapacity: 20, IsActive: true},
		{ID: "gym", Name: "Gym", Description: "Fully equipped fitness center", MaxCapacity: 15, IsActive: true},
		{ID: "tennis-court", Name: "Tennis Court", Description: "Professional tennis court", MaxCapacity: 4, IsActive: true},
		{ID: "community-hall", Name: "Community Hall", Description: "Large hall for events and gatherings", MaxCapacity: 100, IsActive: true},
	}
}
