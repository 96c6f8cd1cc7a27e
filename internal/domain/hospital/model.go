package hospital

import (
	"time"

	"github.com/google/uuid"

	"github.com/carelink/carelink/pkg/geo"
)

// Hospital maps to the hospitals table. A hospital without both coordinates
// is never matched to an emergency.
type Hospital struct {
	ID            uuid.UUID `db:"id" json:"id"`
	OwnerID       *string   `db:"owner_id" json:"owner_id,omitempty"`
	Name          string    `db:"name" json:"name"`
	Address       string    `db:"address" json:"address"`
	Phone         string    `db:"phone" json:"phone"`
	Email         *string   `db:"email" json:"email,omitempty"`
	Latitude      *float64  `db:"latitude" json:"latitude,omitempty"`
	Longitude     *float64  `db:"longitude" json:"longitude,omitempty"`
	TotalBeds     int       `db:"total_beds" json:"total_beds"`
	AvailableBeds int       `db:"available_beds" json:"available_beds"`
	ICUBeds       int       `db:"icu_beds" json:"icu_beds"`
	Ambulances    int       `db:"ambulances" json:"ambulances"`
	Departments   []string  `db:"departments" json:"departments"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Location returns the hospital's coordinates and whether both are set.
func (h *Hospital) Location() (geo.Point, bool) {
	if h.Latitude == nil || h.Longitude == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *h.Latitude, Lon: *h.Longitude}, true
}

// OwnedBy reports whether userID registered this hospital.
func (h *Hospital) OwnedBy(userID string) bool {
	return h.OwnerID != nil && *h.OwnerID != "" && *h.OwnerID == userID
}

// HospitalResponse is the read-time projection of a hospital matched against
// a location. It is recomputed on every request.
type HospitalResponse struct {
	HospitalID    uuid.UUID `json:"hospital_id"`
	Name          string    `json:"name"`
	Distance      float64   `json:"distance"`
	AvailableBeds int       `json:"available_beds"`
	ICUBeds       int       `json:"icu_beds"`
	Ambulances    int       `json:"ambulances"`
	ResponseTime  string    `json:"response_time"`
	CanRespond    bool      `json:"can_respond"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Phone         string    `json:"phone"`
	Address       string    `json:"address"`
}

// BedCounts is the result of recomputing a hospital's capacity from its beds.
type BedCounts struct {
	TotalBeds     int `json:"total_beds"`
	AvailableBeds int `json:"available_beds"`
	ICUBeds       int `json:"icu_beds"`
}
