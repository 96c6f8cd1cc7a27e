// Package geo implements great-circle distance and the response-time estimate
// used when matching hospitals to an emergency location.
package geo

import (
	"fmt"
	"math"
)

const (
	// EarthRadiusKm is the mean Earth radius used by Distance.
	EarthRadiusKm = 6371.0

	// ResponseSpeedKmh is the assumed average speed of a responding unit.
	ResponseSpeedKmh = 40.0
)

// Point is a coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point lies within the legal latitude/longitude range.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Distance returns the Haversine distance between a and b in kilometers.
func Distance(a, b Point) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	// Rounding can push h a hair above 1 for antipodal points.
	if h > 1 {
		h = 1
	}
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// ResponseMinutes estimates how long a unit travelling at ResponseSpeedKmh
// needs to cover distanceKm, rounded up to whole minutes.
func ResponseMinutes(distanceKm float64) int {
	if distanceKm <= 0 {
		return 0
	}
	return int(math.Ceil(distanceKm / ResponseSpeedKmh))
}

// ResponseTime formats ResponseMinutes as shown to patients, e.g. "2 mins".
func ResponseTime(distanceKm float64) string {
	return fmt.Sprintf("%d mins", ResponseMinutes(distanceKm))
}

// Round truncates a coordinate component to the given number of decimals.
// Used to build cache keys that tolerate GPS jitter.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
