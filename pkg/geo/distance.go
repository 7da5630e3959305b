// Package geo holds the great-circle helpers shared by the history store and
// the geolocation rule.
package geo

import (
	"fmt"
	"math"
)

const earthRadiusKm = 6371.0

// HaversineKm returns the distance between two coordinates in kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * (math.Pi / 180.0)
	dLon := (lon2 - lon1) * (math.Pi / 180.0)

	lat1 = lat1 * (math.Pi / 180.0)
	lat2 = lat2 * (math.Pi / 180.0)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1)*math.Cos(lat2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// Coarse rounds a coordinate to two decimals (roughly 1.1 km at the equator).
// History stores keep only coarse coordinates.
func Coarse(v float64) float64 {
	return math.Round(v*100) / 100
}

// BucketKey identifies the coarse location bucket a coordinate falls into.
func BucketKey(lat, lon float64) string {
	return fmt.Sprintf("%.2f,%.2f", Coarse(lat), Coarse(lon))
}
