// Package calculator provides GPS distance calculations using the Haversine formula
// to compute great-circle distances between geographic coordinates.
package calculator

import (
	"fmt"
	"math"
)

const (
	// EarthRadiusMeters is the mean Earth radius used by the Haversine formula
	EarthRadiusMeters = 6371000.0
)

// Coordinate represents a GPS coordinate in decimal degrees
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Haversine calculates the great-circle distance in meters between two points
// on the Earth's surface given their latitudes and longitudes in decimal degrees
//
// Formula:
// a = sin²(Δφ/2) + cos φ1 ⋅ cos φ2 ⋅ sin²(Δλ/2)
// c = 2 ⋅ atan2( √a, √(1−a) )
// d = R ⋅ c
//
// where:
// φ is latitude, λ is longitude, R is earth's radius (6371 km)
// Δφ is the difference in latitude, Δλ is the difference in longitude
func Haversine(from, to Coordinate) float64 {
	lat1Rad := degreesToRadians(from.Latitude)
	lat2Rad := degreesToRadians(to.Latitude)

	deltaLat := degreesToRadians(to.Latitude - from.Latitude)
	deltaLon := degreesToRadians(to.Longitude - from.Longitude)

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	// Rounding can push a past 1 for near-antipodal points
	a = math.Min(1, math.Max(0, a))

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// PathDistance sums the distances between consecutive points of a path
func PathDistance(path []Coordinate) float64 {
	var total float64
	for i := 1; i < len(path); i++ {
		total += Haversine(path[i-1], path[i])
	}
	return total
}

// Kilometers formats a distance in meters as kilometers with two decimals
func Kilometers(meters float64) string {
	return fmt.Sprintf("%.2f km", meters/1000)
}

// degreesToRadians converts degrees to radians
func degreesToRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}
