// Package geo provides the spherical-distance and projection math used by
// the sampling and marker layers.
package geo

import (
	"errors"
	"math"
)

// earthRadiusM is the mean Earth radius used for great-circle distances.
const earthRadiusM = 6371008.8

// ErrInvalidCoordinates is returned when coordinates are outside WGS84 bounds.
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// DistanceMeters returns the great-circle (haversine) distance between two
// WGS84 coordinates in meters.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// InBounds reports whether the coordinates are within WGS84 range.
func InBounds(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
