// Package geo provides the coordinate type and great-circle math shared by
// the location registry and the spatial query engine. Coordinates are WGS84
// degrees; distances are kilometers.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used by the haversine formula.
const EarthRadiusKm = 6371.0

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies within the WGS84 coordinate range:
// latitude in [-90, 90] and longitude in [-180, 180].
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// DistanceKm returns the great-circle distance in kilometers between two
// points using the haversine formula. Planar Euclidean distance would be
// wrong here: a degree of longitude shrinks with latitude, and the service
// must behave correctly everywhere, not just near the equator.
func DistanceKm(a, b Point) float64 {
	dLat := degToRad(b.Lat - a.Lat)
	dLng := degToRad(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(degToRad(a.Lat))*math.Cos(degToRad(b.Lat))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// LngScaleFactor returns the longitude-compression correction 1/cos(lat)
// for the given latitude in degrees. Map clients use it to render a radius
// circle that looks circular instead of squashed away from the equator.
// At the poles cos(lat) is zero; the factor is capped to avoid Inf.
func LngScaleFactor(lat float64) float64 {
	c := math.Cos(degToRad(lat))
	if c < 1e-6 {
		c = 1e-6
	}
	return 1 / c
}

func degToRad(deg float64) float64 {
	return deg * math.Pi / 180
}
