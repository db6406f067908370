package location

import (
	"sort"

	"github.com/linkup/nearby-app/internal/geo"
)

const (
	// DefaultRadiusKm is the search radius used when the client does not
	// supply one. Matches the 10 km the mobile clients were built around.
	DefaultRadiusKm = 10

	// MinRadiusKm and MaxRadiusKm bound the caller-supplied radius.
	// Out-of-range values are clamped, not rejected.
	MinRadiusKm = 1
	MaxRadiusKm = 50

	// FallbackLimit caps the global sample returned when the radius search
	// comes up empty.
	FallbackLimit = 20

	// radiusSlackKm widens the radius boundary slightly. Reported positions
	// carry GPS jitter on the order of tens of meters, so a strict boundary
	// would flap for users sitting exactly at the edge.
	radiusSlackKm = 0.05
)

// Neighbor is a single spatial query result: a registry entry plus its
// distance from the query center.
type Neighbor struct {
	UserLocation
	DistanceKm float64
}

// ClampRadius normalizes a caller-supplied radius: zero or negative values
// become the default, everything else is clamped into [MinRadiusKm, MaxRadiusKm].
func ClampRadius(radiusKm float64) float64 {
	if radiusKm <= 0 {
		return DefaultRadiusKm
	}
	if radiusKm < MinRadiusKm {
		return MinRadiusKm
	}
	if radiusKm > MaxRadiusKm {
		return MaxRadiusKm
	}
	return radiusKm
}

// FindNearby returns all users within radiusKm of center, ordered nearest
// first, excluding excludeUserID (a user is never their own neighbor).
// The radius is clamped via ClampRadius before use.
func (r *Registry) FindNearby(center geo.Point, radiusKm float64, excludeUserID string) []Neighbor {
	radiusKm = ClampRadius(radiusKm)
	limit := radiusKm + radiusSlackKm

	var result []Neighbor
	for _, loc := range r.snapshot() {
		if loc.UserID == excludeUserID {
			continue
		}
		d := geo.DistanceKm(center, loc.Point)
		if d > limit {
			continue
		}
		result = append(result, Neighbor{UserLocation: loc, DistanceKm: d})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].DistanceKm < result[j].DistanceKm
	})
	return result
}

// GlobalFallback returns up to FallbackLimit users regardless of distance,
// most recently active first, excluding excludeUserID. Callers use it when
// FindNearby returns nothing, and must flag the result as a fallback so the
// client can tell it apart from a true local match.
func (r *Registry) GlobalFallback(center geo.Point, excludeUserID string) []Neighbor {
	all := r.snapshot()

	result := make([]Neighbor, 0, len(all))
	for _, loc := range all {
		if loc.UserID == excludeUserID {
			continue
		}
		result = append(result, Neighbor{
			UserLocation: loc,
			DistanceKm:   geo.DistanceKm(center, loc.Point),
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].LastActive.After(result[j].LastActive)
	})

	if len(result) > FallbackLimit {
		result = result[:FallbackLimit]
	}
	return result
}
