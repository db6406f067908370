// Package location implements the authoritative last-known-position registry
// and the spatial query engine that answers "who is near this point".
package location

import (
	"fmt"
	"sync"
	"time"

	"github.com/linkup/nearby-app/internal/geo"
)

// UserLocation is the registry entry for a single user: the last reported
// position and when it was reported. Entries are overwritten in place and
// never individually deleted; a stale entry simply ages out of recency-based
// filters.
type UserLocation struct {
	UserID     string
	Point      geo.Point
	LastActive time.Time
}

// Registry is the in-memory map of userID -> last known location. All
// mutations go through the mutex; readers take a snapshot so that spatial
// queries never compute distances under the lock.
type Registry struct {
	mu        sync.RWMutex
	locations map[string]UserLocation
}

// NewRegistry creates an empty location registry.
func NewRegistry() *Registry {
	return &Registry{
		locations: make(map[string]UserLocation),
	}
}

// Upsert records the user's position, overwriting any previous entry. It is
// idempotent: repeating the same update leaves the registry unchanged apart
// from the timestamp. Invalid coordinates are rejected and the registry is
// left untouched.
func (r *Registry) Upsert(userID string, p geo.Point, at time.Time) error {
	if userID == "" {
		return fmt.Errorf("location: empty user id")
	}
	if !p.Valid() {
		return fmt.Errorf("location: invalid coordinates lat=%v lng=%v", p.Lat, p.Lng)
	}

	r.mu.Lock()
	r.locations[userID] = UserLocation{UserID: userID, Point: p, LastActive: at}
	r.mu.Unlock()
	return nil
}

// Get returns the user's last known location. The second return value is
// false when the user has never reported a position.
func (r *Registry) Get(userID string) (UserLocation, bool) {
	r.mu.RLock()
	loc, ok := r.locations[userID]
	r.mu.RUnlock()
	return loc, ok
}

// Len returns the number of users with a known location.
func (r *Registry) Len() int {
	r.mu.RLock()
	n := len(r.locations)
	r.mu.RUnlock()
	return n
}

// snapshot copies all entries out of the map so callers can iterate without
// holding the lock.
func (r *Registry) snapshot() []UserLocation {
	r.mu.RLock()
	out := make([]UserLocation, 0, len(r.locations))
	for _, loc := range r.locations {
		out = append(out, loc)
	}
	r.mu.RUnlock()
	return out
}
