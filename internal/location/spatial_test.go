package location

import (
	"testing"
	"time"

	"github.com/linkup/nearby-app/internal/geo"
)

func seedRegistry(t *testing.T, entries map[string]geo.Point) *Registry {
	t.Helper()
	r := NewRegistry()
	now := time.Now()
	for id, p := range entries {
		if err := r.Upsert(id, p, now); err != nil {
			t.Fatalf("failed to upsert %s: %v", id, err)
		}
	}
	return r
}

func neighborIDs(neighbors []Neighbor) []string {
	ids := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		ids = append(ids, n.UserID)
	}
	return ids
}

// ---------- Upsert / Get ----------

func TestUpsert_RejectsInvalidCoordinates(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	tests := []struct {
		name  string
		point geo.Point
	}{
		{"lat too high", geo.Point{Lat: 91, Lng: 0}},
		{"lat too low", geo.Point{Lat: -90.5, Lng: 0}},
		{"lng too high", geo.Point{Lat: 0, Lng: 181}},
		{"lng too low", geo.Point{Lat: 0, Lng: -200}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Upsert("alice", tt.point, now); err == nil {
				t.Errorf("expected error for %+v, got nil", tt.point)
			}
		})
	}

	if r.Len() != 0 {
		t.Errorf("registry should be empty after rejected upserts, has %d entries", r.Len())
	}
}

func TestUpsert_RejectsEmptyUserID(t *testing.T) {
	r := NewRegistry()
	if err := r.Upsert("", geo.Point{Lat: 1, Lng: 1}, time.Now()); err == nil {
		t.Fatal("expected error for empty user id, got nil")
	}
}

func TestUpsert_OverwritesPreviousEntry(t *testing.T) {
	r := NewRegistry()

	if err := r.Upsert("alice", geo.Point{Lat: 10, Lng: 10}, time.Now()); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if err := r.Upsert("alice", geo.Point{Lat: 20, Lng: 20}, time.Now()); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	loc, ok := r.Get("alice")
	if !ok {
		t.Fatal("expected alice in registry")
	}
	if loc.Point.Lat != 20 || loc.Point.Lng != 20 {
		t.Errorf("expected (20,20), got (%v,%v)", loc.Point.Lat, loc.Point.Lng)
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", r.Len())
	}
}

func TestGet_Missing(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("ghost"); ok {
		t.Fatal("expected lookup of unknown user to report absence")
	}
}

// ---------- FindNearby ----------

func TestFindNearby_ExcludesSelf(t *testing.T) {
	r := seedRegistry(t, map[string]geo.Point{
		"alice": {Lat: 0, Lng: 0},
		"bob":   {Lat: 0, Lng: 0.01},
	})

	neighbors := r.FindNearby(geo.Point{Lat: 0, Lng: 0}, 10, "alice")
	for _, id := range neighborIDs(neighbors) {
		if id == "alice" {
			t.Fatal("querying user must never appear in its own result set")
		}
	}
	if len(neighbors) != 1 || neighbors[0].UserID != "bob" {
		t.Errorf("expected [bob], got %v", neighborIDs(neighbors))
	}
}

// Two points at (0,0) and (0,0.09) degrees are ~10 km apart at the equator:
// inside a 10 km search, outside a 5 km one.
func TestFindNearby_EquatorRadiusBoundary(t *testing.T) {
	r := seedRegistry(t, map[string]geo.Point{
		"bob": {Lat: 0, Lng: 0.09},
	})
	center := geo.Point{Lat: 0, Lng: 0}

	if got := r.FindNearby(center, 10, "alice"); len(got) != 1 {
		t.Errorf("radius 10: expected bob included, got %v", neighborIDs(got))
	}
	if got := r.FindNearby(center, 5, "alice"); len(got) != 0 {
		t.Errorf("radius 5: expected bob excluded, got %v", neighborIDs(got))
	}
}

func TestFindNearby_OrderedByDistance(t *testing.T) {
	r := seedRegistry(t, map[string]geo.Point{
		"far":    {Lat: 0, Lng: 0.08},
		"near":   {Lat: 0, Lng: 0.01},
		"middle": {Lat: 0, Lng: 0.04},
	})

	got := neighborIDs(r.FindNearby(geo.Point{Lat: 0, Lng: 0}, 10, ""))
	want := []string{"near", "middle", "far"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

// A wider radius must return a superset of a narrower one against the same
// registry state.
func TestFindNearby_RadiusSuperset(t *testing.T) {
	r := seedRegistry(t, map[string]geo.Point{
		"a": {Lat: 0, Lng: 0.02},
		"b": {Lat: 0, Lng: 0.05},
		"c": {Lat: 0, Lng: 0.15},
		"d": {Lat: 0, Lng: 0.30},
	})
	center := geo.Point{Lat: 0, Lng: 0}

	narrow := r.FindNearby(center, 10, "")
	wide := r.FindNearby(center, 20, "")

	if len(narrow) == 0 || len(wide) == 0 {
		t.Fatalf("expected both result sets non-empty, got %d and %d", len(narrow), len(wide))
	}

	wideSet := make(map[string]bool)
	for _, n := range wide {
		wideSet[n.UserID] = true
	}
	for _, n := range narrow {
		if !wideSet[n.UserID] {
			t.Errorf("user %s in narrow result but missing from wide result", n.UserID)
		}
	}
	if len(wide) <= len(narrow) {
		t.Errorf("expected wide (%d) to be a strict superset of narrow (%d)", len(wide), len(narrow))
	}
}

func TestClampRadius(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"zero uses default", 0, DefaultRadiusKm},
		{"negative uses default", -3, DefaultRadiusKm},
		{"below minimum clamps up", 0.2, MinRadiusKm},
		{"above maximum clamps down", 500, MaxRadiusKm},
		{"in range passes through", 25, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampRadius(tt.in); got != tt.want {
				t.Errorf("ClampRadius(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

// ---------- GlobalFallback ----------

func TestGlobalFallback_ReturnsDistantUsers(t *testing.T) {
	// Nobody within 5 km of the center, three users globally.
	r := seedRegistry(t, map[string]geo.Point{
		"tokyo": {Lat: 35.68, Lng: 139.69},
		"lima":  {Lat: -12.05, Lng: -77.04},
		"oslo":  {Lat: 59.91, Lng: 10.75},
	})
	center := geo.Point{Lat: 0, Lng: 0}

	if local := r.FindNearby(center, 5, "me"); len(local) != 0 {
		t.Fatalf("expected empty local result, got %v", neighborIDs(local))
	}

	global := r.GlobalFallback(center, "me")
	if len(global) != 3 {
		t.Fatalf("expected 3 fallback users, got %d", len(global))
	}
}

func TestGlobalFallback_MostRecentFirstAndCapped(t *testing.T) {
	r := NewRegistry()
	base := time.Now()

	for i := 0; i < FallbackLimit+5; i++ {
		id := string(rune('a'+i%26)) + string(rune('0'+i/26))
		if err := r.Upsert(id, geo.Point{Lat: float64(i) / 10, Lng: 0}, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	got := r.GlobalFallback(geo.Point{Lat: 0, Lng: 0}, "")
	if len(got) != FallbackLimit {
		t.Fatalf("expected fallback capped at %d, got %d", FallbackLimit, len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].LastActive.After(got[i-1].LastActive) {
			t.Fatalf("fallback not ordered by recency at index %d", i)
		}
	}
}

func TestGlobalFallback_ExcludesSelf(t *testing.T) {
	r := seedRegistry(t, map[string]geo.Point{
		"me":  {Lat: 1, Lng: 1},
		"bob": {Lat: 50, Lng: 50},
	})

	got := r.GlobalFallback(geo.Point{Lat: 1, Lng: 1}, "me")
	if len(got) != 1 || got[0].UserID != "bob" {
		t.Errorf("expected [bob], got %v", neighborIDs(got))
	}
}
