// Command seeder populates the profile store with demo users for local
// development and load testing. It runs migrations first, so a fresh
// database works out of the box.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/linkup/nearby-app/internal/geo"
	"github.com/linkup/nearby-app/internal/profile"
)

type city struct {
	name string
	lat  float64
	lng  float64
}

var cities = []city{
	{"Mumbai", 19.0760, 72.8777},
	{"Delhi", 28.7041, 77.1025},
	{"Bangalore", 12.9716, 77.5946},
	{"Pune", 18.5204, 73.8567},
	{"Hyderabad", 17.3850, 78.4867},
	{"London", 51.5074, -0.1278},
	{"New York", 40.7128, -74.0060},
	{"Singapore", 1.3521, 103.8198},
}

var interestPool = []string{
	"chess", "hiking", "photography", "cooking", "music", "cycling",
	"gaming", "reading", "yoga", "coffee", "travel", "football",
}

var firstNames = []string{
	"Aarav", "Priya", "Rohan", "Ananya", "Vikram", "Meera",
	"Alex", "Sam", "Jordan", "Taylor", "Casey", "Riley",
}

func main() {
	count := flag.Int("count", 50, "number of demo users to create")
	seed := flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flag.Parse()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	if err := profile.RunMigrations(databaseURL); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	store, err := profile.NewSQLStore(databaseURL)
	if err != nil {
		log.Fatalf("failed to connect to profile store: %v", err)
	}
	defer store.Close()

	rng := rand.New(rand.NewSource(*seed))
	ctx := context.Background()

	for i := 0; i < *count; i++ {
		c := cities[rng.Intn(len(cities))]
		name := firstNames[rng.Intn(len(firstNames))]

		u := &profile.User{
			ID:          fmt.Sprintf("demo-%04d", i),
			DisplayName: fmt.Sprintf("%s %d", name, i),
			Interests:   pickInterests(rng),
			Point: geo.Point{
				// Scatter within roughly 5 km of the city center.
				Lat: c.lat + (rng.Float64()-0.5)*0.09,
				Lng: c.lng + (rng.Float64()-0.5)*0.09,
			},
			LastActive: time.Now().Add(-time.Duration(rng.Intn(72)) * time.Hour),
		}

		if err := store.Create(ctx, u); err != nil {
			log.Fatalf("failed to create user %s: %v", u.ID, err)
		}
	}

	log.Printf("seeded %d demo users", *count)
}

// pickInterests returns 1-3 distinct interests from the pool.
func pickInterests(rng *rand.Rand) []string {
	n := 1 + rng.Intn(3)
	perm := rng.Perm(len(interestPool))
	out := make([]string, 0, n)
	for _, idx := range perm[:n] {
		out = append(out, interestPool[idx])
	}
	return out
}
