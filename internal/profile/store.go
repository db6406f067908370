// Package profile is the adapter for the external user-profile store. The
// core consumes profiles as opaque {id, display name, interests, last
// position} values resolved once at the boundary; durable storage lives in
// PostgreSQL and is owned by the wider platform, not by this service.
package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/linkup/nearby-app/internal/geo"
)

// User is the normalized profile value passed around the core. It is always
// fully populated by a store lookup, never partially.
type User struct {
	ID          string
	DisplayName string
	Interests   []string
	Point       geo.Point
	LastActive  time.Time
}

// Store resolves user profiles. Implementations must return (nil, nil) for
// an unknown id so that callers can treat "missing" as "skip", not as a
// fault.
type Store interface {
	GetByID(ctx context.Context, id string) (*User, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*User, error)
	UpsertLocation(ctx context.Context, id string, p geo.Point, at time.Time) error
}

// SQLStore implements Store on PostgreSQL via database/sql and lib/pq.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens a PostgreSQL connection pool and verifies it.
func NewSQLStore(databaseURL string) (*SQLStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("profile: open database: %w", err)
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("profile: database ping failed: %w", err)
	}

	return &SQLStore{db: db}, nil
}

// NewSQLStoreFromDB wraps an existing database handle (used by the seeder
// and by tests).
func NewSQLStoreFromDB(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// GetByID returns a single profile, or (nil, nil) when the user is unknown.
func (s *SQLStore) GetByID(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, interests, lat, lng, last_active
		FROM users
		WHERE id = $1`, id)

	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("profile: get %s: %w", id, err)
	}
	return u, nil
}

// GetByIDs resolves a batch of profiles in one query. Unknown ids are simply
// absent from the result map.
func (s *SQLStore) GetByIDs(ctx context.Context, ids []string) (map[string]*User, error) {
	result := make(map[string]*User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, interests, lat, lng, last_active
		FROM users
		WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("profile: batch get: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("profile: batch scan: %w", err)
		}
		result[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile: batch rows: %w", err)
	}
	return result, nil
}

// UpsertLocation persists the user's last reported position and activity
// time. The in-memory location registry stays authoritative for queries;
// this write only keeps the durable profile in step.
func (s *SQLStore) UpsertLocation(ctx context.Context, id string, p geo.Point, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET lat = $2, lng = $3, last_active = $4
		WHERE id = $1`, id, p.Lat, p.Lng, at)
	if err != nil {
		return fmt.Errorf("profile: upsert location for %s: %w", id, err)
	}
	return nil
}

// Create inserts a profile, replacing any existing row with the same id.
// Used by the seeder.
func (s *SQLStore) Create(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, interests, lat, lng, last_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    interests = EXCLUDED.interests,
		    lat = EXCLUDED.lat,
		    lng = EXCLUDED.lng,
		    last_active = EXCLUDED.last_active`,
		u.ID, u.DisplayName, pq.Array(u.Interests), u.Point.Lat, u.Point.Lng, u.LastActive)
	if err != nil {
		return fmt.Errorf("profile: create %s: %w", u.ID, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var interests pq.StringArray
	if err := row.Scan(&u.ID, &u.DisplayName, &interests, &u.Point.Lat, &u.Point.Lng, &u.LastActive); err != nil {
		return nil, err
	}
	u.Interests = []string(interests)
	return &u, nil
}
