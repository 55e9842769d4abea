// Package sqlitestore keeps trips and preferences in a SQLite database.
// Each trip is one row: the indexed columns mirror the trip's title and dates,
// and the full trip with its receipts is stored as a JSON document.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/zombor/trip-tracker/internal/trip"
)

// Store implements trip.DurableStore and trip.PreferenceStore
type Store struct {
	db *sql.DB
}

var (
	_ trip.DurableStore    = (*Store)(nil)
	_ trip.PreferenceStore = (*Store)(nil)
)

// New opens the database at dbPath and applies migrations
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows one writer at a time
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

const upsertTrip = `
INSERT INTO trips (id, title, start_date, end_date, data, updated_at)
VALUES (?, ?, ?, ?, ?, strftime('%s', 'now'))
ON CONFLICT(id) DO UPDATE SET
    title = excluded.title,
    start_date = excluded.start_date,
    end_date = excluded.end_date,
    data = excluded.data,
    updated_at = excluded.updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func putTrip(ctx context.Context, db execer, t trip.Trip) error {
	if t.ID == "" {
		return errors.New("trip id is required")
	}
	if t.Receipts == nil {
		t.Receipts = []trip.Receipt{}
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trip: %w", err)
	}
	if _, err := db.ExecContext(ctx, upsertTrip, t.ID, t.Title, t.StartDate, t.EndDate, string(data)); err != nil {
		return fmt.Errorf("upsert trip %s: %w", t.ID, err)
	}
	return nil
}

// PutTrip inserts or replaces a trip
func (s *Store) PutTrip(ctx context.Context, t trip.Trip) error {
	return putTrip(ctx, s.db, t)
}

// PutTrips inserts or replaces several trips in one transaction
func (s *Store) PutTrips(ctx context.Context, trips []trip.Trip) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range trips {
		if err := putTrip(ctx, tx, t); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit trips: %w", err)
	}
	return nil
}

// GetTrip returns one trip
func (s *Store) GetTrip(ctx context.Context, id string) (trip.Trip, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM trips WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return trip.Trip{}, fmt.Errorf("%w: %s", trip.ErrTripNotFound, id)
	}
	if err != nil {
		return trip.Trip{}, fmt.Errorf("get trip %s: %w", id, err)
	}
	return decodeTrip(data)
}

// DeleteTrip removes a trip
func (s *Store) DeleteTrip(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM trips WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete trip %s: %w", id, err)
	}
	return nil
}

// CountTrips returns the number of stored trips
func (s *Store) CountTrips(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trips`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count trips: %w", err)
	}
	return n, nil
}

const orderTrips = ` ORDER BY start_date DESC, title, id`

// ListTrips returns every trip, latest start date first
func (s *Store) ListTrips(ctx context.Context) ([]trip.Trip, error) {
	return s.queryTrips(ctx, `SELECT data FROM trips`+orderTrips)
}

// FindTripsByTitle returns trips whose title contains query. Matching ignores ASCII case.
func (s *Store) FindTripsByTitle(ctx context.Context, query string) ([]trip.Trip, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	return s.queryTrips(ctx, `SELECT data FROM trips WHERE title LIKE ? ESCAPE '\'`+orderTrips, pattern)
}

// FindTripsInRange returns trips overlapping [from, to]. Empty bounds are open.
func (s *Store) FindTripsInRange(ctx context.Context, from, to string) ([]trip.Trip, error) {
	return s.queryTrips(ctx, `
SELECT data FROM trips
WHERE (? = '' OR start_date = '' OR start_date <= ?)
  AND (? = '' OR end_date = '' OR end_date >= ?)`+orderTrips,
		to, to, from, from)
}

func (s *Store) queryTrips(ctx context.Context, query string, args ...interface{}) ([]trip.Trip, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	trips := make([]trip.Trip, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		t, err := decodeTrip(data)
		if err != nil {
			return nil, err
		}
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trips: %w", err)
	}
	return trips, nil
}

func decodeTrip(data string) (trip.Trip, error) {
	var t trip.Trip
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return trip.Trip{}, fmt.Errorf("unmarshal trip: %w", err)
	}
	if t.Receipts == nil {
		t.Receipts = []trip.Receipt{}
	}
	return t, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// GetPreference returns a preference, or "" when it was never set
func (s *Store) GetPreference(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get preference %s: %w", key, err)
	}
	return value, nil
}

// SetPreference stores a preference
func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO preferences (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set preference %s: %w", key, err)
	}
	return nil
}
