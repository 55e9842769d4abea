package trip

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const (
	tripsBucketName       = "trips"
	preferencesBucketName = "preferences"
)

// BoltDB implements DurableStore and PreferenceStore using BoltDB.
// Trips are stored as JSON documents keyed by id.
type BoltDB struct {
	db *bbolt.DB
}

var (
	_ DurableStore    = (*BoltDB)(nil)
	_ PreferenceStore = (*BoltDB)(nil)
)

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(tripsBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(preferencesBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func putTrip(tx *bbolt.Tx, t Trip) error {
	if t.ID == "" {
		return fmt.Errorf("trip id is required")
	}
	if t.Receipts == nil {
		t.Receipts = []Receipt{}
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshaling trip: %w", err)
	}
	return tx.Bucket([]byte(tripsBucketName)).Put([]byte(t.ID), data)
}

// PutTrip saves a trip to the database
func (b *BoltDB) PutTrip(ctx context.Context, t Trip) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return putTrip(tx, t)
	})
}

// PutTrips saves several trips in one transaction
func (b *BoltDB) PutTrips(ctx context.Context, trips []Trip) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		for _, t := range trips {
			if err := putTrip(tx, t); err != nil {
				return fmt.Errorf("saving trip %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// GetTrip retrieves a trip by ID
func (b *BoltDB) GetTrip(ctx context.Context, id string) (Trip, error) {
	var t Trip
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(tripsBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrTripNotFound, id)
		}
		return json.Unmarshal(data, &t)
	})
	if err != nil {
		return Trip{}, err
	}
	return t, nil
}

// DeleteTrip removes a trip from the database
func (b *BoltDB) DeleteTrip(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(tripsBucketName)).Delete([]byte(id))
	})
}

// scanTrips returns every trip accepted by keep, latest start date first
func (b *BoltDB) scanTrips(ctx context.Context, keep func(Trip) bool) ([]Trip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	trips := make([]Trip, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(tripsBucketName)).ForEach(func(k, v []byte) error {
			var t Trip
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("unmarshaling trip %s: %w", k, err)
			}
			if t.Receipts == nil {
				t.Receipts = []Receipt{}
			}
			if keep == nil || keep(t) {
				trips = append(trips, t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortTrips(trips)
	return trips, nil
}

// ListTrips returns all trips
func (b *BoltDB) ListTrips(ctx context.Context) ([]Trip, error) {
	return b.scanTrips(ctx, nil)
}

// CountTrips returns the number of stored trips
func (b *BoltDB) CountTrips(ctx context.Context) (int, error) {
	var n int
	err := b.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(tripsBucketName)).Stats().KeyN
		return nil
	})
	return n, err
}

// FindTripsByTitle returns trips whose title contains query, ignoring case
func (b *BoltDB) FindTripsByTitle(ctx context.Context, query string) ([]Trip, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	return b.scanTrips(ctx, func(t Trip) bool {
		return strings.Contains(strings.ToLower(t.Title), query)
	})
}

// FindTripsInRange returns trips overlapping the [from, to] date range
func (b *BoltDB) FindTripsInRange(ctx context.Context, from, to string) ([]Trip, error) {
	return b.scanTrips(ctx, func(t Trip) bool {
		return overlaps(t, from, to)
	})
}

// GetPreference returns a stored preference, or "" when unset
func (b *BoltDB) GetPreference(ctx context.Context, key string) (string, error) {
	var value string
	err := b.db.View(func(tx *bbolt.Tx) error {
		value = string(tx.Bucket([]byte(preferencesBucketName)).Get([]byte(key)))
		return nil
	})
	return value, err
}

// SetPreference stores a preference
func (b *BoltDB) SetPreference(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(preferencesBucketName)).Put([]byte(key), []byte(value))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// overlaps reports whether the trip's dates intersect [from, to]. ISO dates compare as strings.
func overlaps(t Trip, from, to string) bool {
	if to != "" && t.StartDate != "" && t.StartDate > to {
		return false
	}
	if from != "" && t.EndDate != "" && t.EndDate < from {
		return false
	}
	return true
}

// sortTrips orders trips by start date descending, then title and id
func sortTrips(trips []Trip) {
	sort.SliceStable(trips, func(i, j int) bool {
		if trips[i].StartDate != trips[j].StartDate {
			return trips[i].StartDate > trips[j].StartDate
		}
		if trips[i].Title != trips[j].Title {
			return trips[i].Title < trips[j].Title
		}
		return trips[i].ID < trips[j].ID
	})
}
