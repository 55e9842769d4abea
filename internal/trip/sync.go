package trip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Preference keys
const (
	ActiveTripKey = "active_trip_id"
	ThemeKey      = "theme"
)

// Keys written by the legacy flat-storage app
const (
	LegacyTripsKey      = "travel_admin_sorter_trips"
	LegacyActiveTripKey = "travel_admin_sorter_active_trip_id"
	LegacyThemeKey      = "snap_trip_theme"
)

const (
	ThemeDark  = "dark"
	ThemeLight = "light"

	defaultWriteTimeout = 10 * time.Second
)

// DurableStore persists whole trips keyed by id
type DurableStore interface {
	// GetTrip returns the stored trip or an error wrapping ErrTripNotFound
	GetTrip(ctx context.Context, id string) (Trip, error)

	// PutTrip inserts or replaces a trip
	PutTrip(ctx context.Context, t Trip) error

	// PutTrips inserts or replaces several trips in one transaction
	PutTrips(ctx context.Context, trips []Trip) error

	// DeleteTrip removes a trip. Deleting a missing trip is not an error.
	DeleteTrip(ctx context.Context, id string) error

	// ListTrips returns every trip, latest start date first
	ListTrips(ctx context.Context) ([]Trip, error)

	// CountTrips returns the number of stored trips
	CountTrips(ctx context.Context) (int, error)

	// FindTripsByTitle returns trips whose title contains the query, ignoring case
	FindTripsByTitle(ctx context.Context, query string) ([]Trip, error)

	// FindTripsInRange returns trips overlapping [from, to]. Empty bounds are open.
	FindTripsInRange(ctx context.Context, from, to string) ([]Trip, error)

	// Close releases the underlying database
	Close() error
}

// PreferenceStore persists small string settings
type PreferenceStore interface {
	// GetPreference returns "" without error when the key was never set
	GetPreference(ctx context.Context, key string) (string, error)
	SetPreference(ctx context.Context, key, value string) error
}

// LegacySource reads values written by the legacy app.
// A missing key is reported with an error wrapping fs.ErrNotExist.
type LegacySource interface {
	Get(key string) ([]byte, error)
}

// WriteStatus describes the outcome of the most recent background write
type WriteStatus struct {
	Op       string    `json:"op"`
	Key      string    `json:"key"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
	Failures int       `json:"failures"` // Failed writes since start
}

type writeKind int

const (
	writePutTrip writeKind = iota
	writeDeleteTrip
	writePreference
	writeBarrier
)

func (k writeKind) String() string {
	switch k {
	case writePutTrip:
		return "put_trip"
	case writeDeleteTrip:
		return "delete_trip"
	case writePreference:
		return "set_preference"
	}
	return "barrier"
}

type writeOp struct {
	kind  writeKind
	key   string
	trip  Trip
	value string
	done  chan struct{}
}

// Synchronizer mirrors store mutations into durable storage. Writes are queued and
// applied by a single worker in the order they were made, so the caller never waits
// on disk and two writes can never land out of order.
type Synchronizer struct {
	durable      DurableStore
	prefs        PreferenceStore
	legacy       LegacySource
	idGenerator  IDGenerator
	timeSource   TimeSource
	writeTimeout time.Duration

	mu     sync.Mutex
	queue  []writeOp
	closed bool
	status WriteStatus
	theme  string

	wake chan struct{}
	done chan struct{}
}

// NewSynchronizer creates a Synchronizer and starts its write worker.
// legacy may be nil when there is nothing to migrate.
func NewSynchronizer(durable DurableStore, prefs PreferenceStore, legacy LegacySource) *Synchronizer {
	return NewSynchronizerWithDeps(durable, prefs, legacy, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewSynchronizerWithDeps creates a Synchronizer with custom dependencies for testing
func NewSynchronizerWithDeps(durable DurableStore, prefs PreferenceStore, legacy LegacySource, idGen IDGenerator, timeSrc TimeSource) *Synchronizer {
	s := &Synchronizer{
		durable:      durable,
		prefs:        prefs,
		legacy:       legacy,
		idGenerator:  idGen,
		timeSource:   timeSrc,
		writeTimeout: defaultWriteTimeout,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	go s.run()
	return s
}

// SaveTrip queues an upsert of the whole trip
func (s *Synchronizer) SaveTrip(t Trip) {
	s.enqueue(writeOp{kind: writePutTrip, key: t.ID, trip: t})
}

// DeleteTrip queues the removal of a trip
func (s *Synchronizer) DeleteTrip(id string) {
	s.enqueue(writeOp{kind: writeDeleteTrip, key: id})
}

// SaveActiveTrip queues the active trip preference
func (s *Synchronizer) SaveActiveTrip(id string) {
	s.enqueue(writeOp{kind: writePreference, key: ActiveTripKey, value: id})
}

// SaveTheme queues the theme preference. Theme returns it right away.
func (s *Synchronizer) SaveTheme(theme string) {
	s.mu.Lock()
	s.theme = theme
	s.mu.Unlock()
	s.enqueue(writeOp{kind: writePreference, key: ThemeKey, value: theme})
}

// LastWriteStatus returns the outcome of the latest background write
func (s *Synchronizer) LastWriteStatus() WriteStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Flush waits until every write queued before the call has been applied
func (s *Synchronizer) Flush(ctx context.Context) error {
	done := make(chan struct{})
	s.enqueue(writeOp{kind: writeBarrier, done: done})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close applies the queued writes and stops the worker. The durable stores are left open.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()

	<-s.done
	return nil
}

func (s *Synchronizer) enqueue(op writeOp) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if op.done != nil {
			close(op.done)
			return
		}
		slog.Warn("Dropping write after shutdown", "op", op.kind.String(), "key", op.key)
		return
	}
	s.queue = append(s.queue, op)
	s.mu.Unlock()
	s.signal()
}

func (s *Synchronizer) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// next blocks until an op is queued. It returns false once closed and drained.
func (s *Synchronizer) next() (writeOp, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			op := s.queue[0]
			s.queue[0] = writeOp{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return op, true
		}
		if s.closed {
			s.mu.Unlock()
			return writeOp{}, false
		}
		s.mu.Unlock()
		<-s.wake
	}
}

func (s *Synchronizer) run() {
	defer close(s.done)
	for {
		op, ok := s.next()
		if !ok {
			return
		}
		s.apply(op)
	}
}

func (s *Synchronizer) apply(op writeOp) {
	if op.kind == writeBarrier {
		close(op.done)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	var err error
	switch op.kind {
	case writePutTrip:
		err = s.durable.PutTrip(ctx, op.trip)
	case writeDeleteTrip:
		err = s.durable.DeleteTrip(ctx, op.key)
	case writePreference:
		if s.prefs != nil {
			err = s.prefs.SetPreference(ctx, op.key, op.value)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = WriteStatus{
		Op:       op.kind.String(),
		Key:      op.key,
		OK:       err == nil,
		At:       s.timeSource.Now(),
		Failures: s.status.Failures,
	}
	if err != nil {
		s.status.Error = err.Error()
		s.status.Failures++
		slog.Error("Failed to persist change",
			"op", op.kind.String(),
			"key", op.key,
			"error", err,
		)
	}
}

// Bootstrap loads the durable state into a new Store wired to this Synchronizer.
// Legacy data is migrated first when durable storage is empty. A failed load
// never stops startup: the store falls back to a default trip in memory.
func (s *Synchronizer) Bootstrap(ctx context.Context) (*Store, error) {
	if n, err := s.migrateLegacy(ctx); err != nil {
		slog.Error("Failed to migrate legacy trips", "error", err)
	} else if n > 0 {
		slog.Info("Migrated legacy trips", "count", n)
	}

	trips, err := s.durable.ListTrips(ctx)
	switch {
	case err != nil:
		slog.Error("Failed to load trips, starting with a default trip", "error", err)
		trips = []Trip{s.defaultTrip()}
	case len(trips) == 0:
		seed := s.defaultTrip()
		if err := s.durable.PutTrip(ctx, seed); err != nil {
			slog.Error("Failed to save default trip", "error", err)
		}
		trips = []Trip{seed}
	}

	activeID := s.preference(ctx, ActiveTripKey, LegacyActiveTripKey)
	store, err := NewStoreWithDeps(trips, activeID, s, s.idGenerator)
	if err != nil {
		return nil, fmt.Errorf("creating trip store: %w", err)
	}
	if store.ActiveID() != activeID {
		s.SaveActiveTrip(store.ActiveID())
	}
	return store, nil
}

// migrateLegacy copies the legacy trip blob into durable storage. It only runs
// while durable storage is empty, so repeated startups never duplicate or
// overwrite data. It returns the number of migrated trips.
func (s *Synchronizer) migrateLegacy(ctx context.Context) (int, error) {
	if s.legacy == nil {
		return 0, nil
	}

	data, err := s.legacy.Get(LegacyTripsKey)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading legacy trips: %w", err)
	}

	var trips []Trip
	if err := json.Unmarshal(data, &trips); err != nil {
		return 0, fmt.Errorf("decoding legacy trips: %w", err)
	}
	if len(trips) == 0 {
		return 0, nil
	}

	count, err := s.durable.CountTrips(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting trips: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	for i := range trips {
		trips[i] = s.normalizeLegacyTrip(trips[i])
	}
	if err := s.durable.PutTrips(ctx, trips); err != nil {
		return 0, fmt.Errorf("saving migrated trips: %w", err)
	}
	return len(trips), nil
}

// normalizeLegacyTrip fills ids the legacy app may have left empty and cleans receipts
func (s *Synchronizer) normalizeLegacyTrip(t Trip) Trip {
	if t.ID == "" {
		t.ID = s.idGenerator.Generate()
	}
	if strings.TrimSpace(t.Title) == "" {
		t.Title = defaultTripTitle
	}
	if t.Budget < 0 {
		t.Budget = 0
	}
	if t.Receipts == nil {
		t.Receipts = []Receipt{}
	}
	for i, r := range t.Receipts {
		if r.ID == "" {
			r.ID = s.idGenerator.Generate()
		}
		t.Receipts[i] = normalizeReceipt(r)
	}
	return t
}

// preference reads a preference and falls back to the legacy key when it was never set
func (s *Synchronizer) preference(ctx context.Context, key, legacyKey string) string {
	if s.prefs != nil {
		v, err := s.prefs.GetPreference(ctx, key)
		if err != nil {
			slog.Warn("Failed to read preference", "key", key, "error", err)
		}
		if v != "" {
			return v
		}
	}
	if s.legacy != nil {
		if data, err := s.legacy.Get(legacyKey); err == nil {
			return strings.Trim(strings.TrimSpace(string(data)), `"`)
		}
	}
	return ""
}

// Theme returns the last saved theme, dark when unset or unknown
func (s *Synchronizer) Theme(ctx context.Context) string {
	s.mu.Lock()
	theme := s.theme
	s.mu.Unlock()
	if theme == "" {
		theme = s.preference(ctx, ThemeKey, LegacyThemeKey)
	}

	switch theme {
	case ThemeLight, ThemeDark:
		return theme
	}
	return ThemeDark
}

const defaultTripTitle = "Tokyo Food Trip"

// defaultTrip is the trip created on first start
func (s *Synchronizer) defaultTrip() Trip {
	rate := 900.0
	return Trip{
		ID:             s.idGenerator.Generate(),
		Title:          defaultTripTitle,
		StartDate:      "2024-05-20",
		EndDate:        "2024-05-27",
		Budget:         5000000,
		TargetCurrency: defaultTargetCurrency,
		ExchangeRate:   &rate,
		Receipts:       []Receipt{},
	}
}
