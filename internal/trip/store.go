package trip

import (
	"errors"
	"fmt"
	"sync"
)

// Sink receives every store mutation for write-through persistence.
// Implementations must return immediately; they are called with the store lock held
// so that writes are observed in mutation order.
type Sink interface {
	SaveTrip(t Trip)
	DeleteTrip(id string)
	SaveActiveTrip(id string)
}

// Store holds the authoritative list of trips and the active trip id.
// All mutations go through its methods so the invariants hold in one place:
// the list is never empty, the active id always names an existing trip, and
// every receipt id is owned by exactly one trip.
type Store struct {
	mu          sync.Mutex
	trips       []Trip
	activeID    string
	sink        Sink
	idGenerator IDGenerator
	ingesting   map[string]bool
}

// NewStore creates a Store from loaded trips. An unknown activeID falls back to the first trip.
func NewStore(trips []Trip, activeID string, sink Sink) (*Store, error) {
	return NewStoreWithDeps(trips, activeID, sink, &defaultIDGenerator{})
}

// NewStoreWithDeps creates a Store with a custom ID generator for testing
func NewStoreWithDeps(trips []Trip, activeID string, sink Sink, idGen IDGenerator) (*Store, error) {
	if len(trips) == 0 {
		return nil, errors.New("trip store requires at least one trip")
	}

	s := &Store{
		trips:       make([]Trip, len(trips)),
		sink:        sink,
		idGenerator: idGen,
		ingesting:   make(map[string]bool),
	}
	for i, t := range trips {
		s.trips[i] = t.Clone()
	}
	s.activeID = s.trips[0].ID
	if s.indexOf(activeID) >= 0 {
		s.activeID = activeID
	}
	return s, nil
}

// indexOf returns the position of the trip with the given id, or -1
func (s *Store) indexOf(id string) int {
	for i := range s.trips {
		if s.trips[i].ID == id {
			return i
		}
	}
	return -1
}

// resolve maps an empty id to the active trip and returns the trip's position
func (s *Store) resolve(id string) (int, error) {
	if id == "" {
		id = s.activeID
	}
	i := s.indexOf(id)
	if i < 0 {
		return -1, fmt.Errorf("%w: %s", ErrTripNotFound, id)
	}
	return i, nil
}

// owner returns the id of the trip holding the receipt, or ""
func (s *Store) owner(receiptID string) string {
	for _, t := range s.trips {
		for _, r := range t.Receipts {
			if r.ID == receiptID {
				return t.ID
			}
		}
	}
	return ""
}

func (s *Store) persist(i int) {
	if s.sink != nil {
		s.sink.SaveTrip(s.trips[i].Clone())
	}
}

func (s *Store) persistActive() {
	if s.sink != nil {
		s.sink.SaveActiveTrip(s.activeID)
	}
}

// Trips returns a copy of every trip
func (s *Store) Trips() []Trip {
	s.mu.Lock()
	defer s.mu.Unlock()

	trips := make([]Trip, len(s.trips))
	for i, t := range s.trips {
		trips[i] = t.Clone()
	}
	return trips
}

// Trip returns a copy of one trip. An empty id means the active trip.
func (s *Store) Trip(id string) (Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.resolve(id)
	if err != nil {
		return Trip{}, err
	}
	return s.trips[i].Clone(), nil
}

// ActiveID returns the id of the active trip
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// ActiveTrip returns a copy of the active trip
func (s *Store) ActiveTrip() Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.trips[s.indexOf(s.activeID)].Clone()
}

// AddTrip creates a trip, places it first and makes it active
func (s *Store) AddTrip(f Fields) (Trip, error) {
	if err := f.Validate(); err != nil {
		return Trip{}, err
	}

	t := Trip{ID: s.idGenerator.Generate(), Receipts: []Receipt{}}
	f.apply(&t)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.trips = append([]Trip{t}, s.trips...)
	s.activeID = t.ID
	s.persist(0)
	s.persistActive()
	return t.Clone(), nil
}

// UpdateTrip replaces the scalar fields of a trip. Its receipts are kept.
func (s *Store) UpdateTrip(id string, f Fields) (Trip, error) {
	if err := f.Validate(); err != nil {
		return Trip{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.resolve(id)
	if err != nil {
		return Trip{}, err
	}
	f.apply(&s.trips[i])
	s.persist(i)
	return s.trips[i].Clone(), nil
}

// DeleteTrip removes a trip and its receipts. The last remaining trip cannot be
// deleted; deleting the active trip activates the first remaining one.
func (s *Store) DeleteTrip(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrTripNotFound, id)
	}
	if len(s.trips) <= 1 {
		return ErrLastTrip
	}

	s.trips = append(s.trips[:i:i], s.trips[i+1:]...)
	delete(s.ingesting, id)
	if s.sink != nil {
		s.sink.DeleteTrip(id)
	}
	if s.activeID == id {
		s.activeID = s.trips[0].ID
		s.persistActive()
	}
	return nil
}

// SelectTrip makes a trip active
func (s *Store) SelectTrip(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(id) < 0 {
		return fmt.Errorf("%w: %s", ErrTripNotFound, id)
	}
	s.activeID = id
	s.persistActive()
	return nil
}

// AddReceipt prepends a receipt to a trip
func (s *Store) AddReceipt(tripID string, r Receipt) (Receipt, error) {
	if r.ID == "" {
		return Receipt{}, &ValidationError{Field: "id", Message: "receipt id is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.resolve(tripID)
	if err != nil {
		return Receipt{}, err
	}
	if owner := s.owner(r.ID); owner != "" {
		return Receipt{}, &ConstraintError{Message: fmt.Sprintf("receipt %s already exists", r.ID)}
	}

	r = r.clone()
	s.trips[i].Receipts = append([]Receipt{r}, s.trips[i].Receipts...)
	s.persist(i)
	return r.clone(), nil
}

// UpsertReceipt replaces the receipt with the same id, or prepends it when the trip
// has no such receipt. The returned flag reports whether the receipt was created.
func (s *Store) UpsertReceipt(tripID string, r Receipt) (Receipt, bool, error) {
	if r.ID == "" {
		return Receipt{}, false, &ValidationError{Field: "id", Message: "receipt id is required"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.resolve(tripID)
	if err != nil {
		return Receipt{}, false, err
	}
	if owner := s.owner(r.ID); owner != "" && owner != s.trips[i].ID {
		return Receipt{}, false, &ConstraintError{Message: fmt.Sprintf("receipt %s belongs to another trip", r.ID)}
	}

	r = r.clone()
	created := true
	for j := range s.trips[i].Receipts {
		if s.trips[i].Receipts[j].ID == r.ID {
			s.trips[i].Receipts[j] = r
			created = false
			break
		}
	}
	if created {
		s.trips[i].Receipts = append([]Receipt{r}, s.trips[i].Receipts...)
	}
	s.persist(i)
	return r.clone(), created, nil
}

// UpdateReceipt applies update to the current value of one receipt. The id cannot change.
func (s *Store) UpdateReceipt(tripID, receiptID string, update func(*Receipt)) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.resolve(tripID)
	if err != nil {
		return Receipt{}, err
	}
	for j := range s.trips[i].Receipts {
		if s.trips[i].Receipts[j].ID != receiptID {
			continue
		}
		r := s.trips[i].Receipts[j].clone()
		update(&r)
		r.ID = receiptID
		s.trips[i].Receipts[j] = r
		s.persist(i)
		return r.clone(), nil
	}
	return Receipt{}, fmt.Errorf("%w: %s", ErrReceiptNotFound, receiptID)
}

// Receipt returns a copy of one receipt of a trip
func (s *Store) Receipt(tripID, receiptID string) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.resolve(tripID)
	if err != nil {
		return Receipt{}, err
	}
	for _, r := range s.trips[i].Receipts {
		if r.ID == receiptID {
			return r.clone(), nil
		}
	}
	return Receipt{}, fmt.Errorf("%w: %s", ErrReceiptNotFound, receiptID)
}

// DeleteReceipt removes one receipt from a trip
func (s *Store) DeleteReceipt(tripID, receiptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.resolve(tripID)
	if err != nil {
		return err
	}
	receipts := s.trips[i].Receipts
	for j := range receipts {
		if receipts[j].ID == receiptID {
			s.trips[i].Receipts = append(receipts[:j:j], receipts[j+1:]...)
			s.persist(i)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrReceiptNotFound, receiptID)
}

// ResetReceipts removes every receipt of a trip
func (s *Store) ResetReceipts(tripID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.resolve(tripID)
	if err != nil {
		return err
	}
	s.trips[i].Receipts = []Receipt{}
	s.persist(i)
	return nil
}

// BeginIngestion marks a trip as having an analysis in flight. A second call for the
// same trip fails with ErrIngestionInFlight until the returned release func runs.
func (s *Store) BeginIngestion(tripID string) (string, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, err := s.resolve(tripID)
	if err != nil {
		return "", nil, err
	}
	id := s.trips[i].ID
	if s.ingesting[id] {
		return "", nil, ErrIngestionInFlight
	}
	s.ingesting[id] = true

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.ingesting, id)
			s.mu.Unlock()
		})
	}
	return id, release, nil
}
