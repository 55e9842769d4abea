package trip

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zombor/trip-tracker/internal/analysis"
)

// Preferences is the persistence side the service needs beyond the store
type Preferences interface {
	Theme(ctx context.Context) string
	SaveTheme(theme string)
	LastWriteStatus() WriteStatus
}

// Service coordinates the store with the external analyzer and geocoder
type Service struct {
	store       *Store
	normalizer  *Normalizer
	analyzer    analysis.Analyzer
	geocoder    analysis.Geocoder
	durable     DurableStore
	preferences Preferences
}

// NewService creates a new Service
func NewService(store *Store, normalizer *Normalizer, analyzer analysis.Analyzer, geocoder analysis.Geocoder, durable DurableStore, preferences Preferences) *Service {
	return &Service{
		store:       store,
		normalizer:  normalizer,
		analyzer:    analyzer,
		geocoder:    geocoder,
		durable:     durable,
		preferences: preferences,
	}
}

// Trips returns every trip
func (s *Service) Trips() []Trip {
	return s.store.Trips()
}

// Trip returns one trip. An empty id means the active trip.
func (s *Service) Trip(id string) (Trip, error) {
	return s.store.Trip(id)
}

// ActiveTrip returns the active trip
func (s *Service) ActiveTrip() Trip {
	return s.store.ActiveTrip()
}

// AddTrip creates a trip and makes it active
func (s *Service) AddTrip(f Fields) (Trip, error) {
	t, err := s.store.AddTrip(f)
	if err != nil {
		return Trip{}, err
	}
	slog.Info("Created trip", "trip_id", t.ID, "title", t.Title)
	return t, nil
}

// UpdateTrip edits the scalar fields of a trip
func (s *Service) UpdateTrip(id string, f Fields) (Trip, error) {
	return s.store.UpdateTrip(id, f)
}

// DeleteTrip removes a trip and returns the id of the trip active afterwards
func (s *Service) DeleteTrip(id string) (string, error) {
	if err := s.store.DeleteTrip(id); err != nil {
		return "", err
	}
	slog.Info("Deleted trip", "trip_id", id)
	return s.store.ActiveID(), nil
}

// SelectTrip makes a trip active
func (s *Service) SelectTrip(id string) error {
	return s.store.SelectTrip(id)
}

// ResetReceipts deletes every receipt of a trip
func (s *Service) ResetReceipts(tripID string) error {
	if err := s.store.ResetReceipts(tripID); err != nil {
		return err
	}
	slog.Info("Reset trip receipts", "trip_id", tripID)
	return nil
}

// Ingest analyzes a receipt image or text and adds the result to a trip.
// A failed analysis leaves the trip untouched.
func (s *Service) Ingest(ctx context.Context, tripID string, in analysis.Input) (Receipt, error) {
	if err := in.Validate(); err != nil {
		return Receipt{}, &ValidationError{Field: "file", Message: err.Error()}
	}

	id, release, err := s.store.BeginIngestion(tripID)
	if err != nil {
		return Receipt{}, err
	}
	defer release()

	payload, err := s.analyzer.Analyze(ctx, in)
	if err != nil {
		slog.Error("Failed to analyze receipt",
			"trip_id", id,
			"content_type", in.ContentType,
			"file_size", len(in.Image),
			"text_length", len(in.Text),
			"error", err,
		)
		return Receipt{}, &AnalysisError{Err: err}
	}

	r, err := s.store.AddReceipt(id, s.normalizer.FromAnalysis(payload))
	if err != nil {
		return Receipt{}, fmt.Errorf("adding receipt: %w", err)
	}
	return r, nil
}

// Draft returns an unsaved receipt for manual entry
func (s *Service) Draft() Receipt {
	return s.normalizer.Manual()
}

// SaveReceipt stores an edited or manually entered receipt. It reports whether the
// receipt was created.
func (s *Service) SaveReceipt(tripID string, r Receipt) (Receipt, bool, error) {
	if strings.TrimSpace(r.ID) == "" {
		return Receipt{}, false, &ValidationError{Field: "id", Message: "receipt id is required"}
	}
	cleaned, err := s.normalizer.Clean(r)
	if err != nil {
		return Receipt{}, false, err
	}
	return s.store.UpsertReceipt(tripID, cleaned)
}

// DeleteReceipt removes a receipt from a trip
func (s *Service) DeleteReceipt(tripID, receiptID string) error {
	return s.store.DeleteReceipt(tripID, receiptID)
}

// GeocodeDraft looks up the location of an unsaved receipt. Nothing is stored.
func (s *Service) GeocodeDraft(ctx context.Context, r Receipt) (Receipt, error) {
	return Enrich(ctx, s.geocoder, r)
}

// GeocodeReceipt looks up the location of a stored receipt and merges it into the
// receipt's current value.
func (s *Service) GeocodeReceipt(ctx context.Context, tripID, receiptID string) (Receipt, error) {
	current, err := s.store.Receipt(tripID, receiptID)
	if err != nil {
		return Receipt{}, err
	}

	patched, err := Enrich(ctx, s.geocoder, current)
	if err != nil {
		return Receipt{}, err
	}

	standardized := !sameAddress(current.Address, patched.Address)
	return s.store.UpdateReceipt(tripID, receiptID, func(r *Receipt) {
		r.Latitude, r.Longitude = patched.Latitude, patched.Longitude
		if standardized {
			r.Address = patched.Address
		}
	})
}

// Summary computes the budget view of a trip
func (s *Service) Summary(tripID string) (Summary, error) {
	t, err := s.store.Trip(tripID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(t), nil
}

// Timeline returns a trip's receipts newest first, optionally limited to one category
func (s *Service) Timeline(tripID, category string) ([]Receipt, error) {
	filter, err := parseFilter(category)
	if err != nil {
		return nil, err
	}
	t, err := s.store.Trip(tripID)
	if err != nil {
		return nil, err
	}
	return Timeline(t.Receipts, filter), nil
}

// parseFilter accepts "", "all" or a known category label
func parseFilter(category string) (Category, error) {
	label := strings.ToLower(strings.TrimSpace(category))
	if label == "" || label == "all" {
		return "", nil
	}
	c, ok := categoryAliases[label]
	if !ok {
		return "", &ValidationError{Field: "category", Message: fmt.Sprintf("unknown category %q", category)}
	}
	return c, nil
}

// Dates groups a trip's receipts by calendar date
func (s *Service) Dates(tripID string) ([]DateGroup, error) {
	t, err := s.store.Trip(tripID)
	if err != nil {
		return nil, err
	}
	return DateGroups(t.Receipts), nil
}

// ExportJSON renders a trip backup
func (s *Service) ExportJSON(tripID string) (*Export, error) {
	t, err := s.store.Trip(tripID)
	if err != nil {
		return nil, err
	}
	return ExportJSON(t)
}

// ExportCSV renders a trip's receipts as CSV
func (s *Service) ExportCSV(tripID string) (*Export, error) {
	t, err := s.store.Trip(tripID)
	if err != nil {
		return nil, err
	}
	return ExportCSV(t), nil
}

// FindTrips searches durable storage by title and date range. With no criteria
// it returns the in-memory trips.
func (s *Service) FindTrips(ctx context.Context, title, from, to string) ([]Trip, error) {
	title = strings.TrimSpace(title)
	if title == "" && from == "" && to == "" {
		return s.store.Trips(), nil
	}
	if from != "" && to != "" && to < from {
		return nil, &ValidationError{Field: "to", Message: "range end must not be before range start"}
	}

	if title == "" {
		trips, err := s.durable.FindTripsInRange(ctx, from, to)
		if err != nil {
			return nil, fmt.Errorf("finding trips in range: %w", err)
		}
		return trips, nil
	}

	trips, err := s.durable.FindTripsByTitle(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("finding trips by title: %w", err)
	}
	matched := make([]Trip, 0, len(trips))
	for _, t := range trips {
		if overlaps(t, from, to) {
			matched = append(matched, t)
		}
	}
	return matched, nil
}

// Theme returns the stored theme preference
func (s *Service) Theme(ctx context.Context) string {
	return s.preferences.Theme(ctx)
}

// SetTheme stores the theme preference
func (s *Service) SetTheme(theme string) (string, error) {
	theme = strings.ToLower(strings.TrimSpace(theme))
	if theme != ThemeLight && theme != ThemeDark {
		return "", &ValidationError{Field: "theme", Message: "theme must be light or dark"}
	}
	s.preferences.SaveTheme(theme)
	return theme, nil
}

// PersistenceStatus reports the outcome of the latest background write
func (s *Service) PersistenceStatus() WriteStatus {
	return s.preferences.LastWriteStatus()
}

func sameAddress(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
