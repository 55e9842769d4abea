package trip

import (
	"errors"
	"fmt"
)

var (
	ErrTripNotFound    = errors.New("trip not found")
	ErrReceiptNotFound = errors.New("receipt not found")

	// ErrGeocodeMiss means the geocoder answered but found nothing
	ErrGeocodeMiss = errors.New("location not found, try a more specific location")

	ErrLastTrip          = &ConstraintError{Message: "at least one trip must exist"}
	ErrIngestionInFlight = &ConstraintError{Message: "another receipt is already being analyzed for this trip"}
)

// ValidationError is returned when required input is missing or malformed
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ConstraintError is returned when an operation would break a store invariant
type ConstraintError struct {
	Message string
}

func (e *ConstraintError) Error() string {
	return e.Message
}

// AnalysisError wraps any failure of the external analyzer
type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analyzing receipt: %v", e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// GeocodeError wraps a transport failure of the geocoder
type GeocodeError struct {
	Err error
}

func (e *GeocodeError) Error() string {
	return fmt.Sprintf("geocoding: %v", e.Err)
}

func (e *GeocodeError) Unwrap() error {
	return e.Err
}
