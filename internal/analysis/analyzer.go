package analysis

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrMissingCredential is returned by every collaborator call when no API key was configured.
var ErrMissingCredential = errors.New("api key is missing")

// ErrEmptyInput is returned when neither an image nor text was supplied for analysis.
var ErrEmptyInput = errors.New("an image or text is required")

// Input is a single analysis request. At least one of Image or Text must be set.
type Input struct {
	Image       []byte
	ContentType string
	Text        string
}

// Validate checks that the input carries something to analyze
func (in Input) Validate() error {
	if len(in.Image) == 0 && in.Text == "" {
		return ErrEmptyInput
	}
	return nil
}

// Payload is the raw, untrusted analysis result. Amount is kept verbatim so the
// normalizer can decide how to coerce strings such as "1,234".
type Payload struct {
	MerchantName string          `json:"merchant_name"`
	Category     string          `json:"category"`
	Amount       json.RawMessage `json:"amount"`
	Currency     string          `json:"currency"`
	Date         string          `json:"date"`
	Time         string          `json:"time,omitempty"`
	Address      *string         `json:"address,omitempty"`
	Latitude     *float64        `json:"latitude,omitempty"`
	Longitude    *float64        `json:"longitude,omitempty"`
	Reasoning    string          `json:"reasoning"`
}

// Coordinates is a geocoding hit
type Coordinates struct {
	Latitude            float64 `json:"latitude"`
	Longitude           float64 `json:"longitude"`
	StandardizedAddress string  `json:"standardized_address,omitempty"`
}

// Analyzer extracts expense data from a receipt image or free text
type Analyzer interface {
	// Analyze sends the input to the external model and returns the parsed payload
	Analyze(ctx context.Context, in Input) (*Payload, error)
	// Close releases any client resources
	Close() error
}

// Geocoder resolves a free-text place query. A miss is reported as (nil, nil).
type Geocoder interface {
	Geocode(ctx context.Context, query string) (*Coordinates, error)
}

// Unconfigured stands in for the external collaborators when no credential is set.
// Every call fails before any network attempt.
type Unconfigured struct{}

func (Unconfigured) Analyze(ctx context.Context, in Input) (*Payload, error) {
	return nil, ErrMissingCredential
}

func (Unconfigured) Geocode(ctx context.Context, query string) (*Coordinates, error) {
	return nil, ErrMissingCredential
}

func (Unconfigured) Close() error {
	return nil
}
