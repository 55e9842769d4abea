package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

var requiredPayloadFields = []string{"merchant_name", "category", "amount", "currency", "date", "reasoning"}

// dateFormats are tried in order when a model answers with something other than ISO dates
var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"2006. 1. 2",
	"01/02/2006",
}

// stripFences removes markdown code fences around a model answer
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// extractObject returns the outermost JSON object in a model answer
func extractObject(text string) (string, error) {
	text = stripFences(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[startIdx : endIdx+1], nil
}

// parsePayload parses an analyzer answer. A missing required field makes the whole
// answer malformed; odd values are left for the normalizer.
func parsePayload(text string) (*Payload, error) {
	obj, err := extractObject(text)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	for _, name := range requiredPayloadFields {
		if _, ok := fields[name]; !ok {
			return nil, fmt.Errorf("missing required field %q", name)
		}
	}

	var data Payload
	if err := json.Unmarshal([]byte(obj), &data); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	data.MerchantName = strings.TrimSpace(data.MerchantName)
	data.Category = strings.TrimSpace(data.Category)
	data.Currency = strings.ToUpper(strings.TrimSpace(data.Currency))
	data.Date = normalizeDate(data.Date)
	data.Time = strings.TrimSpace(data.Time)
	if data.Address != nil && strings.TrimSpace(*data.Address) == "" {
		data.Address = nil
	}

	return &data, nil
}

// normalizeDate rewrites recognizable dates as YYYY-MM-DD and leaves anything else untouched
func normalizeDate(date string) string {
	date = strings.TrimSpace(date)
	for _, format := range dateFormats {
		if d, err := time.Parse(format, date); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return date
}

// parseCoordinates parses a geocoder answer. Empty, null or coordinate-less answers are a miss.
func parseCoordinates(text string) (*Coordinates, error) {
	text = stripFences(text)
	if text == "" || text == "null" {
		return nil, nil
	}

	obj, err := extractObject(text)
	if err != nil {
		return nil, nil
	}

	var raw struct {
		Latitude            *float64 `json:"latitude"`
		Longitude           *float64 `json:"longitude"`
		StandardizedAddress string   `json:"standardized_address"`
	}
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}
	if raw.Latitude == nil || raw.Longitude == nil {
		return nil, nil
	}

	return &Coordinates{
		Latitude:            *raw.Latitude,
		Longitude:           *raw.Longitude,
		StandardizedAddress: strings.TrimSpace(raw.StandardizedAddress),
	}, nil
}
