package trip

import (
	"context"
	"strings"

	"github.com/zombor/trip-tracker/internal/analysis"
)

// geocodeQuery prefers the stored address and falls back to the merchant name
func geocodeQuery(r Receipt) string {
	if r.Address != nil {
		if addr := strings.TrimSpace(*r.Address); addr != "" {
			return addr
		}
	}
	return strings.TrimSpace(r.MerchantName)
}

// Enrich looks up the receipt's location and returns a patched copy. Only latitude,
// longitude and (when the geocoder standardizes it) the address change. The input is
// never modified and nothing is written to the store.
func Enrich(ctx context.Context, geocoder analysis.Geocoder, r Receipt) (Receipt, error) {
	query := geocodeQuery(r)
	if query == "" {
		return r, &ValidationError{Field: "address", Message: "an address or merchant name is required to look up a location"}
	}

	coords, err := geocoder.Geocode(ctx, query)
	if err != nil {
		return r, &GeocodeError{Err: err}
	}
	if coords == nil {
		return r, ErrGeocodeMiss
	}

	patched := r.clone()
	lat, lng := coords.Latitude, coords.Longitude
	patched.Latitude, patched.Longitude = &lat, &lng
	if addr := strings.TrimSpace(coords.StandardizedAddress); addr != "" {
		patched.Address = &addr
	}
	return patched, nil
}
