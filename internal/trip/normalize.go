package trip

import (
	"encoding/json"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/trip-tracker/internal/analysis"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"

	// defaultClock is used when the analyzer could not read a time
	defaultClock = "12:00"

	// ManualEntryNote marks receipts created by hand rather than by analysis
	ManualEntryNote = "Manually added entry."

	maxAmount = 1e15
)

// leadingNumber matches the numeric prefix of an amount string once separators are removed
var leadingNumber = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)

// currencyCode matches currency codes such as KRW or JPY
var currencyCode = regexp.MustCompile(`^\p{L}+$`)

// IDGenerator generates unique IDs for receipts and trips
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Normalizer turns analysis payloads and manual-entry requests into canonical receipts
type Normalizer struct {
	referenceCurrency string
	location          *time.Location
	idGenerator       IDGenerator
	timeSource        TimeSource
}

// NewNormalizer creates a Normalizer with a random ID generator and the wall clock
func NewNormalizer(referenceCurrency string, location *time.Location) *Normalizer {
	return NewNormalizerWithDeps(referenceCurrency, location, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewNormalizerWithDeps creates a Normalizer with custom dependencies for testing
func NewNormalizerWithDeps(referenceCurrency string, location *time.Location, idGen IDGenerator, timeSrc TimeSource) *Normalizer {
	if location == nil {
		location = time.Local
	}
	referenceCurrency = strings.ToUpper(strings.TrimSpace(referenceCurrency))
	if referenceCurrency == "" {
		referenceCurrency = "KRW"
	}
	return &Normalizer{
		referenceCurrency: referenceCurrency,
		location:          location,
		idGenerator:       idGen,
		timeSource:        timeSrc,
	}
}

// ReferenceCurrency is the currency every amount is normalized to
func (n *Normalizer) ReferenceCurrency() string {
	return n.referenceCurrency
}

// FromAnalysis builds a receipt from an analyzer payload. It never fails: an unreadable
// amount becomes 0 and an unreadable date/time falls back to the ingestion time.
func (n *Normalizer) FromAnalysis(p *analysis.Payload) Receipt {
	now := n.timeSource.Now().In(n.location)

	date := strings.TrimSpace(p.Date)
	clock := strings.TrimSpace(p.Time)
	if clock == "" {
		clock = defaultClock
	}

	var timestamp int64
	ts, err := time.ParseInLocation(dateLayout+"T"+clockLayout, date+"T"+clock, n.location)
	if err != nil {
		slog.Warn("Receipt date/time unparsable, using ingestion time",
			"date", p.Date,
			"time", p.Time,
			"error", err,
		)
		timestamp = now.UnixMilli()
		if _, err := time.Parse(dateLayout, date); err != nil {
			date = now.Format(dateLayout)
		}
		if _, err := time.Parse(clockLayout, clock); err != nil {
			clock = now.Format(clockLayout)
		}
	} else {
		timestamp = ts.UnixMilli()
	}

	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = n.referenceCurrency
	}

	r := Receipt{
		ID:           n.idGenerator.Generate(),
		MerchantName: strings.TrimSpace(p.MerchantName),
		Category:     ParseCategory(p.Category),
		Amount:       coerceAmount(p.Amount),
		Currency:     currency,
		Date:         date,
		Time:         clock,
		Timestamp:    timestamp,
		Note:         strings.TrimSpace(p.Reasoning),
	}
	if p.Address != nil {
		if addr := strings.TrimSpace(*p.Address); addr != "" {
			r.Address = &addr
		}
	}
	if validCoordinates(p.Latitude, p.Longitude) {
		lat, lng := *p.Latitude, *p.Longitude
		r.Latitude, r.Longitude = &lat, &lng
	}
	return r
}

// Manual builds an empty draft receipt for hand entry
func (n *Normalizer) Manual() Receipt {
	now := n.timeSource.Now().In(n.location)
	return Receipt{
		ID:        n.idGenerator.Generate(),
		Category:  CategoryFood,
		Currency:  n.referenceCurrency,
		Date:      now.Format(dateLayout),
		Time:      now.Format(clockLayout),
		Timestamp: now.UnixMilli(),
		Note:      ManualEntryNote,
	}
}

// Clean prepares a client-edited receipt for storage. Date must be YYYY-MM-DD, time
// HH:mm and currency letters only. The timestamp is re-derived from date and time.
func (n *Normalizer) Clean(r Receipt) (Receipt, error) {
	r = normalizeReceipt(r)
	r.Date = strings.TrimSpace(r.Date)
	r.Time = strings.TrimSpace(r.Time)
	if r.Currency == "" {
		r.Currency = n.referenceCurrency
	}

	day, err := time.Parse(dateLayout, r.Date)
	if err != nil {
		return Receipt{}, &ValidationError{Field: "date", Message: "date must be formatted as YYYY-MM-DD"}
	}
	clock, err := time.Parse(clockLayout, r.Time)
	if err != nil {
		return Receipt{}, &ValidationError{Field: "time", Message: "time must be formatted as HH:mm"}
	}
	if !currencyCode.MatchString(r.Currency) {
		return Receipt{}, &ValidationError{Field: "currency", Message: "currency must contain letters only"}
	}

	r.Timestamp = time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, n.location).UnixMilli()
	return r, nil
}

// coerceAmount rounds a JSON number or numeric string to an integer.
// Anything unreadable or negative becomes 0.
func coerceAmount(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0
	}

	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", "")
		m := leadingNumber.FindString(s)
		if m == "" {
			return 0
		}
		parsed, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > maxAmount {
		return 0
	}
	return int(math.Round(f))
}

// validCoordinates requires both values, each within range
func validCoordinates(lat, lng *float64) bool {
	if lat == nil || lng == nil {
		return false
	}
	return *lat >= -90 && *lat <= 90 && *lng >= -180 && *lng <= 180
}

// normalizeReceipt cleans a receipt coming from a client or the legacy store so it
// satisfies the model invariants before it is stored.
func normalizeReceipt(r Receipt) Receipt {
	r = r.clone()
	r.MerchantName = strings.TrimSpace(r.MerchantName)
	r.Category = ParseCategory(string(r.Category))
	if r.Amount < 0 {
		r.Amount = 0
	}
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
	if strings.TrimSpace(r.Time) == "" {
		r.Time = defaultClock
	}
	if !validCoordinates(r.Latitude, r.Longitude) {
		r.Latitude, r.Longitude = nil, nil
	}
	if r.Address != nil && strings.TrimSpace(*r.Address) == "" {
		r.Address = nil
	}
	return r
}
