package trip

import "strings"

// Category is one of the fixed expense labels
type Category string

const (
	CategoryFood        Category = "food"
	CategoryLodging     Category = "lodging"
	CategoryTransport   Category = "transport"
	CategoryShopping    Category = "shopping"
	CategorySightseeing Category = "sightseeing"
	CategoryOther       Category = "other"
)

// Categories lists every category in display order
var Categories = []Category{
	CategoryFood,
	CategoryLodging,
	CategoryTransport,
	CategoryShopping,
	CategorySightseeing,
	CategoryOther,
}

// categoryAliases also accepts the labels stored by the legacy app
var categoryAliases = map[string]Category{
	"food":        CategoryFood,
	"lodging":     CategoryLodging,
	"transport":   CategoryTransport,
	"shopping":    CategoryShopping,
	"sightseeing": CategorySightseeing,
	"other":       CategoryOther,

	"식비": CategoryFood,
	"숙소": CategoryLodging,
	"교통": CategoryTransport,
	"쇼핑": CategoryShopping,
	"관광": CategorySightseeing,
	"기타": CategoryOther,
}

// ParseCategory maps a label onto the closed category set. Unknown labels become CategoryOther.
func ParseCategory(s string) Category {
	if c, ok := categoryAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return c
	}
	return CategoryOther
}

// Valid reports whether c is one of the fixed categories
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// rank is the position of c in Categories, used to break ties deterministically
func (c Category) rank() int {
	for i, known := range Categories {
		if c == known {
			return i
		}
	}
	return len(Categories)
}

// Receipt is one normalized expense event
type Receipt struct {
	ID           string   `json:"id"`
	MerchantName string   `json:"merchant_name"`
	Category     Category `json:"category"`
	Amount       int      `json:"amount"` // Amount in the reference currency
	Currency     string   `json:"currency"`
	Date         string   `json:"date"`      // YYYY-MM-DD
	Time         string   `json:"time"`      // HH:mm
	Timestamp    int64    `json:"timestamp"` // Milliseconds since epoch
	Address      *string  `json:"address"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Note         string   `json:"reasoning"`
	Memo         string   `json:"memo,omitempty"`
}

// HasLocation reports whether both coordinates are set
func (r Receipt) HasLocation() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// clone copies r so that pointer fields are not shared
func (r Receipt) clone() Receipt {
	if r.Address != nil {
		a := *r.Address
		r.Address = &a
	}
	if r.Latitude != nil {
		lat := *r.Latitude
		r.Latitude = &lat
	}
	if r.Longitude != nil {
		lng := *r.Longitude
		r.Longitude = &lng
	}
	return r
}

// Trip is a named travel period owning a budget and its receipts
type Trip struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	StartDate      string    `json:"startDate"`
	EndDate        string    `json:"endDate"`
	Budget         int       `json:"budget"`
	TargetCurrency string    `json:"targetCurrency,omitempty"`
	ExchangeRate   *float64  `json:"exchangeRate,omitempty"`
	Receipts       []Receipt `json:"receipts"`
}

// Clone returns a deep copy of t
func (t Trip) Clone() Trip {
	if t.ExchangeRate != nil {
		rate := *t.ExchangeRate
		t.ExchangeRate = &rate
	}
	receipts := make([]Receipt, len(t.Receipts))
	for i, r := range t.Receipts {
		receipts[i] = r.clone()
	}
	t.Receipts = receipts
	return t
}

// Fields holds the scalar trip fields accepted on create and update
type Fields struct {
	Title          string   `json:"title"`
	StartDate      string   `json:"startDate"`
	EndDate        string   `json:"endDate"`
	Budget         int      `json:"budget"`
	TargetCurrency string   `json:"targetCurrency"`
	ExchangeRate   *float64 `json:"exchangeRate,omitempty"`
}

// Validate checks the fields before any mutation happens
func (f Fields) Validate() error {
	if strings.TrimSpace(f.Title) == "" {
		return &ValidationError{Field: "title", Message: "trip title is required"}
	}
	if f.Budget < 0 {
		return &ValidationError{Field: "budget", Message: "budget must not be negative"}
	}
	if f.ExchangeRate != nil && *f.ExchangeRate <= 0 {
		return &ValidationError{Field: "exchangeRate", Message: "exchange rate must be positive"}
	}
	if f.StartDate != "" && f.EndDate != "" && f.EndDate < f.StartDate {
		return &ValidationError{Field: "endDate", Message: "end date must not be before start date"}
	}
	return nil
}

// apply copies the scalar fields onto t, leaving its receipts untouched
func (f Fields) apply(t *Trip) {
	t.Title = strings.TrimSpace(f.Title)
	t.StartDate = f.StartDate
	t.EndDate = f.EndDate
	t.Budget = f.Budget
	t.TargetCurrency = strings.ToUpper(strings.TrimSpace(f.TargetCurrency))
	if t.TargetCurrency == "" {
		t.TargetCurrency = defaultTargetCurrency
	}
	t.ExchangeRate = nil
	if f.ExchangeRate != nil {
		rate := *f.ExchangeRate
		t.ExchangeRate = &rate
	}
}

const defaultTargetCurrency = "JPY"
