package analysis

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// Shared collapses identical concurrent geocode queries into one upstream call
type Shared struct {
	geocoder Geocoder
	group    singleflight.Group
	timeout  time.Duration
}

// NewShared wraps a geocoder
func NewShared(g Geocoder) *Shared {
	return &Shared{geocoder: g, timeout: 30 * time.Second}
}

// Geocode resolves the query, sharing the result with concurrent callers asking the
// same thing. The upstream call outlives a cancelled caller; each caller stops
// waiting when its own context ends.
func (s *Shared) Geocode(ctx context.Context, query string) (*Coordinates, error) {
	key := strings.ToLower(strings.TrimSpace(query))
	ch := s.group.DoChan(key, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.geocoder.Geocode(callCtx, query)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	coords, _ := res.Val.(*Coordinates)
	if coords == nil {
		return nil, nil
	}
	c := *coords
	return &c, nil
}
