// Package rate provides bitcoin exchange rate sources for the annotator:
// a fixed Static rate and a Poller that refreshes from an HTTP JSON endpoint
// and persists every accepted value in SQLite.
//
// Freshness is decided here, from the age of the last accepted value; the
// engine only consumes it.
package rate

import (
	"time"

	"github.com/hazyhaar/satsview/satconv"
)

// Freshness thresholds. A rate older than MaxVeryStale is expired and is
// treated by the engine exactly like no rate.
const (
	MaxFresh     = 10 * time.Minute
	MaxStale     = time.Hour
	MaxVeryStale = 24 * time.Hour
)

// Classify maps the age of a rate to its freshness.
func Classify(age time.Duration) satconv.Freshness {
	switch {
	case age < 0:
		return satconv.Fresh
	case age <= MaxFresh:
		return satconv.Fresh
	case age <= MaxStale:
		return satconv.Stale
	case age <= MaxVeryStale:
		return satconv.VeryStale
	}
	return satconv.Expired
}

// Static is a fixed rate, always reported fresh. Useful for configuration
// overrides and tests.
type Static struct {
	FiatPerBtc float64
	AsOf       time.Time
}

// CurrentRate implements satconv.RateSource. A non-positive value means no
// rate.
func (s Static) CurrentRate() (satconv.Rate, bool) {
	if s.FiatPerBtc <= 0 {
		return satconv.Rate{}, false
	}
	asOf := s.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}
	return satconv.NewRate(s.FiatPerBtc, asOf, satconv.Fresh), true
}
