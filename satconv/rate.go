package satconv

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// SatsPerBTC is the number of satoshis in one bitcoin.
const SatsPerBTC = 100_000_000

// Freshness classifies how old a rate is. It is decided by the rate
// provider, not by this package.
type Freshness int

const (
	Fresh Freshness = iota
	Stale
	VeryStale
	Expired
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case VeryStale:
		return "very_stale"
	case Expired:
		return "expired"
	}
	return fmt.Sprintf("freshness(%d)", int(f))
}

// ParseFreshness parses the text form produced by String.
func ParseFreshness(s string) (Freshness, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fresh":
		return Fresh, nil
	case "stale":
		return Stale, nil
	case "very_stale":
		return VeryStale, nil
	case "expired":
		return Expired, nil
	}
	return Expired, fmt.Errorf("satconv: unknown freshness %q", s)
}

func (f Freshness) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Freshness) UnmarshalText(b []byte) error {
	v, err := ParseFreshness(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Rate is the exchange rate snapshot a scan cycle converts with.
type Rate struct {
	FiatPerBtc float64   `json:"fiat_per_btc"`
	FiatPerSat float64   `json:"fiat_per_sat"`
	AsOf       time.Time `json:"as_of"`
	Freshness  Freshness `json:"freshness"`
}

// NewRate builds a Rate, deriving the per-satoshi price.
func NewRate(fiatPerBtc float64, asOf time.Time, freshness Freshness) Rate {
	return Rate{
		FiatPerBtc: fiatPerBtc,
		FiatPerSat: fiatPerBtc / SatsPerBTC,
		AsOf:       asOf,
		Freshness:  freshness,
	}
}

// Usable reports whether the rate may be used for conversion. An expired
// rate is treated exactly like no rate at all.
func (r Rate) Usable() bool {
	if r.Freshness == Expired {
		return false
	}
	return positiveFinite(r.FiatPerBtc) && positiveFinite(r.FiatPerSat)
}

// RateSource is the capability the engine consumes from the rate provider.
// CurrentRate must not block on I/O; ok is false when no rate is known.
type RateSource interface {
	CurrentRate() (rate Rate, ok bool)
}

// RateFunc adapts a function to RateSource.
type RateFunc func() (Rate, bool)

func (f RateFunc) CurrentRate() (Rate, bool) { return f() }

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
