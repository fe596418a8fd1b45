// Package satconv converts canonical fiat amounts into bitcoin or satoshi
// display strings. Everything here is pure and deterministic.
package satconv

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// satsPerKiloSat is the divisor of the "k sats" unit.
const satsPerKiloSat = 1_000

// KiloSatThreshold is the satoshi count from which a value may be shown
// as "k sats": one whole k sat. Abbreviation only happens when
// Options.AbbreviateSats is set; by default satoshi values are exact.
const KiloSatThreshold = satsPerKiloSat

var (
	// ErrNoRate is returned when the rate is absent, expired or not positive.
	ErrNoRate = errors.New("satconv: no usable rate")
	// ErrInvalidAmount is returned for negative or non-finite amounts.
	ErrInvalidAmount = errors.New("satconv: invalid fiat amount")
)

// Unit is the display unit of a conversion.
type Unit int

const (
	Sats Unit = iota
	KiloSats
	BTC
)

func (u Unit) String() string {
	switch u {
	case Sats:
		return "sats"
	case KiloSats:
		return "k sats"
	case BTC:
		return "BTC"
	}
	return fmt.Sprintf("unit(%d)", int(u))
}

func (u Unit) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

// Options tunes formatting.
type Options struct {
	// AbbreviateSats shows counts >= KiloSatThreshold as "k sats".
	AbbreviateSats bool `yaml:"abbreviate_sats" json:"abbreviate_sats"`
}

// Result is the annotation for one price.
type Result struct {
	OriginalText  string `json:"original_text"`
	ConvertedText string `json:"converted_text"` // e.g. "9,980 sats"
	Unit          Unit   `json:"unit"`
}

// Text is the replacement written into the document:
// "<original> (<value> <unit>) ". The trailing space keeps the annotation
// from running into the following text.
func (r Result) Text() string {
	return r.OriginalText + " (" + r.ConvertedText + ") "
}

// Convert turns a fiat amount into its annotation. Callers are expected to
// check rate.Usable first; Convert still refuses unusable input rather than
// formatting NaN or Inf.
func Convert(original string, amount float64, rate Rate, opts Options) (Result, error) {
	if !rate.Usable() {
		return Result{}, ErrNoRate
	}
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return Result{}, ErrInvalidAmount
	}

	btc := roundTo(amount/rate.FiatPerBtc, 4)
	if btc >= 1 {
		return Result{
			OriginalText:  original,
			ConvertedText: strconv.FormatFloat(btc, 'f', 4, 64) + " " + BTC.String(),
			Unit:          BTC,
		}, nil
	}

	sats := math.Round(amount / rate.FiatPerSat)
	if math.IsInf(sats, 0) || math.IsNaN(sats) {
		return Result{}, ErrInvalidAmount
	}
	if opts.AbbreviateSats && sats >= KiloSatThreshold {
		k := strconv.FormatFloat(roundTo(sats/satsPerKiloSat, 2), 'f', -1, 64)
		return Result{
			OriginalText:  original,
			ConvertedText: k + " " + KiloSats.String(),
			Unit:          KiloSats,
		}, nil
	}
	return Result{
		OriginalText:  original,
		ConvertedText: humanize.Comma(int64(sats)) + " " + Sats.String(),
		Unit:          Sats,
	}, nil
}

// annotationSuffix matches what Result.Text appends after the original text.
var annotationSuffix = regexp.MustCompile(`^ \((?:[\d,]+ sats|[\d.]+ k sats|[\d.]+ BTC)\) ?`)

// HasAnnotation reports whether s starts with an annotation suffix, i.e.
// the price right before s was already converted.
func HasAnnotation(s string) bool {
	if !strings.HasPrefix(s, " (") {
		return false
	}
	return annotationSuffix.MatchString(s)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
