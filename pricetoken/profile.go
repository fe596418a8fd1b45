package pricetoken

import (
	"fmt"
	"regexp"
	"strings"
)

// Profile is the currency profile a scan session recognizes. It is static
// for the lifetime of a Recognizer.
type Profile struct {
	Symbol             string `yaml:"symbol" json:"symbol"`
	Code               string `yaml:"code" json:"code"`
	ThousandsSeparator string `yaml:"thousands_separator" json:"thousands_separator"`
	DecimalSeparator   string `yaml:"decimal_separator" json:"decimal_separator"`
}

// USD is the default profile.
var USD = Profile{
	Symbol:             "$",
	Code:               "USD",
	ThousandsSeparator: ",",
	DecimalSeparator:   ".",
}

// Validate reports whether the profile can be compiled into patterns.
func (p Profile) Validate() error {
	if p.Symbol == "" && p.Code == "" {
		return fmt.Errorf("pricetoken: profile needs a symbol or a code")
	}
	if p.DecimalSeparator == "" {
		return fmt.Errorf("pricetoken: profile needs a decimal separator")
	}
	if p.DecimalSeparator == p.ThousandsSeparator {
		return fmt.Errorf("pricetoken: decimal and thousands separators are both %q", p.DecimalSeparator)
	}
	return nil
}

// indicatorPattern builds the alternation for the symbol and the code as
// the named groups "sym" and "code". Empty parts are left out.
func (p Profile) indicatorPattern() string {
	var alts []string
	if p.Symbol != "" {
		alts = append(alts, `(?P<sym>`+regexp.QuoteMeta(p.Symbol)+`)`)
	}
	if p.Code != "" {
		alts = append(alts, `(?P<code>`+regexp.QuoteMeta(p.Code)+`)`)
	}
	return "(?:" + strings.Join(alts, "|") + ")"
}

// numberPattern captures the integer part ("int"), the fraction digits
// ("frac") and the magnitude suffix ("suf"). The fraction is captured
// greedily so over-long fractions are rejected instead of truncated.
func (p Profile) numberPattern() string {
	integer := `\d+`
	if p.ThousandsSeparator != "" {
		ts := regexp.QuoteMeta(p.ThousandsSeparator)
		integer = `\d{1,3}(?:` + ts + `\d{3})+|\d+`
	}
	ds := regexp.QuoteMeta(p.DecimalSeparator)
	return `(?P<int>` + integer + `)(?:` + ds + `(?P<frac>\d+))?(?P<suf>[kKmMbBtT])?`
}

// stripThousands removes the thousands separator from an integer part.
func (p Profile) stripThousands(s string) string {
	if p.ThousandsSeparator == "" {
		return s
	}
	return strings.ReplaceAll(s, p.ThousandsSeparator, "")
}
