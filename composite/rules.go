package composite

import (
	"fmt"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Role is the part of a price a fragment element carries.
type Role int

const (
	RoleSymbol Role = iota
	RoleWhole
	RoleDecimal
	RoleFraction
)

func (r Role) String() string {
	switch r {
	case RoleSymbol:
		return "symbol"
	case RoleWhole:
		return "whole"
	case RoleDecimal:
		return "decimal"
	case RoleFraction:
		return "fraction"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Rule describes one site's fragmented price markup with CSS selectors.
// Whole is required; Container is optional and, when set, is the element
// that wraps one visual price.
type Rule struct {
	Name      string `yaml:"name" json:"name"`
	Container string `yaml:"container" json:"container,omitempty"`
	Symbol    string `yaml:"symbol" json:"symbol,omitempty"`
	Whole     string `yaml:"whole" json:"whole"`
	Decimal   string `yaml:"decimal" json:"decimal,omitempty"`
	Fraction  string `yaml:"fraction" json:"fraction,omitempty"`
}

// DefaultRules covers the marketplace "a-price" markup:
//
//	<span class="a-price">
//	  <span class="a-offscreen">$19.99</span>
//	  <span aria-hidden="true">
//	    <span class="a-price-symbol">$</span>
//	    <span class="a-price-whole">19<span class="a-price-decimal">.</span></span>
//	    <span class="a-price-fraction">99</span>
//	  </span>
//	</span>
var DefaultRules = []Rule{
	{
		Name:      "a-price",
		Container: "span.a-price",
		Symbol:    ".a-price-symbol",
		Whole:     ".a-price-whole",
		Decimal:   ".a-price-decimal",
		Fraction:  ".a-price-fraction",
	},
}

type compiledRule struct {
	rule      Rule
	container cascadia.Selector
	symbol    cascadia.Selector
	whole     cascadia.Selector
	decimal   cascadia.Selector
	fraction  cascadia.Selector
}

func compileRule(r Rule) (*compiledRule, error) {
	if r.Whole == "" {
		return nil, fmt.Errorf("composite: rule %q has no whole selector", r.Name)
	}
	cr := &compiledRule{rule: r}
	for _, f := range []struct {
		src string
		dst *cascadia.Selector
	}{
		{r.Container, &cr.container},
		{r.Symbol, &cr.symbol},
		{r.Whole, &cr.whole},
		{r.Decimal, &cr.decimal},
		{r.Fraction, &cr.fraction},
	} {
		if f.src == "" {
			continue
		}
		sel, err := cascadia.Compile(f.src)
		if err != nil {
			return nil, fmt.Errorf("composite: rule %q: selector %q: %w", r.Name, f.src, err)
		}
		*f.dst = sel
	}
	return cr, nil
}

// role returns the fragment role n plays under this rule.
func (cr *compiledRule) role(n *html.Node) (Role, bool) {
	switch {
	case cr.whole != nil && cr.whole.Match(n):
		return RoleWhole, true
	case cr.fraction != nil && cr.fraction.Match(n):
		return RoleFraction, true
	case cr.symbol != nil && cr.symbol.Match(n):
		return RoleSymbol, true
	case cr.decimal != nil && cr.decimal.Match(n):
		return RoleDecimal, true
	}
	return 0, false
}
