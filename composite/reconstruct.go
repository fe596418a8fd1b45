// Package composite rebuilds prices whose visible text is split across
// several sibling elements (symbol, whole part, fraction) and annotates
// them with a single new element.
//
// A Reconstructor holds no state between calls; callers own idempotence
// tracking and the document itself.
package composite

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/satsview/pricetoken"
)

// ErrMalformed is returned when a container's fragments cannot be turned
// into a price, even through the text fallbacks.
var ErrMalformed = errors.New("composite: malformed price fragments")

// DefaultMaxDepth bounds the ancestor walk from a fragment to its container.
const DefaultMaxDepth = 6

// Source tells which strategy produced a Price.
type Source int

const (
	SourceStructure Source = iota // fragments extracted by role
	SourceText                    // recognizer on the container text
	SourceLoose                   // permissive recognizer on the container text
)

func (s Source) String() string {
	switch s {
	case SourceStructure:
		return "structure"
	case SourceText:
		return "text"
	case SourceLoose:
		return "loose"
	}
	return fmt.Sprintf("source(%d)", int(s))
}

func (s Source) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Components are the raw fragment texts of one composite price.
type Components struct {
	Symbol   string
	Whole    string // digits with optional thousands separators
	Fraction string // digits only, may be empty
}

// Fragment is one element contributing part of a composite price. It is a
// read-only view; the node is never written to.
type Fragment struct {
	Role Role
	Node *html.Node
}

// Price is a reconstructed amount and the display text it was read as.
type Price struct {
	Amount float64
	Text   string
	Source Source
}

// Reconstructor detects and rebuilds composite prices for a set of rules.
type Reconstructor struct {
	rules    []*compiledRule
	rec      *pricetoken.Recognizer
	maxDepth int
}

// New compiles rules. An empty rules slice means DefaultRules.
func New(rules []Rule, rec *pricetoken.Recognizer) (*Reconstructor, error) {
	if rec == nil {
		return nil, errors.New("composite: nil recognizer")
	}
	if len(rules) == 0 {
		rules = DefaultRules
	}
	r := &Reconstructor{rec: rec, maxDepth: DefaultMaxDepth}
	for _, rule := range rules {
		cr, err := compileRule(rule)
		if err != nil {
			return nil, err
		}
		r.rules = append(r.rules, cr)
	}
	return r, nil
}

// SetMaxDepth changes the ancestor walk bound. Values < 1 are ignored.
func (r *Reconstructor) SetMaxDepth(d int) {
	if d >= 1 {
		r.maxDepth = d
	}
}

// IsFragment reports whether n is a price fragment under any rule.
func (r *Reconstructor) IsFragment(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, cr := range r.rules {
		if _, ok := cr.role(n); ok {
			return true
		}
	}
	return false
}

// IsContainer reports whether n matches a rule's container selector.
func (r *Reconstructor) IsContainer(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, cr := range r.rules {
		if cr.container != nil && cr.container.Match(n) {
			return true
		}
	}
	return false
}

// DetectContainer walks up from a fragment, at most maxDepth levels, to the
// element that holds one whole price. It returns nil when n is not a
// fragment or no such ancestor exists within the bound.
func (r *Reconstructor) DetectContainer(n *html.Node) *html.Node {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	for _, cr := range r.rules {
		if _, ok := cr.role(n); !ok {
			continue
		}
		if c := r.climb(cr, n); c != nil {
			return c
		}
	}
	return nil
}

func (r *Reconstructor) climb(cr *compiledRule, n *html.Node) *html.Node {
	p := n.Parent
	for depth := 0; p != nil && p.Type == html.ElementNode && depth < r.maxDepth; depth++ {
		if cr.container != nil {
			if cr.container.Match(p) && hasMatch(p, cr.whole) {
				return p
			}
		} else if hasMatch(p, cr.whole) && (hasMatch(p, cr.symbol) || hasMatch(p, cr.fraction)) {
			return p
		}
		p = p.Parent
	}
	return nil
}

// ruleForContainer picks the rule that explains container.
func (r *Reconstructor) ruleForContainer(container *html.Node) *compiledRule {
	for _, cr := range r.rules {
		if cr.container != nil && !cr.container.Match(container) {
			continue
		}
		if hasMatch(container, cr.whole) {
			return cr
		}
	}
	return nil
}

// Fragments lists the fragments under container in document order.
func (r *Reconstructor) Fragments(container *html.Node) []Fragment {
	cr := r.ruleForContainer(container)
	if cr == nil {
		return nil
	}
	var out []Fragment
	goquery.NewDocumentFromNode(container).Find("*").Each(func(_ int, s *goquery.Selection) {
		n := s.Get(0)
		if role, ok := cr.role(n); ok {
			out = append(out, Fragment{Role: role, Node: n})
		}
	})
	return out
}

// ExtractComponents reads the fragments of container by role. A container
// with zero or several whole fragments is malformed.
func (r *Reconstructor) ExtractComponents(container *html.Node) (Components, error) {
	if container == nil || container.Type != html.ElementNode {
		return Components{}, ErrMalformed
	}
	cr := r.ruleForContainer(container)
	if cr == nil {
		return Components{}, ErrMalformed
	}
	doc := goquery.NewDocumentFromNode(container)

	wholes := doc.FindMatcher(cr.whole)
	if wholes.Length() != 1 {
		return Components{}, fmt.Errorf("%w: %d whole fragments", ErrMalformed, wholes.Length())
	}
	p := r.rec.Profile()
	whole := cleanWhole(wholes.Text(), p)
	if whole == "" {
		return Components{}, fmt.Errorf("%w: empty whole part", ErrMalformed)
	}

	var c Components
	c.Whole = whole
	if cr.symbol != nil {
		c.Symbol = strings.TrimSpace(doc.FindMatcher(cr.symbol).First().Text())
	}
	if cr.fraction != nil {
		frac := strings.TrimSpace(doc.FindMatcher(cr.fraction).First().Text())
		frac = strings.TrimPrefix(frac, p.DecimalSeparator)
		if !allDigits(frac) {
			return Components{}, fmt.Errorf("%w: fraction %q", ErrMalformed, frac)
		}
		c.Fraction = frac
	}
	return c, nil
}

// Reconstruct turns components into a canonical amount.
func (r *Reconstructor) Reconstruct(c Components) (Price, error) {
	p := r.rec.Profile()
	digits := c.Whole
	if p.ThousandsSeparator != "" {
		digits = strings.ReplaceAll(digits, p.ThousandsSeparator, "")
	}
	if digits == "" || !allDigits(digits) || !allDigits(c.Fraction) {
		return Price{}, ErrMalformed
	}
	num := digits
	if c.Fraction != "" {
		num += "." + c.Fraction
	}
	amount, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return Price{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	symbol := c.Symbol
	if symbol == "" {
		symbol = p.Symbol
	}
	text := symbol + c.Whole
	if c.Fraction != "" {
		text += p.DecimalSeparator + c.Fraction
	}
	return Price{Amount: amount, Text: text, Source: SourceStructure}, nil
}

// Resolve reconstructs the price held by container. Structural extraction
// is tried first, then the recognizer on the container's text, then the
// permissive recognizer.
func (r *Reconstructor) Resolve(container *html.Node) (Price, error) {
	if c, err := r.ExtractComponents(container); err == nil {
		if p, err := r.Reconstruct(c); err == nil {
			return p, nil
		}
	}
	text := ContainerText(container)
	if toks := r.rec.Recognize(text); len(toks) > 0 {
		return Price{Amount: toks[0].Amount(), Text: toks[0].RawText, Source: SourceText}, nil
	}
	if tok, ok := r.rec.RecognizeLoose(text); ok {
		return Price{Amount: tok.Amount(), Text: tok.RawText, Source: SourceLoose}, nil
	}
	return Price{}, ErrMalformed
}

// ContainerText concatenates the trimmed text nodes under n. Fragments are
// visually adjacent, so no separator is inserted.
func ContainerText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(strings.TrimSpace(n.Data))
			return
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if n != nil {
		walk(n)
	}
	return b.String()
}

func hasMatch(n *html.Node, sel cascadia.Selector) bool {
	if sel == nil {
		return false
	}
	return cascadia.Query(n, sel) != nil
}

// cleanWhole keeps digits and thousands separators, dropping the decimal
// separator that markup often nests inside the whole fragment ("19.").
func cleanWhole(s string, p pricetoken.Profile) string {
	s = strings.TrimSpace(s)
	if p.DecimalSeparator != "" {
		s = strings.TrimSuffix(s, p.DecimalSeparator)
	}
	s = strings.Trim(s, p.ThousandsSeparator+" ")
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case p.ThousandsSeparator != "" && string(r) == p.ThousandsSeparator:
			b.WriteRune(r)
		case r == ' ' || r == '\u00a0':
		default:
			return ""
		}
	}
	return b.String()
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
