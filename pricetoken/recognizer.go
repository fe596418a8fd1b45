// Package pricetoken turns raw text into canonical fiat price tokens.
//
// Two independent pattern passes run over the same text: one where the
// currency indicator precedes the amount ("$19.99", "$1.2k", "USD 5") and
// one where it follows ("19.99 USD", "5 $"). Matches are merged into an
// ordered, non-overlapping sequence; the earliest match wins on overlap.
//
// Recognition never fails: text without prices yields no tokens.
package pricetoken

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Placement tells where the currency indicator sat relative to the amount.
type Placement int

const (
	SymbolFirst Placement = iota // $19.99
	SymbolLast                   // 19.99 $
	Code                         // USD 19.99, 19.99 USD
)

func (p Placement) String() string {
	switch p {
	case SymbolFirst:
		return "symbol_first"
	case SymbolLast:
		return "symbol_last"
	case Code:
		return "code"
	}
	return fmt.Sprintf("placement(%d)", int(p))
}

// Token is one recognized price. Start and End are byte offsets into the
// recognized text; RawText is text[Start:End] untouched.
type Token struct {
	RawText      string
	NumericValue float64
	Currency     Placement
	Magnitude    float64
	Start        int
	End          int
}

// Amount returns the canonical fiat amount.
func (t Token) Amount() float64 {
	return t.NumericValue * t.Magnitude
}

// maxFractionDigits bounds the decimal part. A fraction of exactly this many
// digits is only accepted with a magnitude suffix; alone it reads like a
// thousands group ("$10.999").
const maxFractionDigits = 3

var magnitudes = map[byte]float64{
	'k': 1e3,
	'm': 1e6,
	'b': 1e9,
	't': 1e12,
}

// Recognizer holds the compiled patterns for one Profile.
type Recognizer struct {
	profile Profile
	pre     *regexp.Regexp
	post    *regexp.Regexp
	loose   *regexp.Regexp
}

// New compiles a Recognizer for the profile.
func New(p Profile) (*Recognizer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	ind := p.indicatorPattern()
	num := p.numberPattern()

	pre, err := regexp.Compile(ind + `\s?` + num)
	if err != nil {
		return nil, fmt.Errorf("pricetoken: compile prefix pattern: %w", err)
	}
	post, err := regexp.Compile(num + `\s?` + ind)
	if err != nil {
		return nil, fmt.Errorf("pricetoken: compile suffix pattern: %w", err)
	}

	integer := `\d+`
	if p.ThousandsSeparator != "" {
		integer = `\d[\d` + regexp.QuoteMeta(p.ThousandsSeparator) + `]*`
	}
	loose, err := regexp.Compile(ind + `?\s?(?P<int>` + integer + `)(?:` +
		regexp.QuoteMeta(p.DecimalSeparator) + `(?P<frac>\d{1,2}))?`)
	if err != nil {
		return nil, fmt.Errorf("pricetoken: compile loose pattern: %w", err)
	}

	return &Recognizer{profile: p, pre: pre, post: post, loose: loose}, nil
}

// MustNew is New for static profiles; it panics on an invalid profile.
func MustNew(p Profile) *Recognizer {
	r, err := New(p)
	if err != nil {
		panic(err)
	}
	return r
}

// Profile returns the profile the recognizer was compiled for.
func (r *Recognizer) Profile() Profile { return r.profile }

// Recognize returns the price tokens found in text, in order and without
// overlap.
func (r *Recognizer) Recognize(text string) []Token {
	if text == "" || !containsDigit(text) {
		return nil
	}

	var found []Token
	for _, loc := range r.pre.FindAllStringSubmatchIndex(text, -1) {
		if tok, ok := r.fromMatch(text, r.pre, loc, true); ok {
			found = append(found, tok)
		}
	}
	for _, loc := range r.post.FindAllStringSubmatchIndex(text, -1) {
		if tok, ok := r.fromMatch(text, r.post, loc, false); ok {
			found = append(found, tok)
		}
	}
	return resolveOverlaps(found)
}

// RecognizeLoose is the permissive fallback: the indicator is optional and
// a missing fraction is tolerated. It returns the first amount in text.
func (r *Recognizer) RecognizeLoose(text string) (Token, bool) {
	loc := r.loose.FindStringSubmatchIndex(text)
	if loc == nil {
		return Token{}, false
	}
	intPart := group(text, r.loose, loc, "int")
	intPart = strings.TrimRight(intPart, r.profile.ThousandsSeparator)
	value, ok := parseValue(r.profile.stripThousands(intPart), group(text, r.loose, loc, "frac"))
	if !ok {
		return Token{}, false
	}
	tok := Token{
		RawText:      strings.TrimSpace(text[loc[0]:loc[1]]),
		NumericValue: value,
		Currency:     SymbolFirst,
		Magnitude:    1,
		Start:        loc[0],
		End:          loc[1],
	}
	if group(text, r.loose, loc, "code") != "" {
		tok.Currency = Code
	}
	return tok, true
}

// fromMatch validates one regexp match and builds the token. prefix tells
// which pass produced it.
func (r *Recognizer) fromMatch(text string, re *regexp.Regexp, loc []int, prefix bool) (Token, bool) {
	start, end := loc[0], loc[1]
	intPart := group(text, re, loc, "int")
	frac := group(text, re, loc, "frac")
	suffix := group(text, re, loc, "suf")
	code := group(text, re, loc, "code") != ""

	if prefix {
		// A suffix followed by a letter belongs to a word ("$5kg"), not a
		// magnitude.
		if suffix != "" && startsWithLetter(text[end:]) {
			end -= len(suffix)
			suffix = ""
		}
		if !r.rightBoundaryOK(text[end:]) {
			return Token{}, false
		}
		if code && endsWithLetter(text[:start]) {
			return Token{}, false
		}
		// "$5 USD" is one price; the code stays inside the token so the
		// annotation lands after it.
		if !code {
			end += r.trailingCode(text[end:])
		}
	} else {
		if !r.leftBoundaryOK(text[:start]) {
			return Token{}, false
		}
		if code && startsWithLetter(text[end:]) {
			return Token{}, false
		}
		// In "2 $10" the indicator introduces the next amount.
		if startsWithAmount(text[end:]) {
			return Token{}, false
		}
	}

	if len(frac) > maxFractionDigits || (len(frac) == maxFractionDigits && suffix == "") {
		return Token{}, false
	}

	value, ok := parseValue(r.profile.stripThousands(intPart), frac)
	if !ok {
		return Token{}, false
	}
	magnitude := 1.0
	if suffix != "" {
		magnitude = magnitudes[byte(unicode.ToLower(rune(suffix[0])))]
	}
	if amount := value * magnitude; math.IsInf(amount, 0) || math.IsNaN(amount) {
		return Token{}, false
	}

	placement := SymbolFirst
	switch {
	case code:
		placement = Code
	case !prefix:
		placement = SymbolLast
	}

	return Token{
		RawText:      text[start:end],
		NumericValue: value,
		Currency:     placement,
		Magnitude:    magnitude,
		Start:        start,
		End:          end,
	}, true
}

// rightBoundaryOK rejects amounts that run on into more digits or into a
// separator followed by digits ("$1,2345", "$12,34").
func (r *Recognizer) rightBoundaryOK(rest string) bool {
	if rest == "" {
		return true
	}
	if isDigit(rest[0]) {
		return false
	}
	for _, sep := range []string{r.profile.ThousandsSeparator, r.profile.DecimalSeparator} {
		if sep != "" && strings.HasPrefix(rest, sep) && len(rest) > len(sep) && isDigit(rest[len(sep)]) {
			return false
		}
	}
	return true
}

// leftBoundaryOK rejects amounts glued to a preceding word, number or
// separator ("v1.2.10 USD").
func (r *Recognizer) leftBoundaryOK(before string) bool {
	if before == "" {
		return true
	}
	last, _ := utf8.DecodeLastRuneInString(before)
	if unicode.IsLetter(last) || unicode.IsDigit(last) {
		return false
	}
	for _, sep := range []string{r.profile.ThousandsSeparator, r.profile.DecimalSeparator} {
		if sep != "" && strings.HasSuffix(before, sep) {
			return false
		}
	}
	return true
}

// resolveOverlaps sorts tokens by start and drops any token overlapping an
// earlier one. Equal starts keep the longer token.
func resolveOverlaps(tokens []Token) []Token {
	if len(tokens) <= 1 {
		return tokens
	}
	sort.SliceStable(tokens, func(i, j int) bool {
		if tokens[i].Start != tokens[j].Start {
			return tokens[i].Start < tokens[j].Start
		}
		return tokens[i].End > tokens[j].End
	})
	out := tokens[:0]
	lastEnd := -1
	for _, t := range tokens {
		if t.Start < lastEnd {
			continue
		}
		out = append(out, t)
		lastEnd = t.End
	}
	return out
}

// parseValue combines the integer digits and fraction digits. An invalid
// fraction counts as zero.
func parseValue(intDigits, frac string) (float64, bool) {
	if intDigits == "" {
		return 0, false
	}
	whole, err := strconv.ParseFloat(intDigits, 64)
	if err != nil {
		return 0, false
	}
	if frac == "" {
		return whole, true
	}
	v, err := strconv.ParseFloat(intDigits+"."+frac, 64)
	if err != nil {
		return whole, true
	}
	return v, true
}

func group(text string, re *regexp.Regexp, loc []int, name string) string {
	i := re.SubexpIndex(name)
	if i < 0 || 2*i+1 >= len(loc) || loc[2*i] < 0 {
		return ""
	}
	return text[loc[2*i]:loc[2*i+1]]
}

func containsDigit(s string) bool {
	for i := 0; i < len(s); i++ {
		if isDigit(s[i]) {
			return true
		}
	}
	return false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// trailingCode returns the length of an optional space plus the profile
// code at the start of rest, or 0 when rest does not start that way.
func (r *Recognizer) trailingCode(rest string) int {
	c := r.profile.Code
	if c == "" {
		return 0
	}
	n := 0
	if sp, size := utf8.DecodeRuneInString(rest); size > 0 && unicode.IsSpace(sp) {
		n = size
	}
	if !strings.HasPrefix(rest[n:], c) || startsWithLetter(rest[n+len(c):]) {
		return 0
	}
	return n + len(c)
}

// startsWithAmount reports whether s begins with a digit, allowing one
// leading space.
func startsWithAmount(s string) bool {
	if sp, size := utf8.DecodeRuneInString(s); size > 0 && unicode.IsSpace(sp) {
		s = s[size:]
	}
	return s != "" && isDigit(s[0])
}

func startsWithLetter(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r != utf8.RuneError && unicode.IsLetter(r)
}

func endsWithLetter(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r != utf8.RuneError && unicode.IsLetter(r)
}
