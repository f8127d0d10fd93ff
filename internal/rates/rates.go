// Package rates holds the rate set exchanged between the fetcher, the
// deriver and the message formatter.
package rates

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var codePattern = regexp.MustCompile(`^[A-Z]{3}$`)

// NormalizeCode upper-cases and validates a 3-letter currency code.
func NormalizeCode(s string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if !codePattern.MatchString(code) {
		return "", fmt.Errorf("invalid currency code %q", s)
	}
	return code, nil
}

// RateSet maps quote currencies to their rate against Base.
type RateSet struct {
	Base    string
	Date    string
	Rates   map[string]decimal.Decimal
	derived map[string]bool
}

// NewRateSet builds a RateSet, copying the supplied rates.
func NewRateSet(base string, rates map[string]decimal.Decimal) RateSet {
	set := RateSet{Base: base, Rates: make(map[string]decimal.Decimal, len(rates))}
	for code, rate := range rates {
		set.Rates[code] = rate
	}
	return set
}

// Get returns the rate for code. The base currency always resolves to 1.
func (s RateSet) Get(code string) (decimal.Decimal, bool) {
	if rate, ok := s.Rates[code]; ok {
		return rate, true
	}
	if code != "" && code == s.Base {
		return decimal.NewFromInt(1), true
	}
	return decimal.Decimal{}, false
}

// Has reports whether the set carries a rate for code.
func (s RateSet) Has(code string) bool {
	_, ok := s.Get(code)
	return ok
}

// IsDerived reports whether code was computed rather than fetched.
func (s RateSet) IsDerived(code string) bool {
	return s.derived[code]
}

// Codes lists the quote currencies in lexical order.
func (s RateSet) Codes() []string {
	codes := make([]string, 0, len(s.Rates))
	for code := range s.Rates {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Len returns the number of quote currencies.
func (s RateSet) Len() int {
	return len(s.Rates)
}

func (s RateSet) clone() RateSet {
	out := NewRateSet(s.Base, s.Rates)
	out.Date = s.Date
	if len(s.derived) > 0 {
		out.derived = make(map[string]bool, len(s.derived))
		for code, v := range s.derived {
			out.derived[code] = v
		}
	}
	return out
}

func (s *RateSet) setDerived(code string, rate decimal.Decimal) {
	if s.Rates == nil {
		s.Rates = make(map[string]decimal.Decimal)
	}
	if s.derived == nil {
		s.derived = make(map[string]bool)
	}
	s.Rates[code] = rate
	s.derived[code] = true
}

// MissingRateError reports a currency that could not be resolved after
// fetch and derivation.
type MissingRateError struct {
	Base     string
	Currency string
	Reason   string
}

func (e *MissingRateError) Error() string {
	msg := fmt.Sprintf("missing rate %s/%s", e.Base, e.Currency)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}
