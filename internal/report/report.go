// Package report renders a rate set into the chat message text.
package report

import (
	"fmt"
	"strings"
	"time"

	"fx-notifier/internal/rates"
)

// DefaultPrecision is the number of decimal places used for every rate.
const DefaultPrecision = 4

// Options control message layout.
type Options struct {
	Precision   int32
	SourceLabel string
	Peg         rates.Peg
}

// Formatter renders messages with fixed options.
type Formatter struct {
	opts Options
}

// NewFormatter builds a Formatter. A negative precision falls back to
// DefaultPrecision.
func NewFormatter(opts Options) *Formatter {
	if opts.Precision < 0 {
		opts.Precision = DefaultPrecision
	}
	return &Formatter{opts: opts}
}

// Format renders one line per report currency, in the given order, under a
// header carrying the base currency and the date of at.
func (f *Formatter) Format(set rates.RateSet, report []string, at time.Time) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "FX Rates for %s (Base: %s):\n", at.Format(time.DateOnly), set.Base)

	if len(report) == 0 {
		b.WriteString("No rates available.")
		return b.String(), nil
	}

	derived := make([]string, 0, 1)
	for _, code := range report {
		rate, ok := set.Get(code)
		if !ok {
			return "", &rates.MissingRateError{Base: set.Base, Currency: code, Reason: "not in fetched or derived rates"}
		}
		fmt.Fprintf(&b, "- %s: %s", code, rate.StringFixed(f.opts.Precision))
		if set.IsDerived(code) {
			b.WriteString(" (derived)")
			derived = append(derived, code)
		}
		b.WriteByte('\n')
	}

	footer := f.footer(set.Base, derived)
	if footer == "" {
		return strings.TrimSuffix(b.String(), "\n"), nil
	}
	b.WriteByte('\n')
	b.WriteString(footer)
	return b.String(), nil
}

func (f *Formatter) footer(base string, derived []string) string {
	var parts []string
	if f.opts.SourceLabel != "" {
		parts = append(parts, fmt.Sprintf("Source: %s.", f.opts.SourceLabel))
	}

	peg := f.opts.Peg
	if len(derived) > 0 && !peg.IsZero() {
		parts = append(parts, fmt.Sprintf("%s is derived via %s->%s * %s->%s peg.",
			strings.Join(derived, ", "), base, peg.Anchor, peg.Anchor, peg.Target))
	}

	if len(parts) == 0 {
		return ""
	}
	out := strings.Join(parts, " ")
	if len(derived) > 0 && !peg.IsZero() {
		out += fmt.Sprintf("\nConfigured %s->%s peg: %s", peg.Anchor, peg.Target, peg.Rate.String())
	}
	return out
}
