package rates

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"
)

// Peg is a fixed conversion Anchor->Target used when the provider does not
// quote Target.
type Peg struct {
	Anchor string
	Target string
	Rate   decimal.Decimal
}

// IsZero reports whether no peg is configured.
func (p Peg) IsZero() bool {
	return p.Target == ""
}

func (p Peg) String() string {
	return fmt.Sprintf("%s->%s %s", p.Anchor, p.Target, p.Rate.String())
}

// Derive returns a copy of set extended with Base->peg.Target when Target
// is reported but was not fetched. The input set is left untouched.
func Derive(set RateSet, report []string, peg Peg) (RateSet, error) {
	out := set.clone()
	if peg.IsZero() || !slices.Contains(report, peg.Target) || set.Has(peg.Target) {
		return out, nil
	}

	if !peg.Rate.IsPositive() {
		return RateSet{}, &MissingRateError{
			Base:     set.Base,
			Currency: peg.Target,
			Reason:   fmt.Sprintf("%s->%s peg is not configured", peg.Anchor, peg.Target),
		}
	}

	anchor, ok := set.Get(peg.Anchor)
	if !ok {
		return RateSet{}, &MissingRateError{
			Base:     set.Base,
			Currency: peg.Anchor,
			Reason:   fmt.Sprintf("required to derive %s/%s", set.Base, peg.Target),
		}
	}

	out.setDerived(peg.Target, anchor.Mul(peg.Rate))
	return out, nil
}
