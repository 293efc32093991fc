package balance

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/kilnline/ledger/internal/services/ledger/domain/quantity"
)

// Snapshot is the read view of a stage balance.
type Snapshot struct {
	Unit           quantity.Unit
	Produced       decimal.Decimal
	Reserved       decimal.Decimal
	Consumed       decimal.Decimal
	Scrapped       decimal.Decimal
	Available      decimal.Decimal
	Inputs         decimal.Decimal
	Allocated      decimal.Decimal
	HeldLinks      int
	InputsBySource []SourceTotal
	// Figures carries stage-specific derived values (planned, due, yield).
	Figures map[string]decimal.Decimal
}

// Snapshot returns the shared figures of the ledger.
func (l Ledger) Snapshot(unit quantity.Unit) Snapshot {
	return Snapshot{
		Unit:           unit,
		Produced:       l.Produced,
		Reserved:       l.Reserved,
		Consumed:       l.Consumed,
		Scrapped:       l.Scrapped,
		Available:      l.Available(),
		Inputs:         l.InputTotal(),
		Allocated:      l.AllocatedTotal(),
		HeldLinks:      len(l.Holds),
		InputsBySource: l.InputsBySource(),
		Figures:        map[string]decimal.Decimal{},
	}
}

// Yield is the percentage of produced quantity not written off as scrap,
// or zero when nothing has been produced.
func (l Ledger) Yield() decimal.Decimal {
	if !l.Produced.IsPositive() {
		return decimal.Zero
	}
	return l.Produced.Sub(l.Scrapped).Mul(decimal.NewFromInt(100)).Div(l.Produced).Round(2)
}

// WithFigure returns s with a stage figure set.
func (s Snapshot) WithFigure(name string, value decimal.Decimal) Snapshot {
	figures := make(map[string]decimal.Decimal, len(s.Figures)+1)
	for k, v := range s.Figures {
		figures[k] = v
	}
	figures[name] = value
	s.Figures = figures
	return s
}

// NonNegative reports the first negative figure, if any.
func (s Snapshot) NonNegative() error {
	named := map[string]decimal.Decimal{
		"produced":  s.Produced,
		"reserved":  s.Reserved,
		"consumed":  s.Consumed,
		"scrapped":  s.Scrapped,
		"available": s.Available,
		"inputs":    s.Inputs,
		"allocated": s.Allocated,
	}
	for k, v := range s.Figures {
		named[k] = v
	}
	names := make([]string, 0, len(named))
	for name := range named {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if named[name].IsNegative() {
			return fmt.Errorf("%w: %s is %s", ErrInsufficientAvailable, name, named[name])
		}
	}
	return nil
}
