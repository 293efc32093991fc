// Package balance holds the shared quantity accumulation primitives every
// stage aggregate builds its projection on.
//
// A Ledger is mutated only through its methods. Each method validates first
// and leaves the ledger untouched when it returns an error, so deciders can
// check a command by applying it to a Clone and folds can apply trusted
// history with the same code.
package balance

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/kilnline/ledger/internal/services/ledger/domain/quantity"
	"github.com/kilnline/ledger/internal/services/ledger/domain/reservation"
)

var (
	// ErrInsufficientAvailable indicates a change that would drive a balance negative.
	ErrInsufficientAvailable = errors.New("insufficient available quantity")
	// ErrLinkExists indicates a link id already recorded on this ledger.
	ErrLinkExists = errors.New("link already recorded")
	// ErrLinkUnknown indicates a link id this ledger has no record of.
	ErrLinkUnknown = errors.New("link not recorded")
	// ErrQuantity indicates a non-positive or negative quantity.
	ErrQuantity = errors.New("invalid quantity")
)

// ShortfallError reports how far a request exceeds what is available.
type ShortfallError struct {
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("%s requested but only %s available", e.Requested, e.Available)
}

// Unwrap lets errors.Is match ErrInsufficientAvailable.
func (e *ShortfallError) Unwrap() error {
	return ErrInsufficientAvailable
}

// Hold is quantity held under a link, either on this ledger for a demand
// (Ledger.Holds) or held by this ledger on a supply (Ledger.Allocations).
type Hold struct {
	LinkID   string
	Party    reservation.Ref
	Quantity decimal.Decimal
}

// Input is quantity received from an upstream source under a link.
type Input struct {
	LinkID   string
	Source   reservation.Ref
	Quantity decimal.Decimal
	Unit     quantity.Unit
}

// Ledger accumulates one aggregate's quantities.
type Ledger struct {
	Produced decimal.Decimal
	Reserved decimal.Decimal
	Consumed decimal.Decimal
	Scrapped decimal.Decimal

	// Holds are open reservations against this ledger by link id.
	Holds map[string]Hold
	// Outputs are quantities consumed out of this ledger by link id.
	Outputs map[string]Hold
	// Allocations are open reservations this ledger holds upstream.
	Allocations map[string]Hold
	// Inputs are quantities received from upstream by link id.
	Inputs map[string]Input
}

// Available is produced − reserved − consumed − scrapped.
func (l Ledger) Available() decimal.Decimal {
	return l.Produced.Sub(l.Reserved).Sub(l.Consumed).Sub(l.Scrapped)
}

// Clone returns a deep copy safe to mutate.
func (l Ledger) Clone() Ledger {
	out := l
	out.Holds = cloneHolds(l.Holds)
	out.Outputs = cloneHolds(l.Outputs)
	out.Allocations = cloneHolds(l.Allocations)
	if l.Inputs != nil {
		out.Inputs = make(map[string]Input, len(l.Inputs))
		for k, v := range l.Inputs {
			out.Inputs[k] = v
		}
	}
	return out
}

// Produce adds produced quantity. Zero is allowed for output recording.
func (l *Ledger) Produce(q decimal.Decimal) error {
	if q.IsNegative() {
		return fmt.Errorf("%w: produced %s", ErrQuantity, q)
	}
	l.Produced = l.Produced.Add(q)
	return nil
}

// Withdraw reduces produced quantity out of what is still available.
func (l *Ledger) Withdraw(q decimal.Decimal) error {
	if err := l.requireAvailable(q); err != nil {
		return err
	}
	l.Produced = l.Produced.Sub(q)
	return nil
}

// Reserve holds q for a demand under linkID.
func (l *Ledger) Reserve(linkID string, demand reservation.Ref, q decimal.Decimal) error {
	if _, ok := l.Holds[linkID]; ok {
		return fmt.Errorf("%w: %s", ErrLinkExists, linkID)
	}
	if err := l.requireAvailable(q); err != nil {
		return err
	}
	if l.Holds == nil {
		l.Holds = make(map[string]Hold)
	}
	l.Holds[linkID] = Hold{LinkID: linkID, Party: demand, Quantity: q}
	l.Reserved = l.Reserved.Add(q)
	return nil
}

// Release returns a held link's quantity to available.
func (l *Ledger) Release(linkID string) (Hold, error) {
	hold, ok := l.Holds[linkID]
	if !ok {
		return Hold{}, fmt.Errorf("%w: %s", ErrLinkUnknown, linkID)
	}
	delete(l.Holds, linkID)
	l.Reserved = l.Reserved.Sub(hold.Quantity)
	return hold, nil
}

// ConsumeHold turns a held link into consumption. Available is unchanged.
func (l *Ledger) ConsumeHold(linkID string) (Hold, error) {
	hold, ok := l.Holds[linkID]
	if !ok {
		return Hold{}, fmt.Errorf("%w: %s", ErrLinkUnknown, linkID)
	}
	if _, ok := l.Outputs[linkID]; ok {
		return Hold{}, fmt.Errorf("%w: %s", ErrLinkExists, linkID)
	}
	delete(l.Holds, linkID)
	if l.Outputs == nil {
		l.Outputs = make(map[string]Hold)
	}
	l.Outputs[linkID] = hold
	l.Reserved = l.Reserved.Sub(hold.Quantity)
	l.Consumed = l.Consumed.Add(hold.Quantity)
	return hold, nil
}

// Consume transfers q out of available to a downstream demand.
func (l *Ledger) Consume(linkID string, demand reservation.Ref, q decimal.Decimal) error {
	if _, ok := l.Outputs[linkID]; ok {
		return fmt.Errorf("%w: %s", ErrLinkExists, linkID)
	}
	if err := l.requireAvailable(q); err != nil {
		return err
	}
	if l.Outputs == nil {
		l.Outputs = make(map[string]Hold)
	}
	l.Outputs[linkID] = Hold{LinkID: linkID, Party: demand, Quantity: q}
	l.Consumed = l.Consumed.Add(q)
	return nil
}

// Return gives back q of a consumption link to available.
func (l *Ledger) Return(linkID string, q decimal.Decimal) (Hold, error) {
	out, ok := l.Outputs[linkID]
	if !ok {
		return Hold{}, fmt.Errorf("%w: %s", ErrLinkUnknown, linkID)
	}
	if !q.IsPositive() {
		return Hold{}, fmt.Errorf("%w: returned %s", ErrQuantity, q)
	}
	if q.GreaterThan(out.Quantity) {
		return Hold{}, &ShortfallError{Available: out.Quantity, Requested: q}
	}
	out.Quantity = out.Quantity.Sub(q)
	if out.Quantity.IsZero() {
		delete(l.Outputs, linkID)
	} else {
		l.Outputs[linkID] = out
	}
	l.Consumed = l.Consumed.Sub(q)
	return out, nil
}

// Scrap writes off q from available.
func (l *Ledger) Scrap(q decimal.Decimal) error {
	if err := l.requireAvailable(q); err != nil {
		return err
	}
	l.Scrapped = l.Scrapped.Add(q)
	return nil
}

// Allocate records q held on an upstream supply under linkID.
func (l *Ledger) Allocate(linkID string, supply reservation.Ref, q decimal.Decimal) error {
	if !q.IsPositive() {
		return fmt.Errorf("%w: allocated %s", ErrQuantity, q)
	}
	if _, ok := l.Allocations[linkID]; ok {
		return fmt.Errorf("%w: %s", ErrLinkExists, linkID)
	}
	if l.Allocations == nil {
		l.Allocations = make(map[string]Hold)
	}
	l.Allocations[linkID] = Hold{LinkID: linkID, Party: supply, Quantity: q}
	return nil
}

// ReleaseAllocation drops an upstream allocation.
func (l *Ledger) ReleaseAllocation(linkID string) (Hold, error) {
	hold, ok := l.Allocations[linkID]
	if !ok {
		return Hold{}, fmt.Errorf("%w: %s", ErrLinkUnknown, linkID)
	}
	delete(l.Allocations, linkID)
	return hold, nil
}

// ConsumeAllocation turns an upstream allocation into an input.
func (l *Ledger) ConsumeAllocation(linkID string, unit quantity.Unit) (Hold, error) {
	hold, ok := l.Allocations[linkID]
	if !ok {
		return Hold{}, fmt.Errorf("%w: %s", ErrLinkUnknown, linkID)
	}
	if err := l.AddInput(linkID, hold.Party, hold.Quantity, unit); err != nil {
		return Hold{}, err
	}
	delete(l.Allocations, linkID)
	return hold, nil
}

// AddInput records q received from an upstream source.
func (l *Ledger) AddInput(linkID string, source reservation.Ref, q decimal.Decimal, unit quantity.Unit) error {
	if !q.IsPositive() {
		return fmt.Errorf("%w: input %s", ErrQuantity, q)
	}
	if _, ok := l.Inputs[linkID]; ok {
		return fmt.Errorf("%w: %s", ErrLinkExists, linkID)
	}
	if l.Inputs == nil {
		l.Inputs = make(map[string]Input)
	}
	l.Inputs[linkID] = Input{LinkID: linkID, Source: source, Quantity: q, Unit: unit}
	return nil
}

// RemoveInput takes back q of an input link.
func (l *Ledger) RemoveInput(linkID string, q decimal.Decimal) (Input, error) {
	in, ok := l.Inputs[linkID]
	if !ok {
		return Input{}, fmt.Errorf("%w: %s", ErrLinkUnknown, linkID)
	}
	if !q.IsPositive() {
		return Input{}, fmt.Errorf("%w: removed %s", ErrQuantity, q)
	}
	if q.GreaterThan(in.Quantity) {
		return Input{}, &ShortfallError{Available: in.Quantity, Requested: q}
	}
	in.Quantity = in.Quantity.Sub(q)
	if in.Quantity.IsZero() {
		delete(l.Inputs, linkID)
	} else {
		l.Inputs[linkID] = in
	}
	return in, nil
}

// InputTotal sums every input link.
func (l Ledger) InputTotal() decimal.Decimal {
	total := decimal.Zero
	for _, in := range l.Inputs {
		total = total.Add(in.Quantity)
	}
	return total
}

// AllocatedTotal sums every open upstream allocation.
func (l Ledger) AllocatedTotal() decimal.Decimal {
	return sumHolds(l.Allocations)
}

// HeldLinks returns open holds against this ledger ordered by link id.
func (l Ledger) HeldLinks() []Hold {
	return sortedHolds(l.Holds)
}

// AllocatedLinks returns open upstream allocations ordered by link id.
func (l Ledger) AllocatedLinks() []Hold {
	return sortedHolds(l.Allocations)
}

// SourceTotal is the input quantity received from one upstream source.
type SourceTotal struct {
	Source   reservation.Ref
	Quantity decimal.Decimal
	Unit     quantity.Unit
}

// InputsBySource groups inputs by upstream source, ordered by source.
func (l Ledger) InputsBySource() []SourceTotal {
	totals := make(map[reservation.Ref]SourceTotal)
	for _, in := range l.Inputs {
		current := totals[in.Source]
		current.Source = in.Source
		current.Unit = in.Unit
		current.Quantity = current.Quantity.Add(in.Quantity)
		totals[in.Source] = current
	}
	out := make([]SourceTotal, 0, len(totals))
	for _, total := range totals {
		out = append(out, total)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source.String() < out[j].Source.String() })
	return out
}

func (l *Ledger) requireAvailable(q decimal.Decimal) error {
	if !q.IsPositive() {
		return fmt.Errorf("%w: %s must be greater than zero", ErrQuantity, q)
	}
	if available := l.Available(); q.GreaterThan(available) {
		return &ShortfallError{Available: available, Requested: q}
	}
	return nil
}

func cloneHolds(in map[string]Hold) map[string]Hold {
	if in == nil {
		return nil
	}
	out := make(map[string]Hold, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sumHolds(in map[string]Hold) decimal.Decimal {
	total := decimal.Zero
	for _, h := range in {
		total = total.Add(h.Quantity)
	}
	return total
}

func sortedHolds(in map[string]Hold) []Hold {
	out := make([]Hold, 0, len(in))
	for _, h := range in {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LinkID < out[j].LinkID })
	return out
}
