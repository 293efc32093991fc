package coordinator

import (
	"fmt"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/reservation"
)

// Pair is one allowed supply to demand direction.
type Pair struct {
	Supply event.AggregateType
	// Demand is an aggregate type, or reservation.RefTypeOrder for an
	// external sales order.
	Demand string
	// Reserve allows held reservations; Input allows direct consumption.
	Reserve bool
	Input   bool
}

// Pairs is the closed table of link directions through the pipeline.
var Pairs = []Pair{
	{Supply: event.AggregateStockpile, Demand: string(event.AggregateRun), Reserve: true, Input: true},
	{Supply: event.AggregateStockpile, Demand: string(event.AggregateBatch), Reserve: true, Input: true},
	{Supply: event.AggregateStockpile, Demand: reservation.RefTypeOrder, Reserve: true},
	{Supply: event.AggregateRun, Demand: string(event.AggregateBatch), Input: true},
	{Supply: event.AggregateBatch, Demand: string(event.AggregatePallet), Input: true},
	{Supply: event.AggregatePallet, Demand: string(event.AggregateShipment), Reserve: true},
	{Supply: event.AggregatePallet, Demand: reservation.RefTypeOrder, Reserve: true},
	{Supply: event.AggregatePayment, Demand: string(event.AggregateInvoice), Input: true},
}

// PairFor returns the pair linking supply to demand.
func PairFor(supply, demand string) (Pair, bool) {
	for _, pair := range Pairs {
		if string(pair.Supply) == supply && pair.Demand == demand {
			return pair, true
		}
	}
	return Pair{}, false
}

func requirePair(supply, demand reservation.Ref, reserve bool) error {
	pair, ok := PairFor(supply.Type, demand.Type)
	allowed := ok && ((reserve && pair.Reserve) || (!reserve && pair.Input))
	if allowed {
		return nil
	}
	kind := "consume from"
	if reserve {
		kind = "reserve on"
	}
	return apperrors.WithMetadata(apperrors.CodeValidation,
		fmt.Sprintf("a %s cannot %s a %s", demand.Type, kind, supply.Type),
		map[string]string{"Supply": supply.String(), "Demand": demand.String()})
}
