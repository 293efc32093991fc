// Package storetest is a conformance suite run against every ledger store.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/reservation"
	"github.com/kilnline/ledger/internal/services/ledger/storage"
	"github.com/kilnline/ledger/internal/services/ledger/storage/integrity"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) storage.Store

var base = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

// Event builds an unsealed event for aggregate.
func Event(tenant, aggregate string, typ event.Type, corr string) event.Event {
	return event.Event{
		TenantID:      tenant,
		AggregateID:   aggregate,
		AggregateType: event.AggregatePallet,
		Type:          typ,
		Timestamp:     base,
		ActorRole:     "planner",
		CorrelationID: corr,
		PayloadJSON:   []byte(`{"quantity":"10"}`),
	}
}

// Append appends events to a pallet at expected.
func Append(t *testing.T, store storage.Store, expected uint64, events ...event.Event) storage.AppendResult {
	t.Helper()
	res, err := store.AppendEvents(context.Background(), storage.AppendRequest{
		TenantID:        events[0].TenantID,
		AggregateID:     events[0].AggregateID,
		AggregateType:   events[0].AggregateType,
		ExpectedVersion: expected,
		Events:          events,
	})
	require.NoError(t, err)
	return res
}

// Run exercises the storage.Store contract.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store storage.Store)
	}{
		{"AppendAssignsSequenceAndChain", testAppendAssignsSequenceAndChain},
		{"AppendRequiresCreateFirst", testAppendRequiresCreateFirst},
		{"AppendVersionConflict", testAppendVersionConflict},
		{"AppendReplaysStoredBatch", testAppendReplaysStoredBatch},
		{"AppendPartialReplay", testAppendPartialReplay},
		{"TenantIsolation", testTenantIsolation},
		{"ListEventsAfterSeq", testListEventsAfterSeq},
		{"ListEventsByTypeAndCorrelation", testListEventsByTypeAndCorrelation},
		{"ListEventsPageNewestFirst", testListEventsPageNewestFirst},
		{"ListEventsPageFilter", testListEventsPageFilter},
		{"ListAggregates", testListAggregates},
		{"Links", testLinks},
		{"DispatchRollup", testDispatchRollup},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newStore(t)
			t.Cleanup(func() { _ = store.Close() })
			tc.fn(t, store)
		})
	}
}

func testAppendAssignsSequenceAndChain(t *testing.T, store storage.Store) {
	res := Append(t, store, 0,
		Event("t1", "P1", event.TypeCreated, "c1"),
		Event("t1", "P1", event.TypeReceived, "c1"))
	require.False(t, res.Replayed)
	require.Equal(t, uint64(2), res.Version)
	require.Len(t, res.Events, 2)
	require.Equal(t, uint64(1), res.Events[0].Seq)
	require.Equal(t, uint64(2), res.Events[1].Seq)
	require.NotEmpty(t, res.Events[0].ID)
	require.Equal(t, res.Events[0].ChainHash, res.Events[1].PrevHash)

	Append(t, store, 2, Event("t1", "P1", event.TypeReserved, "c2"))

	events, err := store.ListEvents(context.Background(), "t1", "P1", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.NoError(t, integrity.Verify(nil, events))

	agg, err := store.GetAggregate(context.Background(), "t1", "P1")
	require.NoError(t, err)
	require.Equal(t, uint64(3), agg.Version)
	require.Equal(t, event.AggregatePallet, agg.AggregateType)
}

func testAppendRequiresCreateFirst(t *testing.T, store storage.Store) {
	_, err := store.AppendEvents(context.Background(), storage.AppendRequest{
		TenantID:      "t1",
		AggregateID:   "P1",
		AggregateType: event.AggregatePallet,
		Events:        []event.Event{Event("t1", "P1", event.TypeReserved, "c1")},
	})
	require.True(t, apperrors.HasCode(err, apperrors.CodeNotFound), "err = %v", err)

	_, err = store.GetAggregate(context.Background(), "t1", "P1")
	require.True(t, apperrors.HasCode(err, apperrors.CodeNotFound), "err = %v", err)
}

func testAppendVersionConflict(t *testing.T, store storage.Store) {
	Append(t, store, 0, Event("t1", "P1", event.TypeCreated, "c1"))
	_, err := store.AppendEvents(context.Background(), storage.AppendRequest{
		TenantID:        "t1",
		AggregateID:     "P1",
		AggregateType:   event.AggregatePallet,
		ExpectedVersion: 0,
		Events:          []event.Event{Event("t1", "P1", event.TypeReserved, "c2")},
	})
	require.True(t, apperrors.HasCode(err, apperrors.CodeConcurrencyConflict), "err = %v", err)

	events, err := store.ListEvents(context.Background(), "t1", "P1", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func testAppendReplaysStoredBatch(t *testing.T, store storage.Store) {
	first := Append(t, store, 0, Event("t1", "P1", event.TypeCreated, "c1"))
	Append(t, store, 1, Event("t1", "P1", event.TypeReserved, "c2"))

	again := Append(t, store, 0, Event("t1", "P1", event.TypeCreated, "c1"))
	require.True(t, again.Replayed)
	require.Equal(t, first.Events[0].ID, again.Events[0].ID)
	require.Equal(t, uint64(2), again.Version)

	events, err := store.ListEvents(context.Background(), "t1", "P1", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func testAppendPartialReplay(t *testing.T, store storage.Store) {
	Append(t, store, 0, Event("t1", "P1", event.TypeCreated, "c1"))
	_, err := store.AppendEvents(context.Background(), storage.AppendRequest{
		TenantID:        "t1",
		AggregateID:     "P1",
		AggregateType:   event.AggregatePallet,
		ExpectedVersion: 1,
		Events: []event.Event{
			Event("t1", "P1", event.TypeCreated, "c1"),
			Event("t1", "P1", event.TypeReserved, "c1"),
		},
	})
	require.True(t, apperrors.HasCode(err, apperrors.CodeValidation), "err = %v", err)
}

func testTenantIsolation(t *testing.T, store storage.Store) {
	ctx := context.Background()
	Append(t, store, 0, Event("t1", "P1", event.TypeCreated, "c1"))

	_, err := store.GetAggregate(ctx, "t2", "P1")
	require.True(t, apperrors.HasCode(err, apperrors.CodeTenantMismatch), "err = %v", err)

	_, err = store.ListEvents(ctx, "t2", "P1", 0, 0)
	require.True(t, apperrors.HasCode(err, apperrors.CodeTenantMismatch), "err = %v", err)

	_, err = store.AppendEvents(ctx, storage.AppendRequest{
		TenantID:        "t2",
		AggregateID:     "P1",
		AggregateType:   event.AggregatePallet,
		ExpectedVersion: 1,
		Events:          []event.Event{Event("t2", "P1", event.TypeReserved, "c2")},
	})
	require.True(t, apperrors.HasCode(err, apperrors.CodeTenantMismatch), "err = %v", err)

	page, err := store.ListEventsPage(ctx, storage.ListEventsPageRequest{TenantID: "t2"})
	require.NoError(t, err)
	require.Empty(t, page.Events)
}

func testListEventsAfterSeq(t *testing.T, store storage.Store) {
	Append(t, store, 0,
		Event("t1", "P1", event.TypeCreated, "c1"),
		Event("t1", "P1", event.TypeReceived, "c1"),
		Event("t1", "P1", event.TypeReserved, "c1"))

	events, err := store.ListEvents(context.Background(), "t1", "P1", 1, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, uint64(2), events[0].Seq)

	events, err = store.ListEvents(context.Background(), "t1", "missing", 0, 0)
	require.NoError(t, err)
	require.Empty(t, events)
}

func testListEventsByTypeAndCorrelation(t *testing.T, store storage.Store) {
	ctx := context.Background()
	Append(t, store, 0, Event("t1", "P1", event.TypeCreated, "c1"))
	Append(t, store, 0, Event("t1", "P2", event.TypeCreated, "c2"))
	reserved := Event("t1", "P1", event.TypeReserved, "c3")
	reserved.ActorRole = "operator"
	reserved.Command = "reserve"
	Append(t, store, 1, reserved)

	created, err := store.ListEventsByType(ctx, "t1", event.AggregatePallet, event.TypeCreated, "")
	require.NoError(t, err)
	require.Len(t, created, 2)
	require.Equal(t, "P1", created[0].AggregateID)

	created, err = store.ListEventsByType(ctx, "t1", event.AggregatePallet, event.TypeCreated, `aggregate_id = "P2"`)
	require.NoError(t, err)
	require.Len(t, created, 1)

	byCorr, err := store.ListEventsByCorrelation(ctx, "t1", "P1", "c3")
	require.NoError(t, err)
	require.Len(t, byCorr, 1)
	require.Equal(t, "operator", byCorr[0].ActorRole)
	require.Equal(t, "reserve", byCorr[0].Command)
}

func testListEventsPageNewestFirst(t *testing.T, store storage.Store) {
	ctx := context.Background()
	Append(t, store, 0, Event("t1", "P1", event.TypeCreated, "c1"))
	for i := 0; i < 4; i++ {
		Append(t, store, uint64(i+1), Event("t1", "P1", event.TypeReserved, fmt.Sprintf("r%d", i)))
	}

	first, err := store.ListEventsPage(ctx, storage.ListEventsPageRequest{TenantID: "t1", AggregateID: "P1", PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, 5, first.TotalCount)
	require.Len(t, first.Events, 2)
	require.Equal(t, uint64(5), first.Events[0].Seq)
	require.Equal(t, uint64(4), first.Events[1].Seq)
	require.NotEmpty(t, first.NextPageToken)

	second, err := store.ListEventsPage(ctx, storage.ListEventsPageRequest{
		TenantID: "t1", AggregateID: "P1", PageSize: 2, PageToken: first.NextPageToken,
	})
	require.NoError(t, err)
	require.Len(t, second.Events, 2)
	require.Equal(t, uint64(3), second.Events[0].Seq)

	third, err := store.ListEventsPage(ctx, storage.ListEventsPageRequest{
		TenantID: "t1", AggregateID: "P1", PageSize: 2, PageToken: second.NextPageToken,
	})
	require.NoError(t, err)
	require.Len(t, third.Events, 1)
	require.Empty(t, third.NextPageToken)

	_, err = store.ListEventsPage(ctx, storage.ListEventsPageRequest{
		TenantID: "t1", PageToken: first.NextPageToken, Filter: `type = "RESERVED"`,
	})
	require.True(t, apperrors.HasCode(err, apperrors.CodeValidation), "err = %v", err)
}

func testListEventsPageFilter(t *testing.T, store storage.Store) {
	ctx := context.Background()
	Append(t, store, 0, Event("t1", "P1", event.TypeCreated, "c1"))
	Append(t, store, 1, Event("t1", "P1", event.TypeReserved, "c2"))
	Append(t, store, 2, Event("t1", "P1", event.TypeReleased, "c3"))

	page, err := store.ListEventsPage(ctx, storage.ListEventsPageRequest{TenantID: "t1", Filter: `type = "RESERVED" OR type = "RELEASED"`})
	require.NoError(t, err)
	require.Equal(t, 2, page.TotalCount)
	require.Equal(t, event.TypeReleased, page.Events[0].Type)

	_, err = store.ListEventsPage(ctx, storage.ListEventsPageRequest{TenantID: "t1", Filter: `bogus = "x"`})
	require.True(t, apperrors.HasCode(err, apperrors.CodeValidation), "err = %v", err)
}

func testListAggregates(t *testing.T, store storage.Store) {
	Append(t, store, 0, Event("t1", "P2", event.TypeCreated, "c1"))
	Append(t, store, 0, Event("t1", "P1", event.TypeCreated, "c2"))
	Append(t, store, 0, Event("t2", "P3", event.TypeCreated, "c3"))

	aggs, err := store.ListAggregates(context.Background(), "t1", event.AggregatePallet)
	require.NoError(t, err)
	require.Len(t, aggs, 2)
	require.Equal(t, "P1", aggs[0].AggregateID)

	aggs, err = store.ListAggregates(context.Background(), "t1", event.AggregateRun)
	require.NoError(t, err)
	require.Empty(t, aggs)
}

func testLinks(t *testing.T, store storage.Store) {
	ctx := context.Background()
	link := reservation.Link{
		ID:            "L1",
		TenantID:      "t1",
		Kind:          reservation.KindReservation,
		Supply:        reservation.Ref{Type: "pallet", ID: "P1"},
		Demand:        reservation.Ref{Type: reservation.RefTypeOrder, ID: "O1"},
		Quantity:      decimal.RequireFromString("12.5"),
		Unit:          "m2",
		Status:        reservation.StatusHeld,
		CorrelationID: "c1",
		CreatedAt:     base,
		UpdatedAt:     base,
	}
	require.NoError(t, store.PutLink(ctx, link))

	got, err := store.GetLink(ctx, "t1", "L1")
	require.NoError(t, err)
	require.True(t, link.Quantity.Equal(got.Quantity))
	require.Equal(t, link.Demand, got.Demand)
	require.Equal(t, reservation.StatusHeld, got.Status)

	_, err = store.GetLink(ctx, "t2", "L1")
	require.True(t, apperrors.HasCode(err, apperrors.CodeNotFound), "err = %v", err)

	released, err := got.Transition(reservation.StatusReleased, base.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, store.PutLink(ctx, released))

	held, err := store.ListLinks(ctx, "t1", "P1", reservation.StatusHeld)
	require.NoError(t, err)
	require.Empty(t, held)

	all, err := store.ListLinks(ctx, "t1", "O1", "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, reservation.StatusReleased, all[0].Status)
}

func testDispatchRollup(t *testing.T, store storage.Store) {
	ctx := context.Background()
	rec := storage.DispatchRecord{TenantID: "t1", ShipmentID: "S1", Units: decimal.NewFromInt(40), DispatchedAt: base}
	require.NoError(t, store.RecordDispatch(ctx, rec))
	require.NoError(t, store.RecordDispatch(ctx, rec))
	require.NoError(t, store.RecordDispatch(ctx, storage.DispatchRecord{
		TenantID: "t1", ShipmentID: "S2", Units: decimal.RequireFromString("2.5"), DispatchedAt: base.Add(2 * time.Hour),
	}))
	require.NoError(t, store.RecordDispatch(ctx, storage.DispatchRecord{
		TenantID: "t1", ShipmentID: "S3", Units: decimal.NewFromInt(5), DispatchedAt: base.Add(24 * time.Hour),
	}))

	days, err := store.DailyDispatch(ctx, "t1", storage.Window{From: base.Add(-time.Hour), To: base.Add(48 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, days, 2)
	require.True(t, days[0].Units.Equal(decimal.RequireFromString("42.5")), "units = %s", days[0].Units)
	require.Equal(t, 2, days[0].Shipments)
	require.True(t, days[0].Day.Equal(storage.Day(base)))

	days, err = store.DailyDispatch(ctx, "t2", storage.Window{From: base.Add(-time.Hour), To: base.Add(48 * time.Hour)})
	require.NoError(t, err)
	require.Empty(t, days)
}
