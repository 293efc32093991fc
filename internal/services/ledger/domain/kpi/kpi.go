// Package kpi aggregates tenant-scoped ledger figures over a time window.
//
// Every read here is a pure projection of stored events, links and the
// dispatch rollup. A tenant with no data in the window gets zero figures.
package kpi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/services/ledger/domain/aggregate"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/reservation"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
	"github.com/kilnline/ledger/internal/services/ledger/storage"
)

// yieldStages are the stages whose completion carries a yield figure.
var yieldStages = []event.AggregateType{event.AggregateRun, event.AggregateBatch}

// StateLoader loads the current state of one aggregate.
type StateLoader interface {
	Load(ctx context.Context, tenantID string, aggregateType event.AggregateType, aggregateID string) (any, uint64, error)
}

// Service computes KPI summaries.
type Service struct {
	Events storage.EventStore
	Links  storage.LinkStore
	KPI    storage.KPIStore
	States StateLoader
}

// Summary is the KPI view of one tenant over a window.
type Summary struct {
	TenantID        string
	Window          storage.Window
	UnitsDispatched decimal.Decimal
	Dispatches      int
	// AverageYield averages the yield of runs and batches completed in the
	// window, or zero when none completed.
	AverageYield     decimal.Decimal
	CompletedStages  int
	ScrapByStage     map[event.AggregateType]decimal.Decimal
	OpenReservations int
}

// Summary fans the independent reads out concurrently and combines them.
func (s *Service) Summary(ctx context.Context, tenantID string, window storage.Window) (Summary, error) {
	if err := validate(tenantID, window); err != nil {
		return Summary{}, err
	}

	kinds := aggregate.Kinds()
	var (
		days   []storage.DailyDispatch
		scrap  = make([]decimal.Decimal, len(kinds))
		yields = make([][]decimal.Decimal, len(yieldStages))
		open   int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		days, err = s.KPI.DailyDispatch(gctx, tenantID, window)
		return err
	})
	for i, kind := range kinds {
		g.Go(func() error {
			total, err := s.scrap(gctx, tenantID, kind.Type, window)
			scrap[i] = total
			return err
		})
	}
	for i, typ := range yieldStages {
		g.Go(func() error {
			var err error
			yields[i], err = s.yields(gctx, tenantID, typ, window)
			return err
		})
	}
	g.Go(func() error {
		links, err := s.Links.ListLinks(gctx, tenantID, "", reservation.StatusHeld)
		open = len(links)
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	summary := Summary{
		TenantID:         tenantID,
		Window:           window,
		UnitsDispatched:  decimal.Zero,
		AverageYield:     decimal.Zero,
		ScrapByStage:     make(map[event.AggregateType]decimal.Decimal, len(kinds)),
		OpenReservations: open,
	}
	for _, day := range days {
		summary.UnitsDispatched = summary.UnitsDispatched.Add(day.Units)
		summary.Dispatches += day.Shipments
	}
	for i, kind := range kinds {
		if scrap[i].IsPositive() {
			summary.ScrapByStage[kind.Type] = scrap[i]
		}
	}
	sum := decimal.Zero
	for _, stageYields := range yields {
		for _, y := range stageYields {
			sum = sum.Add(y)
			summary.CompletedStages++
		}
	}
	if summary.CompletedStages > 0 {
		summary.AverageYield = sum.Div(decimal.NewFromInt(int64(summary.CompletedStages))).Round(2)
	}
	return summary, nil
}

// DailyDispatch returns the dispatched volume per UTC day of the window.
func (s *Service) DailyDispatch(ctx context.Context, tenantID string, window storage.Window) ([]storage.DailyDispatch, error) {
	if err := validate(tenantID, window); err != nil {
		return nil, err
	}
	return s.KPI.DailyDispatch(ctx, tenantID, window)
}

func (s *Service) scrap(ctx context.Context, tenantID string, typ event.AggregateType, window storage.Window) (decimal.Decimal, error) {
	events, err := s.Events.ListEventsByType(ctx, tenantID, typ, event.TypeScrapRecorded, windowFilter(window))
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, evt := range events {
		var payload stage.QuantityPayload
		if err := evt.Decode(&payload); err != nil {
			return decimal.Zero, fmt.Errorf("decode %s %s: %w", evt.Type, evt.ID, err)
		}
		total = total.Add(payload.Quantity)
	}
	return total, nil
}

// yields returns the current yield of every aggregate of typ that
// completed inside the window.
func (s *Service) yields(ctx context.Context, tenantID string, typ event.AggregateType, window storage.Window) ([]decimal.Decimal, error) {
	events, err := s.Events.ListEventsByType(ctx, tenantID, typ, event.TypeCompleted, windowFilter(window))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(events))
	var out []decimal.Decimal
	for _, evt := range events {
		if seen[evt.AggregateID] {
			continue
		}
		seen[evt.AggregateID] = true
		state, _, err := s.States.Load(ctx, tenantID, typ, evt.AggregateID)
		if err != nil {
			return nil, err
		}
		snap, err := aggregate.Balance(typ, state)
		if err != nil {
			return nil, err
		}
		out = append(out, snap.Figures["yield"])
	}
	return out, nil
}

func windowFilter(window storage.Window) string {
	return fmt.Sprintf(`ts >= timestamp(%q) AND ts < timestamp(%q)`,
		window.From.UTC().Format(time.RFC3339Nano), window.To.UTC().Format(time.RFC3339Nano))
}

func validate(tenantID string, window storage.Window) error {
	if strings.TrimSpace(tenantID) == "" {
		return apperrors.New(apperrors.CodeValidation, "tenant id is required")
	}
	return window.Validate()
}
