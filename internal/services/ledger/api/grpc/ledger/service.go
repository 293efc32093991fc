// Package ledger implements the ledger.v1.LedgerService gRPC API.
//
// Messages are google.protobuf.Struct values whose fields mirror the JSON
// payloads of the domain commands. Tenant, actor role and locale come from
// request metadata, never from the message body.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/platform/grpc/pagination"
	"github.com/kilnline/ledger/internal/platform/requestctx"
	"github.com/kilnline/ledger/internal/services/ledger/domain/aggregate"
	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/coordinator"
	"github.com/kilnline/ledger/internal/services/ledger/domain/engine"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/kpi"
	"github.com/kilnline/ledger/internal/services/ledger/domain/reservation"
	"github.com/kilnline/ledger/internal/services/ledger/domain/shipment"
	"github.com/kilnline/ledger/internal/services/ledger/storage"
)

const defaultSummaryDays = 7

var listEventsLimits = pagination.Limits{Default: 50, Max: 200}

// Engine executes single-aggregate commands and loads state.
type Engine interface {
	Execute(ctx context.Context, cmd command.Command) (engine.Result, error)
	Load(ctx context.Context, tenantID string, aggregateType event.AggregateType, aggregateID string) (any, uint64, error)
}

// Deps wires the service to the domain.
type Deps struct {
	Engine      Engine
	Coordinator *coordinator.Coordinator
	Events      storage.EventStore
	Links       storage.LinkStore
	KPI         *kpi.Service
	Now         func() time.Time
}

// Service implements LedgerServer.
type Service struct {
	deps Deps
	// coordinated maps commands that touch two aggregates to the method
	// that must send them.
	coordinated map[command.Type]string
}

// NewService creates a Service with the provided dependencies.
func NewService(deps Deps) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{deps: deps, coordinated: coordinatedCommands()}
}

func coordinatedCommands() map[command.Type]string {
	out := map[command.Type]string{shipment.CommandDispatch: "DispatchShipment"}
	for _, kind := range aggregate.Kinds() {
		v := kind.Vocabulary
		for typ, method := range map[command.Type]string{
			v.Reserve:            "Reserve",
			v.Allocate:           "Reserve",
			v.Release:            "Release",
			v.ReleaseAllocation:  "Release",
			v.ConsumeReservation: "Consume",
			v.ConsumeAllocation:  "Consume",
			v.Consume:            "AddInput",
			v.AddInput:           "AddInput",
			v.ReturnInput:        "RemoveInput",
			v.RemoveInput:        "RemoveInput",
			v.Cancel:             "Cancel",
		} {
			if typ != "" {
				out[typ] = method
			}
		}
	}
	return out
}

func (s *Service) envelope(ctx context.Context, correlationID string) coordinator.Envelope {
	return coordinator.Envelope{
		TenantID:      requestctx.TenantFromContext(ctx),
		ActorRole:     requestctx.ActorRoleFromContext(ctx),
		CorrelationID: strings.TrimSpace(correlationID),
	}
}

func (s *Service) fail(ctx context.Context, err error) error {
	return apperrors.HandleError(err, requestctx.LocaleFromContext(ctx))
}

func (s *Service) reply(ctx context.Context, fields map[string]any) (*structpb.Struct, error) {
	out, err := encode(fields)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return out, nil
}

type executeRequest struct {
	AggregateID   string          `json:"aggregate_id"`
	Command       string          `json:"command"`
	CorrelationID string          `json:"correlation_id"`
	CausationID   string          `json:"causation_id"`
	Payload       json.RawMessage `json:"payload"`
}

// Execute runs one single-aggregate command. Commands that move quantity
// between aggregates are refused here and name the method to use instead.
func (s *Service) Execute(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req executeRequest
	if err := decode(in, &req); err != nil {
		return nil, s.fail(ctx, err)
	}
	typ := command.Type(strings.TrimSpace(req.Command))
	if method, ok := s.coordinated[typ]; ok {
		return nil, s.fail(ctx, apperrors.WithMetadata(apperrors.CodeValidation,
			fmt.Sprintf("%s must be sent through %s", typ, method),
			map[string]string{"Field": "command", "Reason": fmt.Sprintf("%s must be sent through %s", typ, method)}))
	}
	payload := []byte(req.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	env := s.envelope(ctx, req.CorrelationID)
	result, err := s.deps.Engine.Execute(ctx, command.Command{
		TenantID:      env.TenantID,
		AggregateID:   strings.TrimSpace(req.AggregateID),
		Type:          typ,
		ActorRole:     env.ActorRole,
		CorrelationID: env.CorrelationID,
		CausationID:   strings.TrimSpace(req.CausationID),
		PayloadJSON:   payload,
	})
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	fields := resultFields(result)
	fields["aggregate_id"] = strings.TrimSpace(req.AggregateID)
	if aggType, ok := aggregateTypeOf(typ); ok {
		fields["aggregate_type"] = string(aggType)
		if snap, err := aggregate.Balance(aggType, result.State); err == nil {
			fields["balance"] = balanceFields(snap)
		}
	}
	return s.reply(ctx, fields)
}

func aggregateTypeOf(typ command.Type) (event.AggregateType, bool) {
	prefix, _, ok := strings.Cut(string(typ), ".")
	if !ok {
		return "", false
	}
	parsed, err := event.ParseAggregateType(prefix)
	return parsed, err == nil
}

type reserveRequest struct {
	CorrelationID string          `json:"correlation_id"`
	Supply        reservation.Ref `json:"supply"`
	Demand        reservation.Ref `json:"demand"`
	Quantity      decimal.Decimal `json:"quantity"`
	Reference     string          `json:"reference"`
}

// Reserve holds supply quantity for a demand.
func (s *Service) Reserve(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req reserveRequest
	if err := decode(in, &req); err != nil {
		return nil, s.fail(ctx, err)
	}
	result, err := s.deps.Coordinator.Reserve(ctx, coordinator.ReserveRequest{
		Envelope:  s.envelope(ctx, req.CorrelationID),
		Supply:    req.Supply,
		Demand:    req.Demand,
		Quantity:  req.Quantity,
		Reference: req.Reference,
	})
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, linkResultFields(result))
}

type linkRequest struct {
	CorrelationID string `json:"correlation_id"`
	LinkID        string `json:"link_id"`
	Reason        string `json:"reason"`
}

// Release ends a held reservation link without consuming it.
func (s *Service) Release(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.settleLink(ctx, in, s.deps.Coordinator.Release)
}

// Consume turns a held reservation link into a permanent transfer.
func (s *Service) Consume(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.settleLink(ctx, in, s.deps.Coordinator.Consume)
}

func (s *Service) settleLink(ctx context.Context, in *structpb.Struct,
	call func(context.Context, coordinator.LinkRequest) (coordinator.LinkResult, error)) (*structpb.Struct, error) {
	var req linkRequest
	if err := decode(in, &req); err != nil {
		return nil, s.fail(ctx, err)
	}
	result, err := call(ctx, coordinator.LinkRequest{
		Envelope: s.envelope(ctx, req.CorrelationID),
		LinkID:   strings.TrimSpace(req.LinkID),
		Reason:   req.Reason,
	})
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, linkResultFields(result))
}

type inputRequest struct {
	CorrelationID string          `json:"correlation_id"`
	Upstream      reservation.Ref `json:"upstream"`
	Downstream    reservation.Ref `json:"downstream"`
	Quantity      decimal.Decimal `json:"quantity"`
	Reference     string          `json:"reference"`
}

// AddInput consumes upstream quantity into a downstream stage.
func (s *Service) AddInput(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req inputRequest
	if err := decode(in, &req); err != nil {
		return nil, s.fail(ctx, err)
	}
	result, err := s.deps.Coordinator.AddInput(ctx, coordinator.InputRequest{
		Envelope:   s.envelope(ctx, req.CorrelationID),
		Upstream:   req.Upstream,
		Downstream: req.Downstream,
		Quantity:   req.Quantity,
		Reference:  req.Reference,
	})
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, linkResultFields(result))
}

type removeInputRequest struct {
	CorrelationID string          `json:"correlation_id"`
	LinkID        string          `json:"link_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	Reason        string          `json:"reason"`
}

// RemoveInput gives part or all of a consumption link back upstream.
func (s *Service) RemoveInput(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req removeInputRequest
	if err := decode(in, &req); err != nil {
		return nil, s.fail(ctx, err)
	}
	result, err := s.deps.Coordinator.RemoveInput(ctx, coordinator.RemoveInputRequest{
		Envelope: s.envelope(ctx, req.CorrelationID),
		LinkID:   strings.TrimSpace(req.LinkID),
		Quantity: req.Quantity,
		Reason:   req.Reason,
	})
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, linkResultFields(result))
}

func linkResultFields(result coordinator.LinkResult) map[string]any {
	return map[string]any{
		"link":     linkFields(result.Link),
		"replayed": result.Replayed,
		"supply":   resultFields(result.Supply),
		"demand":   resultFields(result.Demand),
	}
}

type cancelRequest struct {
	CorrelationID string          `json:"correlation_id"`
	Target        reservation.Ref `json:"target"`
	Reason        string          `json:"reason"`
}

// Cancel cancels an aggregate and releases every link it holds.
func (s *Service) Cancel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req cancelRequest
	if err := decode(in, &req); err != nil {
		return nil, s.fail(ctx, err)
	}
	result, err := s.deps.Coordinator.Cancel(ctx, coordinator.CancelRequest{
		Envelope: s.envelope(ctx, req.CorrelationID),
		Target:   req.Target,
		Reason:   req.Reason,
	})
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	fields := resultFields(result.Result)
	fields["released"] = linkList(result.Released)
	return s.reply(ctx, fields)
}

type dispatchRequest struct {
	CorrelationID string `json:"correlation_id"`
	ShipmentID    string `json:"shipment_id"`
	Reason        string `json:"reason"`
}

// DispatchShipment consumes a shipment's allocations and dispatches it.
// The reply carries the fulfilment percentage.
func (s *Service) DispatchShipment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req dispatchRequest
	if err := decode(in, &req); err != nil {
		return nil, s.fail(ctx, err)
	}
	result, err := s.deps.Coordinator.DispatchShipment(ctx, coordinator.DispatchRequest{
		Envelope:   s.envelope(ctx, req.CorrelationID),
		ShipmentID: strings.TrimSpace(req.ShipmentID),
		Reason:     req.Reason,
	})
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	fields := resultFields(result.Result)
	fields["consumed"] = linkList(result.Consumed)
	fields["planned"] = result.Planned.String()
	fields["shipped"] = result.Shipped.String()
	fields["fulfilment"] = result.Fulfilment.String()
	return s.reply(ctx, fields)
}

type balanceRequest struct {
	AggregateID string `json:"aggregate_id"`
}

// GetBalance returns an aggregate's current balance, status and links.
func (s *Service) GetBalance(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req balanceRequest
	if err := decode(in, &req); err != nil {
		return nil, s.fail(ctx, err)
	}
	tenantID := requestctx.TenantFromContext(ctx)
	aggregateID := strings.TrimSpace(req.AggregateID)
	if aggregateID == "" {
		return nil, s.fail(ctx, apperrors.WithMetadata(apperrors.CodeValidation, "aggregate id is required",
			map[string]string{"Field": "aggregate_id", "Reason": "is required"}))
	}
	record, err := s.deps.Events.GetAggregate(ctx, tenantID, aggregateID)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	state, version, err := s.deps.Engine.Load(ctx, tenantID, record.AggregateType, aggregateID)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	snap, err := aggregate.Balance(record.AggregateType, state)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	core, err := engine.Core(record.AggregateType, state)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	links, err := s.deps.Links.ListLinks(ctx, tenantID, aggregateID, "")
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]any{
		"aggregate_id":   aggregateID,
		"aggregate_type": string(record.AggregateType),
		"version":        version,
		"status":         string(core.Status),
		"balance":        balanceFields(snap),
		"links":          linkList(links),
	})
}

type listEventsRequest struct {
	AggregateID   string `json:"aggregate_id"`
	AggregateType string `json:"aggregate_type"`
	Filter        string `json:"filter"`
	PageSize      int32  `json:"page_size"`
	PageToken     string `json:"page_token"`
}

// ListEvents returns a newest-first page of the tenant's event feed.
func (s *Service) ListEvents(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req listEventsRequest
	if err := decode(in, &req); err != nil {
		return nil, s.fail(ctx, err)
	}
	var aggregateType event.AggregateType
	if raw := strings.TrimSpace(req.AggregateType); raw != "" {
		parsed, err := event.ParseAggregateType(raw)
		if err != nil {
			return nil, s.fail(ctx, apperrors.WithMetadata(apperrors.CodeValidation, err.Error(),
				map[string]string{"Field": "aggregate_type", "Reason": err.Error()}))
		}
		aggregateType = parsed
	}
	page, err := s.deps.Events.ListEventsPage(ctx, storage.ListEventsPageRequest{
		TenantID:      requestctx.TenantFromContext(ctx),
		AggregateID:   strings.TrimSpace(req.AggregateID),
		AggregateType: aggregateType,
		Filter:        req.Filter,
		PageSize:      listEventsLimits.Size(req.PageSize),
		PageToken:     strings.TrimSpace(req.PageToken),
	})
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return s.reply(ctx, map[string]any{
		"events":          eventList(page.Events),
		"next_page_token": page.NextPageToken,
		"total_count":     page.TotalCount,
	})
}

type summaryRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// GetSummary returns the tenant's KPI summary and daily dispatches. An
// empty window covers the last seven UTC days including today.
func (s *Service) GetSummary(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req summaryRequest
	if err := decode(in, &req); err != nil {
		return nil, s.fail(ctx, err)
	}
	window, err := s.window(req)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	tenantID := requestctx.TenantFromContext(ctx)
	summary, err := s.deps.KPI.Summary(ctx, tenantID, window)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	days, err := s.deps.KPI.DailyDispatch(ctx, tenantID, window)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	scrap := make(map[string]any, len(summary.ScrapByStage))
	for typ, total := range summary.ScrapByStage {
		scrap[string(typ)] = total.String()
	}
	return s.reply(ctx, map[string]any{
		"from":              timestamp(window.From),
		"to":                timestamp(window.To),
		"units_dispatched":  summary.UnitsDispatched.String(),
		"dispatches":        summary.Dispatches,
		"average_yield":     summary.AverageYield.String(),
		"completed_stages":  summary.CompletedStages,
		"scrap_by_stage":    scrap,
		"open_reservations": summary.OpenReservations,
		"daily":             dailyList(days),
	})
}

func (s *Service) window(req summaryRequest) (storage.Window, error) {
	to := storage.Day(s.deps.Now()).AddDate(0, 0, 1)
	window := storage.Window{From: to.AddDate(0, 0, -defaultSummaryDays), To: to}
	for _, bound := range []struct {
		field, raw string
		target     *time.Time
	}{
		{field: "from", raw: req.From, target: &window.From},
		{field: "to", raw: req.To, target: &window.To},
	} {
		if strings.TrimSpace(bound.raw) == "" {
			continue
		}
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(bound.raw))
		if err != nil {
			return storage.Window{}, apperrors.WithMetadata(apperrors.CodeValidation,
				fmt.Sprintf("%s: %v", bound.field, err),
				map[string]string{"Field": bound.field, "Reason": "must be an RFC 3339 timestamp"})
		}
		*bound.target = parsed.UTC()
	}
	return window, nil
}
