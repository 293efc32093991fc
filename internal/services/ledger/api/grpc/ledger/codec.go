package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/services/ledger/domain/balance"
	"github.com/kilnline/ledger/internal/services/ledger/domain/engine"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/reservation"
	"github.com/kilnline/ledger/internal/services/ledger/storage"
)

// decode maps a request struct onto target through its JSON tags. Unknown
// fields are rejected so misspelled options fail loudly.
func decode(in *structpb.Struct, target any) error {
	if in == nil {
		return apperrors.New(apperrors.CodeValidation, "request is required")
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, "request is not valid JSON", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return apperrors.WithMetadata(apperrors.CodeValidation, fmt.Sprintf("decode request: %v", err),
			map[string]string{"Reason": err.Error()})
	}
	return nil
}

func encode(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func refFields(ref reservation.Ref) map[string]any {
	return map[string]any{"type": ref.Type, "id": ref.ID}
}

func eventFields(evt event.Event) map[string]any {
	fields := map[string]any{
		"id":             evt.ID,
		"aggregate_id":   evt.AggregateID,
		"aggregate_type": string(evt.AggregateType),
		"type":           string(evt.Type),
		"seq":            evt.Seq,
		"timestamp":      timestamp(evt.Timestamp),
		"actor_role":     evt.ActorRole,
		"correlation_id": evt.CorrelationID,
		"causation_id":   evt.CausationID,
		"chain_hash":     evt.ChainHash,
	}
	if evt.Command != "" {
		fields["command"] = evt.Command
	}
	if len(evt.PayloadJSON) > 0 {
		var payload map[string]any
		if err := json.Unmarshal(evt.PayloadJSON, &payload); err == nil {
			fields["payload"] = payload
		}
	}
	return fields
}

func eventList(events []event.Event) []any {
	out := make([]any, 0, len(events))
	for _, evt := range events {
		out = append(out, eventFields(evt))
	}
	return out
}

func linkFields(link reservation.Link) map[string]any {
	return map[string]any{
		"id":             link.ID,
		"kind":           string(link.Kind),
		"supply":         refFields(link.Supply),
		"demand":         refFields(link.Demand),
		"quantity":       link.Quantity.String(),
		"unit":           link.Unit,
		"status":         string(link.Status),
		"correlation_id": link.CorrelationID,
		"updated_at":     timestamp(link.UpdatedAt),
	}
}

func linkList(links []reservation.Link) []any {
	out := make([]any, 0, len(links))
	for _, link := range links {
		out = append(out, linkFields(link))
	}
	return out
}

func sourceList(totals []balance.SourceTotal) []any {
	out := make([]any, 0, len(totals))
	for _, total := range totals {
		out = append(out, map[string]any{
			"source":   refFields(total.Source),
			"quantity": total.Quantity.String(),
			"unit":     string(total.Unit),
		})
	}
	return out
}

func balanceFields(snap balance.Snapshot) map[string]any {
	figures := make(map[string]any, len(snap.Figures))
	for name, value := range snap.Figures {
		figures[name] = value.String()
	}
	return map[string]any{
		"unit":             string(snap.Unit),
		"produced":         snap.Produced.String(),
		"reserved":         snap.Reserved.String(),
		"consumed":         snap.Consumed.String(),
		"scrapped":         snap.Scrapped.String(),
		"available":        snap.Available.String(),
		"inputs":           snap.Inputs.String(),
		"allocated":        snap.Allocated.String(),
		"held_links":       snap.HeldLinks,
		"inputs_by_source": sourceList(snap.InputsBySource),
		"figures":          figures,
	}
}

func resultFields(result engine.Result) map[string]any {
	return map[string]any{
		"version":  result.Version,
		"replayed": result.Replayed,
		"events":   eventList(result.Events),
	}
}

func dailyList(days []storage.DailyDispatch) []any {
	out := make([]any, 0, len(days))
	for _, day := range days {
		out = append(out, map[string]any{
			"day":       day.Day.UTC().Format(time.DateOnly),
			"units":     day.Units.String(),
			"shipments": day.Shipments,
		})
	}
	return out
}
