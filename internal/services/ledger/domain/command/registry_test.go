package command

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	registry := NewRegistry()
	if err := registry.Register(Definition{
		Type:          "pallet.reserve",
		AggregateType: event.AggregatePallet,
		ValidatePayload: func(raw json.RawMessage) error {
			var payload map[string]any
			if err := json.Unmarshal(raw, &payload); err != nil {
				return err
			}
			if _, ok := payload["quantity"]; !ok {
				return errors.New("quantity is required")
			}
			return nil
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return registry
}

func TestValidateForDecisionFillsAggregateType(t *testing.T) {
	registry := testRegistry(t)
	cmd, err := registry.ValidateForDecision(Command{
		TenantID:      "t1",
		AggregateID:   " P ",
		Type:          "pallet.reserve",
		CorrelationID: "c1",
		PayloadJSON:   []byte(`{"quantity": "40"}`),
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cmd.AggregateType != event.AggregatePallet {
		t.Fatalf("aggregate type = %s, want pallet", cmd.AggregateType)
	}
	if cmd.AggregateID != "P" {
		t.Fatalf("aggregate id = %q, want P", cmd.AggregateID)
	}
	if string(cmd.PayloadJSON) != `{"quantity":"40"}` {
		t.Fatalf("payload = %s", cmd.PayloadJSON)
	}
}

func TestValidateForDecisionRejections(t *testing.T) {
	registry := testRegistry(t)
	base := Command{TenantID: "t1", AggregateID: "P", Type: "pallet.reserve", CorrelationID: "c1", PayloadJSON: []byte(`{"quantity":"1"}`)}
	tests := []struct {
		name   string
		mutate func(*Command)
		want   error
	}{
		{"tenant", func(c *Command) { c.TenantID = "" }, ErrTenantIDRequired},
		{"aggregate", func(c *Command) { c.AggregateID = "" }, ErrAggregateIDRequired},
		{"correlation", func(c *Command) { c.CorrelationID = " " }, ErrCorrelationIDRequired},
		{"type", func(c *Command) { c.Type = "" }, ErrTypeRequired},
		{"unknown", func(c *Command) { c.Type = "pallet.fly" }, ErrTypeUnknown},
		{"mismatch", func(c *Command) { c.AggregateType = event.AggregateShipment }, ErrAggregateTypeMismatch},
		{"json", func(c *Command) { c.PayloadJSON = []byte("{") }, ErrPayloadInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := base
			tt.mutate(&cmd)
			if _, err := registry.ValidateForDecision(cmd); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}

	missing := base
	missing.PayloadJSON = []byte(`{}`)
	if _, err := registry.ValidateForDecision(missing); err == nil {
		t.Fatal("expected payload validator error")
	}
}

func TestNewCascadeEventKeysByLink(t *testing.T) {
	cmd := Command{TenantID: "t1", AggregateID: "P", AggregateType: event.AggregatePallet, CorrelationID: "cancel-P", ActorRole: "packer"}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	evt := NewCascadeEvent(cmd, event.TypeReleased, CascadeCorrelation("cancel", "L1"), map[string]string{"link_id": "L1"}, now)
	if evt.CorrelationID != "cancel:L1" || evt.CausationID != "cancel-P" {
		t.Fatalf("correlation = %q causation = %q", evt.CorrelationID, evt.CausationID)
	}
	if evt.ActorRole != "packer" || !evt.Timestamp.Equal(now) {
		t.Fatalf("unexpected envelope: %+v", evt)
	}
	if string(evt.PayloadJSON) != `{"link_id":"L1"}` {
		t.Fatalf("payload = %s", evt.PayloadJSON)
	}
}

func TestDecisionHelpers(t *testing.T) {
	d := Reject(Rejection{Code: "VALIDATION_ERROR", Message: "a"}, Rejection{Code: "NOT_FOUND", Message: "b"})
	if !d.Rejected() || d.Error() != "a; b" {
		t.Fatalf("unexpected decision %+v", d)
	}
	if Accept().Rejected() {
		t.Fatal("accept should not be rejected")
	}
}
