package ledger

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/kilnline/ledger/internal/services/ledger/api/grpc/interceptors"
	grpcmeta "github.com/kilnline/ledger/internal/services/ledger/api/grpc/metadata"
	"github.com/kilnline/ledger/internal/services/ledger/domain/aggregate"
	"github.com/kilnline/ledger/internal/services/ledger/domain/checkpoint"
	"github.com/kilnline/ledger/internal/services/ledger/domain/coordinator"
	"github.com/kilnline/ledger/internal/services/ledger/domain/engine"
	"github.com/kilnline/ledger/internal/services/ledger/domain/kpi"
	"github.com/kilnline/ledger/internal/services/ledger/storage/memory"
)

var fixedNow = func() time.Time { return time.Date(2026, 3, 9, 7, 30, 0, 0, time.UTC) }

func newClient(t *testing.T) *Client {
	t.Helper()
	commands, events, err := aggregate.Registries()
	if err != nil {
		t.Fatalf("registries: %v", err)
	}
	store := memory.New(memory.WithClock(fixedNow))
	handler := &engine.Handler{
		Commands:  commands,
		Events:    events,
		Store:     store,
		Snapshots: checkpoint.NewMemory(),
		Locks:     engine.NewKeyedMutex(),
		Now:       fixedNow,
		Backoff:   time.Microsecond,
	}
	svc := NewService(Deps{
		Engine:      handler,
		Coordinator: &coordinator.Coordinator{Engine: handler, Events: store, Links: store, KPI: store, Now: fixedNow},
		Events:      store,
		Links:       store,
		KPI:         &kpi.Service{Events: store, Links: store, KPI: store, States: handler},
		Now:         fixedNow,
	})

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcmeta.UnaryServerInterceptor(grpcmeta.ServicePrefix(ServiceName), nil),
		interceptors.AccessLogInterceptor(zap.NewNop()),
	))
	RegisterLedgerServiceServer(server, svc)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn)
}

func tenantCtx(tenant string, pairs ...string) context.Context {
	pairs = append([]string{grpcmeta.TenantIDHeader, tenant, grpcmeta.ActorRoleHeader, "planner"}, pairs...)
	return metadata.NewOutgoingContext(context.Background(), metadata.Pairs(pairs...))
}

func call(t *testing.T, c *Client, ctx context.Context, method string, in map[string]any) map[string]any {
	t.Helper()
	out, err := c.Call(ctx, method, in)
	if err != nil {
		t.Fatalf("%s: %v", method, err)
	}
	return out
}

func execute(t *testing.T, c *Client, ctx context.Context, aggregateID, cmd, corr string, payload map[string]any) map[string]any {
	t.Helper()
	return call(t, c, ctx, "Execute", map[string]any{
		"aggregate_id":   aggregateID,
		"command":        cmd,
		"correlation_id": corr,
		"payload":        payload,
	})
}

func available(t *testing.T, c *Client, ctx context.Context, aggregateID string) string {
	t.Helper()
	out := call(t, c, ctx, "GetBalance", map[string]any{"aggregate_id": aggregateID})
	return out["balance"].(map[string]any)["available"].(string)
}

func reason(t *testing.T, err error) (codes.Code, string, *errdetails.LocalizedMessage) {
	t.Helper()
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("err = %v, want status", err)
	}
	var (
		info      string
		localized *errdetails.LocalizedMessage
	)
	for _, detail := range st.Details() {
		switch d := detail.(type) {
		case *errdetails.ErrorInfo:
			info = d.Reason
		case *errdetails.LocalizedMessage:
			localized = d
		}
	}
	return st.Code(), info, localized
}

func TestExecuteAndBalance(t *testing.T) {
	c := newClient(t)
	ctx := tenantCtx("t1")

	execute(t, c, ctx, "S1", "stockpile.create", "s1-create", map[string]any{"name": "dry clay north"})
	out := execute(t, c, ctx, "S1", "stockpile.receive", "s1-receive", map[string]any{"quantity": "80.5"})
	if out["aggregate_type"] != "stockpile" || out["replayed"] != false {
		t.Fatalf("execute reply = %v", out)
	}
	if got := out["balance"].(map[string]any)["available"]; got != "80.5" {
		t.Fatalf("available after receive = %v", got)
	}

	again := execute(t, c, ctx, "S1", "stockpile.receive", "s1-receive", map[string]any{"quantity": "80.5"})
	if again["replayed"] != true {
		t.Fatalf("retry replayed = %v, want true", again["replayed"])
	}

	balance := call(t, c, ctx, "GetBalance", map[string]any{"aggregate_id": "S1"})
	if balance["status"] != "open" || balance["balance"].(map[string]any)["unit"] != "t" {
		t.Fatalf("balance = %v", balance)
	}
}

func TestExecuteRefusesCoordinatedCommands(t *testing.T) {
	c := newClient(t)
	_, err := c.Call(tenantCtx("t1"), "Execute", map[string]any{
		"aggregate_id":   "S1",
		"command":        "stockpile.reserve",
		"correlation_id": "r1",
		"payload":        map[string]any{"quantity": "1"},
	})
	code, info, _ := reason(t, err)
	if code != codes.InvalidArgument || info != "VALIDATION_ERROR" {
		t.Fatalf("code = %s reason = %s", code, info)
	}
}

func TestTenantMetadataIsRequired(t *testing.T) {
	c := newClient(t)
	_, err := c.Call(context.Background(), "GetBalance", map[string]any{"aggregate_id": "S1"})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("err = %v, want unauthenticated", err)
	}
}

func TestUnknownFieldsAreRejected(t *testing.T) {
	c := newClient(t)
	_, err := c.Call(tenantCtx("t1"), "GetBalance", map[string]any{"aggregate": "S1"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("err = %v, want invalid argument", err)
	}
}

func TestReserveOverdraftIsLocalized(t *testing.T) {
	c := newClient(t)
	ctx := tenantCtx("t1", grpcmeta.AcceptLanguageHeader, "pt-BR")
	execute(t, c, ctx, "S1", "stockpile.create", "s1-create", map[string]any{"name": "dry clay north"})
	execute(t, c, ctx, "S1", "stockpile.receive", "s1-receive", map[string]any{"quantity": "10"})

	_, err := c.Call(ctx, "Reserve", map[string]any{
		"correlation_id": "r1",
		"supply":         map[string]any{"type": "stockpile", "id": "S1"},
		"demand":         map[string]any{"type": "order", "id": "PO-9"},
		"quantity":       "12",
	})
	code, info, localized := reason(t, err)
	if code != codes.FailedPrecondition || info != "INSUFFICIENT_AVAILABLE" {
		t.Fatalf("code = %s reason = %s", code, info)
	}
	if localized == nil || localized.Locale != "pt-BR" {
		t.Fatalf("localized = %v, want pt-BR message", localized)
	}
	if got := available(t, c, ctx, "S1"); got != "10" {
		t.Fatalf("available = %s, want 10", got)
	}
}

func TestTenantsAreIsolated(t *testing.T) {
	c := newClient(t)
	execute(t, c, tenantCtx("t1"), "S1", "stockpile.create", "s1-create", map[string]any{"name": "dry clay north"})

	_, err := c.Call(tenantCtx("t2"), "GetBalance", map[string]any{"aggregate_id": "S1"})
	if code := status.Code(err); code != codes.PermissionDenied && code != codes.NotFound {
		t.Fatalf("err = %v, want tenant isolation", err)
	}
}

func TestPackReserveDispatchFlow(t *testing.T) {
	c := newClient(t)
	ctx := tenantCtx("t1")

	execute(t, c, ctx, "K1", "batch.create", "k1-create", map[string]any{"product": "hollow brick", "kiln": "tunnel-2", "planned_units": "500"})
	execute(t, c, ctx, "K1", "batch.start", "k1-start", map[string]any{})
	execute(t, c, ctx, "K1", "batch.record_output", "k1-output", map[string]any{"quantity": "500"})
	execute(t, c, ctx, "P1", "pallet.create", "p1-create", map[string]any{"product": "brick-6h"})
	execute(t, c, ctx, "SH1", "shipment.create", "sh1-create", map[string]any{"customer": "Depot Sul", "planned_units": "120"})
	execute(t, c, ctx, "SH1", "shipment.start", "sh1-start", map[string]any{})

	packed := call(t, c, ctx, "AddInput", map[string]any{
		"correlation_id": "pack-1",
		"upstream":       map[string]any{"type": "batch", "id": "K1"},
		"downstream":     map[string]any{"type": "pallet", "id": "P1"},
		"quantity":       "100",
	})
	if link := packed["link"].(map[string]any); link["status"] != "consumed" || link["kind"] != "consumption" {
		t.Fatalf("pack link = %v", link)
	}
	if got := available(t, c, ctx, "K1"); got != "400" {
		t.Fatalf("batch available = %s, want 400", got)
	}

	reserved := call(t, c, ctx, "Reserve", map[string]any{
		"correlation_id": "hold-1",
		"supply":         map[string]any{"type": "pallet", "id": "P1"},
		"demand":         map[string]any{"type": "shipment", "id": "SH1"},
		"quantity":       60,
	})
	if link := reserved["link"].(map[string]any); link["status"] != "held" || link["quantity"] != "60" {
		t.Fatalf("reserve link = %v", link)
	}
	if got := available(t, c, ctx, "P1"); got != "40" {
		t.Fatalf("pallet available = %s, want 40", got)
	}

	dispatched := call(t, c, ctx, "DispatchShipment", map[string]any{"correlation_id": "ship-1", "shipment_id": "SH1"})
	if dispatched["fulfilment"] != "50" || dispatched["shipped"] != "60" {
		t.Fatalf("dispatch = %v", dispatched)
	}
	if consumed := dispatched["consumed"].([]any); len(consumed) != 1 {
		t.Fatalf("consumed = %v", consumed)
	}

	summary := call(t, c, ctx, "GetSummary", map[string]any{})
	if summary["units_dispatched"] != "60" || summary["dispatches"] != float64(1) || summary["open_reservations"] != float64(0) {
		t.Fatalf("summary = %v", summary)
	}

	first := call(t, c, ctx, "ListEvents", map[string]any{"aggregate_id": "SH1", "page_size": 2})
	events := first["events"].([]any)
	if len(events) != 2 || first["next_page_token"] == "" {
		t.Fatalf("first page = %v", first)
	}
	if newest := events[0].(map[string]any); newest["type"] != "DISPATCHED" {
		t.Fatalf("newest event = %v, want DISPATCHED", newest["type"])
	}
	second := call(t, c, ctx, "ListEvents", map[string]any{
		"aggregate_id": "SH1",
		"page_size":    2,
		"page_token":   first["next_page_token"],
	})
	if len(second["events"].([]any)) == 0 {
		t.Fatalf("second page = %v", second)
	}
}

func TestSummaryRejectsBadWindow(t *testing.T) {
	c := newClient(t)
	_, err := c.Call(tenantCtx("t1"), "GetSummary", map[string]any{"from": "yesterday"})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("err = %v, want invalid argument", err)
	}
}
