package maintenance

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kilnline/ledger/internal/services/ledger/domain/aggregate"
	"github.com/kilnline/ledger/internal/services/ledger/domain/checkpoint"
	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/coordinator"
	"github.com/kilnline/ledger/internal/services/ledger/domain/engine"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/pallet"
	"github.com/kilnline/ledger/internal/services/ledger/domain/reservation"
	"github.com/kilnline/ledger/internal/services/ledger/domain/shipment"
	"github.com/kilnline/ledger/internal/services/ledger/storage/integrity"
	"github.com/kilnline/ledger/internal/services/ledger/storage/memory"
	"github.com/kilnline/ledger/internal/services/ledger/storage/storetest"
)

const tenant = "t1"

func testKeyring(t *testing.T) *integrity.Keyring {
	t.Helper()
	keyring, err := integrity.NewKeyring(map[string][]byte{"v1": []byte("secret")}, "v1")
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	return keyring
}

func TestSplitCSV(t *testing.T) {
	if got := splitCSV(" a, b ,, "); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("expected trimmed entries, got %v", got)
	}
}

func TestCapWarnings(t *testing.T) {
	warnings := []string{"a", "b", "c"}
	if got, total := capWarnings(warnings, 0); total != 3 || len(got) != 3 {
		t.Fatalf("expected all warnings, got %v (total=%d)", got, total)
	}
	if got, total := capWarnings(warnings, 2); total != 3 || len(got) != 2 {
		t.Fatalf("expected capped warnings, got %v (total=%d)", got, total)
	}
}

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("maintenance", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.DBPath != filepath.Join("data", "ledger.db") {
		t.Fatalf("expected default db path, got %q", cfg.DBPath)
	}
	if cfg.Timeout != 10*time.Minute || cfg.WarningsCap != 25 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestParseConfigEnvAndFlags(t *testing.T) {
	t.Setenv("KILNLINE_LEDGER_DB_PATH", "/tmp/env.db")
	t.Setenv("KILNLINE_LEDGER_EVENT_HMAC_KEY", "secret")
	fs := flag.NewFlagSet("maintenance", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-verify", "-tenant-id", "t1", "-aggregate-ids", "P1,P2", "-json"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.DBPath != "/tmp/env.db" || cfg.Integrity.Key != "secret" {
		t.Fatalf("expected env values, got %+v", cfg)
	}
	if !cfg.Verify || cfg.Reconcile || !cfg.JSONOutput || cfg.TenantID != "t1" {
		t.Fatalf("unexpected flags: %+v", cfg)
	}
}

func TestRunValidatesFlags(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "no mode", cfg: Config{}, want: "-verify or -reconcile"},
		{name: "aggregates without tenant", cfg: Config{Verify: true, AggregateIDs: "P1"}, want: "-tenant-id"},
		{name: "negative cap", cfg: Config{Verify: true, WarningsCap: -1}, want: "-warnings-cap"},
		{name: "missing database", cfg: Config{Verify: true, DBPath: filepath.Join(t.TempDir(), "missing.db")}, want: "open ledger database"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Run(context.Background(), tt.cfg, nil, nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Run() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadKeyringIsOptional(t *testing.T) {
	keyring, err := loadKeyring(integrity.Config{})
	if err != nil || keyring != nil {
		t.Fatalf("loadKeyring() = %v, %v", keyring, err)
	}
	keyring, err = loadKeyring(integrity.Config{Key: "secret", KeyID: "v2"})
	if err != nil || keyring.ActiveKeyID() != "v2" {
		t.Fatalf("loadKeyring() = %v, %v", keyring, err)
	}
}

func TestVerifyReportsBrokenChains(t *testing.T) {
	keyring := testKeyring(t)
	store := memory.New(memory.WithKeyring(keyring))
	storetest.Append(t, store, 0,
		storetest.Event(tenant, "S1", event.TypeCreated, "c1"),
		storetest.Event(tenant, "S1", event.TypeReceived, "c1"))
	storetest.Append(t, store, 0, storetest.Event("t2", "S2", event.TypeCreated, "c2"))

	var out, errOut bytes.Buffer
	if err := runWithDeps(context.Background(), Config{Verify: true}, store, keyring, &out, &errOut); err != nil {
		t.Fatalf("verify: %v (stderr %s)", err, errOut.String())
	}
	if got := out.String(); !strings.Contains(got, "Verified 3 events across 2 streams (0 broken)") {
		t.Fatalf("unexpected output %q", got)
	}

	if !store.Tamper("S1", 2, func(evt *event.Event) { evt.PayloadJSON = []byte(`{"quantity":"999"}`) }) {
		t.Fatal("tamper failed")
	}
	out.Reset()
	errOut.Reset()
	err := runWithDeps(context.Background(), Config{Verify: true, JSONOutput: true}, store, keyring, &out, &errOut)
	if err == nil {
		t.Fatal("expected maintenance failure")
	}
	var result struct {
		Mode     string       `json:"mode"`
		Report   verifyReport `json:"report"`
		Warnings []string     `json:"warnings"`
	}
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		t.Fatalf("decode output %q: %v", out.String(), err)
	}
	if result.Mode != modeVerify || result.Report.Broken != 1 || len(result.Warnings) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if !strings.HasPrefix(result.Warnings[0], "t1/S1:") {
		t.Fatalf("unexpected warning %q", result.Warnings[0])
	}
}

func TestVerifyLimitsToTenant(t *testing.T) {
	store := memory.New()
	storetest.Append(t, store, 0, storetest.Event(tenant, "S1", event.TypeCreated, "c1"))
	storetest.Append(t, store, 0, storetest.Event("t2", "S2", event.TypeCreated, "c2"))

	var out bytes.Buffer
	if err := runWithDeps(context.Background(), Config{Verify: true, TenantID: "t2"}, store, nil, &out, nil); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.Contains(out.String(), "across 1 streams") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestReconcileFinishesInterruptedCancel(t *testing.T) {
	store := memory.New()
	commands, events, err := aggregate.Registries()
	if err != nil {
		t.Fatalf("registries: %v", err)
	}
	handler := &engine.Handler{Commands: commands, Events: events, Store: store, Snapshots: checkpoint.NewNoop()}
	exec := func(aggregateID string, typ command.Type, corr, payload string) {
		t.Helper()
		if _, err := handler.Execute(context.Background(), command.Command{
			TenantID:      tenant,
			AggregateID:   aggregateID,
			Type:          typ,
			ActorRole:     "planner",
			CorrelationID: corr,
			PayloadJSON:   []byte(payload),
		}); err != nil {
			t.Fatalf("%s on %s: %v", typ, aggregateID, err)
		}
	}
	exec("P", pallet.CommandCreate, "P-create", `{"product":"brick-6h"}`)
	exec("P", pallet.CommandAddInput, "P-pack", `{"link_id":"K1-P","counterparty":{"type":"batch","id":"K1"},"quantity":"100"}`)
	exec("SH1", shipment.CommandCreate, "SH1-create", `{"customer":"Depot Sul","planned_units":"100"}`)

	coord := &coordinator.Coordinator{Engine: handler, Events: store, Links: store, KPI: store}
	held, err := coord.Reserve(context.Background(), coordinator.ReserveRequest{
		Envelope: coordinator.Envelope{TenantID: tenant, ActorRole: "planner", CorrelationID: "r-SH1"},
		Supply:   reservation.Ref{Type: string(event.AggregatePallet), ID: "P"},
		Demand:   reservation.Ref{Type: string(event.AggregateShipment), ID: "SH1"},
		Quantity: decimal.NewFromInt(20),
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	exec("P", pallet.CommandCancel, "cancel-P", `{"reason":"crash"}`)

	var out, errOut bytes.Buffer
	cfg := Config{Reconcile: true, TenantID: tenant, AggregateIDs: "P"}
	if err := runWithDeps(context.Background(), cfg, store, nil, &out, &errOut); err != nil {
		t.Fatalf("reconcile: %v (stderr %s)", err, errOut.String())
	}
	if got := out.String(); !strings.Contains(got, "Reconciled 1 links across 1 streams (1 repaired, 1 cascades, 0 failed)") {
		t.Fatalf("unexpected output %q", got)
	}
	link, err := store.GetLink(context.Background(), tenant, held.Link.ID)
	if err != nil || link.Status != reservation.StatusReleased {
		t.Fatalf("link = %+v, %v", link, err)
	}
}

func TestSelectStreamsReportsUnknownAggregate(t *testing.T) {
	store := memory.New()
	err := runWithDeps(context.Background(), Config{Verify: true, TenantID: tenant, AggregateIDs: "nope"}, store, nil, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "load aggregate nope") {
		t.Fatalf("expected unknown aggregate error, got %v", err)
	}
}
