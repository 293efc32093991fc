package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/platform/telemetry/metrics"
	"github.com/kilnline/ledger/internal/services/ledger/domain/aggregate"
	"github.com/kilnline/ledger/internal/services/ledger/domain/checkpoint"
	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/pallet"
	"github.com/kilnline/ledger/internal/services/ledger/storage"
	"github.com/kilnline/ledger/internal/services/ledger/storage/memory"
)

var fixedNow = func() time.Time { return time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC) }

func newHandler(t *testing.T, store EventStore) *Handler {
	t.Helper()
	commands, events, err := aggregate.Registries()
	if err != nil {
		t.Fatalf("registries: %v", err)
	}
	return &Handler{
		Commands:  commands,
		Events:    events,
		Store:     store,
		Snapshots: checkpoint.NewMemory(),
		Locks:     NewKeyedMutex(),
		Now:       fixedNow,
		Backoff:   time.Microsecond,
	}
}

func palletCmd(typ command.Type, corr, payload string) command.Command {
	return command.Command{
		TenantID:      "t1",
		AggregateID:   "P",
		Type:          typ,
		ActorRole:     "planner",
		CorrelationID: corr,
		PayloadJSON:   []byte(payload),
	}
}

func mustExecute(t *testing.T, h *Handler, cmd command.Command) Result {
	t.Helper()
	res, err := h.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("execute %s: %v", cmd.Type, err)
	}
	return res
}

func available(t *testing.T, h *Handler, want int64) {
	t.Helper()
	state, _, err := h.Load(context.Background(), "t1", event.AggregatePallet, "P")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	snap, err := aggregate.Balance(event.AggregatePallet, state)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !snap.Available.Equal(decimal.NewFromInt(want)) {
		t.Fatalf("available = %s, want %d", snap.Available, want)
	}
}

func TestExecuteAppendsAndFolds(t *testing.T) {
	store := memory.New()
	h := newHandler(t, store)

	mustExecute(t, h, palletCmd(pallet.CommandCreate, "c1", `{}`))
	res := mustExecute(t, h, palletCmd(pallet.CommandAddInput, "c2", `{"link_id":"L1","counterparty":{"type":"batch","id":"K1"},"quantity":"100"}`))
	if res.Version != 2 || len(res.Events) != 1 || res.Events[0].Seq != 2 {
		t.Fatalf("result = version %d events %+v", res.Version, res.Events)
	}
	if res.Events[0].ChainHash == "" {
		t.Fatal("stored event should carry its chain hash")
	}
	if res.Events[0].AggregateType != event.AggregatePallet {
		t.Fatalf("aggregate type = %s", res.Events[0].AggregateType)
	}
	available(t, h, 100)
}

func TestExecuteRejectionAppendsNothing(t *testing.T) {
	store := memory.New()
	h := newHandler(t, store)
	mustExecute(t, h, palletCmd(pallet.CommandCreate, "c1", `{}`))
	mustExecute(t, h, palletCmd(pallet.CommandAddInput, "c2", `{"link_id":"L1","counterparty":{"type":"batch","id":"K1"},"quantity":"10"}`))

	res, err := h.Execute(context.Background(), palletCmd(pallet.CommandReserve, "c3", `{"link_id":"L2","counterparty":{"type":"order","id":"O1"},"quantity":"70"}`))
	if !apperrors.HasCode(err, apperrors.CodeInsufficientAvailable) {
		t.Fatalf("err = %v, want INSUFFICIENT_AVAILABLE", err)
	}
	if !res.Decision.Rejected() {
		t.Fatal("decision should be rejected")
	}
	var coded *apperrors.Error
	if !errors.As(err, &coded) || coded.Metadata["AggregateID"] != "P" || coded.Metadata["Requested"] != "70" {
		t.Fatalf("metadata = %+v", coded)
	}
	agg, err := store.GetAggregate(context.Background(), "t1", "P")
	if err != nil || agg.Version != 2 {
		t.Fatalf("aggregate = %+v, %v", agg, err)
	}
}

func TestExecuteReplaysCorrelation(t *testing.T) {
	store := memory.New()
	h := newHandler(t, store)
	mustExecute(t, h, palletCmd(pallet.CommandCreate, "c1", `{}`))
	first := mustExecute(t, h, palletCmd(pallet.CommandAddInput, "c2", `{"link_id":"L1","counterparty":{"type":"batch","id":"K1"},"quantity":"10"}`))

	again := mustExecute(t, h, palletCmd(pallet.CommandAddInput, "c2", `{"link_id":"L1","counterparty":{"type":"batch","id":"K1"},"quantity":"10"}`))
	if !again.Replayed {
		t.Fatal("expected replayed result")
	}
	if again.Events[0].ID != first.Events[0].ID || again.Version != 2 {
		t.Fatalf("replayed = %+v", again)
	}
	available(t, h, 10)
	if first.Events[0].Command != string(pallet.CommandAddInput) {
		t.Fatalf("command = %q, want %s", first.Events[0].Command, pallet.CommandAddInput)
	}
}

func TestExecuteRejectsCorrelationUsedByAnotherCommand(t *testing.T) {
	store := memory.New()
	h := newHandler(t, store)
	mustExecute(t, h, palletCmd(pallet.CommandCreate, "c1", `{}`))
	mustExecute(t, h, palletCmd(pallet.CommandAddInput, "c2", `{"link_id":"L1","counterparty":{"type":"batch","id":"K1"},"quantity":"10"}`))
	mustExecute(t, h, palletCmd(pallet.CommandReserve, "c3", `{"link_id":"L2","counterparty":{"type":"order","id":"O1"},"quantity":"4"}`))

	tests := []struct {
		name string
		cmd  command.Command
		used command.Type
	}{
		{"scrap under create", palletCmd(pallet.CommandRecordScrap, "c1", `{"quantity":"1"}`), pallet.CommandCreate},
		{"release under reserve", palletCmd(pallet.CommandRelease, "c3", `{"link_id":"L2"}`), pallet.CommandReserve},
		{"reserve under input", palletCmd(pallet.CommandReserve, "c2", `{"link_id":"L3","counterparty":{"type":"order","id":"O2"},"quantity":"1"}`), pallet.CommandAddInput},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := h.Execute(context.Background(), tc.cmd)
			if !apperrors.HasCode(err, apperrors.CodeValidation) {
				t.Fatalf("err = %v, want VALIDATION_ERROR", err)
			}
			if res.Replayed || len(res.Events) != 0 {
				t.Fatalf("result = %+v, want nothing replayed", res)
			}
			if got := apperrors.Metadata(err)["Command"]; got != string(tc.used) {
				t.Fatalf("used by = %q, want %s", got, tc.used)
			}
		})
	}

	available(t, h, 6)
	agg, err := store.GetAggregate(context.Background(), "t1", "P")
	if err != nil {
		t.Fatalf("get aggregate: %v", err)
	}
	if agg.Version != 3 {
		t.Fatalf("version = %d, want 3", agg.Version)
	}
}

func TestExecuteValidationErrors(t *testing.T) {
	h := newHandler(t, memory.New())
	cases := []command.Command{
		palletCmd(pallet.CommandCreate, "", `{}`),
		palletCmd("pallet.unknown", "c1", `{}`),
		palletCmd(pallet.CommandReserve, "c1", `{"link_id":"L","counterparty":{"type":"order","id":"O"},"quantity":"-1"}`),
		palletCmd(pallet.CommandReserve, "c1", `{"link_id":"L","counterparty":{"type":"order","id":"O"},"quantity":"NaN"}`),
	}
	for _, cmd := range cases {
		if _, err := h.Execute(context.Background(), cmd); !apperrors.HasCode(err, apperrors.CodeValidation) {
			t.Fatalf("%s %s: err = %v, want VALIDATION_ERROR", cmd.Type, cmd.PayloadJSON, err)
		}
	}
}

func TestExecuteMissingAggregate(t *testing.T) {
	h := newHandler(t, memory.New())
	_, err := h.Execute(context.Background(), palletCmd(pallet.CommandRecordScrap, "c1", `{"quantity":"1"}`))
	if !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

func TestExecuteTenantMismatch(t *testing.T) {
	h := newHandler(t, memory.New())
	mustExecute(t, h, palletCmd(pallet.CommandCreate, "c1", `{}`))

	cmd := palletCmd(pallet.CommandRecordScrap, "c2", `{"quantity":"1"}`)
	cmd.TenantID = "t2"
	if _, err := h.Execute(context.Background(), cmd); !apperrors.HasCode(err, apperrors.CodeTenantMismatch) {
		t.Fatalf("err = %v, want TENANT_MISMATCH", err)
	}
}

func TestExecuteWrongAggregateType(t *testing.T) {
	h := newHandler(t, memory.New())
	mustExecute(t, h, palletCmd(pallet.CommandCreate, "c1", `{}`))

	cmd := command.Command{TenantID: "t1", AggregateID: "P", Type: "run.start", CorrelationID: "c2"}
	if _, err := h.Execute(context.Background(), cmd); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
}

// racingStore appends a competing event right before the first append it
// receives, forcing one version conflict.
type racingStore struct {
	*memory.Store
	once sync.Once
}

func (s *racingStore) AppendEvents(ctx context.Context, req storage.AppendRequest) (storage.AppendResult, error) {
	var raceErr error
	s.once.Do(func() {
		evt := req.Events[0]
		evt.Type = event.TypeScrapRecorded
		evt.CorrelationID = "racer"
		evt.ID = ""
		evt.PayloadJSON = []byte(`{"quantity":"5"}`)
		_, raceErr = s.Store.AppendEvents(ctx, storage.AppendRequest{
			TenantID:        req.TenantID,
			AggregateID:     req.AggregateID,
			AggregateType:   req.AggregateType,
			ExpectedVersion: req.ExpectedVersion,
			Events:          []event.Event{evt},
		})
	})
	if raceErr != nil {
		return storage.AppendResult{}, raceErr
	}
	return s.Store.AppendEvents(ctx, req)
}

func TestExecuteRetriesVersionConflict(t *testing.T) {
	base := memory.New()
	setup := newHandler(t, base)
	mustExecute(t, setup, palletCmd(pallet.CommandCreate, "c1", `{}`))
	mustExecute(t, setup, palletCmd(pallet.CommandAddInput, "c2", `{"link_id":"L1","counterparty":{"type":"batch","id":"K1"},"quantity":"10"}`))

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	h := newHandler(t, &racingStore{Store: base})
	h.Metrics = m

	res := mustExecute(t, h, palletCmd(pallet.CommandReserve, "c3", `{"link_id":"L2","counterparty":{"type":"order","id":"O1"},"quantity":"4"}`))
	if res.Version != 4 {
		t.Fatalf("version = %d, want 4", res.Version)
	}
	available(t, h, 1)

	if got, err := testutil.GatherAndCount(registry, "ledger_append_conflicts_total"); err != nil || got != 1 {
		t.Fatalf("conflict series = %d, %v, want 1", got, err)
	}
}

func TestExecuteGivesUpAfterMaxAttempts(t *testing.T) {
	store := &conflictStore{Store: memory.New()}
	h := newHandler(t, store)
	mustExecute(t, h, palletCmd(pallet.CommandCreate, "c1", `{}`))

	store.conflict = true
	h.MaxAttempts = 2
	_, err := h.Execute(context.Background(), palletCmd(pallet.CommandClose, "c2", `{}`))
	if !apperrors.HasCode(err, apperrors.CodeConcurrencyConflict) {
		t.Fatalf("err = %v, want CONCURRENCY_CONFLICT", err)
	}
	if store.calls != 2 {
		t.Fatalf("append calls = %d, want 2", store.calls)
	}
}

type conflictStore struct {
	*memory.Store
	conflict bool
	calls    int
}

func (s *conflictStore) AppendEvents(ctx context.Context, req storage.AppendRequest) (storage.AppendResult, error) {
	if !s.conflict {
		return s.Store.AppendEvents(ctx, req)
	}
	s.calls++
	return storage.AppendResult{}, storage.VersionConflict(req.AggregateID, req.ExpectedVersion, req.ExpectedVersion+1)
}

func TestDecideDoesNotAppend(t *testing.T) {
	store := memory.New()
	h := newHandler(t, store)
	mustExecute(t, h, palletCmd(pallet.CommandCreate, "c1", `{}`))

	res, err := h.Decide(context.Background(), palletCmd(pallet.CommandRecordScrap, "c2", `{"quantity":"1"}`))
	if !apperrors.HasCode(err, apperrors.CodeInsufficientAvailable) {
		t.Fatalf("err = %v, want INSUFFICIENT_AVAILABLE", err)
	}
	if !res.Decision.Rejected() {
		t.Fatal("dry run should report the rejection")
	}

	res, err = h.Decide(context.Background(), palletCmd(pallet.CommandClose, "c3", `{}`))
	if err != nil || len(res.Decision.Events) != 1 || res.Version != 1 {
		t.Fatalf("dry run = %+v, %v", res, err)
	}
	agg, _ := store.GetAggregate(context.Background(), "t1", "P")
	if agg.Version != 1 {
		t.Fatalf("version = %d after dry run", agg.Version)
	}
}

func TestLoadUsesSnapshotTail(t *testing.T) {
	store := memory.New()
	h := newHandler(t, store)
	mustExecute(t, h, palletCmd(pallet.CommandCreate, "c1", `{}`))
	mustExecute(t, h, palletCmd(pallet.CommandAddInput, "c2", `{"link_id":"L1","counterparty":{"type":"batch","id":"K1"},"quantity":"10"}`))

	// A second handler without the cached snapshot appends behind its back.
	other := newHandler(t, store)
	mustExecute(t, other, palletCmd(pallet.CommandRecordScrap, "c3", `{"quantity":"4"}`))

	_, version, err := h.Load(context.Background(), "t1", event.AggregatePallet, "P")
	if err != nil || version != 3 {
		t.Fatalf("version = %d, %v", version, err)
	}
	available(t, h, 6)
}

func TestExecuteLogsRejections(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := newHandler(t, memory.New())
	h.Logger = zap.New(core)
	mustExecute(t, h, palletCmd(pallet.CommandCreate, "c1", `{}`))

	_, _ = h.Execute(context.Background(), palletCmd(pallet.CommandRecordScrap, "c2", `{"quantity":"1"}`))
	entries := logs.FilterMessage("command rejected").All()
	if len(entries) != 1 {
		t.Fatalf("rejection log entries = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["code"]; got != string(apperrors.CodeInsufficientAvailable) {
		t.Fatalf("logged code = %v", got)
	}
}
