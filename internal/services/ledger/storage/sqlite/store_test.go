package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/storage"
	"github.com/kilnline/ledger/internal/services/ledger/storage/integrity"
	"github.com/kilnline/ledger/internal/services/ledger/storage/storetest"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"), opts...)
	require.NoError(t, err)
	return store
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store { return openTestStore(t) })
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), " ")
	require.Error(t, err)
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := Open(context.Background(), path)
	require.NoError(t, err)
	storetest.Append(t, store, 0, storetest.Event("t1", "P1", event.TypeCreated, "c1"))
	require.NoError(t, store.Close())

	reopened, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	agg, err := reopened.GetAggregate(context.Background(), "t1", "P1")
	require.NoError(t, err)
	require.Equal(t, uint64(1), agg.Version)
}

func TestTimestampsSurviveStorage(t *testing.T) {
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close() })

	evt := storetest.Event("t1", "P1", event.TypeCreated, "c1")
	evt.Timestamp = time.Date(2026, 3, 2, 8, 0, 0, 123456789, time.UTC)
	res := storetest.Append(t, store, 0, evt)

	events, err := store.ListEvents(context.Background(), "t1", "P1", 0, 0)
	require.NoError(t, err)
	require.True(t, events[0].Timestamp.Equal(res.Events[0].Timestamp))
	require.Equal(t, res.Events[0].Hash, events[0].Hash)
}

func TestVerifyEventIntegrityDetectsTampering(t *testing.T) {
	keyring, err := integrity.NewKeyring(map[string][]byte{"v1": []byte("secret")}, "v1")
	require.NoError(t, err)
	store := openTestStore(t, WithKeyring(keyring))
	t.Cleanup(func() { _ = store.Close() })

	storetest.Append(t, store, 0,
		storetest.Event("t1", "P1", event.TypeCreated, "c1"),
		storetest.Event("t1", "P1", event.TypeReceived, "c1"))
	require.NoError(t, store.VerifyEventIntegrity(context.Background()))

	_, err = store.sqlDB.Exec(`UPDATE events SET payload_json = '{"quantity":"99"}' WHERE aggregate_id = 'P1' AND seq = 2`)
	require.NoError(t, err)
	require.ErrorIs(t, store.VerifyEventIntegrity(context.Background()), integrity.ErrChainBroken)
}

func TestAppendRejectsVersionMovedUnderUpdate(t *testing.T) {
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close() })

	storetest.Append(t, store, 0, storetest.Event("t1", "P1", event.TypeCreated, "c1"))
	_, err := store.sqlDB.Exec(`CREATE TRIGGER hold_version BEFORE UPDATE ON aggregates BEGIN SELECT RAISE(IGNORE); END`)
	require.NoError(t, err)

	_, err = store.AppendEvents(context.Background(), storage.AppendRequest{
		TenantID:        "t1",
		AggregateID:     "P1",
		AggregateType:   event.AggregatePallet,
		ExpectedVersion: 1,
		Events:          []event.Event{storetest.Event("t1", "P1", event.TypeReceived, "c2")},
	})
	require.True(t, apperrors.HasCode(err, apperrors.CodeConcurrencyConflict), "err = %v", err)

	events, err := store.ListEvents(context.Background(), "t1", "P1", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestDailyDispatchWithoutTable(t *testing.T) {
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close() })

	_, err := store.sqlDB.Exec(`DROP TABLE kpi_dispatches`)
	require.NoError(t, err)

	days, err := store.DailyDispatch(context.Background(), "t1", storage.Window{
		From: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Empty(t, days)
}

func TestListStreamsAcrossTenants(t *testing.T) {
	store := openTestStore(t)
	t.Cleanup(func() { _ = store.Close() })

	storetest.Append(t, store, 0, storetest.Event("t2", "P2", event.TypeCreated, "c1"))
	storetest.Append(t, store, 0, storetest.Event("t1", "P1", event.TypeCreated, "c1"))

	streams, err := store.ListStreams(context.Background())
	require.NoError(t, err)
	require.Len(t, streams, 2)
	require.Equal(t, "t1", streams[0].TenantID)
}
