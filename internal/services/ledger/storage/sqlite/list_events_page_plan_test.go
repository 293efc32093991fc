package sqlite

import (
	"testing"

	"github.com/stretchr/testify/require"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/storage"
	"github.com/kilnline/ledger/internal/services/ledger/storage/cursor"
)

func TestBuildListEventsPagePlan(t *testing.T) {
	token, err := cursor.Encode(cursor.New(42, `type = "RESERVED"`))
	require.NoError(t, err)

	plan, err := buildListEventsPagePlan(storage.ListEventsPageRequest{
		TenantID:      "t1",
		AggregateID:   "P1",
		AggregateType: event.AggregatePallet,
		Filter:        `type = "RESERVED"`,
		PageToken:     token,
	})
	require.NoError(t, err)
	require.Equal(t, "tenant_id = ? AND aggregate_id = ? AND aggregate_type = ? AND event_type = ? AND position < ?", plan.whereClause)
	require.Equal(t, []any{"t1", "P1", "pallet", "RESERVED", int64(42)}, plan.params)
	require.Equal(t, "tenant_id = ? AND aggregate_id = ? AND aggregate_type = ? AND event_type = ?", plan.countWhereClause)
	require.Len(t, plan.countParams, 4)
}

func TestBuildListEventsPagePlanRejectsBadToken(t *testing.T) {
	_, err := buildListEventsPagePlan(storage.ListEventsPageRequest{TenantID: "t1", PageToken: "not-a-token"})
	require.True(t, apperrors.HasCode(err, apperrors.CodeValidation), "err = %v", err)
}
