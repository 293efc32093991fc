package sqlite

import (
	"strings"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/services/ledger/storage"
	"github.com/kilnline/ledger/internal/services/ledger/storage/cursor"
	"github.com/kilnline/ledger/internal/services/ledger/storage/filter"
)

// listEventsPagePlan holds the WHERE clauses of one feed page. The count
// clause ignores the cursor so totals stay stable across pages.
type listEventsPagePlan struct {
	whereClause      string
	params           []any
	countWhereClause string
	countParams      []any
}

func buildListEventsPagePlan(req storage.ListEventsPageRequest) (listEventsPagePlan, error) {
	conditions := []string{"tenant_id = ?"}
	params := []any{req.TenantID}

	if req.AggregateID != "" {
		conditions = append(conditions, "aggregate_id = ?")
		params = append(params, req.AggregateID)
	}
	if req.AggregateType != "" {
		conditions = append(conditions, "aggregate_type = ?")
		params = append(params, string(req.AggregateType))
	}

	cond, err := filter.ParseEventFilter(req.Filter)
	if err != nil {
		return listEventsPagePlan{}, apperrors.Wrap(apperrors.CodeValidation, err.Error(), err)
	}
	if !cond.Empty() {
		conditions = append(conditions, cond.Clause)
		params = append(params, cond.Params...)
	}

	plan := listEventsPagePlan{
		countWhereClause: strings.Join(conditions, " AND "),
		countParams:      append([]any(nil), params...),
	}

	if req.PageToken != "" {
		c, err := cursor.Decode(req.PageToken)
		if err != nil {
			return listEventsPagePlan{}, apperrors.Wrap(apperrors.CodeValidation, err.Error(), err)
		}
		if err := cursor.ValidateFilterHash(c, req.Filter); err != nil {
			return listEventsPagePlan{}, apperrors.Wrap(apperrors.CodeValidation, err.Error(), err)
		}
		conditions = append(conditions, "position < ?")
		params = append(params, int64(c.Position))
	}

	plan.whereClause = strings.Join(conditions, " AND ")
	plan.params = params
	return plan, nil
}
