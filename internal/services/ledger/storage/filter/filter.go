// Package filter parses AIP-160 event filters into a SQL condition and an
// equivalent in-memory predicate.
package filter

import (
	"fmt"
	"strings"
	"time"

	"go.einride.tech/aip/filtering"
	expr "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
)

// EventDeclarations returns the field declarations for event filtering.
func EventDeclarations() (*filtering.Declarations, error) {
	return filtering.NewDeclarations(
		filtering.DeclareStandardFunctions(),
		filtering.DeclareIdent("type", filtering.TypeString),
		filtering.DeclareIdent("aggregate_id", filtering.TypeString),
		filtering.DeclareIdent("aggregate_type", filtering.TypeString),
		filtering.DeclareIdent("actor_role", filtering.TypeString),
		filtering.DeclareIdent("correlation_id", filtering.TypeString),
		filtering.DeclareIdent("causation_id", filtering.TypeString),
		filtering.DeclareIdent("ts", filtering.TypeTimestamp),
	)
}

// Condition is a parsed filter. Clause and Params form a SQL WHERE
// fragment; Match evaluates the same filter against an event.
type Condition struct {
	Clause string
	Params []any
	match  func(event.Event) bool
}

// Empty reports whether the condition filters nothing.
func (c Condition) Empty() bool {
	return c.Clause == ""
}

// Match reports whether evt satisfies the condition. An empty condition
// matches every event.
func (c Condition) Match(evt event.Event) bool {
	if c.match == nil {
		return true
	}
	return c.match(evt)
}

// field maps a filter identifier to its SQL column and event accessor.
type field struct {
	column string
	value  func(event.Event) any
}

var fields = map[string]field{
	"type":           {column: "event_type", value: func(e event.Event) any { return string(e.Type) }},
	"aggregate_id":   {column: "aggregate_id", value: func(e event.Event) any { return e.AggregateID }},
	"aggregate_type": {column: "aggregate_type", value: func(e event.Event) any { return string(e.AggregateType) }},
	"actor_role":     {column: "actor_role", value: func(e event.Event) any { return e.ActorRole }},
	"correlation_id": {column: "correlation_id", value: func(e event.Event) any { return e.CorrelationID }},
	"causation_id":   {column: "causation_id", value: func(e event.Event) any { return e.CausationID }},
	"ts":             {column: "timestamp", value: func(e event.Event) any { return e.Timestamp }},
}

// ParseEventFilter parses an AIP-160 filter expression. An empty filter
// string yields an empty condition.
func ParseEventFilter(filterStr string) (Condition, error) {
	if strings.TrimSpace(filterStr) == "" {
		return Condition{}, nil
	}

	decls, err := EventDeclarations()
	if err != nil {
		return Condition{}, fmt.Errorf("create declarations: %w", err)
	}

	filter, err := filtering.ParseFilterString(filterStr, decls)
	if err != nil {
		return Condition{}, fmt.Errorf("parse filter: %w", err)
	}

	return translateExpr(filter.CheckedExpr.Expr)
}

func translateExpr(e *expr.Expr) (Condition, error) {
	if e == nil {
		return Condition{}, nil
	}
	switch kind := e.ExprKind.(type) {
	case *expr.Expr_CallExpr:
		return translateCall(kind.CallExpr)
	default:
		return Condition{}, fmt.Errorf("unsupported expression type: %T", kind)
	}
}

func translateCall(call *expr.Expr_Call) (Condition, error) {
	switch call.Function {
	case "_&&_", "AND":
		return translateLogical(call.Args, "AND")
	case "_||_", "OR":
		return translateLogical(call.Args, "OR")
	case "_==_", "=":
		return translateComparison(call.Args, "=")
	case "_!=_", "!=":
		return translateComparison(call.Args, "!=")
	case "_<_", "<":
		return translateComparison(call.Args, "<")
	case "_<=_", "<=":
		return translateComparison(call.Args, "<=")
	case "_>_", ">":
		return translateComparison(call.Args, ">")
	case "_>=_", ">=":
		return translateComparison(call.Args, ">=")
	default:
		return Condition{}, fmt.Errorf("unsupported function: %s", call.Function)
	}
}

func translateLogical(args []*expr.Expr, op string) (Condition, error) {
	if len(args) != 2 {
		return Condition{}, fmt.Errorf("%s requires 2 arguments", op)
	}
	left, err := translateExpr(args[0])
	if err != nil {
		return Condition{}, err
	}
	right, err := translateExpr(args[1])
	if err != nil {
		return Condition{}, err
	}
	match := func(evt event.Event) bool { return left.Match(evt) && right.Match(evt) }
	if op == "OR" {
		match = func(evt event.Event) bool { return left.Match(evt) || right.Match(evt) }
	}
	return Condition{
		Clause: fmt.Sprintf("(%s %s %s)", left.Clause, op, right.Clause),
		Params: append(append([]any(nil), left.Params...), right.Params...),
		match:  match,
	}, nil
}

func translateComparison(args []*expr.Expr, op string) (Condition, error) {
	if len(args) != 2 {
		return Condition{}, fmt.Errorf("comparison requires 2 arguments")
	}
	name, err := extractFieldName(args[0])
	if err != nil {
		return Condition{}, err
	}
	f, ok := fields[name]
	if !ok {
		return Condition{}, fmt.Errorf("unknown field: %s", name)
	}
	value, err := extractValue(args[1])
	if err != nil {
		return Condition{}, err
	}

	param := value
	if ts, ok := value.(time.Time); ok {
		// Timestamps are stored as unix milliseconds.
		param = ts.UnixMilli()
	}
	return Condition{
		Clause: fmt.Sprintf("%s %s ?", f.column, op),
		Params: []any{param},
		match: func(evt event.Event) bool {
			return compare(f.value(evt), value, op)
		},
	}, nil
}

func compare(actual, want any, op string) bool {
	var c int
	switch a := actual.(type) {
	case string:
		w, ok := want.(string)
		if !ok {
			return false
		}
		c = strings.Compare(a, w)
	case time.Time:
		w, ok := want.(time.Time)
		if !ok {
			return false
		}
		c = a.UTC().Truncate(time.Millisecond).Compare(w)
	default:
		return false
	}
	switch op {
	case "=":
		return c == 0
	case "!=":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

func extractFieldName(e *expr.Expr) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil expression")
	}
	switch kind := e.ExprKind.(type) {
	case *expr.Expr_IdentExpr:
		return kind.IdentExpr.Name, nil
	default:
		return "", fmt.Errorf("expected identifier, got %T", kind)
	}
}

func extractValue(e *expr.Expr) (any, error) {
	if e == nil {
		return nil, fmt.Errorf("nil expression")
	}
	switch kind := e.ExprKind.(type) {
	case *expr.Expr_ConstExpr:
		if s, ok := kind.ConstExpr.ConstantKind.(*expr.Constant_StringValue); ok {
			return s.StringValue, nil
		}
		return nil, fmt.Errorf("unsupported constant type: %T", kind.ConstExpr.ConstantKind)
	case *expr.Expr_CallExpr:
		if kind.CallExpr.Function == "timestamp" && len(kind.CallExpr.Args) == 1 {
			return extractTimestampValue(kind.CallExpr.Args[0])
		}
		return nil, fmt.Errorf("unsupported function in value position: %s", kind.CallExpr.Function)
	default:
		return nil, fmt.Errorf("expected constant or timestamp, got %T", kind)
	}
}

func extractTimestampValue(e *expr.Expr) (time.Time, error) {
	constant, ok := e.GetExprKind().(*expr.Expr_ConstExpr)
	if !ok {
		return time.Time{}, fmt.Errorf("timestamp argument must be a constant string")
	}
	str, ok := constant.ConstExpr.ConstantKind.(*expr.Constant_StringValue)
	if !ok {
		return time.Time{}, fmt.Errorf("timestamp argument must be a string")
	}
	t, err := time.Parse(time.RFC3339Nano, str.StringValue)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp format: %s", str.StringValue)
	}
	return t.UTC().Truncate(time.Millisecond), nil
}
