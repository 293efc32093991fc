package aggregate

import "fmt"

// AssertState converts an untyped state to S. Pointers to S are
// dereferenced; nil and any other type are errors.
func AssertState[S any](state any) (S, error) {
	var zero S
	switch typed := state.(type) {
	case S:
		return typed, nil
	case *S:
		if typed == nil {
			return zero, fmt.Errorf("expected %T state, got nil pointer", zero)
		}
		return *typed, nil
	default:
		return zero, fmt.Errorf("expected %T state, got %T", zero, state)
	}
}
