// Package errors provides structured error handling with i18n support.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeValidation marks malformed, missing, or non-positive input.
	CodeValidation Code = "VALIDATION_ERROR"
	// CodeNotFound marks an aggregate or linked entity that does not exist.
	CodeNotFound Code = "NOT_FOUND"
	// CodeInvalidTransition marks a command that the current status does not allow.
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	// CodeInsufficientAvailable marks a command that would push a balance negative.
	CodeInsufficientAvailable Code = "INSUFFICIENT_AVAILABLE"
	// CodeTenantMismatch marks a cross-tenant access attempt.
	CodeTenantMismatch Code = "TENANT_MISMATCH"
	// CodeConcurrencyConflict marks an append rejected against stale state.
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"
	// CodeStorage marks a durability layer failure.
	CodeStorage Code = "STORAGE_ERROR"
)

// Retryable reports whether the caller may retry the command with the same
// correlation id.
func (c Code) Retryable() bool {
	switch c {
	case CodeConcurrencyConflict, CodeStorage:
		return true
	default:
		return false
	}
}

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeValidation:
		return codes.InvalidArgument
	case CodeInvalidTransition, CodeInsufficientAvailable:
		return codes.FailedPrecondition
	case CodeNotFound:
		return codes.NotFound
	case CodeTenantMismatch:
		return codes.PermissionDenied
	case CodeConcurrencyConflict:
		return codes.Aborted
	case CodeStorage:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
