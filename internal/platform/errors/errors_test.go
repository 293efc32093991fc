package errors

import (
	"fmt"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("append: %w", WithMetadata(CodeInsufficientAvailable, "pallet P short", map[string]string{"AggregateID": "P"}))
	if !HasCode(err, CodeInsufficientAvailable) {
		t.Fatal("expected wrapped error to match code")
	}
	if HasCode(err, CodeNotFound) {
		t.Fatal("did not expect NOT_FOUND match")
	}
	if got := CodeOf(err); got != CodeInsufficientAvailable {
		t.Fatalf("CodeOf = %s, want %s", got, CodeInsufficientAvailable)
	}
	if got := CodeOf(fmt.Errorf("plain")); got != CodeUnknown {
		t.Fatalf("CodeOf(plain) = %s, want %s", got, CodeUnknown)
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	tests := []struct {
		code Code
		want codes.Code
	}{
		{CodeValidation, codes.InvalidArgument},
		{CodeNotFound, codes.NotFound},
		{CodeInvalidTransition, codes.FailedPrecondition},
		{CodeInsufficientAvailable, codes.FailedPrecondition},
		{CodeTenantMismatch, codes.PermissionDenied},
		{CodeConcurrencyConflict, codes.Aborted},
		{CodeStorage, codes.Unavailable},
		{CodeUnknown, codes.Internal},
	}
	for _, tt := range tests {
		if got := tt.code.GRPCCode(); got != tt.want {
			t.Fatalf("%s.GRPCCode() = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !CodeStorage.Retryable() || !CodeConcurrencyConflict.Retryable() {
		t.Fatal("expected storage and conflict to be retryable")
	}
	if CodeInsufficientAvailable.Retryable() {
		t.Fatal("did not expect insufficient available to be retryable")
	}
}

func TestToGRPCStatusAttachesDetails(t *testing.T) {
	err := WithMetadata(CodeNotFound, "pallet P not found", map[string]string{"AggregateID": "P"})
	st, ok := status.FromError(err.ToGRPCStatus("en-US", "pallet P was not found."))
	if !ok {
		t.Fatal("expected grpc status")
	}
	if st.Code() != codes.NotFound {
		t.Fatalf("code = %s, want %s", st.Code(), codes.NotFound)
	}
	var info *errdetails.ErrorInfo
	var localized *errdetails.LocalizedMessage
	for _, detail := range st.Details() {
		switch d := detail.(type) {
		case *errdetails.ErrorInfo:
			info = d
		case *errdetails.LocalizedMessage:
			localized = d
		}
	}
	if info == nil || info.Reason != string(CodeNotFound) || info.Metadata["AggregateID"] != "P" {
		t.Fatalf("unexpected error info: %v", info)
	}
	if localized == nil || localized.Message != "pallet P was not found." {
		t.Fatalf("unexpected localized message: %v", localized)
	}
}

func TestToGRPCStatusAddsFieldViolation(t *testing.T) {
	err := WithMetadata(CodeValidation, "quantity must be positive", map[string]string{"Field": "quantity", "Reason": "must be positive"})
	st, _ := status.FromError(err.ToGRPCStatus("en-US", "quantity must be positive."))
	for _, detail := range st.Details() {
		if bad, ok := detail.(*errdetails.BadRequest); ok {
			violations := bad.GetFieldViolations()
			if len(violations) != 1 || violations[0].GetField() != "quantity" || violations[0].GetDescription() != "must be positive" {
				t.Fatalf("violations = %v", violations)
			}
			return
		}
	}
	t.Fatal("missing BadRequest detail")
}

func TestToGRPCStatusSkipsFieldViolationOutsideValidation(t *testing.T) {
	err := WithMetadata(CodeNotFound, "pallet P not found", map[string]string{"Field": "aggregate_id"})
	st, _ := status.FromError(err.ToGRPCStatus("en-US", "not found"))
	for _, detail := range st.Details() {
		if _, ok := detail.(*errdetails.BadRequest); ok {
			t.Fatal("unexpected BadRequest detail")
		}
	}
}
