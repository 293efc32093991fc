package errors

import (
	"context"
	"fmt"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestHandleErrorLocalizesDomainErrors(t *testing.T) {
	err := fmt.Errorf("load: %w", WithMetadata(CodeNotFound, "pallet P7 not found",
		map[string]string{"AggregateType": "pallet", "AggregateID": "P7"}))

	st, _ := status.FromError(HandleError(err, "pt-BR,pt;q=0.9,en;q=0.5"))
	if st.Code() != codes.NotFound {
		t.Fatalf("code = %s, want %s", st.Code(), codes.NotFound)
	}
	for _, detail := range st.Details() {
		if localized, ok := detail.(*errdetails.LocalizedMessage); ok {
			if localized.Locale != "pt-BR" || localized.Message != "pallet P7 não foi encontrado." {
				t.Fatalf("localized = %s %q", localized.Locale, localized.Message)
			}
			return
		}
	}
	t.Fatal("missing localized message")
}

func TestHandleErrorFallbacks(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{name: "status", err: status.Error(codes.Unauthenticated, "no tenant"), want: codes.Unauthenticated},
		{name: "canceled", err: fmt.Errorf("append: %w", context.Canceled), want: codes.Canceled},
		{name: "deadline", err: context.DeadlineExceeded, want: codes.DeadlineExceeded},
		{name: "unknown", err: fmt.Errorf("boom"), want: codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := status.Code(HandleError(tt.err, "")); got != tt.want {
				t.Fatalf("code = %s, want %s", got, tt.want)
			}
		})
	}
	if HandleError(nil, "") != nil {
		t.Fatal("nil error should stay nil")
	}
}
