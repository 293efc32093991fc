package interceptors

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/kilnline/ledger/internal/platform/errors"
	"github.com/kilnline/ledger/internal/platform/requestctx"
)

func TestAccessLogLevelsAndFields(t *testing.T) {
	tests := []struct {
		name   string
		method string
		err    error
		level  zapcore.Level
		kind   string
		reason string
	}{
		{name: "ok", method: "/ledger.v1.LedgerService/GetBalance", level: zapcore.InfoLevel, kind: "read"},
		{
			name:   "rejected",
			method: "/ledger.v1.LedgerService/Reserve",
			err:    apperrors.HandleError(apperrors.New(apperrors.CodeInsufficientAvailable, "short"), ""),
			level:  zapcore.WarnLevel,
			kind:   "write",
			reason: string(apperrors.CodeInsufficientAvailable),
		},
		{
			name:   "fault",
			method: "/ledger.v1.LedgerService/Execute",
			err:    status.Error(codes.Internal, "boom"),
			level:  zapcore.ErrorLevel,
			kind:   "write",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			ctx := requestctx.WithTenant(context.Background(), "t1")
			info := &grpc.UnaryServerInfo{FullMethod: tt.method}

			_, err := AccessLogInterceptor(zap.New(core))(ctx, nil, info, func(context.Context, any) (any, error) {
				return nil, tt.err
			})
			if err != tt.err {
				t.Fatalf("err = %v, want passthrough", err)
			}
			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("entries = %d, want 1", len(entries))
			}
			entry := entries[0]
			fields := entry.ContextMap()
			if entry.Level != tt.level || fields["method_kind"] != tt.kind || fields["tenant_id"] != "t1" {
				t.Fatalf("entry = %s %v", entry.Level, fields)
			}
			if tt.reason != "" && fields["reason"] != tt.reason {
				t.Fatalf("reason = %v, want %s", fields["reason"], tt.reason)
			}
		})
	}
}
