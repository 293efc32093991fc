// Package interceptors holds the unary interceptors of the ledger gRPC server.
package interceptors

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kilnline/ledger/internal/platform/logging"
	"github.com/kilnline/ledger/internal/platform/requestctx"
	grpcmeta "github.com/kilnline/ledger/internal/services/ledger/api/grpc/metadata"
)

// AccessLogInterceptor logs one line per unary call with its caller scope,
// outcome and duration. Rejected commands log at warn, server faults at error.
func AccessLogInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		st, _ := status.FromError(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("method_kind", classifyMethodKind(info.FullMethod)),
			zap.String("code", st.Code().String()),
			zap.String("tenant_id", requestctx.TenantFromContext(ctx)),
			zap.String("actor_role", requestctx.ActorRoleFromContext(ctx)),
			zap.String("request_id", grpcmeta.RequestIDFromContext(ctx)),
			zap.Duration("elapsed", time.Since(start)),
		}
		if reason := errorReason(st); reason != "" {
			fields = append(fields, zap.String("reason", reason))
		}
		if err != nil {
			fields = append(fields, zap.String("error", st.Message()))
		}
		logging.With(ctx, logger).Log(levelFor(st.Code()), "grpc call", fields...)
		return resp, err
	}
}

func levelFor(code codes.Code) zapcore.Level {
	switch code {
	case codes.OK:
		return zapcore.InfoLevel
	case codes.Internal, codes.Unavailable, codes.DataLoss, codes.Unknown:
		return zapcore.ErrorLevel
	default:
		return zapcore.WarnLevel
	}
}

func errorReason(st *status.Status) string {
	for _, detail := range st.Details() {
		if info, ok := detail.(*errdetails.ErrorInfo); ok {
			return info.Reason
		}
	}
	return ""
}

// classifyMethodKind reports read for Get and List methods.
func classifyMethodKind(fullMethod string) string {
	name := fullMethod[strings.LastIndex(fullMethod, "/")+1:]
	if strings.HasPrefix(name, "Get") || strings.HasPrefix(name, "List") {
		return "read"
	}
	return "write"
}
