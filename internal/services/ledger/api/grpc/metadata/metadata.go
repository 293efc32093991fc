package metadata

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/kilnline/ledger/internal/platform/errors/i18n"
	"github.com/kilnline/ledger/internal/platform/id"
	"github.com/kilnline/ledger/internal/platform/requestctx"
)

// TenantIDHeader is the gRPC metadata key for the calling tenant.
const TenantIDHeader = "x-tenant-id"

// ActorRoleHeader is the gRPC metadata key for the caller's role label.
const ActorRoleHeader = "x-actor-role"

// AcceptLanguageHeader is the gRPC metadata key for the preferred locale.
const AcceptLanguageHeader = "accept-language"

// RequestIDHeader is the gRPC metadata key for request correlation IDs.
const RequestIDHeader = "x-kilnline-request-id"

// DefaultActorRole is recorded when callers send no role.
const DefaultActorRole = "operator"

type contextKey string

const requestIDContextKey contextKey = "kilnline-request-id"

// RequestIDFromContext returns the request ID stored in context.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDContextKey).(string)
	return value
}

// WithRequestID stores the request ID in context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

// IsPrintableASCII reports whether a string contains only printable ASCII characters.
func IsPrintableASCII(value string) bool {
	if value == "" {
		return false
	}
	for i := 0; i < len(value); i++ {
		if value[i] < 0x20 || value[i] > 0x7e {
			return false
		}
	}
	return true
}

// FirstMetadataValue returns the first printable ASCII metadata value for a key.
func FirstMetadataValue(md metadata.MD, key string) string {
	if len(md) == 0 {
		return ""
	}
	for mdKey, values := range md {
		if !strings.EqualFold(mdKey, key) {
			continue
		}
		for _, value := range values {
			if IsPrintableASCII(value) {
				return strings.TrimSpace(value)
			}
		}
	}
	return ""
}

// Scope selects the methods whose callers must name a tenant. A nil scope
// requires a tenant on every method.
type Scope func(fullMethod string) bool

// ServicePrefix scopes the tenant requirement to one service.
func ServicePrefix(service string) Scope {
	prefix := "/" + service + "/"
	return func(fullMethod string) bool {
		return strings.HasPrefix(fullMethod, prefix)
	}
}

// UnaryServerInterceptor moves caller headers into the request context.
// Every call gets a request ID, generated when the caller sent none, echoed
// back as a response header. Calls in scope without a tenant are refused.
func UnaryServerInterceptor(scope Scope, idGenerator func() (string, error)) grpc.UnaryServerInterceptor {
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)

		requestID := FirstMetadataValue(md, RequestIDHeader)
		if requestID == "" {
			generated, err := idGenerator()
			if err != nil {
				return nil, status.Errorf(codes.Internal, "ensure request metadata: %v", err)
			}
			requestID = generated
		}
		if err := grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, requestID)); err != nil {
			return nil, status.Errorf(codes.Internal, "set response metadata: %v", err)
		}

		ctx = WithRequestID(ctx, requestID)
		ctx = requestctx.WithLocale(ctx, i18n.ResolveLocale(FirstMetadataValue(md, AcceptLanguageHeader)))
		role := FirstMetadataValue(md, ActorRoleHeader)
		if role == "" {
			role = DefaultActorRole
		}
		ctx = requestctx.WithActorRole(ctx, role)

		tenantID := FirstMetadataValue(md, TenantIDHeader)
		if tenantID == "" && (scope == nil || scope(info.FullMethod)) {
			return nil, status.Errorf(codes.Unauthenticated, "%s metadata is required", TenantIDHeader)
		}
		if tenantID != "" {
			ctx = requestctx.WithTenant(ctx, tenantID)
		}
		return handler(ctx, req)
	}
}
