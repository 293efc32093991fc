package ledger

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified name of the ledger service.
const ServiceName = "ledger.v1.LedgerService"

// LedgerServer is the server API for ledger.v1.LedgerService.
type LedgerServer interface {
	Execute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reserve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Release(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Consume(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddInput(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveInput(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Cancel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DispatchShipment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBalance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListEvents(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSummary(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var _ LedgerServer = (*Service)(nil)

type unaryMethod func(LedgerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// ServiceDesc describes ledger.v1.LedgerService for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		methodDesc("Execute", LedgerServer.Execute),
		methodDesc("Reserve", LedgerServer.Reserve),
		methodDesc("Release", LedgerServer.Release),
		methodDesc("Consume", LedgerServer.Consume),
		methodDesc("AddInput", LedgerServer.AddInput),
		methodDesc("RemoveInput", LedgerServer.RemoveInput),
		methodDesc("Cancel", LedgerServer.Cancel),
		methodDesc("DispatchShipment", LedgerServer.DispatchShipment),
		methodDesc("GetBalance", LedgerServer.GetBalance),
		methodDesc("ListEvents", LedgerServer.ListEvents),
		methodDesc("GetSummary", LedgerServer.GetSummary),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/v1/ledger.proto",
}

// FullMethod returns the full gRPC method name of a ledger method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func methodDesc(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LedgerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LedgerServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// RegisterLedgerServiceServer registers srv on s.
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls ledger.v1.LedgerService with plain maps.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a client over cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with in as the request struct and returns the reply
// fields.
func (c *Client) Call(ctx context.Context, method string, in map[string]any, opts ...grpc.CallOption) (map[string]any, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), req, out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
