package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName - полное имя gRPC-сервиса продаж.
const ServiceName = "pos.v1.SaleService"

const (
	methodCommitSale = "/" + ServiceName + "/CommitSale"
	methodGetSale    = "/" + ServiceName + "/GetSale"
	methodVoidSale   = "/" + ServiceName + "/VoidSale"
	methodGetReceipt = "/" + ServiceName + "/GetReceipt"
	methodQuote      = "/" + ServiceName + "/Quote"
)

// SaleServiceServer - серверная часть pos.v1.SaleService.
// Запросы и ответы передаются как google.protobuf.Struct с JSON-формой из пакета api.
type SaleServiceServer interface {
	CommitSale(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSale(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VoidSale(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetReceipt(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Quote(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterSaleServiceServer регистрирует реализацию на gRPC-сервере.
func RegisterSaleServiceServer(registrar grpc.ServiceRegistrar, srv SaleServiceServer) {
	registrar.RegisterService(&SaleServiceDesc, srv)
}

// SaleServiceDesc описывает сервис для grpc.Server и reflection.
var SaleServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SaleServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CommitSale", Handler: unaryHandler(methodCommitSale, SaleServiceServer.CommitSale)},
		{MethodName: "GetSale", Handler: unaryHandler(methodGetSale, SaleServiceServer.GetSale)},
		{MethodName: "VoidSale", Handler: unaryHandler(methodVoidSale, SaleServiceServer.VoidSale)},
		{MethodName: "GetReceipt", Handler: unaryHandler(methodGetReceipt, SaleServiceServer.GetReceipt)},
		{MethodName: "Quote", Handler: unaryHandler(methodQuote, SaleServiceServer.Quote)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pos/v1/sale_service.proto",
}

type unaryMethod func(SaleServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SaleServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SaleServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// SaleServiceClient - клиент pos.v1.SaleService.
type SaleServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSaleServiceClient создаёт клиента поверх соединения.
func NewSaleServiceClient(cc grpc.ClientConnInterface) *SaleServiceClient {
	return &SaleServiceClient{cc: cc}
}

func (c *SaleServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// CommitSale вызывает CommitSale.
func (c *SaleServiceClient) CommitSale(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodCommitSale, in, opts...)
}

// GetSale вызывает GetSale.
func (c *SaleServiceClient) GetSale(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetSale, in, opts...)
}

// VoidSale вызывает VoidSale.
func (c *SaleServiceClient) VoidSale(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodVoidSale, in, opts...)
}

// GetReceipt вызывает GetReceipt.
func (c *SaleServiceClient) GetReceipt(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodGetReceipt, in, opts...)
}

// Quote вызывает Quote.
func (c *SaleServiceClient) Quote(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodQuote, in, opts...)
}
