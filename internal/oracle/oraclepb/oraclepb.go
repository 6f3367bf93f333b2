// Package oraclepb defines the wire messages and gRPC service contract for
// reading a client's oracle record from the external collateral/subscription
// sidecar (spec §4.7, §6's "oracle interface"). The upstream repo this
// spec was distilled from names no .proto source for this service (the
// closest analogue, the teacher's tapp_service.TappService, was never
// retrieved as a generated package either — see DESIGN.md), so this
// contract is hand-authored directly against grpc-go's public
// ServiceDesc/codec extension points rather than produced by protoc. It
// still runs on a real gRPC channel; it only skips protobuf wire encoding
// in favor of a small JSON codec registered under the name "json".
package oraclepb

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// GetClientRecordRequest names the client whose oracle record is requested.
type GetClientRecordRequest struct {
	ClientAddress string `json:"client_address"`
}

// GetClientRecordResponse is the oracle's snapshot for one client (§4.7,
// §4.9). It MAY be stale; the caller treats collateral_to_be and
// subscriptions_now as authoritative safe-cap inputs regardless.
type GetClientRecordResponse struct {
	CollateralNow    uint64 `json:"collateral_now"`
	CollateralToBe   uint64 `json:"collateral_to_be"`
	SubscriptionsNow uint64 `json:"subscriptions_now"`
	IsSubscribedToBe bool   `json:"is_subscribed_to_be"`
}

// jsonCodec implements grpc's encoding.Codec over encoding/json, avoiding a
// protoc code-generation step for this single small RPC.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

const serviceName = "oraclepb.OracleService"

// OracleServiceClient is the client-side stub.
type OracleServiceClient interface {
	GetClientRecord(ctx context.Context, req *GetClientRecordRequest, opts ...grpc.CallOption) (*GetClientRecordResponse, error)
}

type oracleServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewOracleServiceClient wraps a dialed connection. Callers must dial with
// grpc.WithDefaultCallOptions(grpc.ForceCodec(oraclepb.Codec())) or pass
// grpc.CallContentSubtype("json") per call; DialGRPCReader in
// internal/oracle does the former.
func NewOracleServiceClient(cc grpc.ClientConnInterface) OracleServiceClient {
	return &oracleServiceClient{cc: cc}
}

func (c *oracleServiceClient) GetClientRecord(ctx context.Context, req *GetClientRecordRequest, opts ...grpc.CallOption) (*GetClientRecordResponse, error) {
	out := new(GetClientRecordResponse)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/GetClientRecord", req, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OracleServiceServer is the server-side contract, implemented by a test
// double or a real sidecar written in any language that speaks this JSON
// codec over gRPC.
type OracleServiceServer interface {
	GetClientRecord(context.Context, *GetClientRecordRequest) (*GetClientRecordResponse, error)
}

func _OracleService_GetClientRecord_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetClientRecordRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OracleServiceServer).GetClientRecord(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + serviceName + "/GetClientRecord",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(OracleServiceServer).GetClientRecord(ctx, req.(*GetClientRecordRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the grpc.ServiceDesc a server registers this contract
// under, mirroring what protoc-gen-go-grpc would otherwise emit.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*OracleServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetClientRecord",
			Handler:    _OracleService_GetClientRecord_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "oraclepb/oraclepb.proto",
}

// RegisterOracleServiceServer registers srv on s.
func RegisterOracleServiceServer(s grpc.ServiceRegistrar, srv OracleServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Codec returns the registered JSON codec, for wiring into dial options.
func Codec() encoding.Codec { return jsonCodec{} }
