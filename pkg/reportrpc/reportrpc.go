// Package reportrpc declares the ReportService gRPC contract between
// spikeqc-agent and spikeqc-server.
//
// Messages are the plain Go structs from pkg/types encoded as JSON. The codec
// is registered under the "json" content subtype when this package is
// imported, so both sides only need to import reportrpc: clients pass
// CallOptions() on every call and the server picks the codec from the
// request's content-type.
package reportrpc

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/obsidianstack/spikeqc/pkg/types"
)

const (
	// ServiceName is the fully-qualified gRPC service name.
	ServiceName = "spikeqc.v1.ReportService"

	// SendReportMethod is the full method path used on the wire.
	SendReportMethod = "/" + ServiceName + "/SendReport"

	// CodecName is the content subtype (application/grpc+json).
	CodecName = "json"
)

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec marshals gRPC messages with encoding/json.
type Codec struct{}

// Marshal implements encoding.Codec.
func (Codec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

// Name implements encoding.Codec.
func (Codec) Name() string { return CodecName }

// CallOptions returns the per-call options every client call must carry.
func CallOptions() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(CodecName)}
}

// ReportServiceServer is implemented by the server-side receiver.
type ReportServiceServer interface {
	SendReport(ctx context.Context, report *types.QualityReport) (*types.SendResponse, error)
}

// ReportServiceClient is the agent-side stub.
type ReportServiceClient interface {
	SendReport(ctx context.Context, report *types.QualityReport, opts ...grpc.CallOption) (*types.SendResponse, error)
}

type reportServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewReportServiceClient returns a client bound to cc.
func NewReportServiceClient(cc grpc.ClientConnInterface) ReportServiceClient {
	return &reportServiceClient{cc: cc}
}

func (c *reportServiceClient) SendReport(ctx context.Context, report *types.QualityReport, opts ...grpc.CallOption) (*types.SendResponse, error) {
	out := new(types.SendResponse)
	opts = append(CallOptions(), opts...)
	if err := c.cc.Invoke(ctx, SendReportMethod, report, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisterReportServiceServer registers srv on s.
func RegisterReportServiceServer(s grpc.ServiceRegistrar, srv ReportServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

func sendReportHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(types.QualityReport)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReportServiceServer).SendReport(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: SendReportMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ReportServiceServer).SendReport(ctx, req.(*types.QualityReport))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReportServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendReport", Handler: sendReportHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "spikeqc/v1/report.proto",
}
