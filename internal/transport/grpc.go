package transport

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	frontendGRPC = "grpc"

	// TelemetryServiceName is the gRPC service slamviz registers.
	TelemetryServiceName = "slamviz.v1.Telemetry"

	ListChannelsMethod = "/" + TelemetryServiceName + "/ListChannels"
	SubscribeMethod    = "/" + TelemetryServiceName + "/Subscribe"

	// typeURLPrefix turns a schema name into an Any type URL.
	typeURLPrefix = "type.googleapis.com/"
)

// TelemetryServer is the server API of slamviz.v1.Telemetry.
//
// The service uses well-known types only, so no generated code is needed:
//
//	rpc ListChannels(google.protobuf.Empty) returns (google.protobuf.Struct);
//	rpc Subscribe(google.protobuf.StringValue) returns (stream google.protobuf.Any);
type TelemetryServer interface {
	ListChannels(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Subscribe(*wrapperspb.StringValue, grpc.ServerStream) error
}

// TelemetryServiceDesc describes slamviz.v1.Telemetry for grpc.Server.RegisterService.
var TelemetryServiceDesc = grpc.ServiceDesc{
	ServiceName: TelemetryServiceName,
	HandlerType: (*TelemetryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListChannels", Handler: listChannelsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "slamviz/v1/telemetry.proto",
}

// RegisterTelemetryServer registers srv with s.
func RegisterTelemetryServer(s grpc.ServiceRegistrar, srv TelemetryServer) {
	s.RegisterService(&TelemetryServiceDesc, srv)
}

func listChannelsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TelemetryServer).ListChannels(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListChannelsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TelemetryServer).ListChannels(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(TelemetryServer).Subscribe(in, stream)
}

// telemetryService serves the Hub over gRPC.
type telemetryService struct {
	hub *Hub
	log *slog.Logger
}

var _ TelemetryServer = (*telemetryService)(nil)

// ListChannels returns {"channels": [{id, topic, schemaName, encoding}, ...]}.
func (s *telemetryService) ListChannels(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(map[string]any{"channels": channelList(s.hub.Channels())})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode channels: %v", err)
	}
	return out, nil
}

// Subscribe streams every message of the requested topic, or of every
// channel (including ones created later) when the topic is empty. Each
// message is an Any whose type URL names the channel's schema.
func (s *telemetryService) Subscribe(req *wrapperspb.StringValue, stream grpc.ServerStream) error {
	topic := req.GetValue()

	client, channels, err := s.hub.Register(frontendGRPC)
	if err != nil {
		if errors.Is(err, ErrTooManyClients) {
			return status.Error(codes.ResourceExhausted, err.Error())
		}
		return status.Error(codes.Unavailable, err.Error())
	}
	defer s.hub.Unregister(client)

	log := s.log.With("client_id", client.ID, "topic", topic)
	log.Info("grpc subscriber connected")

	matched := 0
	for _, ch := range channels {
		if topic == "" || ch.Topic == topic {
			if err := s.hub.Subscribe(client, uint32(ch.ID), ch.ID); err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			matched++
		}
	}
	if topic != "" && matched == 0 {
		return status.Errorf(codes.NotFound, "no channel for topic %q", topic)
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			log.Info("grpc subscriber disconnected")
			return nil
		case <-client.Done():
			return status.Error(codes.Unavailable, "server shutting down")
		case ev := <-client.Events():
			switch ev.Kind {
			case EventAdvertise:
				if topic == "" {
					_ = s.hub.Subscribe(client, uint32(ev.Channel.ID), ev.Channel.ID)
				}
			case EventData:
				msg := &anypb.Any{
					TypeUrl: typeURLPrefix + ev.Channel.Schema.Name,
					Value:   ev.Payload,
				}
				if err := stream.SendMsg(msg); err != nil {
					log.Debug("grpc send failed", "error", err)
					return err
				}
			}
		}
	}
}

func channelList(channels []Channel) []any {
	out := make([]any, 0, len(channels))
	for _, ch := range channels {
		out = append(out, map[string]any{
			"id":         float64(ch.ID),
			"topic":      ch.Topic,
			"schemaName": ch.Schema.Name,
			"encoding":   ch.Schema.Encoding,
		})
	}
	return out
}

// TelemetryClient is the client API of slamviz.v1.Telemetry.
type TelemetryClient struct {
	cc grpc.ClientConnInterface
}

// NewTelemetryClient wraps a client connection.
func NewTelemetryClient(cc grpc.ClientConnInterface) *TelemetryClient {
	return &TelemetryClient{cc: cc}
}

// ListChannels calls Telemetry.ListChannels.
func (c *TelemetryClient) ListChannels(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ListChannelsMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// TelemetryStream receives the messages of a Subscribe call.
type TelemetryStream struct {
	grpc.ClientStream
}

// Recv blocks for the next message.
func (s *TelemetryStream) Recv() (*anypb.Any, error) {
	m := new(anypb.Any)
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Subscribe calls Telemetry.Subscribe; an empty topic selects every channel.
func (c *TelemetryClient) Subscribe(ctx context.Context, topic string, opts ...grpc.CallOption) (*TelemetryStream, error) {
	stream, err := c.cc.NewStream(ctx, &TelemetryServiceDesc.Streams[0], SubscribeMethod, opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(wrapperspb.String(topic)); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &TelemetryStream{ClientStream: stream}, nil
}

// SchemaNameFromTypeURL strips the Any type URL prefix.
func SchemaNameFromTypeURL(typeURL string) string {
	return strings.TrimPrefix(typeURL, typeURLPrefix)
}
