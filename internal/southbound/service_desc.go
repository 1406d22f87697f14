package southbound

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName   = "apsteer.southbound.v1.SwitchControl"
	connectMethod = "/" + serviceName + "/Connect"
)

// SwitchControlServer is the server side of the switch control channel
type SwitchControlServer interface {
	Connect(ConnectServer) error
}

// ConnectServer is the controller end of one switch stream
type ConnectServer interface {
	Send(*ControllerMessage) error
	Recv() (*SwitchMessage, error)
	grpc.ServerStream
}

type connectServer struct {
	grpc.ServerStream
}

func (s *connectServer) Send(m *ControllerMessage) error {
	return s.ServerStream.SendMsg(m)
}

func (s *connectServer) Recv() (*SwitchMessage, error) {
	m := new(SwitchMessage)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func connectHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(SwitchControlServer).Connect(&connectServer{stream})
}

// ServiceDesc describes the switch control service for grpc.Server
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SwitchControlServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "apsteer/southbound/v1/switch_control",
}

// ConnectClient is the switch end of one stream
type ConnectClient interface {
	Send(*SwitchMessage) error
	Recv() (*ControllerMessage, error)
	grpc.ClientStream
}

type connectClient struct {
	grpc.ClientStream
}

func (c *connectClient) Send(m *SwitchMessage) error {
	return c.ClientStream.SendMsg(m)
}

func (c *connectClient) Recv() (*ControllerMessage, error) {
	m := new(ControllerMessage)
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// openConnect opens a Connect stream using the JSON codec
func openConnect(ctx context.Context, cc grpc.ClientConnInterface, opts ...grpc.CallOption) (ConnectClient, error) {
	opts = append(opts, grpc.CallContentSubtype(codecName))
	stream, err := cc.NewStream(ctx, &ServiceDesc.Streams[0], connectMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &connectClient{stream}, nil
}
