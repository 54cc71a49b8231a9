// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package joinrpc defines the gRPC protocol spoken between coinjoin clients
// and the coordinator.
//
// Messages are plain Go structs encoded as JSON, registered with gRPC as the
// "json" content subtype, so no generated code is involved.
package joinrpc

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "joinrpc.Coordinator"

// CoordinatorClient is the client API of the coordinator service.
type CoordinatorClient interface {
	Status(ctx context.Context, in *StatusRequest,
		opts ...grpc.CallOption) (*StatusResponse, error)
	RoundStatus(ctx context.Context, in *RoundStatusRequest,
		opts ...grpc.CallOption) (*RoundStatus, error)
	Nonce(ctx context.Context, in *NonceRequest,
		opts ...grpc.CallOption) (*NonceResponse, error)
	RegisterInput(ctx context.Context, in *InputRegistrationRequest,
		opts ...grpc.CallOption) (*InputRegistrationResponse, error)
	ConfirmConnection(ctx context.Context,
		in *ConnectionConfirmationRequest,
		opts ...grpc.CallOption) (*ConnectionConfirmationResponse, error)
	RegisterOutput(ctx context.Context, in *OutputRegistrationRequest,
		opts ...grpc.CallOption) (*OutputRegistrationResponse, error)
	UnsignedTransaction(ctx context.Context,
		in *UnsignedTransactionRequest,
		opts ...grpc.CallOption) (*UnsignedTransactionResponse, error)
	SubmitSignatures(ctx context.Context, in *SignatureSubmissionRequest,
		opts ...grpc.CallOption) (*SignatureSubmissionResponse, error)
	Disconnect(ctx context.Context, in *DisconnectionRequest,
		opts ...grpc.CallOption) (*DisconnectionResponse, error)
}

type coordinatorClient struct {
	cc grpc.ClientConnInterface
}

// NewCoordinatorClient returns a client of the coordinator service on cc.
func NewCoordinatorClient(cc grpc.ClientConnInterface) CoordinatorClient {
	return &coordinatorClient{cc}
}

func (c *coordinatorClient) invoke(ctx context.Context, method string,
	in, out interface{}, opts []grpc.CallOption) error {

	opts = append([]grpc.CallOption{
		grpc.CallContentSubtype(CodecName),
	}, opts...)

	return c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...)
}

func (c *coordinatorClient) Status(ctx context.Context, in *StatusRequest,
	opts ...grpc.CallOption) (*StatusResponse, error) {

	out := new(StatusResponse)
	if err := c.invoke(ctx, "Status", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *coordinatorClient) RoundStatus(ctx context.Context,
	in *RoundStatusRequest, opts ...grpc.CallOption) (*RoundStatus, error) {

	out := new(RoundStatus)
	if err := c.invoke(ctx, "RoundStatus", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *coordinatorClient) Nonce(ctx context.Context, in *NonceRequest,
	opts ...grpc.CallOption) (*NonceResponse, error) {

	out := new(NonceResponse)
	if err := c.invoke(ctx, "Nonce", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *coordinatorClient) RegisterInput(ctx context.Context,
	in *InputRegistrationRequest,
	opts ...grpc.CallOption) (*InputRegistrationResponse, error) {

	out := new(InputRegistrationResponse)
	if err := c.invoke(ctx, "RegisterInput", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *coordinatorClient) ConfirmConnection(ctx context.Context,
	in *ConnectionConfirmationRequest,
	opts ...grpc.CallOption) (*ConnectionConfirmationResponse, error) {

	out := new(ConnectionConfirmationResponse)
	err := c.invoke(ctx, "ConfirmConnection", in, out, opts)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *coordinatorClient) RegisterOutput(ctx context.Context,
	in *OutputRegistrationRequest,
	opts ...grpc.CallOption) (*OutputRegistrationResponse, error) {

	out := new(OutputRegistrationResponse)
	if err := c.invoke(ctx, "RegisterOutput", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *coordinatorClient) UnsignedTransaction(ctx context.Context,
	in *UnsignedTransactionRequest,
	opts ...grpc.CallOption) (*UnsignedTransactionResponse, error) {

	out := new(UnsignedTransactionResponse)
	err := c.invoke(ctx, "UnsignedTransaction", in, out, opts)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *coordinatorClient) SubmitSignatures(ctx context.Context,
	in *SignatureSubmissionRequest,
	opts ...grpc.CallOption) (*SignatureSubmissionResponse, error) {

	out := new(SignatureSubmissionResponse)
	err := c.invoke(ctx, "SubmitSignatures", in, out, opts)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *coordinatorClient) Disconnect(ctx context.Context,
	in *DisconnectionRequest,
	opts ...grpc.CallOption) (*DisconnectionResponse, error) {

	out := new(DisconnectionResponse)
	if err := c.invoke(ctx, "Disconnect", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// CoordinatorServer is the server API of the coordinator service.
type CoordinatorServer interface {
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
	RoundStatus(context.Context, *RoundStatusRequest) (*RoundStatus, error)
	Nonce(context.Context, *NonceRequest) (*NonceResponse, error)
	RegisterInput(context.Context,
		*InputRegistrationRequest) (*InputRegistrationResponse, error)
	ConfirmConnection(context.Context,
		*ConnectionConfirmationRequest) (*ConnectionConfirmationResponse,
		error)
	RegisterOutput(context.Context,
		*OutputRegistrationRequest) (*OutputRegistrationResponse, error)
	UnsignedTransaction(context.Context,
		*UnsignedTransactionRequest) (*UnsignedTransactionResponse, error)
	SubmitSignatures(context.Context,
		*SignatureSubmissionRequest) (*SignatureSubmissionResponse, error)
	Disconnect(context.Context,
		*DisconnectionRequest) (*DisconnectionResponse, error)
}

// RegisterCoordinatorServer registers srv with s.
func RegisterCoordinatorServer(s grpc.ServiceRegistrar, srv CoordinatorServer) {
	s.RegisterService(&coordinatorServiceDesc, srv)
}

// unaryHandler adapts a typed server method to a grpc.MethodHandler.
func unaryHandler[Req any, Resp any](method string,
	call func(CoordinatorServer, context.Context, *Req) (*Resp, error),
) grpc.MethodDesc {

	handler := func(srv interface{}, ctx context.Context,
		dec func(interface{}) error,
		interceptor grpc.UnaryServerInterceptor) (interface{}, error) {

		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}

		server := srv.(CoordinatorServer)
		if interceptor == nil {
			return call(server, ctx, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + serviceName + "/" + method,
		}
		next := func(ctx context.Context,
			req interface{}) (interface{}, error) {

			return call(server, ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, next)
	}

	return grpc.MethodDesc{MethodName: method, Handler: handler}
}

var coordinatorServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CoordinatorServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Status", CoordinatorServer.Status),
		unaryHandler("RoundStatus", CoordinatorServer.RoundStatus),
		unaryHandler("Nonce", CoordinatorServer.Nonce),
		unaryHandler("RegisterInput", CoordinatorServer.RegisterInput),
		unaryHandler(
			"ConfirmConnection", CoordinatorServer.ConfirmConnection,
		),
		unaryHandler("RegisterOutput", CoordinatorServer.RegisterOutput),
		unaryHandler(
			"UnsignedTransaction",
			CoordinatorServer.UnsignedTransaction,
		),
		unaryHandler(
			"SubmitSignatures", CoordinatorServer.SubmitSignatures,
		),
		unaryHandler("Disconnect", CoordinatorServer.Disconnect),
	},
	Metadata: "joinrpc",
}
