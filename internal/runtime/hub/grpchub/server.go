package grpchub

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/dynamicpb"

	hperrors "github.com/drblury/hubprovider/internal/runtime/errors"
	"github.com/drblury/hubprovider/internal/runtime/hub"
)

// Backend answers hub calls on the server side. hub.Client satisfies it, so a
// MemoryHub client can be served directly.
type Backend interface {
	GetTask(ctx context.Context, id hub.Identity) (hub.Poll, error)
	SubmitTaskResult(ctx context.Context, result hub.Result) (*hub.Task, error)
}

// NewServer returns a gRPC server exposing backend as the hub service.
func NewServer(backend Backend, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		return serve(backend, stream)
	}))
	return grpc.NewServer(opts...)
}

func serve(backend Backend, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	ctx := stream.Context()
	switch method {
	case GetTaskMethod:
		req := dynamicpb.NewMessage(providerRequestDesc)
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		poll, err := backend.GetTask(ctx, decodeIdentity(req))
		if err != nil {
			return toStatus(err)
		}
		var task *hub.Task
		switch {
		case poll.Task != nil:
			task = poll.Task
		case poll.RateLimit != nil && poll.RateLimit.Limited:
			task = hub.SignalTask(poll.RateLimit.WaitTime)
		}
		return stream.SendMsg(encodeTask(task))
	case SubmitTaskResultMethod:
		req := dynamicpb.NewMessage(taskResultDesc)
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		next, err := backend.SubmitTaskResult(ctx, decodeResult(req))
		if err != nil {
			return toStatus(err)
		}
		return stream.SendMsg(encodeTask(next))
	default:
		return status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}
}

func toStatus(err error) error {
	var authErr *hperrors.AuthenticationError
	var connErr *hperrors.ConnectionError
	switch {
	case errors.As(err, &authErr):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.As(err, &connErr):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
