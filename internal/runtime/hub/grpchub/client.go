// Package grpchub talks to the hub over gRPC. Messages are built at runtime
// from an in-code descriptor so no generated stubs are needed.
package grpchub

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/dynamicpb"

	hperrors "github.com/drblury/hubprovider/internal/runtime/errors"
	"github.com/drblury/hubprovider/internal/runtime/hub"
)

// Dialer opens gRPC connections to Target. Without DialOptions the
// connection is plaintext.
type Dialer struct {
	Target      string
	DialOptions []grpc.DialOption
}

// NewDialer returns a Dialer for target.
func NewDialer(target string, opts ...grpc.DialOption) *Dialer {
	return &Dialer{Target: target, DialOptions: opts}
}

func (d *Dialer) Dial(ctx context.Context, _ hub.Identity) (hub.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := d.DialOptions
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(d.Target, opts...)
	if err != nil {
		return nil, &hperrors.ConnectionError{Op: "dial " + d.Target, Err: err}
	}
	return &Client{conn: conn, closer: conn}, nil
}

// Client is a hub.Client over a gRPC connection.
type Client struct {
	conn   grpc.ClientConnInterface
	closer interface{ Close() error }
}

// NewClient wraps an existing connection. Close leaves conn open.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) GetTask(ctx context.Context, id hub.Identity) (hub.Poll, error) {
	resp := dynamicpb.NewMessage(taskDesc)
	if err := c.conn.Invoke(ctx, GetTaskMethod, encodeIdentity(id), resp); err != nil {
		if status.Code(err) == codes.NotFound {
			return hub.Poll{}, nil
		}
		return hub.Poll{}, mapError(ctx, "get task", id.Provider, err)
	}
	return hub.FromSignalTask(decodeTask(resp)), nil
}

func (c *Client) SubmitTaskResult(ctx context.Context, result hub.Result) (*hub.Task, error) {
	resp := dynamicpb.NewMessage(taskDesc)
	if err := c.conn.Invoke(ctx, SubmitTaskResultMethod, encodeResult(result), resp); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, mapError(ctx, "submit task result", result.Provider, err)
	}
	return hub.FromSignalTask(decodeTask(resp)).Task, nil
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func mapError(ctx context.Context, op, provider string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return &hperrors.AuthenticationError{Provider: provider, Err: err}
	case codes.Unavailable, codes.Aborted:
		return &hperrors.ConnectionError{Op: op, Err: err}
	default:
		return fmt.Errorf("hub %s: %w", op, err)
	}
}
