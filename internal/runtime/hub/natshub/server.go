package natshub

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"

	hperrors "github.com/drblury/hubprovider/internal/runtime/errors"
	"github.com/drblury/hubprovider/internal/runtime/hub"
	"github.com/drblury/hubprovider/internal/runtime/jsoncodec"
)

// Backend answers hub requests. hub.Client satisfies it.
type Backend interface {
	GetTask(ctx context.Context, id hub.Identity) (hub.Poll, error)
	SubmitTaskResult(ctx context.Context, result hub.Result) (*hub.Task, error)
}

// Responder turns request bodies into reply bodies for one backend.
type Responder struct {
	Backend       Backend
	SubjectPrefix string
	Timeout       time.Duration
}

// Respond handles one request addressed to subject.
func (r *Responder) Respond(ctx context.Context, subject string, data []byte) []byte {
	get, submit := subjects(r.SubjectPrefix)
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var out reply
	switch subject {
	case get:
		var req identityRequest
		if err := jsoncodec.Unmarshal(data, &req); err != nil {
			out.Error = &wireError{Code: CodeInternal, Message: err.Error()}
			break
		}
		poll, err := r.Backend.GetTask(ctx, hub.Identity{Provider: req.Provider, AuthToken: req.AuthToken})
		switch {
		case err != nil:
			out.Error = toWireError(err)
		case poll.Task != nil:
			out.Task = toWire(poll.Task)
		case poll.RateLimit != nil && poll.RateLimit.Limited:
			out.RateLimited = true
			out.WaitTime = poll.RateLimit.WaitTime.Seconds()
		}
	case submit:
		var req wireResult
		if err := jsoncodec.Unmarshal(data, &req); err != nil {
			out.Error = &wireError{Code: CodeInternal, Message: err.Error()}
			break
		}
		next, err := r.Backend.SubmitTaskResult(ctx, hub.Result{
			TaskID:    req.TaskID,
			Provider:  req.Provider,
			AuthToken: req.AuthToken,
			Status:    req.Status,
			Action:    req.Action,
			Payload:   bytesOrNil(req.Payload),
			Result:    bytesOrNil(req.Result),
			Account:   bytesOrNil(req.Account),
		})
		if err != nil {
			out.Error = toWireError(err)
		} else {
			out.Task = toWire(next)
		}
	default:
		out.Error = &wireError{Code: CodeNotFound, Message: "unknown subject " + subject}
	}

	body, err := jsoncodec.Marshal(out)
	if err != nil {
		body, _ = jsoncodec.Marshal(reply{Error: &wireError{Code: CodeInternal, Message: err.Error()}})
	}
	return body
}

// Serve subscribes the responder on conn. Unsubscribe the returned
// subscriptions to stop serving.
func (r *Responder) Serve(conn *nats.Conn) ([]*nats.Subscription, error) {
	get, submit := subjects(r.SubjectPrefix)
	var subs []*nats.Subscription
	for _, subject := range []string{get, submit} {
		sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
			_ = msg.Respond(r.Respond(context.Background(), msg.Subject, msg.Data))
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func toWireError(err error) *wireError {
	var authErr *hperrors.AuthenticationError
	var connErr *hperrors.ConnectionError
	switch {
	case errors.As(err, &authErr):
		return &wireError{Code: CodeUnauthenticated, Message: err.Error()}
	case errors.As(err, &connErr):
		return &wireError{Code: CodeUnavailable, Message: err.Error()}
	default:
		return &wireError{Code: CodeInternal, Message: err.Error()}
	}
}
