// Package natshub talks to the hub with NATS request/reply. Requests and
// replies are JSON documents on <prefix>.get_task and <prefix>.submit_task_result.
package natshub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	hperrors "github.com/drblury/hubprovider/internal/runtime/errors"
	"github.com/drblury/hubprovider/internal/runtime/hub"
	"github.com/drblury/hubprovider/internal/runtime/jsoncodec"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "hub"

// Error codes carried in replies.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeUnavailable     = "unavailable"
	CodeNotFound        = "not_found"
	CodeInternal        = "internal"
)

// Requester is the part of *nats.Conn the client needs.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

type identityRequest struct {
	Provider  string `json:"provider"`
	AuthToken string `json:"auth_token"`
}

type wireTask struct {
	TaskID        string          `json:"task_id"`
	Action        string          `json:"action"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Account       json.RawMessage `json:"account,omitempty"`
	RecreatedFrom string          `json:"recreated_from,omitempty"`
}

type wireResult struct {
	TaskID    string          `json:"task_id"`
	Provider  string          `json:"provider"`
	AuthToken string          `json:"auth_token"`
	Status    string          `json:"status"`
	Action    string          `json:"action"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Result    json.RawMessage `json:"result"`
	Account   json.RawMessage `json:"account,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type reply struct {
	Task        *wireTask  `json:"task,omitempty"`
	RateLimited bool       `json:"rate_limited,omitempty"`
	WaitTime    float64    `json:"wait_time,omitempty"`
	Error       *wireError `json:"error,omitempty"`
}

func subjects(prefix string) (get, submit string) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + ".get_task", prefix + ".submit_task_result"
}

// Dialer connects to a NATS server.
type Dialer struct {
	URL           string
	SubjectPrefix string
	Options       []nats.Option
}

func (d *Dialer) Dial(ctx context.Context, id hub.Identity) (hub.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	opts := append([]nats.Option{nats.Name("hubprovider-" + id.Provider)}, d.Options...)
	conn, err := nats.Connect(d.URL, opts...)
	if err != nil {
		return nil, &hperrors.ConnectionError{Op: "connect " + d.URL, Err: err}
	}
	c := NewClient(conn, d.SubjectPrefix)
	c.close = func() error {
		conn.Close()
		return nil
	}
	return c, nil
}

// Client is a hub.Client over NATS request/reply.
type Client struct {
	req           Requester
	getSubject    string
	submitSubject string
	close         func() error
}

// NewClient wraps a requester. Close on the returned client is a no-op.
func NewClient(req Requester, subjectPrefix string) *Client {
	get, submit := subjects(subjectPrefix)
	return &Client{req: req, getSubject: get, submitSubject: submit}
}

func (c *Client) GetTask(ctx context.Context, id hub.Identity) (hub.Poll, error) {
	body, err := jsoncodec.Marshal(identityRequest{Provider: id.Provider, AuthToken: id.AuthToken})
	if err != nil {
		return hub.Poll{}, err
	}
	r, err := c.request(ctx, "get task", c.getSubject, body)
	if err != nil {
		return hub.Poll{}, err
	}
	if r.Error != nil {
		if r.Error.Code == CodeNotFound {
			return hub.Poll{}, nil
		}
		return hub.Poll{}, replyError("get task", id.Provider, r.Error)
	}
	if r.RateLimited {
		return hub.Poll{RateLimit: &hub.RateLimitInfo{
			Limited:  true,
			WaitTime: hub.Seconds(r.WaitTime),
		}}, nil
	}
	return hub.FromSignalTask(fromWire(r.Task)), nil
}

func (c *Client) SubmitTaskResult(ctx context.Context, result hub.Result) (*hub.Task, error) {
	body, err := jsoncodec.Marshal(wireResult{
		TaskID:    result.TaskID,
		Provider:  result.Provider,
		AuthToken: result.AuthToken,
		Status:    result.Status,
		Action:    result.Action,
		Payload:   raw(result.Payload),
		Result:    raw(result.Result),
		Account:   raw(result.Account),
	})
	if err != nil {
		return nil, err
	}
	r, err := c.request(ctx, "submit task result", c.submitSubject, body)
	if err != nil {
		return nil, err
	}
	if r.Error != nil {
		if r.Error.Code == CodeNotFound {
			return nil, nil
		}
		return nil, replyError("submit task result", result.Provider, r.Error)
	}
	return hub.FromSignalTask(fromWire(r.Task)).Task, nil
}

func (c *Client) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

func (c *Client) request(ctx context.Context, op, subject string, body []byte) (reply, error) {
	msg, err := c.req.RequestWithContext(ctx, subject, body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return reply{}, ctxErr
		}
		return reply{}, &hperrors.ConnectionError{Op: op, Err: err}
	}
	var r reply
	if err := jsoncodec.Unmarshal(msg.Data, &r); err != nil {
		return reply{}, fmt.Errorf("hub %s: decode reply: %w", op, err)
	}
	return r, nil
}

func replyError(op, provider string, e *wireError) error {
	err := fmt.Errorf("%s: %s", e.Code, e.Message)
	switch e.Code {
	case CodeUnauthenticated:
		return &hperrors.AuthenticationError{Provider: provider, Err: err}
	case CodeUnavailable:
		return &hperrors.ConnectionError{Op: op, Err: err}
	default:
		return fmt.Errorf("hub %s: %w", op, err)
	}
}

func raw(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}

func toWire(t *hub.Task) *wireTask {
	if t == nil {
		return nil
	}
	return &wireTask{
		TaskID:        t.ID,
		Action:        t.Action,
		Payload:       raw(t.Payload),
		Account:       raw(t.Account),
		RecreatedFrom: t.RecreatedFrom,
	}
}

func fromWire(w *wireTask) *hub.Task {
	if w == nil {
		return nil
	}
	return &hub.Task{
		ID:            w.TaskID,
		Action:        w.Action,
		Payload:       bytesOrNil(w.Payload),
		Account:       bytesOrNil(w.Account),
		RecreatedFrom: w.RecreatedFrom,
	}
}

func bytesOrNil(b json.RawMessage) []byte {
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return []byte(b)
}
