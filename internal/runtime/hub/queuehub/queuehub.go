// Package queuehub runs the hub channel over a message broker. Tasks arrive
// on one topic and results are published to another; a task message is
// acknowledged once its result has been published.
package queuehub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	hperrors "github.com/drblury/hubprovider/internal/runtime/errors"
	"github.com/drblury/hubprovider/internal/runtime/hub"
	"github.com/drblury/hubprovider/internal/runtime/ids"
	"github.com/drblury/hubprovider/internal/runtime/metadata"
)

// DefaultPollWait bounds how long GetTask waits for a message.
const DefaultPollWait = time.Second

// Config names the topics used by a Dialer.
type Config struct {
	TaskTopic   string
	ResultTopic string
	// PollWait bounds how long GetTask blocks before reporting an empty poll.
	PollWait time.Duration
}

// Dialer subscribes to the task topic on every Dial.
type Dialer struct {
	subscriber message.Subscriber
	publisher  message.Publisher
	cfg        Config
}

// NewDialer wires a broker's publisher and subscriber into a hub dialer.
func NewDialer(publisher message.Publisher, subscriber message.Subscriber, cfg Config) *Dialer {
	if cfg.PollWait <= 0 {
		cfg.PollWait = DefaultPollWait
	}
	return &Dialer{subscriber: subscriber, publisher: publisher, cfg: cfg}
}

func (d *Dialer) Dial(ctx context.Context, _ hub.Identity) (hub.Client, error) {
	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	msgs, err := d.subscriber.Subscribe(subCtx, d.cfg.TaskTopic)
	if err != nil {
		cancel()
		return nil, &hperrors.ConnectionError{Op: "subscribe " + d.cfg.TaskTopic, Err: err}
	}
	return &Client{
		msgs:     msgs,
		cancel:   cancel,
		pub:      d.publisher,
		cfg:      d.cfg,
		inflight: map[string]*message.Message{},
	}, nil
}

// Client is a hub.Client over a broker subscription.
type Client struct {
	msgs   <-chan *message.Message
	cancel context.CancelFunc
	pub    message.Publisher
	cfg    Config

	mu       sync.Mutex
	inflight map[string]*message.Message
	closed   bool
}

func (c *Client) GetTask(ctx context.Context, _ hub.Identity) (hub.Poll, error) {
	timer := time.NewTimer(c.cfg.PollWait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return hub.Poll{}, ctx.Err()
	case <-timer.C:
		return hub.Poll{}, nil
	case msg, ok := <-c.msgs:
		if !ok {
			return hub.Poll{}, &hperrors.ConnectionError{Op: "get task", Err: hperrors.ErrChannelClosed}
		}
		task := DecodeTask(msg)
		poll := hub.FromSignalTask(task)
		if poll.Task == nil {
			msg.Ack()
			return poll, nil
		}
		c.mu.Lock()
		c.inflight[task.ID] = msg
		c.mu.Unlock()
		return poll, nil
	}
}

func (c *Client) SubmitTaskResult(ctx context.Context, result hub.Result) (*hub.Task, error) {
	out := EncodeResult(result)
	out.SetContext(ctx)
	if err := c.pub.Publish(c.cfg.ResultTopic, out); err != nil {
		return nil, &hperrors.ConnectionError{Op: "publish result", Err: err}
	}

	c.mu.Lock()
	msg := c.inflight[result.TaskID]
	delete(c.inflight, result.TaskID)
	c.mu.Unlock()
	if msg != nil {
		msg.Ack()
	}
	return nil, nil
}

// Close stops the subscription and nacks tasks that never got a result so
// the broker can redeliver them.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for id, msg := range c.inflight {
		msg.Nack()
		delete(c.inflight, id)
	}
	c.cancel()
	return nil
}

// DecodeTask reads a task from a broker message. The id falls back to the
// message UUID when the task id header is absent.
func DecodeTask(msg *message.Message) *hub.Task {
	md := metadata.FromWatermill(msg.Metadata)
	id := md[metadata.KeyTaskID]
	action := md[metadata.KeyAction]
	if id == "" && action != hub.RateLimitedAction {
		id = msg.UUID
	}
	var payload []byte
	if len(msg.Payload) > 0 {
		payload = append([]byte(nil), msg.Payload...)
	}
	return &hub.Task{
		ID:            id,
		Action:        action,
		Payload:       payload,
		Account:       md.Bytes(metadata.KeyAccount),
		RecreatedFrom: md[metadata.KeyRecreatedFrom],
	}
}

// EncodeTask builds the broker message a hub publishes for a task.
func EncodeTask(t hub.Task) *message.Message {
	msg := message.NewMessage(ids.CreateULID(), t.Payload)
	msg.Metadata = metadata.ToWatermill(metadata.Metadata{}.
		With(metadata.KeyTaskID, t.ID).
		With(metadata.KeyAction, t.Action).
		With(metadata.KeyAccount, string(t.Account)).
		With(metadata.KeyRecreatedFrom, t.RecreatedFrom))
	return msg
}

// EncodeResult builds the result message. The envelope is the payload.
func EncodeResult(r hub.Result) *message.Message {
	msg := message.NewMessage(ids.CreateULID(), r.Result)
	msg.Metadata = metadata.ToWatermill(metadata.Metadata{}.
		With(metadata.KeyTaskID, r.TaskID).
		With(metadata.KeyProvider, r.Provider).
		With(metadata.KeyAuthToken, r.AuthToken).
		With(metadata.KeyStatus, r.Status).
		With(metadata.KeyAction, r.Action).
		With(metadata.KeyPayload, string(r.Payload)).
		With(metadata.KeyAccount, string(r.Account)).
		With(metadata.KeyCorrelationID, r.TaskID))
	return msg
}

// DecodeResult reads a result message published by a provider.
func DecodeResult(msg *message.Message) hub.Result {
	md := metadata.FromWatermill(msg.Metadata)
	return hub.Result{
		TaskID:    md[metadata.KeyTaskID],
		Provider:  md[metadata.KeyProvider],
		AuthToken: md[metadata.KeyAuthToken],
		Status:    md[metadata.KeyStatus],
		Action:    md[metadata.KeyAction],
		Payload:   md.Bytes(metadata.KeyPayload),
		Result:    append([]byte(nil), msg.Payload...),
		Account:   md.Bytes(metadata.KeyAccount),
	}
}

// PublishTasks publishes tasks on topic, the hub side of the exchange.
func PublishTasks(pub message.Publisher, topic string, tasks ...hub.Task) error {
	msgs := make([]*message.Message, 0, len(tasks))
	for _, t := range tasks {
		msgs = append(msgs, EncodeTask(t))
	}
	if err := pub.Publish(topic, msgs...); err != nil {
		return fmt.Errorf("publish tasks: %w", err)
	}
	return nil
}

// PublishRateLimit publishes a throttle signal on topic.
func PublishRateLimit(pub message.Publisher, topic string, wait time.Duration) error {
	signal := hub.SignalTask(wait)
	return pub.Publish(topic, EncodeTask(*signal))
}
