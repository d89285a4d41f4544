// Package hub defines the request/response channel between a provider and
// the hub that hands out tasks, plus an in-memory hub for tests and demos.
// Concrete network adapters live in the subpackages.
package hub

import (
	"context"
	"math"
	"time"

	"github.com/drblury/hubprovider/internal/runtime/jsoncodec"
)

// RateLimitedAction is the action name the hub uses to tell a provider to back off.
const RateLimitedAction = "rate_limited"

// Task is a unit of work assigned by the hub.
type Task struct {
	ID            string
	Action        string
	Payload       []byte
	Account       []byte
	RecreatedFrom string
}

// Identity is presented on every request.
type Identity struct {
	Provider  string
	AuthToken string
}

// RateLimitInfo is a hub-side throttle signal.
type RateLimitInfo struct {
	Limited  bool
	WaitTime time.Duration
}

// Poll is the answer to GetTask: a task, a rate limit signal or nothing.
type Poll struct {
	Task      *Task
	RateLimit *RateLimitInfo
}

// Empty reports whether the hub had nothing for the provider.
func (p Poll) Empty() bool {
	return p.Task == nil && (p.RateLimit == nil || !p.RateLimit.Limited)
}

// Result reports a finished task. Result holds the serialised envelope.
type Result struct {
	TaskID    string
	Provider  string
	AuthToken string
	Status    string
	Action    string
	Payload   []byte
	Result    []byte
	Account   []byte
}

// Client is an open channel to the hub.
type Client interface {
	GetTask(ctx context.Context, id Identity) (Poll, error)
	// SubmitTaskResult reports a result. The hub may answer with the next
	// task so the provider can skip a poll.
	SubmitTaskResult(ctx context.Context, result Result) (*Task, error)
	Close() error
}

// Dialer opens clients.
type Dialer interface {
	Dial(ctx context.Context, id Identity) (Client, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, id Identity) (Client, error)

func (f DialerFunc) Dial(ctx context.Context, id Identity) (Client, error) {
	return f(ctx, id)
}

// rateLimitPayload is the body of a rate_limited pseudo task.
type rateLimitPayload struct {
	WaitTime float64 `json:"wait_time"`
}

// FromSignalTask interprets a task-shaped hub answer. Tasks with an empty id
// and the rate_limited action are throttle signals; anything else with an id
// is a real task; the rest is an empty poll.
func FromSignalTask(t *Task) Poll {
	if t == nil {
		return Poll{}
	}
	if t.ID == "" && t.Action == RateLimitedAction {
		info := &RateLimitInfo{Limited: true}
		var body rateLimitPayload
		if len(t.Payload) > 0 && jsoncodec.Unmarshal(t.Payload, &body) == nil && body.WaitTime > 0 {
			info.WaitTime = Seconds(body.WaitTime)
		}
		return Poll{RateLimit: info}
	}
	if t.ID == "" {
		return Poll{}
	}
	return Poll{Task: t}
}

// Seconds converts a wait in seconds as sent by a hub. Negative and NaN values
// become zero; values beyond the range of time.Duration saturate.
func Seconds(secs float64) time.Duration {
	if math.IsNaN(secs) || secs <= 0 {
		return 0
	}
	ns := secs * float64(time.Second)
	if ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}

// SignalTask encodes a throttle signal in task form, the inverse of FromSignalTask.
func SignalTask(wait time.Duration) *Task {
	payload, _ := jsoncodec.Marshal(rateLimitPayload{WaitTime: wait.Seconds()})
	return &Task{Action: RateLimitedAction, Payload: payload}
}
