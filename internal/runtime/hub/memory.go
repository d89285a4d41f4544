package hub

import (
	"context"
	"sync"
	"time"

	hperrors "github.com/drblury/hubprovider/internal/runtime/errors"
	"github.com/drblury/hubprovider/internal/runtime/ids"
)

// MemoryHub is an in-process hub. It queues tasks, records submitted results
// and can inject dial, poll and rate-limit behaviour.
type MemoryHub struct {
	mu        sync.Mutex
	tokens    map[string]string
	queue     []Task
	signals   []time.Duration
	results   []Result
	dialErrs  []error
	pollErrs  []error
	pipeline  bool
	dials     int
	polls     int
	submitted chan struct{}
}

// NewMemoryHub returns an empty hub that accepts any identity.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{tokens: map[string]string{}, submitted: make(chan struct{}, 1)}
}

// RequireToken makes the hub reject provider unless it presents token.
func (h *MemoryHub) RequireToken(provider, token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tokens[provider] = token
}

// SetPipelining makes SubmitTaskResult hand out the next queued task.
func (h *MemoryHub) SetPipelining(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pipeline = enabled
}

// Enqueue adds tasks, assigning ids where missing.
func (h *MemoryHub) Enqueue(tasks ...Task) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = ids.CreateULID()
		}
		h.queue = append(h.queue, t)
	}
}

// SignalRateLimit queues a throttle answer served before any task.
func (h *MemoryHub) SignalRateLimit(wait time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.signals = append(h.signals, wait)
}

// FailDial makes the next len(errs) dials fail with errs in order.
func (h *MemoryHub) FailDial(errs ...error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dialErrs = append(h.dialErrs, errs...)
}

// FailPoll makes the next len(errs) polls fail with errs in order.
func (h *MemoryHub) FailPoll(errs ...error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pollErrs = append(h.pollErrs, errs...)
}

// Results returns a copy of every submitted result.
func (h *MemoryHub) Results() []Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Result(nil), h.results...)
}

// Pending reports how many tasks are still queued.
func (h *MemoryHub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// Dials reports how many times Dial was called.
func (h *MemoryHub) Dials() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dials
}

// Polls reports how many times GetTask was called.
func (h *MemoryHub) Polls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.polls
}

// WaitForResults blocks until at least n results were submitted.
func (h *MemoryHub) WaitForResults(ctx context.Context, n int) ([]Result, error) {
	for {
		if results := h.Results(); len(results) >= n {
			return results, nil
		}
		select {
		case <-ctx.Done():
			return h.Results(), ctx.Err()
		case <-h.submitted:
		}
	}
}

func (h *MemoryHub) Dial(ctx context.Context, id Identity) (Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dials++
	if len(h.dialErrs) > 0 {
		err := h.dialErrs[0]
		h.dialErrs = h.dialErrs[1:]
		return nil, err
	}
	if err := h.authorize(id); err != nil {
		return nil, err
	}
	return &memoryClient{hub: h}, nil
}

// authorize must be called with mu held.
func (h *MemoryHub) authorize(id Identity) error {
	want, ok := h.tokens[id.Provider]
	if ok && want != id.AuthToken {
		return &hperrors.AuthenticationError{Provider: id.Provider}
	}
	return nil
}

func (h *MemoryHub) pop() *Task {
	if len(h.queue) == 0 {
		return nil
	}
	t := h.queue[0]
	h.queue = h.queue[1:]
	return &t
}

type memoryClient struct {
	hub    *MemoryHub
	mu     sync.Mutex
	closed bool
}

func (c *memoryClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *memoryClient) GetTask(ctx context.Context, id Identity) (Poll, error) {
	if err := ctx.Err(); err != nil {
		return Poll{}, err
	}
	if c.isClosed() {
		return Poll{}, &hperrors.ConnectionError{Op: "get task", Err: hperrors.ErrChannelClosed}
	}
	h := c.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	h.polls++
	if len(h.pollErrs) > 0 {
		err := h.pollErrs[0]
		h.pollErrs = h.pollErrs[1:]
		return Poll{}, err
	}
	if err := h.authorize(id); err != nil {
		return Poll{}, err
	}
	if len(h.signals) > 0 {
		wait := h.signals[0]
		h.signals = h.signals[1:]
		return Poll{RateLimit: &RateLimitInfo{Limited: true, WaitTime: wait}}, nil
	}
	return Poll{Task: h.pop()}, nil
}

func (c *memoryClient) SubmitTaskResult(ctx context.Context, result Result) (*Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.isClosed() {
		return nil, &hperrors.ConnectionError{Op: "submit task result", Err: hperrors.ErrChannelClosed}
	}
	h := c.hub
	h.mu.Lock()
	if err := h.authorize(Identity{Provider: result.Provider, AuthToken: result.AuthToken}); err != nil {
		h.mu.Unlock()
		return nil, err
	}
	h.results = append(h.results, result)
	var next *Task
	if h.pipeline {
		next = h.pop()
	}
	h.mu.Unlock()

	select {
	case h.submitted <- struct{}{}:
	default:
	}
	return next, nil
}

func (c *memoryClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
