package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	errspkg "github.com/drblury/hubprovider/internal/runtime/errors"
	"github.com/drblury/hubprovider/internal/runtime/hub"
	loggingpkg "github.com/drblury/hubprovider/internal/runtime/logging"
)

// LoopState is the position of the task loop.
type LoopState int32

const (
	StateDisconnected LoopState = iota
	StateConnecting
	StatePolling
	StateExecuting
	StateSubmitting
	StateStopping
	StateStopped
)

func (s LoopState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StatePolling:
		return "polling"
	case StateExecuting:
		return "executing"
	case StateSubmitting:
		return "submitting"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// State returns the current loop state.
func (p *Provider) State() LoopState {
	return LoopState(p.state.Load())
}

func (p *Provider) setState(s LoopState) {
	p.state.Store(int32(s))
	p.metrics.setState(s)
}

// Run drives the task loop until ctx is cancelled or Stop is called. It
// returns nil on a graceful stop; errors are only returned when the loop
// cannot start. Hub failures are retried with backoff forever.
func (p *Provider) Run(ctx context.Context) error {
	if p == nil {
		return errspkg.ErrProviderRequired
	}
	if p.dialer == nil {
		return errspkg.ErrDialerRequired
	}
	if !p.running.CompareAndSwap(false, true) {
		return errspkg.ErrAlreadyRunning
	}
	defer p.running.Store(false)

	p.seal()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.stopMu.Lock()
	p.stop = cancel
	p.stopMu.Unlock()

	stopHTTP := p.startHTTPServers()
	defer stopHTTP()

	p.startedAt.Store(time.Now().UnixNano())
	p.Logger.Info("Provider started", loggingpkg.LogFields{
		"actions":           p.ActionNames(),
		"execution_timeout": p.Conf.ExecutionTimeout.String(),
	})

	reconnect := p.backoff.NewBackOff()
	for {
		client, err := p.connect(ctx)
		if err != nil {
			break
		}
		exchanged, err := p.serve(ctx, client)
		p.closeClient(client)
		if ctx.Err() != nil {
			break
		}

		if exchanged {
			reconnect.Reset()
		}
		p.reconnects.Add(1)
		wait := reconnect.NextBackOff()
		fields := loggingpkg.LogFields{"wait": wait.String()}
		var authErr *errspkg.AuthenticationError
		switch {
		case errors.As(err, &authErr):
			// grpc and nats dial lazily, so credentials are first checked on a call
			p.metrics.recordConnection("auth_failure")
			p.Logger.Error("Hub rejected provider credentials", err, fields)
		case !exchanged:
			p.metrics.recordConnection("failure")
			p.Logger.Error("Hub channel broken before first exchange, reconnecting", err, fields)
		default:
			p.Logger.Error("Hub channel broken, reconnecting", err, fields)
		}
		p.setState(StateDisconnected)
		if p.sleep(ctx, wait) != nil {
			break
		}
	}

	p.stopMu.Lock()
	p.stop = nil
	p.setState(StateStopping)
	p.setState(StateStopped)
	p.stopMu.Unlock()
	p.Logger.Info("Provider stopped", loggingpkg.LogFields{
		"tasks_processed": p.tasksProcessed.Load(),
	})
	return nil
}

// Stop asks a running loop to finish its current task and return.
func (p *Provider) Stop() {
	p.stopMu.Lock()
	defer p.stopMu.Unlock()
	if p.stop != nil {
		p.setState(StateStopping)
		p.stop()
	}
}

// connect dials the hub, retrying with backoff until it succeeds or ctx ends.
// The connection only counts as established once serve completes a poll.
func (p *Provider) connect(ctx context.Context) (hub.Client, error) {
	p.setState(StateConnecting)
	id := p.Identity()
	attempt := 0

	client, err := backoff.Retry(ctx, func() (hub.Client, error) {
		attempt++
		client, err := p.dialer.Dial(ctx, id)
		if err == nil {
			return client, nil
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		var authErr *errspkg.AuthenticationError
		if errors.As(err, &authErr) {
			p.metrics.recordConnection("auth_failure")
		} else {
			p.metrics.recordConnection("failure")
		}
		return nil, err
	},
		backoff.WithBackOff(p.backoff.NewBackOff()),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			fields := loggingpkg.LogFields{"attempt": attempt, "wait": wait.String()}
			var authErr *errspkg.AuthenticationError
			if errors.As(err, &authErr) {
				p.Logger.Error("Hub rejected provider credentials, retrying", err, fields)
				return
			}
			p.Logger.Error("Hub connection failed, retrying", err, fields)
		}),
	)
	if err != nil {
		return nil, err
	}

	p.connects.Add(1)
	p.Logger.Debug("Hub channel opened", loggingpkg.LogFields{"attempt": attempt})
	return client, nil
}

func (p *Provider) closeClient(client hub.Client) {
	if err := client.Close(); err != nil {
		p.Logger.Error("Failed to close hub channel", err, nil)
	}
}

// serve polls, executes and submits until the channel breaks or ctx ends.
// It reports whether at least one exchange with the hub succeeded.
func (p *Provider) serve(ctx context.Context, client hub.Client) (bool, error) {
	pollBackoff := p.backoff.NewBackOff()
	exchanged := false

	var next *hub.Task
	for {
		if ctx.Err() != nil {
			if next != nil {
				p.dropTask(*next)
			}
			return exchanged, ctx.Err()
		}

		task := next
		next = nil
		if task == nil {
			poll, err := p.poll(ctx, client)
			if err != nil {
				if ctx.Err() != nil {
					return exchanged, ctx.Err()
				}
				if errspkg.IsBrokenChannel(err) {
					return exchanged, err
				}
				wait := pollBackoff.NextBackOff()
				p.Logger.Error("Polling hub failed, retrying", err, loggingpkg.LogFields{"wait": wait.String()})
				if err := p.sleep(ctx, wait); err != nil {
					return exchanged, err
				}
				continue
			}
			pollBackoff.Reset()
			if !exchanged {
				exchanged = true
				p.metrics.recordConnection("success")
				p.Logger.Info("Connected to hub", nil)
			}

			if poll.Task == nil {
				if err := p.idle(ctx, poll); err != nil {
					return exchanged, err
				}
				continue
			}
			task = poll.Task
		}

		following, err := p.process(ctx, client, *task)
		if err != nil {
			if errspkg.IsBrokenChannel(err) {
				return exchanged, err
			}
			p.Logger.Error("Submitting task result failed", err, loggingpkg.LogFields{
				"task_id": task.ID,
				"action":  task.Action,
			})
			continue
		}

		pipelined := hub.FromSignalTask(following)
		if pipelined.Task == nil && !pipelined.Empty() {
			if err := p.idle(ctx, pipelined); err != nil {
				return exchanged, err
			}
		}
		next = pipelined.Task
	}
}

// poll runs the provider-level pre-check and asks the hub for work.
func (p *Provider) poll(ctx context.Context, client hub.Client) (hub.Poll, error) {
	p.setState(StatePolling)
	if p.limiter != nil {
		decision, err := p.limiter.Check(ctx)
		if err != nil {
			p.Logger.Error("Provider rate limit check failed", err, nil)
		} else if decision.Limited {
			wait := p.clampWait(decision.WaitTime)
			p.Logger.Info("Provider rate limited, waiting before poll", loggingpkg.LogFields{
				"wait":    wait.String(),
				"metrics": decision.Metrics,
			})
			p.metrics.recordWait(WaitScopeProvider, wait)
			if err := p.limiter.Wait(ctx, wait); err != nil {
				return hub.Poll{}, err
			}
		}
	}
	return client.GetTask(ctx, p.Identity())
}

// idle waits after a poll without a task: the hub's wait for a rate limit
// signal, the poll interval otherwise.
func (p *Provider) idle(ctx context.Context, poll hub.Poll) error {
	if poll.RateLimit != nil && poll.RateLimit.Limited {
		wait := p.clampWait(poll.RateLimit.WaitTime)
		p.Logger.Info("Hub rate limited provider, waiting", loggingpkg.LogFields{"wait": wait.String()})
		p.metrics.recordWait(WaitScopeHub, wait)
		return p.sleep(ctx, wait)
	}
	return p.sleep(ctx, p.Conf.PollInterval)
}

func (p *Provider) clampWait(wait time.Duration) time.Duration {
	if wait <= 0 {
		return p.Conf.PollInterval
	}
	if limit := p.Conf.MaxRateLimitWait; limit > 0 && wait > limit {
		return limit
	}
	return wait
}

// process executes a task and submits its envelope. Both run detached from
// ctx so a stop request lets the task finish; the returned task is the hub's
// pipelined next task, if any.
func (p *Provider) process(ctx context.Context, client hub.Client, task hub.Task) (*hub.Task, error) {
	work := context.WithoutCancel(ctx)

	p.setState(StateExecuting)
	env := p.Dispatch(work, task)
	p.tasksProcessed.Add(1)

	p.setState(StateSubmitting)
	body, err := env.Marshal()
	if err != nil {
		p.Logger.Error("Failed to encode envelope", err, loggingpkg.LogFields{"task_id": task.ID})
		env = p.normalizer.Error(task.Action, "failed to encode action response", nil)
		body, _ = env.Marshal()
	}

	submitCtx, cancel := context.WithTimeout(work, p.submitTimeout())
	defer cancel()
	next, err := client.SubmitTaskResult(submitCtx, hub.Result{
		TaskID:    task.ID,
		Provider:  p.Conf.ProviderName,
		AuthToken: p.Conf.AuthToken,
		Status:    env.HubStatus(),
		Action:    task.Action,
		Payload:   task.Payload,
		Result:    body,
		Account:   task.Account,
	})
	if err != nil {
		return nil, err
	}
	p.Logger.Debug("Task result submitted", loggingpkg.LogFields{
		"task_id": task.ID,
		"action":  task.Action,
		"status":  string(env.Status),
	})
	return next, nil
}

func (p *Provider) submitTimeout() time.Duration {
	if p.Conf.ExecutionTimeout > 0 {
		return p.Conf.ExecutionTimeout
	}
	return time.Minute
}

func (p *Provider) dropTask(task hub.Task) {
	p.droppedTasks.Add(1)
	p.Logger.Info("Dropping pipelined task received during shutdown", loggingpkg.LogFields{
		"task_id": task.ID,
		"action":  task.Action,
	})
}
