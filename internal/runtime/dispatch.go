package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/drblury/hubprovider/internal/runtime/envelope"
	errspkg "github.com/drblury/hubprovider/internal/runtime/errors"
	"github.com/drblury/hubprovider/internal/runtime/handlers"
	"github.com/drblury/hubprovider/internal/runtime/hub"
	idspkg "github.com/drblury/hubprovider/internal/runtime/ids"
	"github.com/drblury/hubprovider/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/hubprovider/internal/runtime/logging"
	"github.com/drblury/hubprovider/internal/runtime/ratelimit"
	"github.com/drblury/hubprovider/internal/runtime/schema"
)

// Dispatch executes task and returns its envelope. It never fails: unknown
// actions, invalid input, rate limits, handler errors, panics and timeouts
// all become envelopes.
func (p *Provider) Dispatch(ctx context.Context, task hub.Task) envelope.Envelope {
	tc := TaskContext{
		Action:        task.Action,
		TaskID:        task.ID,
		RecreatedFrom: task.RecreatedFrom,
		ExecutionID:   idspkg.ExecutionID(),
		Context:       ctx,
		StartedAt:     time.Now(),
	}
	log := p.Logger.With(loggingpkg.LogFields{
		"action":       task.Action,
		"task_id":      task.ID,
		"execution_id": tc.ExecutionID,
	})
	p.hooks.start(tc)

	action, env, err := p.dispatch(ctx, task, tc.ExecutionID, log)

	tc.Duration = time.Since(tc.StartedAt)
	tc.Status = env.Status
	if action != nil {
		action.stats.record(env.Status, tc.Duration, err, p.classifier)
	}
	p.metrics.recordTask(task.Action, string(env.Status), tc.Duration)
	p.hooks.finish(tc, err)
	return env
}

// dispatch returns the resolved action (nil when unknown), the envelope and
// the error behind an error envelope.
func (p *Provider) dispatch(ctx context.Context, task hub.Task, executionID string, log loggingpkg.ServiceLogger) (*registeredAction, envelope.Envelope, error) {
	action, ok := p.lookup(task.Action)
	if !ok {
		err := &errspkg.ActionNotFoundError{Name: task.Action, Available: p.ActionNames()}
		log.Info("Unknown action requested", loggingpkg.LogFields{"available_actions": err.Available})
		return nil, p.normalizer.Error(task.Action, err.Error(), map[string]any{
			"error":             err.Error(),
			"available_actions": err.Available,
		}), err
	}

	payload, account, err := decodeInput(task, action)
	if err != nil {
		log.Info("Task input rejected", loggingpkg.LogFields{"error": err.Error()})
		return action, p.errorEnvelope(task.Action, err), err
	}

	for _, m := range p.monitors(action) {
		decision, err := m.monitor.Check(ctx)
		if err != nil {
			err = fmt.Errorf("%s rate limit check: %w", m.scope, err)
			return action, p.errorEnvelope(task.Action, err), err
		}
		if decision.Limited {
			log.Info("Action rate limited", loggingpkg.LogFields{
				"scope":     m.scope,
				"wait_time": decision.WaitSeconds(),
			})
			return action, p.limitEnvelope(task.Action, m.scope, decision), nil
		}
	}

	inv := &Invocation{
		Action:      action.Name,
		TaskID:      task.ID,
		ExecutionID: executionID,
		Context: handlers.Bind(action.Params, handlers.ActionContext{
			Payload:     payload,
			Account:     account,
			Logger:      log,
			Provider:    p.Info(),
			Task:        task,
			ExecutionID: executionID,
		}),
	}

	result, err := p.supervise(ctx, action.Name, func(runCtx context.Context) (map[string]any, error) {
		return p.invoke(runCtx, action, inv)
	})
	if err != nil {
		if limited, ok := ratelimit.AsLimited(err); ok {
			return action, p.limitEnvelope(task.Action, "upstream", limited.Decision), nil
		}
		return action, p.errorEnvelope(task.Action, err), err
	}
	return action, p.normalizer.Success(task.Action, "", result), nil
}

// decodeInput parses and validates the payload and account of task.
func decodeInput(task hub.Task, action *registeredAction) (map[string]any, map[string]any, error) {
	payload, err := jsoncodec.DecodeObject(task.Payload)
	if err != nil {
		return nil, nil, &errspkg.InvalidPayloadError{Violations: []string{err.Error()}}
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if violations := schema.Validate(payload, action.PayloadSchema, ""); len(violations) > 0 {
		return nil, nil, &errspkg.InvalidPayloadError{Violations: violations}
	}

	account, err := jsoncodec.DecodeObject(task.Account)
	if err != nil {
		return nil, nil, &errspkg.InvalidAccountError{Violations: []string{err.Error()}}
	}
	if !action.AccountSchema.IsEmpty() {
		var value any = account
		if account == nil {
			value = map[string]any{}
		}
		if violations := schema.Validate(value, action.AccountSchema, ""); len(violations) > 0 {
			return nil, nil, &errspkg.InvalidAccountError{Violations: violations}
		}
	}
	return payload, account, nil
}

type scopedMonitor struct {
	scope   string
	monitor ratelimit.Monitor
}

// monitors lists the action-level monitor before the provider-level one.
func (p *Provider) monitors(action *registeredAction) []scopedMonitor {
	out := make([]scopedMonitor, 0, 2)
	if action.RateLimiter != nil {
		out = append(out, scopedMonitor{scope: "action", monitor: action.RateLimiter})
	}
	if p.limiter != nil {
		out = append(out, scopedMonitor{scope: WaitScopeProvider, monitor: p.limiter})
	}
	return out
}

// invoke runs the middleware chain inside every monitor's Execute so each
// call records one unit of usage.
func (p *Provider) invoke(ctx context.Context, action *registeredAction, inv *Invocation) (map[string]any, error) {
	var result map[string]any
	op := func(ctx context.Context) error {
		out, err := p.chain(func(ctx context.Context, inv *Invocation) (map[string]any, error) {
			return action.Handler(ctx, inv.Context)
		})(ctx, inv)
		result = out
		return err
	}

	monitors := p.monitors(action)
	for i := len(monitors) - 1; i >= 0; i-- {
		inner, m := op, monitors[i].monitor
		op = func(ctx context.Context) error {
			return m.Execute(ctx, inner)
		}
	}
	if err := op(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// supervise runs fn on its own goroutine bounded by the execution timeout.
// Panics become errors. On timeout the goroutine is abandoned; it only
// touches mutex-guarded state.
func (p *Provider) supervise(ctx context.Context, action string, fn func(context.Context) (map[string]any, error)) (map[string]any, error) {
	timeout := p.Conf.ExecutionTimeout
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type outcome struct {
		result map[string]any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		var out outcome
		var catcher panics.Catcher
		catcher.Try(func() {
			out.result, out.err = fn(runCtx)
		})
		if r := catcher.Recovered(); r != nil {
			p.Logger.Error("Action panicked", r.AsError(), loggingpkg.LogFields{"action": action})
			out = outcome{err: fmt.Errorf("action %s panicked: %v", action, r.Value)}
		}
		done <- out
	}()

	timedOut := func() bool {
		return timeout > 0 && ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded)
	}
	select {
	case out := <-done:
		if out.err != nil && timedOut() {
			return nil, &errspkg.TimeoutError{Action: action, Timeout: timeout}
		}
		return out.result, out.err
	case <-runCtx.Done():
		if timedOut() {
			err := &errspkg.TimeoutError{Action: action, Timeout: timeout}
			p.Logger.Error("Abandoning action after timeout", err, loggingpkg.LogFields{"action": action})
			return nil, err
		}
		return nil, runCtx.Err()
	}
}

func (p *Provider) errorEnvelope(action string, err error) envelope.Envelope {
	data := map[string]any{"error": err.Error()}
	var (
		payloadErr *errspkg.InvalidPayloadError
		accountErr *errspkg.InvalidAccountError
		timeoutErr *errspkg.TimeoutError
	)
	switch {
	case errors.As(err, &payloadErr):
		data["errors"] = payloadErr.Violations
	case errors.As(err, &accountErr):
		data["errors"] = accountErr.Violations
	case errors.As(err, &timeoutErr):
		data["timeout"] = timeoutErr.Timeout.Seconds()
	}
	return p.normalizer.Error(action, err.Error(), data)
}

func (p *Provider) limitEnvelope(action, scope string, d ratelimit.Decision) envelope.Envelope {
	data := map[string]any{
		"wait_time": d.WaitSeconds(),
		"scope":     scope,
	}
	if d.Metrics != nil {
		data["metrics"] = d.Metrics
	}
	return p.normalizer.Limit(action, "", data)
}
