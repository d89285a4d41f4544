package runtime

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/hubprovider/internal/runtime/handlers"
	loggingpkg "github.com/drblury/hubprovider/internal/runtime/logging"
	"github.com/drblury/hubprovider/internal/runtime/ratelimit"
)

// tracerName identifies spans emitted by the provider.
const tracerName = "github.com/drblury/hubprovider"

// Invocation is one handler call as seen by middleware. Context holds only the
// fields the action declared.
type Invocation struct {
	Action      string
	TaskID      string
	ExecutionID string
	Context     handlers.ActionContext
}

// ActionFunc runs an invocation.
type ActionFunc func(ctx context.Context, inv *Invocation) (map[string]any, error)

// ActionMiddleware wraps handler invocations.
type ActionMiddleware func(next ActionFunc) ActionFunc

// MiddlewareBuilder constructs a middleware using the provider it is attached to.
type MiddlewareBuilder func(*Provider) (ActionMiddleware, error)

// MiddlewareRegistration captures how a middleware should be attached to a Provider.
type MiddlewareRegistration struct {
	Name       string
	Middleware ActionMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the chain NewProvider installs unless disabled.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		LogActionsMiddleware(nil),
		TracerMiddleware(),
	}
}

// LogActionsMiddleware logs every handler request and its response with the
// elapsed time. A nil logger uses the provider's.
func LogActionsMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_actions",
		Builder: func(p *Provider) (ActionMiddleware, error) {
			l := logger
			if l == nil {
				l = p.Logger
			}
			if l == nil {
				return nil, errors.New("log actions middleware requires a logger")
			}
			return logActionsMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "tracer",
		Middleware: tracerMiddleware(),
	}
}

// RegisterMiddleware appends a middleware to the handler chain. It must be
// called before Run.
func (p *Provider) RegisterMiddleware(cfg MiddlewareRegistration) error {
	var mw ActionMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(p)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}
	if mw == nil {
		return nil
	}

	p.actionsMu.Lock()
	defer p.actionsMu.Unlock()
	if p.sealed {
		return errors.New("middleware cannot be registered after the provider started")
	}
	p.middlewares = append(p.middlewares, mw)
	return nil
}

// chain wraps final with the registered middleware, first registered outermost.
func (p *Provider) chain(final ActionFunc) ActionFunc {
	p.actionsMu.RLock()
	mws := p.middlewares
	p.actionsMu.RUnlock()

	h := final
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func logActionsMiddleware(logger loggingpkg.ServiceLogger) ActionMiddleware {
	return func(next ActionFunc) ActionFunc {
		return func(ctx context.Context, inv *Invocation) (map[string]any, error) {
			fields := loggingpkg.LogFields{
				"action":       inv.Action,
				"task_id":      inv.TaskID,
				"execution_id": inv.ExecutionID,
			}
			logger.Debug("Action request", fields.With(loggingpkg.LogFields{
				"payload": inv.Context.Payload,
			}))

			start := time.Now()
			out, err := next(ctx, inv)
			fields["duration_ms"] = time.Since(start).Milliseconds()

			if limited, ok := ratelimit.AsLimited(err); ok {
				logger.Info("Action rate limited upstream", fields.With(loggingpkg.LogFields{
					"wait_time": limited.Decision.WaitSeconds(),
				}))
				return out, err
			}
			if err != nil {
				logger.Error("Action failed", err, fields)
				return out, err
			}
			logger.Debug("Action response", fields.With(loggingpkg.LogFields{
				"response": out,
			}))
			return out, nil
		}
	}
}

func tracerMiddleware() ActionMiddleware {
	return func(next ActionFunc) ActionFunc {
		return func(ctx context.Context, inv *Invocation) (map[string]any, error) {
			ctx, span := otel.Tracer(tracerName).Start(ctx, "ExecuteAction",
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("hub.action", inv.Action),
					attribute.String("hub.task_id", inv.TaskID),
					attribute.String("hub.execution_id", inv.ExecutionID),
				),
			)
			defer span.End()

			out, err := next(ctx, inv)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return out, err
		}
	}
}
