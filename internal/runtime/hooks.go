package runtime

import (
	"context"
	"time"

	"github.com/drblury/hubprovider/internal/runtime/envelope"
	loggingpkg "github.com/drblury/hubprovider/internal/runtime/logging"
)

// TaskContext provides information about a task execution to hooks.
type TaskContext struct {
	// Action is the requested action name, registered or not.
	Action string
	TaskID string
	// RecreatedFrom is the id of the task this one supersedes, if any.
	RecreatedFrom string
	ExecutionID   string
	Context       context.Context
	StartedAt     time.Time
	// Duration and Status are only set in OnTaskDone and OnTaskError.
	Duration time.Duration
	Status   envelope.Status
}

// TaskHooks defines callbacks for task lifecycle events. Nil hooks are skipped.
type TaskHooks struct {
	// OnTaskStart runs before the action is looked up.
	OnTaskStart func(ctx TaskContext)
	// OnTaskDone runs for success and limit outcomes.
	OnTaskDone func(ctx TaskContext)
	// OnTaskError runs for error outcomes with the error that caused them.
	OnTaskError func(ctx TaskContext, err error)
}

// Merge combines two TaskHooks. The hooks from other run after the hooks from h.
func (h TaskHooks) Merge(other TaskHooks) TaskHooks {
	return TaskHooks{
		OnTaskStart: chainHooks(h.OnTaskStart, other.OnTaskStart),
		OnTaskDone:  chainHooks(h.OnTaskDone, other.OnTaskDone),
		OnTaskError: chainErrorHooks(h.OnTaskError, other.OnTaskError),
	}
}

func (h TaskHooks) start(tc TaskContext) {
	if h.OnTaskStart != nil {
		h.OnTaskStart(tc)
	}
}

func (h TaskHooks) finish(tc TaskContext, err error) {
	if tc.Status == envelope.StatusError {
		if h.OnTaskError != nil {
			h.OnTaskError(tc, err)
		}
		return
	}
	if h.OnTaskDone != nil {
		h.OnTaskDone(tc)
	}
}

func chainHooks(a, b func(TaskContext)) func(TaskContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx TaskContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(TaskContext, error)) func(TaskContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx TaskContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// LoggingHooks returns hooks that log task lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) TaskHooks {
	return TaskHooks{
		OnTaskStart: func(ctx TaskContext) {
			logger.Debug("Task started", loggingpkg.LogFields{
				"action":         ctx.Action,
				"task_id":        ctx.TaskID,
				"execution_id":   ctx.ExecutionID,
				"recreated_from": ctx.RecreatedFrom,
			})
		},
		OnTaskDone: func(ctx TaskContext) {
			logger.Info("Task completed", loggingpkg.LogFields{
				"action":      ctx.Action,
				"task_id":     ctx.TaskID,
				"status":      string(ctx.Status),
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnTaskError: func(ctx TaskContext, err error) {
			logger.Error("Task failed", err, loggingpkg.LogFields{
				"action":      ctx.Action,
				"task_id":     ctx.TaskID,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks returns hooks that forward the action name to counters.
func MetricsHooks(onStart, onDone, onError func(action string)) TaskHooks {
	return TaskHooks{
		OnTaskStart: func(ctx TaskContext) {
			if onStart != nil {
				onStart(ctx.Action)
			}
		},
		OnTaskDone: func(ctx TaskContext) {
			if onDone != nil {
				onDone(ctx.Action)
			}
		},
		OnTaskError: func(ctx TaskContext, err error) {
			if onError != nil {
				onError(ctx.Action)
			}
		},
	}
}

// AlertingHooks returns hooks that call alertFunc for failed tasks.
func AlertingHooks(alertFunc func(ctx TaskContext, err error)) TaskHooks {
	return TaskHooks{
		OnTaskError: alertFunc,
	}
}
