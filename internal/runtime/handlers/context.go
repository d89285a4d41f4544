// Package handlers defines the shape of action handlers and how the runtime
// binds task context into them.
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/drblury/hubprovider/internal/runtime/hub"
	"github.com/drblury/hubprovider/internal/runtime/logging"
)

// Param names one field of ActionContext an action accepts.
type Param string

const (
	ParamPayload  Param = "payload"
	ParamAccount  Param = "account"
	ParamLogger   Param = "logger"
	ParamProvider Param = "provider"
	ParamTask     Param = "task"
)

// AllParams lists every bindable field.
var AllParams = []Param{ParamPayload, ParamAccount, ParamLogger, ParamProvider, ParamTask}

// ProviderInfo describes the provider executing an action.
type ProviderInfo struct {
	Name     string
	Timezone string
	Location *time.Location
}

// Now returns the current time in the provider's timezone.
func (p ProviderInfo) Now() time.Time {
	if p.Location == nil {
		return time.Now().UTC()
	}
	return time.Now().In(p.Location)
}

// ActionContext carries everything a handler may ask for. Fields an action
// did not declare are left zero.
type ActionContext struct {
	Payload     map[string]any
	Account     map[string]any
	Logger      logging.ServiceLogger
	Provider    ProviderInfo
	Task        hub.Task
	ExecutionID string
}

// Handler executes one action. The returned map becomes the response data.
type Handler func(ctx context.Context, ac ActionContext) (map[string]any, error)

// ValidateParams rejects unknown or repeated parameter names.
func ValidateParams(params []Param) error {
	seen := make(map[Param]struct{}, len(params))
	for _, p := range params {
		if !p.known() {
			return fmt.Errorf("hubprovider: unknown action parameter %q", p)
		}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("hubprovider: action parameter %q declared twice", p)
		}
		seen[p] = struct{}{}
	}
	return nil
}

func (p Param) known() bool {
	for _, k := range AllParams {
		if p == k {
			return true
		}
	}
	return false
}

// Bind returns the context a handler declaring params should see. An empty
// params list accepts everything.
func Bind(params []Param, full ActionContext) ActionContext {
	if len(params) == 0 {
		return full
	}
	bound := ActionContext{ExecutionID: full.ExecutionID}
	for _, p := range params {
		switch p {
		case ParamPayload:
			bound.Payload = full.Payload
		case ParamAccount:
			bound.Account = full.Account
		case ParamLogger:
			bound.Logger = full.Logger
		case ParamProvider:
			bound.Provider = full.Provider
		case ParamTask:
			bound.Task = full.Task
		}
	}
	return bound
}
