package handlers

import (
	"context"
	"fmt"

	"github.com/drblury/hubprovider/internal/runtime/hub"
	"github.com/drblury/hubprovider/internal/runtime/jsoncodec"
	"github.com/drblury/hubprovider/internal/runtime/logging"
)

// TypedContext is ActionContext with payload and account decoded into structs.
type TypedContext[P any, A any] struct {
	Payload     P
	Account     A
	Logger      logging.ServiceLogger
	Provider    ProviderInfo
	Task        hub.Task
	ExecutionID string
}

// TypedHandler handles decoded payloads and returns any JSON-encodable result.
type TypedHandler[P any, A any, R any] func(ctx context.Context, tc TypedContext[P, A]) (R, error)

// Typed adapts a TypedHandler. The payload and account maps are decoded with
// the JSON codec, so struct tags apply; the result is encoded back into a map.
func Typed[P any, A any, R any](h TypedHandler[P, A, R]) Handler {
	return func(ctx context.Context, ac ActionContext) (map[string]any, error) {
		var tc TypedContext[P, A]
		if ac.Payload != nil {
			if err := jsoncodec.Convert(ac.Payload, &tc.Payload); err != nil {
				return nil, fmt.Errorf("decode payload: %w", err)
			}
		}
		if ac.Account != nil {
			if err := jsoncodec.Convert(ac.Account, &tc.Account); err != nil {
				return nil, fmt.Errorf("decode account: %w", err)
			}
		}
		tc.Logger = ac.Logger
		tc.Provider = ac.Provider
		tc.Task = ac.Task
		tc.ExecutionID = ac.ExecutionID

		out, err := h(ctx, tc)
		if err != nil {
			return nil, err
		}
		return ToMap(out)
	}
}

// ToMap encodes v as a JSON object map. Nil yields nil; a map is returned as is.
func ToMap(v any) (map[string]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return t, nil
	}
	var out map[string]any
	if err := jsoncodec.Convert(v, &out); err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return out, nil
}
