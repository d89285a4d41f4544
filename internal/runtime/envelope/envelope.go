// Package envelope produces the uniform response shape returned to the hub
// for every task outcome.
package envelope

import (
	"time"

	"github.com/drblury/hubprovider/internal/runtime/jsoncodec"
)

// Status is the outcome class of a task.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusLimit   Status = "limit"
)

// Valid reports whether s is one of the three known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusError, StatusLimit:
		return true
	}
	return false
}

// Envelope is the response sent back for a task.
type Envelope struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
	Data    Data   `json:"data"`
}

// Data carries the provider context and the handler response.
type Data struct {
	Provider string         `json:"provider"`
	Action   string         `json:"action"`
	Timezone string         `json:"timezone"`
	Now      string         `json:"now"`
	NowUTC   string         `json:"now_utc"`
	Response map[string]any `json:"response"`
}

// Marshal serialises the envelope as JSON.
func (e Envelope) Marshal() ([]byte, error) {
	return jsoncodec.Marshal(e)
}

// Unmarshal parses an envelope produced by Marshal.
func Unmarshal(data []byte) (Envelope, error) {
	var env Envelope
	err := jsoncodec.Unmarshal(data, &env)
	return env, err
}

// HubStatus maps the envelope status to the status reported on submit. A rate
// limit is not a failure.
func (e Envelope) HubStatus() string {
	if e.Status == StatusError {
		return string(StatusError)
	}
	return string(StatusSuccess)
}

// Clock supplies the current time.
type Clock func() time.Time

// Normalizer builds envelopes for one provider.
type Normalizer struct {
	Provider string
	Location *time.Location
	Clock    Clock
}

// NewNormalizer returns a Normalizer using the wall clock. A nil location means UTC.
func NewNormalizer(provider string, loc *time.Location) *Normalizer {
	return &Normalizer{Provider: provider, Location: loc, Clock: time.Now}
}

// Normalize wraps an outcome. Unknown statuses become errors, an empty message
// is replaced with a default for the status and nil data becomes an empty map.
func (n *Normalizer) Normalize(status Status, message string, data map[string]any, action string) Envelope {
	clock := n.Clock
	if clock == nil {
		clock = time.Now
	}
	return build(clock(), status, message, data, n.Provider, action, n.Location)
}

// Success is shorthand for Normalize(StatusSuccess, ...).
func (n *Normalizer) Success(action, message string, data map[string]any) Envelope {
	return n.Normalize(StatusSuccess, message, data, action)
}

// Error is shorthand for Normalize(StatusError, ...).
func (n *Normalizer) Error(action, message string, data map[string]any) Envelope {
	return n.Normalize(StatusError, message, data, action)
}

// Limit is shorthand for Normalize(StatusLimit, ...).
func (n *Normalizer) Limit(action, message string, data map[string]any) Envelope {
	return n.Normalize(StatusLimit, message, data, action)
}

// Normalize builds an envelope using the wall clock.
func Normalize(status Status, message string, data map[string]any, provider, action string, loc *time.Location) Envelope {
	return build(time.Now(), status, message, data, provider, action, loc)
}

func build(now time.Time, status Status, message string, data map[string]any, provider, action string, loc *time.Location) Envelope {
	if loc == nil {
		loc = time.UTC
	}
	if !status.Valid() {
		status = StatusError
	}
	if message == "" {
		message = DefaultMessage(status, action)
	}
	if data == nil {
		data = map[string]any{}
	}
	return Envelope{
		Status:  status,
		Message: message,
		Data: Data{
			Provider: provider,
			Action:   action,
			Timezone: loc.String(),
			Now:      now.In(loc).Format(time.RFC3339Nano),
			NowUTC:   now.UTC().Format(time.RFC3339Nano),
			Response: data,
		},
	}
}

// DefaultMessage is used when an outcome carries no message.
func DefaultMessage(status Status, action string) string {
	switch status {
	case StatusSuccess:
		return "Action " + action + " completed"
	case StatusLimit:
		return "Rate limit exceeded"
	default:
		return "Action " + action + " failed"
	}
}
