package errors

import (
	sterrors "errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrProviderRequired    = sterrors.New("hubprovider: provider is required")
	ErrHandlerRequired     = sterrors.New("hubprovider: action handler is required")
	ErrActionNameRequired  = sterrors.New("hubprovider: action name is required")
	ErrConfigRequired      = sterrors.New("hubprovider: configuration is required")
	ErrLoggerRequired      = sterrors.New("hubprovider: logger is required")
	ErrDialerRequired      = sterrors.New("hubprovider: hub dialer is required")
	ErrRegistrationClosed  = sterrors.New("hubprovider: actions cannot be registered after the provider started")
	ErrAlreadyRunning      = sterrors.New("hubprovider: provider is already running")
	ErrChannelClosed       = sterrors.New("hubprovider: hub channel closed")
	ErrMonitorRequired     = sterrors.New("hubprovider: rate limit monitor is required")
	ErrUnknownRateStrategy = sterrors.New("hubprovider: unknown rate limit strategy")
)

// DuplicateActionError is returned when an action name is registered twice.
type DuplicateActionError struct {
	Name string
}

func (e *DuplicateActionError) Error() string {
	return fmt.Sprintf("hubprovider: action %q is already registered", e.Name)
}

// ActionNotFoundError reports a task naming an action the provider does not know.
type ActionNotFoundError struct {
	Name      string
	Available []string
}

func (e *ActionNotFoundError) Error() string {
	return fmt.Sprintf("Action '%s' not found (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

// InvalidPayloadError carries every schema violation found in a task payload.
type InvalidPayloadError struct {
	Violations []string
}

func (e *InvalidPayloadError) Error() string {
	return "Invalid payload: " + strings.Join(e.Violations, "; ")
}

// InvalidAccountError carries every schema violation found in a task account.
type InvalidAccountError struct {
	Violations []string
}

func (e *InvalidAccountError) Error() string {
	return "Invalid account: " + strings.Join(e.Violations, "; ")
}

// TimeoutError is produced when a handler exceeds the execution timeout.
type TimeoutError struct {
	Action  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Action '%s' timed out after %s", e.Action, e.Timeout)
}

// ConnectionError marks a hub transport failure. The task loop treats it as a
// broken channel and reconnects with backoff.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return "hubprovider: hub connection failed during " + e.Op
	}
	return fmt.Sprintf("hubprovider: hub connection failed during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// AuthenticationError is returned when the hub rejects the provider identity.
type AuthenticationError struct {
	Provider string
	Err      error
}

func (e *AuthenticationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("hubprovider: hub rejected credentials for provider %q", e.Provider)
	}
	return fmt.Sprintf("hubprovider: hub rejected credentials for provider %q: %v", e.Provider, e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// IsBrokenChannel reports whether err requires the task loop to re-enter the
// connecting state.
func IsBrokenChannel(err error) bool {
	if err == nil {
		return false
	}
	var connErr *ConnectionError
	var authErr *AuthenticationError
	return sterrors.As(err, &connErr) || sterrors.As(err, &authErr) || sterrors.Is(err, ErrChannelClosed)
}
