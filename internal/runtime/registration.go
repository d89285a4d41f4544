package runtime

import (
	"sort"

	errspkg "github.com/drblury/hubprovider/internal/runtime/errors"
	"github.com/drblury/hubprovider/internal/runtime/handlers"
	loggingpkg "github.com/drblury/hubprovider/internal/runtime/logging"
	"github.com/drblury/hubprovider/internal/runtime/ratelimit"
	"github.com/drblury/hubprovider/internal/runtime/schema"
)

// ActionRegistration describes one action a provider can execute.
type ActionRegistration struct {
	Name        string
	Description string
	// PayloadSchema and AccountSchema are checked before the handler runs.
	// The zero Node accepts anything.
	PayloadSchema schema.Node
	AccountSchema schema.Node
	Handler       handlers.Handler
	// Params lists the ActionContext fields the handler reads. Empty means all of them.
	Params []handlers.Param
	// RateLimiter is consulted before the provider-level monitor.
	RateLimiter ratelimit.Monitor
}

type registeredAction struct {
	ActionRegistration
	stats *ActionStats
}

// RegisterAction adds an action to the provider. Registration closes once Run starts.
func (p *Provider) RegisterAction(reg ActionRegistration) error {
	if p == nil {
		return errspkg.ErrProviderRequired
	}
	if reg.Name == "" {
		return errspkg.ErrActionNameRequired
	}
	if reg.Handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if err := handlers.ValidateParams(reg.Params); err != nil {
		return err
	}

	p.actionsMu.Lock()
	defer p.actionsMu.Unlock()

	if p.sealed {
		return errspkg.ErrRegistrationClosed
	}
	if _, exists := p.actions[reg.Name]; exists {
		return &errspkg.DuplicateActionError{Name: reg.Name}
	}

	reg.Params = append([]handlers.Param(nil), reg.Params...)
	p.actions[reg.Name] = &registeredAction{
		ActionRegistration: reg,
		stats:              newActionStats(reg.Name, p.resources),
	}
	p.Logger.Debug("Action registered", loggingpkg.LogFields{
		"action":       reg.Name,
		"params":       reg.Params,
		"rate_limited": reg.RateLimiter != nil,
	})
	return nil
}

// MustRegisterAction is RegisterAction that panics on error, for program setup.
func (p *Provider) MustRegisterAction(reg ActionRegistration) {
	if err := p.RegisterAction(reg); err != nil {
		panic(err)
	}
}

// ActionNames returns the registered action names in sorted order.
func (p *Provider) ActionNames() []string {
	p.actionsMu.RLock()
	defer p.actionsMu.RUnlock()

	names := make([]string, 0, len(p.actions))
	for name := range p.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasAction reports whether name is registered.
func (p *Provider) HasAction(name string) bool {
	_, ok := p.lookup(name)
	return ok
}

func (p *Provider) lookup(name string) (*registeredAction, bool) {
	p.actionsMu.RLock()
	defer p.actionsMu.RUnlock()
	a, ok := p.actions[name]
	return a, ok
}

func (p *Provider) seal() {
	p.actionsMu.Lock()
	p.sealed = true
	p.actionsMu.Unlock()
}
