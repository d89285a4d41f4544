package transport

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

type entry struct {
	build Builder
	caps  *Capabilities
}

// Registry maps broker names, as written in pubsub_system, to builders.
// Names are matched case-insensitively.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// DefaultRegistry is filled by the init functions of the transport packages.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{entries: map[string]entry{}}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds or replaces a builder. Its capabilities report only the name.
func (r *Registry) Register(name string, builder Builder) {
	r.put(name, entry{build: builder})
}

// RegisterWithCapabilities adds or replaces a builder together with what the
// broker guarantees.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.put(name, entry{build: builder, caps: &caps})
}

func (r *Registry) put(name string, e entry) {
	r.mu.Lock()
	r.entries[normalize(name)] = e
	r.mu.Unlock()
}

func (r *Registry) lookup(name string) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[normalize(name)]
	return e, ok
}

// GetCapabilities returns what was registered for name, or a value carrying
// only the name.
func (r *Registry) GetCapabilities(name string) Capabilities {
	if e, ok := r.lookup(name); ok && e.caps != nil {
		return *e.caps
	}
	return Capabilities{Name: name}
}

// Build opens the broker named by cfg.GetPubSubSystem().
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, errors.New("transport: config is required")
	}
	name := cfg.GetPubSubSystem()
	e, ok := r.lookup(name)
	if !ok {
		return Transport{}, fmt.Errorf("transport: %q is not registered (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	return e.build(ctx, cfg, logger)
}

// Names lists registered brokers, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// Register adds a builder to DefaultRegistry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a builder to DefaultRegistry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Build opens a broker from DefaultRegistry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
