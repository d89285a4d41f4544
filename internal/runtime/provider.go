package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	configpkg "github.com/drblury/hubprovider/internal/runtime/config"
	"github.com/drblury/hubprovider/internal/runtime/envelope"
	errspkg "github.com/drblury/hubprovider/internal/runtime/errors"
	"github.com/drblury/hubprovider/internal/runtime/handlers"
	"github.com/drblury/hubprovider/internal/runtime/hub"
	loggingpkg "github.com/drblury/hubprovider/internal/runtime/logging"
	"github.com/drblury/hubprovider/internal/runtime/ratelimit"
	transportpkg "github.com/drblury/hubprovider/transport"
)

// ProviderDependencies holds the optional collaborators a Provider can use.
// Leave fields nil to derive them from the configuration.
type ProviderDependencies struct {
	// Dialer opens the hub channel. When nil it is built from HubTransport.
	Dialer hub.Dialer
	// Transport supplies the broker for the "queue" hub transport. When nil
	// the broker is built from PubSubSystem through the transport registry.
	Transport *transportpkg.Transport
	// RateLimiter is the provider-level monitor. When nil and the config
	// names a strategy, a reconfigurable monitor is built from it.
	RateLimiter ratelimit.Monitor

	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	Hooks                     TaskHooks
	ErrorClassifier           ErrorClassifier
	// Metrics overrides the collectors created when MetricsEnabled is set.
	Metrics *Metrics
	// Backoff overrides the policy read from the config.
	Backoff *BackoffPolicy
	// Clock and Sleep are replaced in tests.
	Clock envelope.Clock
	Sleep ratelimit.SleepFunc
}

// Provider pulls tasks from a hub, executes registered actions and reports
// the outcome of each one.
type Provider struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	dialer     hub.Dialer
	limiter    ratelimit.Monitor
	normalizer *envelope.Normalizer
	location   *time.Location
	backoff    BackoffPolicy
	hooks      TaskHooks
	metrics    *Metrics
	classifier ErrorClassifier
	resources  *resourceTracker
	sleep      ratelimit.SleepFunc

	actions     map[string]*registeredAction
	middlewares []ActionMiddleware
	sealed      bool
	actionsMu   sync.RWMutex

	state   atomic.Int32
	running atomic.Bool
	stopMu  sync.Mutex
	stop    context.CancelFunc

	startedAt      atomic.Int64
	tasksProcessed atomic.Uint64
	connects       atomic.Uint64
	reconnects     atomic.Uint64
	droppedTasks   atomic.Uint64

	httpServers   map[int]chi.Router
	httpServersMu sync.Mutex
}

// NewProvider validates conf and builds a Provider. Register actions on the
// returned Provider before calling Run.
func NewProvider(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ProviderDependencies) (*Provider, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		log = loggingpkg.NopLogger()
	}

	cfg := conf.WithDefaults()
	validate := cfg.Validate
	if deps.Dialer != nil {
		validate = cfg.ValidateRuntime
	}
	if err := validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	log = log.With(loggingpkg.LogFields{"provider": cfg.ProviderName})
	log.Info("Creating provider", loggingpkg.LogFields{
		"hub_transport": cfg.Transport(),
		"config":        cfg.String(),
	})

	p := &Provider{
		Conf:       &cfg,
		Logger:     log,
		location:   loc,
		normalizer: envelope.NewNormalizer(cfg.ProviderName, loc),
		backoff:    BackoffPolicyFromConfig(&cfg),
		hooks:      deps.Hooks,
		classifier: deps.ErrorClassifier,
		resources:  newResourceTracker(),
		sleep:      deps.Sleep,
		actions:    make(map[string]*registeredAction),
		limiter:    deps.RateLimiter,
	}
	if p.classifier == nil {
		p.classifier = defaultErrorClassifier
	}
	if p.sleep == nil {
		p.sleep = ratelimit.Sleep
	}
	if deps.Clock != nil {
		p.normalizer.Clock = deps.Clock
	}
	if deps.Backoff != nil {
		p.backoff = deps.Backoff.withDefaults()
	}

	if p.limiter == nil && cfg.RateLimit.Strategy != "" {
		limiter, err := ratelimit.NewReconfigurable(ctx, cfg.RateLimit)
		if err != nil {
			return nil, fmt.Errorf("build provider rate limiter: %w", err)
		}
		p.limiter = limiter
	}

	p.dialer = deps.Dialer
	if p.dialer == nil {
		p.dialer, err = NewHubDialer(ctx, &cfg, log, deps.Transport)
		if err != nil {
			return nil, err
		}
	}

	if err := p.setupMetrics(deps.Metrics); err != nil {
		return nil, err
	}
	if cfg.StatusAPIEnabled {
		p.registerStatusAPI(cfg.StatusAPIPort)
	}

	var registrations []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		registrations = append(registrations, DefaultMiddlewares()...)
	}
	registrations = append(registrations, deps.Middlewares...)
	for _, reg := range registrations {
		if err := p.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return nil, fmt.Errorf("register middleware %s: %w", name, err)
		}
	}

	p.setState(StateDisconnected)
	return p, nil
}

func (p *Provider) setupMetrics(m *Metrics) error {
	if m == nil && !p.Conf.MetricsEnabled {
		return nil
	}
	if m == nil {
		m = NewMetrics(nil)
	}
	if err := m.Register(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	p.metrics = m
	if p.Conf.MetricsEnabled && p.Conf.MetricsPort > 0 {
		p.RegisterHTTPHandler(p.Conf.MetricsPort, "/metrics", promhttp.Handler())
	}
	return nil
}

// Identity is what the provider presents to the hub.
func (p *Provider) Identity() hub.Identity {
	return hub.Identity{Provider: p.Conf.ProviderName, AuthToken: p.Conf.AuthToken}
}

// Info describes the provider to handlers.
func (p *Provider) Info() handlers.ProviderInfo {
	return handlers.ProviderInfo{
		Name:     p.Conf.ProviderName,
		Timezone: p.location.String(),
		Location: p.location,
	}
}

// RateLimiter returns the provider-level monitor, or nil.
func (p *Provider) RateLimiter() ratelimit.Monitor {
	return p.limiter
}

// RateLimitConfig returns the settings of a config-built provider monitor.
func (p *Provider) RateLimitConfig() (ratelimit.Config, bool) {
	r, ok := p.limiter.(*ratelimit.Reconfigurable)
	if !ok {
		return ratelimit.Config{}, false
	}
	return r.Config(), true
}

// UpdateRateLimit swaps the provider-level monitor for one built from cfg.
// It only works for monitors built from the configuration.
func (p *Provider) UpdateRateLimit(ctx context.Context, cfg ratelimit.Config) error {
	r, ok := p.limiter.(*ratelimit.Reconfigurable)
	if !ok {
		return errors.New("hubprovider: provider rate limiter is not reconfigurable")
	}
	if err := r.Update(ctx, cfg); err != nil {
		return err
	}
	p.Logger.Info("Provider rate limit updated", loggingpkg.LogFields{"strategy": cfg.Strategy})
	return nil
}

// Actions describes the registered actions, sorted by name.
func (p *Provider) Actions() []ActionInfo {
	p.actionsMu.RLock()
	defer p.actionsMu.RUnlock()

	out := make([]ActionInfo, 0, len(p.actions))
	for _, a := range p.actions {
		params := make([]string, 0, len(a.Params))
		for _, param := range a.Params {
			params = append(params, string(param))
		}
		out = append(out, ActionInfo{
			Name:          a.Name,
			Description:   a.Description,
			Params:        params,
			PayloadSchema: a.PayloadSchema.String(),
			AccountSchema: a.AccountSchema.String(),
			RateLimited:   a.RateLimiter != nil,
			Stats:         a.stats,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ProviderStats summarises the task loop.
type ProviderStats struct {
	Provider       string    `json:"provider"`
	State          string    `json:"state"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	TasksProcessed uint64    `json:"tasks_processed"`
	Connects       uint64    `json:"connects"`
	Reconnects     uint64    `json:"reconnects"`
	DroppedTasks   uint64    `json:"dropped_tasks"`
	Actions        int       `json:"actions"`
}

// Stats returns loop counters.
func (p *Provider) Stats() ProviderStats {
	stats := ProviderStats{
		Provider:       p.Conf.ProviderName,
		State:          p.State().String(),
		TasksProcessed: p.tasksProcessed.Load(),
		Connects:       p.connects.Load(),
		Reconnects:     p.reconnects.Load(),
		DroppedTasks:   p.droppedTasks.Load(),
		Actions:        len(p.ActionNames()),
	}
	if started := p.startedAt.Load(); started > 0 {
		stats.StartedAt = time.Unix(0, started).UTC()
	}
	return stats
}

// RegisterHTTPHandler mounts handler on the server listening on port. Servers
// start with Run and stop when it returns.
func (p *Provider) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	p.router(port).Handle(pattern, handler)
}

func (p *Provider) router(port int) chi.Router {
	p.httpServersMu.Lock()
	defer p.httpServersMu.Unlock()

	if p.httpServers == nil {
		p.httpServers = make(map[int]chi.Router)
	}
	router, ok := p.httpServers[port]
	if !ok {
		router = chi.NewRouter()
		p.httpServers[port] = router
	}
	return router
}

// startHTTPServers starts one server per registered port and returns a
// function that shuts them down.
func (p *Provider) startHTTPServers() func() {
	p.httpServersMu.Lock()
	defer p.httpServersMu.Unlock()

	servers := make([]*http.Server, 0, len(p.httpServers))
	for port, router := range p.httpServers {
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, srv)
		p.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				p.Logger.Error("HTTP server failed", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}()
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(ctx); err != nil {
				p.Logger.Error("HTTP server shutdown failed", err, loggingpkg.LogFields{"address": srv.Addr})
			}
		}
	}
}
