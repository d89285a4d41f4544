package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "hubprovider"

// Rate limit wait scopes.
const (
	WaitScopeProvider = "provider"
	WaitScopeHub      = "hub"
)

// Metrics holds the Prometheus collectors of a provider.
type Metrics struct {
	mu sync.Mutex

	tasksTotal         *prometheus.CounterVec
	taskDuration       *prometheus.HistogramVec
	rateLimitWaits     *prometheus.CounterVec
	rateLimitWaitTime  *prometheus.HistogramVec
	connectionAttempts *prometheus.CounterVec
	loopState          prometheus.Gauge

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "provider",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "provider",
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// NewMetrics creates the collectors. A nil registerer uses the Prometheus default.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer:         registerer,
		tasksTotal:         newCounterVec("tasks_total", "Tasks processed by action and envelope status", []string{"action", "status"}),
		taskDuration:       newHistogramVec("task_duration_seconds", "Time from dispatch to envelope per action", prometheus.DefBuckets, []string{"action"}),
		rateLimitWaits:     newCounterVec("rate_limit_waits_total", "Rate limit waits by scope", []string{"scope"}),
		rateLimitWaitTime:  newHistogramVec("rate_limit_wait_seconds", "Duration of rate limit waits by scope", []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300}, []string{"scope"}),
		connectionAttempts: newCounterVec("connection_attempts_total", "Hub connection attempts by result", []string{"result"}),
		loopState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "provider",
			Name:      "loop_state",
			Help:      "Current task loop state (0 disconnected .. 6 stopped)",
		}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}
	var err error
	if m.tasksTotal, err = register(m.registerer, m.tasksTotal); err != nil {
		return err
	}
	if m.taskDuration, err = register(m.registerer, m.taskDuration); err != nil {
		return err
	}
	if m.rateLimitWaits, err = register(m.registerer, m.rateLimitWaits); err != nil {
		return err
	}
	if m.rateLimitWaitTime, err = register(m.registerer, m.rateLimitWaitTime); err != nil {
		return err
	}
	if m.connectionAttempts, err = register(m.registerer, m.connectionAttempts); err != nil {
		return err
	}
	if m.loopState, err = register(m.registerer, m.loopState); err != nil {
		return err
	}
	m.registered = true
	return nil
}

// register adds c to r, returning the collector already registered under the
// same name when there is one.
func register[C prometheus.Collector](r prometheus.Registerer, c C) (C, error) {
	err := r.Register(c)
	if err == nil {
		return c, nil
	}
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		if existing, ok := already.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, err
}

// The recorders below accept a nil receiver so callers need not check
// whether metrics are enabled.

func (m *Metrics) recordTask(action, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasksTotal.WithLabelValues(action, status).Inc()
	m.taskDuration.WithLabelValues(action).Observe(d.Seconds())
}

func (m *Metrics) recordWait(scope string, d time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitWaits.WithLabelValues(scope).Inc()
	m.rateLimitWaitTime.WithLabelValues(scope).Observe(d.Seconds())
}

func (m *Metrics) recordConnection(result string) {
	if m == nil {
		return
	}
	m.connectionAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) setState(s LoopState) {
	if m == nil {
		return
	}
	m.loopState.Set(float64(s))
}
