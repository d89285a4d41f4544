package ratelimit

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Reconfigurable holds a Config together with the monitor built from it and
// allows both to be replaced at runtime.
type Reconfigurable struct {
	opts []Option

	mu  sync.RWMutex
	gen *generation
}

// generation is one monitor together with the calls currently using it.
type generation struct {
	cfg      Config
	mon      Monitor
	inflight sync.WaitGroup
	retired  atomic.Bool
}

// retire closes the monitor once every call that acquired it has returned.
func (g *generation) retire() error {
	g.inflight.Wait()
	defer g.retired.Store(true)
	if c, ok := g.mon.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// NewReconfigurable builds the initial monitor from cfg.
func NewReconfigurable(ctx context.Context, cfg Config, opts ...Option) (*Reconfigurable, error) {
	mon, err := New(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Reconfigurable{opts: opts, gen: &generation{cfg: cfg, mon: mon}}, nil
}

// Config returns a copy of the active configuration.
func (r *Reconfigurable) Config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen.cfg
}

// Update validates cfg, builds a fresh monitor and swaps it in. The previous
// monitor is closed in the background after its in-flight calls return. On
// error nothing changes.
func (r *Reconfigurable) Update(ctx context.Context, cfg Config) error {
	mon, err := New(ctx, cfg, r.opts...)
	if err != nil {
		return err
	}
	r.mu.Lock()
	prev := r.gen
	r.gen = &generation{cfg: cfg, mon: mon}
	r.mu.Unlock()
	go func() { _ = prev.retire() }()
	return nil
}

// Monitor returns the active monitor. A later Update may close it, so use
// the Reconfigurable itself for Check and Execute.
func (r *Reconfigurable) Monitor() Monitor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen.mon
}

func (r *Reconfigurable) acquire() *generation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.gen.inflight.Add(1)
	return r.gen
}

func (r *Reconfigurable) Check(ctx context.Context) (Decision, error) {
	g := r.acquire()
	defer g.inflight.Done()
	return g.mon.Check(ctx)
}

func (r *Reconfigurable) Wait(ctx context.Context, d time.Duration) error {
	g := r.acquire()
	defer g.inflight.Done()
	return g.mon.Wait(ctx, d)
}

func (r *Reconfigurable) Execute(ctx context.Context, op func(context.Context) error) error {
	g := r.acquire()
	defer g.inflight.Done()
	return g.mon.Execute(ctx, op)
}

// Close waits for in-flight calls and releases the active monitor's
// resources. It must not be called concurrently with Check or Execute.
func (r *Reconfigurable) Close() error {
	r.mu.RLock()
	g := r.gen
	r.mu.RUnlock()
	return g.retire()
}
