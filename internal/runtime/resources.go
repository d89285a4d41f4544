package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const (
	cpuMetric         = "/cpu/classes/user:cpu-seconds"
	heapMetric        = "/memory/classes/heap/objects:bytes"
	resourceSampleTTL = time.Second
)

// resourceTracker samples process CPU and heap usage for action stats.
// Samples are reused for resourceSampleTTL.
type resourceTracker struct {
	mu         sync.Mutex
	samples    []metrics.Sample
	numCPU     float64
	lastCPU    float64
	lastSample time.Time
	cached     ResourceUsage
	now        func() time.Time
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		samples: []metrics.Sample{{Name: cpuMetric}, {Name: heapMetric}},
		numCPU:  float64(runtime.NumCPU()),
		now:     time.Now,
	}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if !r.lastSample.IsZero() && now.Sub(r.lastSample) < resourceSampleTTL {
		return r.cached
	}

	metrics.Read(r.samples)
	usage := ResourceUsage{Goroutines: runtime.NumGoroutine()}
	if heap := r.samples[1].Value; heap.Kind() == metrics.KindUint64 {
		usage.MemoryBytes = heap.Uint64()
	}
	if cpu := r.samples[0].Value; cpu.Kind() == metrics.KindFloat64 {
		seconds := cpu.Float64()
		if !r.lastSample.IsZero() {
			wall := now.Sub(r.lastSample).Seconds()
			if wall > 0 && r.numCPU > 0 {
				usage.CPUPercent = (seconds - r.lastCPU) / wall / r.numCPU * 100
			}
		}
		r.lastCPU = seconds
	}

	r.lastSample = now
	r.cached = usage
	return usage
}
