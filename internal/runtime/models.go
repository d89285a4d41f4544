package runtime

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/drblury/hubprovider/internal/runtime/envelope"
	errspkg "github.com/drblury/hubprovider/internal/runtime/errors"
	"github.com/drblury/hubprovider/internal/runtime/jsoncodec"
	"github.com/drblury/hubprovider/internal/runtime/ratelimit"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// ActionStats aggregates outcomes for one action. It is safe for concurrent
// use because an abandoned handler may still finish after a timeout.
type ActionStats struct {
	mu sync.Mutex `json:"-"`

	action string `json:"-"`

	TasksProcessed      uint64    `json:"tasks_processed"`
	TasksSucceeded      uint64    `json:"tasks_succeeded"`
	TasksFailed         uint64    `json:"tasks_failed"`
	TasksLimited        uint64    `json:"tasks_limited"`
	TotalProcessingTime int64     `json:"total_processing_time_ns"`
	LastProcessedAt     time.Time `json:"last_processed_at"`
	LastStatus          string    `json:"last_status,omitempty"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`
	Resource   ResourceUsage     `json:"resource"`

	latencyWindow    *latencyWindow    `json:"-"`
	throughputWindow *throughputWindow `json:"-"`
	resourceSampler  *resourceTracker  `json:"-"`
}

// ActionInfo is the public description of a registered action.
type ActionInfo struct {
	Name          string       `json:"name"`
	Description   string       `json:"description,omitempty"`
	Params        []string     `json:"params"`
	PayloadSchema string       `json:"payload_schema"`
	AccountSchema string       `json:"account_schema"`
	RateLimited   bool         `json:"rate_limited"`
	Stats         *ActionStats `json:"stats"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS    float64 `json:"current_rps"`
	WindowSeconds float64 `json:"window_seconds"`
	TasksInWindow uint64  `json:"tasks_in_window"`
	TotalTasks    uint64  `json:"total_tasks"`
}

type ErrorBreakdown struct {
	Validation uint64 `json:"validation"`
	Timeout    uint64 `json:"timeout"`
	Handler    uint64 `json:"handler"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryTimeout    ErrorCategory = "timeout"
	ErrorCategoryHandler    ErrorCategory = "handler"
	ErrorCategoryOther      ErrorCategory = "other"
)

// ErrorClassifier sorts task errors into the stats error breakdown.
type ErrorClassifier func(error) ErrorCategory

func newActionStats(action string, sampler *resourceTracker) *ActionStats {
	return &ActionStats{
		action:           action,
		resourceSampler:  sampler,
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
	}
}

func (s *ActionStats) record(status envelope.Status, duration time.Duration, err error, classifier ErrorClassifier) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.TasksProcessed++
	switch status {
	case envelope.StatusSuccess:
		s.TasksSucceeded++
	case envelope.StatusLimit:
		s.TasksLimited++
	default:
		s.TasksFailed++
	}
	s.LastStatus = string(status)
	s.TotalProcessingTime += int64(duration)
	s.LastProcessedAt = now.UTC()

	if s.latencyWindow != nil {
		s.latencyWindow.Add(duration)
		snapshot := s.latencyWindow.Snapshot()
		snapshot.AverageNs = s.TotalProcessingTime / int64(s.TasksProcessed)
		s.Latency = snapshot
	}

	if s.throughputWindow != nil {
		snapshot := s.throughputWindow.AddAndSnapshot(now)
		s.Throughput.CurrentRPS = snapshot.CurrentRPS
		s.Throughput.WindowSeconds = snapshot.WindowSeconds
		s.Throughput.TasksInWindow = uint64(snapshot.Count)
	}
	s.Throughput.TotalTasks = s.TasksProcessed

	if status == envelope.StatusError {
		if classifier == nil {
			classifier = defaultErrorClassifier
		}
		s.Errors.Record(classifier(err), err)
	}

	if s.resourceSampler != nil {
		s.Resource = s.resourceSampler.Snapshot()
	}
}

// Snapshot returns a copy safe to read without locking.
func (s *ActionStats) Snapshot() ActionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ActionStats{
		action:              s.action,
		TasksProcessed:      s.TasksProcessed,
		TasksSucceeded:      s.TasksSucceeded,
		TasksFailed:         s.TasksFailed,
		TasksLimited:        s.TasksLimited,
		TotalProcessingTime: s.TotalProcessingTime,
		LastProcessedAt:     s.LastProcessedAt,
		LastStatus:          s.LastStatus,
		Latency:             s.Latency,
		Throughput:          s.Throughput,
		Errors:              s.Errors,
		Resource:            s.Resource,
	}
}

func (s *ActionStats) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type alias ActionStats
	return jsoncodec.Marshal((*alias)(s))
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryValidation:
		e.Validation++
	case ErrorCategoryTimeout:
		e.Timeout++
	case ErrorCategoryHandler:
		e.Handler++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

func defaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var (
		payloadErr *errspkg.InvalidPayloadError
		accountErr *errspkg.InvalidAccountError
		timeoutErr *errspkg.TimeoutError
		notFound   *errspkg.ActionNotFoundError
	)
	switch {
	case errors.As(err, &payloadErr), errors.As(err, &accountErr), errors.As(err, &notFound):
		return ErrorCategoryValidation
	case errors.As(err, &timeoutErr), errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryTimeout
	case errors.Is(err, context.Canceled):
		return ErrorCategoryOther
	}
	if _, limited := ratelimit.AsLimited(err); limited {
		return ErrorCategoryNone
	}
	return ErrorCategoryHandler
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	metrics := LatencyMetrics{LastNs: lw.last}
	if lw.filled == 0 {
		return metrics
	}
	samples := make([]int64, 0, lw.filled)
	if lw.filled < len(lw.samples) {
		samples = append(samples, lw.samples[:lw.filled]...)
	} else {
		samples = append(samples, lw.samples...)
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	metrics.SampleSize = len(samples)
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.AverageNs = sum / int64(len(samples))
	return metrics
}

// percentile interpolates linearly between the closest ranks of sorted samples.
func percentile(samples []int64, quantile float64) int64 {
	switch {
	case len(samples) == 0:
		return 0
	case quantile <= 0:
		return samples[0]
	case quantile >= 1:
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{horizon: horizon}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	tw.samples = append(tw.samples, now)

	cutoff := now.Add(-tw.horizon)
	drop := sort.Search(len(tw.samples), func(i int) bool { return !tw.samples[i].Before(cutoff) })
	if drop > 0 {
		tw.samples = append(tw.samples[:0], tw.samples[drop:]...)
	}

	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	return throughputSnapshot{
		Count:         len(tw.samples),
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(len(tw.samples)) / span.Seconds(),
	}
}
