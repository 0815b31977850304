package scheduler

import (
	"sync"
	"time"

	"github.com/omnishot/batchd/internal/domain"
)

// defaultProcessingEstimate seeds start-time estimation before any job has
// completed.
const defaultProcessingEstimate = 90 * time.Second

// StyleMetrics counts generation attempts and successes for one style.
type StyleMetrics struct {
	Attempts  int `json:"attempts"`
	Successes int `json:"successes"`
}

// MetricsSnapshot is the read-only view handed to callers.
type MetricsSnapshot struct {
	TotalJobs       int                     `json:"total_jobs"`
	SuccessRate     float64                 `json:"success_rate"`
	AvgProcessingMS int64                   `json:"avg_processing_ms"`
	PerStyle        map[string]StyleMetrics `json:"per_style"`
	QueueHighWater  int                     `json:"queue_high_water"`
	ActiveJobs      int                     `json:"active_jobs"`
	QueuedJobs      int                     `json:"queued_jobs"`
}

// aggregator accumulates throughput figures from completed jobs. Only the
// executor completion path writes; writes are serialized by the mutex so
// concurrent completions apply atomically.
type aggregator struct {
	mu            sync.Mutex
	totalJobs     int
	withSuccess   int
	avgProcessing time.Duration
	perStyle      map[string]*StyleMetrics
}

func newAggregator() *aggregator {
	return &aggregator{perStyle: make(map[string]*StyleMetrics)}
}

// recordCompletion folds one terminal job into the running totals. The mean
// is updated incrementally, never recomputed from scratch.
func (a *aggregator) recordCompletion(job *domain.Job, took time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalJobs++
	a.avgProcessing += (took - a.avgProcessing) / time.Duration(a.totalJobs)

	anySuccess := false
	for _, variant := range job.Variants {
		stats, ok := a.perStyle[variant.Style]
		if !ok {
			stats = &StyleMetrics{}
			a.perStyle[variant.Style] = stats
		}
		stats.Attempts++
		if variant.Success {
			stats.Successes++
			anySuccess = true
		}
	}
	if anySuccess {
		a.withSuccess++
	}
}

// averageProcessing returns the observed mean processing time, falling back
// to the default before any completion.
func (a *aggregator) averageProcessing() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.totalJobs == 0 {
		return defaultProcessingEstimate
	}
	return a.avgProcessing
}

func (a *aggregator) snapshot() MetricsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := MetricsSnapshot{
		TotalJobs:       a.totalJobs,
		AvgProcessingMS: a.avgProcessing.Milliseconds(),
		PerStyle:        make(map[string]StyleMetrics, len(a.perStyle)),
	}
	if a.totalJobs > 0 {
		snap.SuccessRate = float64(a.withSuccess) / float64(a.totalJobs)
	}
	for style, stats := range a.perStyle {
		snap.PerStyle[style] = *stats
	}
	return snap
}

// estimateStart derives a best-effort wait before admission for a job at the
// given 1-based queue position, from queue depth, the concurrency limit and
// the observed average processing time.
func estimateStart(position, maxConcurrent int, avg time.Duration) time.Duration {
	if position <= 0 || maxConcurrent <= 0 {
		return 0
	}
	waves := (position + maxConcurrent - 1) / maxConcurrent
	return time.Duration(waves) * avg
}
