package scheduler

import (
	"testing"
	"time"

	"github.com/omnishot/batchd/internal/domain"
)

func terminalJob(variants ...domain.VariantResult) *domain.Job {
	return &domain.Job{Status: domain.JobStatusCompleted, Variants: variants}
}

func TestAggregatorIncrementalMean(t *testing.T) {
	agg := newAggregator()
	agg.recordCompletion(terminalJob(), 10*time.Second)
	agg.recordCompletion(terminalJob(), 20*time.Second)
	agg.recordCompletion(terminalJob(), 30*time.Second)

	if got := agg.averageProcessing(); got != 20*time.Second {
		t.Fatalf("averageProcessing = %s, want 20s", got)
	}
}

func TestAggregatorDefaultAverageBeforeData(t *testing.T) {
	agg := newAggregator()
	if got := agg.averageProcessing(); got != defaultProcessingEstimate {
		t.Fatalf("averageProcessing = %s, want default %s", got, defaultProcessingEstimate)
	}
}

func TestAggregatorSuccessRateAndStyles(t *testing.T) {
	agg := newAggregator()
	agg.recordCompletion(terminalJob(
		domain.VariantResult{Style: "corporate", Success: true, Outputs: 2},
		domain.VariantResult{Style: "creative", Error: "provider failure"},
	), time.Second)
	agg.recordCompletion(terminalJob(
		domain.VariantResult{Style: "corporate", Error: "timeout"},
	), time.Second)

	snap := agg.snapshot()
	if snap.TotalJobs != 2 {
		t.Fatalf("TotalJobs = %d, want 2", snap.TotalJobs)
	}
	if snap.SuccessRate != 0.5 {
		t.Fatalf("SuccessRate = %v, want 0.5", snap.SuccessRate)
	}
	corporate := snap.PerStyle["corporate"]
	if corporate.Attempts != 2 || corporate.Successes != 1 {
		t.Fatalf("corporate stats = %+v, want 2 attempts 1 success", corporate)
	}
	creative := snap.PerStyle["creative"]
	if creative.Attempts != 1 || creative.Successes != 0 {
		t.Fatalf("creative stats = %+v, want 1 attempt 0 successes", creative)
	}
}

func TestEstimateStart(t *testing.T) {
	avg := time.Minute
	cases := []struct {
		position int
		max      int
		want     time.Duration
	}{
		{position: 0, max: 3, want: 0},
		{position: 1, max: 3, want: time.Minute},
		{position: 3, max: 3, want: time.Minute},
		{position: 4, max: 3, want: 2 * time.Minute},
	}
	for _, tc := range cases {
		if got := estimateStart(tc.position, tc.max, avg); got != tc.want {
			t.Fatalf("estimateStart(%d, %d) = %s, want %s", tc.position, tc.max, got, tc.want)
		}
	}
}

func TestProcessingProgressBounds(t *testing.T) {
	if got := processingProgress(0, 4); got != 15 {
		t.Fatalf("progress at start = %d, want 15", got)
	}
	if got := processingProgress(4, 4); got != 85 {
		t.Fatalf("progress at end = %d, want 85", got)
	}
	prev := 0
	for done := 0; done <= 6; done++ {
		got := processingProgress(done, 6)
		if got < prev {
			t.Fatalf("progress decreased: %d after %d", got, prev)
		}
		prev = got
	}
}
