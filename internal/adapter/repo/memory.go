package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/omnishot/batchd/internal/domain"
)

// MemoryStore is an in-process domain.JobStore used when no DATABASE_URL is
// configured and throughout the test suite. It hands out copies so callers
// never share mutable state with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*domain.Job)}
}

// Create inserts a new job record.
func (s *MemoryStore) Create(ctx context.Context, job *domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := cloneJob(job)
	clone.UpdatedAt = time.Now()
	s.jobs[job.ID] = clone
	return nil
}

// UpdateProgress applies a partial update; nil fields keep their value.
func (s *MemoryStore) UpdateProgress(ctx context.Context, jobID string, upd domain.ProgressUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if upd.Status != nil {
		job.Status = *upd.Status
	}
	if upd.Progress != nil {
		job.Progress = *upd.Progress
	}
	if upd.CurrentStep != nil {
		job.CurrentStep = *upd.CurrentStep
	}
	if upd.Variants != nil {
		job.Variants = append([]domain.VariantResult(nil), upd.Variants...)
	}
	if upd.Result != nil {
		result := *upd.Result
		job.Result = &result
	}
	if upd.ErrorDetails != nil {
		job.ErrorDetails = *upd.ErrorDetails
	}
	if upd.StartedAt != nil {
		started := *upd.StartedAt
		job.StartedAt = &started
	}
	if upd.CompletedAt != nil {
		completed := *upd.CompletedAt
		job.CompletedAt = &completed
	}
	if upd.DropSource {
		job.SourceImage = nil
	}
	job.UpdatedAt = time.Now()
	return nil
}

// Get fetches a copy of the job by its identifier.
func (s *MemoryStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

// ListNonTerminal returns every job that has not reached a terminal state,
// oldest first.
func (s *MemoryStore) ListNonTerminal(ctx context.Context) ([]*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var jobs []*domain.Job
	for _, job := range s.jobs {
		if !job.Status.Terminal() {
			jobs = append(jobs, cloneJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

// ListByOwner returns job summaries for one owner, newest first.
func (s *MemoryStore) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.JobSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var items []domain.JobSummary
	for _, job := range s.jobs {
		if job.OwnerID != ownerID {
			continue
		}
		items = append(items, domain.JobSummary{
			ID:          job.ID,
			BatchType:   job.BatchType,
			Status:      job.Status,
			Progress:    job.Progress,
			CreatedAt:   job.CreatedAt,
			CompletedAt: copyTime(job.CompletedAt),
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func cloneJob(job *domain.Job) *domain.Job {
	clone := *job
	clone.Styles = append([]string(nil), job.Styles...)
	clone.Variants = append([]domain.VariantResult(nil), job.Variants...)
	clone.SourceImage = append([]byte(nil), job.SourceImage...)
	if job.Result != nil {
		result := *job.Result
		result.Recommendations = append([]string(nil), job.Result.Recommendations...)
		clone.Result = &result
	}
	clone.StartedAt = copyTime(job.StartedAt)
	clone.CompletedAt = copyTime(job.CompletedAt)
	return &clone
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}

var _ domain.JobStore = (*MemoryStore)(nil)
