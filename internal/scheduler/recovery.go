package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/omnishot/batchd/internal/domain"
)

// interruptedDetails is recorded on jobs that were mid-flight when the
// previous process stopped.
const interruptedDetails = "processing interrupted by service restart"

// recoverJobs reconciles persisted non-terminal jobs before the loop starts
// ticking. Queued jobs re-enter the priority queue with their original
// priority and submission time, so a restart does not reorder work.
// In-flight jobs are failed: their executor state is gone, and resuming
// without knowing which provider calls completed risks duplicate billing.
func (s *Scheduler) recoverJobs(ctx context.Context) error {
	jobs, err := s.store.ListNonTerminal(ctx)
	if err != nil {
		return fmt.Errorf("recovery: list non-terminal jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	requeued := 0
	interrupted := 0
	for _, job := range jobs {
		if job.Status == domain.JobStatusQueued {
			s.mu.Lock()
			s.queue.Enqueue(job)
			s.mu.Unlock()
			requeued++
			continue
		}

		now := time.Now().UTC()
		details := interruptedDetails
		upd := domain.ProgressUpdate{
			Status:       statusPtr(domain.JobStatusFailed),
			CurrentStep:  strPtr("failed"),
			ErrorDetails: &details,
			CompletedAt:  &now,
			DropSource:   true,
		}
		if err := s.store.UpdateProgress(ctx, job.ID, upd); err != nil {
			return fmt.Errorf("recovery: fail interrupted job %s: %w", job.ID, err)
		}
		s.logger.Warn().
			Str("job_id", job.ID).
			Str("interrupted_at", string(job.Status)).
			Msg("recovery: in-flight job marked failed")
		interrupted++
	}

	s.logger.Info().
		Int("requeued", requeued).
		Int("interrupted", interrupted).
		Msg("recovery: reconciled persisted jobs")
	return nil
}
