package domain

import (
	"context"
	"time"
)

// ProgressUpdate is a partial job update flushed by the executor. Nil fields
// are left untouched by the store.
type ProgressUpdate struct {
	Status       *JobStatus
	Progress     *int
	CurrentStep  *string
	Variants     []VariantResult
	Result       *BatchResult
	ErrorDetails *string
	StartedAt    *time.Time
	CompletedAt  *time.Time

	// DropSource clears the stored source payload; set on terminal
	// transitions so images are not retained past the job lifetime.
	DropSource bool
}

// JobStore defines persistence for job entities. It is the system of record:
// executors treat their in-memory state as a cache that is flushed here.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	UpdateProgress(ctx context.Context, jobID string, upd ProgressUpdate) error
	Get(ctx context.Context, jobID string) (*Job, error)
	ListNonTerminal(ctx context.Context) ([]*Job, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]JobSummary, error)
}
