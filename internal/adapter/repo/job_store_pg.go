package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/omnishot/batchd/internal/domain"
	"github.com/omnishot/batchd/internal/infra"
	"github.com/omnishot/batchd/internal/sqlinline"
)

// JobStorePG implements domain.JobStore on PostgreSQL through the marked
// query runner.
type JobStorePG struct {
	sql infra.SQLExecutor
}

// NewJobStorePG creates a job store backed by PostgreSQL.
func NewJobStorePG(sql infra.SQLExecutor) *JobStorePG {
	return &JobStorePG{sql: sql}
}

// Create inserts a new job record in queued state.
func (s *JobStorePG) Create(ctx context.Context, job *domain.Job) error {
	styles, err := json.Marshal(job.Styles)
	if err != nil {
		return fmt.Errorf("encode styles: %w", err)
	}
	options, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	variants, err := json.Marshal(job.Variants)
	if err != nil {
		return fmt.Errorf("encode variants: %w", err)
	}
	estimates, err := json.Marshal(job.Estimates)
	if err != nil {
		return fmt.Errorf("encode estimates: %w", err)
	}
	_, err = s.sql.Exec(ctx, sqlinline.QInsertJob,
		job.ID,
		job.OwnerID,
		job.BatchType,
		styles,
		job.OutputsPerVariant,
		job.Priority,
		options,
		job.Status,
		job.Progress,
		job.CurrentStep,
		variants,
		estimates,
		job.SourceRef,
		job.SourceImage,
		job.CreatedAt,
	)
	return err
}

// UpdateProgress applies a partial update; nil fields keep their stored value.
func (s *JobStorePG) UpdateProgress(ctx context.Context, jobID string, upd domain.ProgressUpdate) error {
	var variants []byte
	if upd.Variants != nil {
		encoded, err := json.Marshal(upd.Variants)
		if err != nil {
			return fmt.Errorf("encode variants: %w", err)
		}
		variants = encoded
	}
	var result []byte
	if upd.Result != nil {
		encoded, err := json.Marshal(upd.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		result = encoded
	}
	tag, err := s.sql.Exec(ctx, sqlinline.QUpdateJobProgress,
		jobID,
		statusArg(upd.Status),
		upd.Progress,
		upd.CurrentStep,
		variants,
		result,
		upd.ErrorDetails,
		upd.StartedAt,
		upd.CompletedAt,
		upd.DropSource,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Get fetches a job by its identifier. The stored source payload is not
// returned; readers only need the reference.
func (s *JobStorePG) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectJob, jobID)
	job, err := scanJob(row, false)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListNonTerminal returns every job that has not reached a terminal state,
// oldest first. Used by the recovery loader at startup, so rows carry the
// source payload still-queued jobs need to run.
func (s *JobStorePG) ListNonTerminal(ctx context.Context) ([]*domain.Job, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QSelectNonTerminalJobs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows, true)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListByOwner returns job summaries for one owner, newest first.
func (s *JobStorePG) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.JobSummary, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QSelectJobsByOwner, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.JobSummary
	for rows.Next() {
		var item domain.JobSummary
		if err := rows.Scan(&item.ID, &item.BatchType, &item.Status, &item.Progress, &item.CreatedAt, &item.CompletedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func statusArg(status *domain.JobStatus) *string {
	if status == nil {
		return nil
	}
	s := string(*status)
	return &s
}

func scanJob(row pgx.Row, withSource bool) (*domain.Job, error) {
	var (
		job       domain.Job
		styles    []byte
		options   []byte
		variants  []byte
		estimates []byte
		result    []byte
		errDetail *string
		started   *time.Time
		completed *time.Time
	)
	dest := []any{
		&job.ID,
		&job.OwnerID,
		&job.BatchType,
		&styles,
		&job.OutputsPerVariant,
		&job.Priority,
		&options,
		&job.Status,
		&job.Progress,
		&job.CurrentStep,
		&variants,
		&estimates,
		&result,
		&errDetail,
		&job.SourceRef,
		&job.CreatedAt,
		&started,
		&completed,
		&job.UpdatedAt,
	}
	if withSource {
		dest = append(dest, &job.SourceImage)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(styles, &job.Styles); err != nil {
		return nil, fmt.Errorf("decode styles: %w", err)
	}
	if err := json.Unmarshal(options, &job.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if err := json.Unmarshal(variants, &job.Variants); err != nil {
		return nil, fmt.Errorf("decode variants: %w", err)
	}
	if err := json.Unmarshal(estimates, &job.Estimates); err != nil {
		return nil, fmt.Errorf("decode estimates: %w", err)
	}
	if len(result) > 0 {
		job.Result = &domain.BatchResult{}
		if err := json.Unmarshal(result, job.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	if errDetail != nil {
		job.ErrorDetails = *errDetail
	}
	job.StartedAt = started
	job.CompletedAt = completed
	return &job, nil
}

var _ domain.JobStore = (*JobStorePG)(nil)
