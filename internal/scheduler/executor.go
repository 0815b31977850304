package scheduler

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/omnishot/batchd/internal/domain"
	"github.com/omnishot/batchd/internal/providers/image"
	"github.com/omnishot/batchd/internal/providers/quality"
)

// Progress split across the executor phases: preprocessing owns the first
// 15 points, variant iteration the next 70, postprocessing the final 10.
const (
	progressStarted       = 5
	progressPreprocessed  = 15
	progressPostprocessed = 90
	progressDone          = 100
)

func processingProgress(done, total int) int {
	if total <= 0 {
		return progressPreprocessed
	}
	return progressPreprocessed + int(math.Round(float64(done)/float64(total)*70))
}

// runJob drives one job through preprocessing, the per-variant provider
// loop and postprocessing. Provider failures stay scoped to their variant;
// only store failures or a panic escape this boundary and fail the job.
func (s *Scheduler) runJob(aj *activeJob) {
	job := aj.job
	aj.startedAt = time.Now()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("job_id", job.ID).
				Str("step", job.CurrentStep).
				Interface("panic", r).
				Msg("executor: unexpected failure")
			s.persistFailure(job, fmt.Sprintf("internal error: %v", r))
		}
	}()

	s.logger.Info().
		Str("job_id", job.ID).
		Str("provider", aj.providerName).
		Int("variants", len(job.Styles)).
		Msg("executor: job started")

	started := aj.startedAt.UTC()
	if !s.advance(job, domain.ProgressUpdate{
		Status:      statusPtr(domain.JobStatusPreprocessing),
		Progress:    intPtr(progressStarted),
		CurrentStep: strPtr("preprocessing"),
		StartedAt:   &started,
	}) {
		return
	}
	job.Status = domain.JobStatusPreprocessing
	job.CurrentStep = "preprocessing"
	job.StartedAt = &started

	assessment := s.assessSource(job)

	if !s.advance(job, domain.ProgressUpdate{
		Status:      statusPtr(domain.JobStatusProcessing),
		Progress:    intPtr(progressPreprocessed),
		CurrentStep: strPtr("processing"),
	}) {
		return
	}
	job.Status = domain.JobStatusProcessing
	job.CurrentStep = "processing"
	job.Progress = progressPreprocessed

	total := len(job.Styles)
	cancelled := false
	for i, style := range job.Styles {
		// Variant boundaries are the cancellation checkpoints; an in-flight
		// provider call is never aborted mid-request.
		if aj.ctx.Err() != nil {
			cancelled = true
			break
		}
		entry := s.runVariant(aj, style, i)
		job.Variants = append(job.Variants, entry)
		job.Progress = processingProgress(i+1, total)
		if !s.advance(job, domain.ProgressUpdate{
			Progress: intPtr(job.Progress),
			Variants: job.Variants,
		}) {
			return
		}
	}
	if !cancelled && aj.ctx.Err() != nil {
		cancelled = true
	}

	if cancelled {
		s.persistCancelled(job)
		return
	}

	if !s.advance(job, domain.ProgressUpdate{
		Status:      statusPtr(domain.JobStatusPostprocessing),
		Progress:    intPtr(progressPostprocessed),
		CurrentStep: strPtr("postprocessing"),
	}) {
		return
	}
	job.Status = domain.JobStatusPostprocessing
	job.CurrentStep = "postprocessing"
	job.Progress = progressPostprocessed

	result := buildResult(job, assessment)
	completed := time.Now().UTC()
	finished := domain.ProgressUpdate{
		Status:      statusPtr(domain.JobStatusCompleted),
		Progress:    intPtr(progressDone),
		CurrentStep: strPtr("completed"),
		Result:      result,
		CompletedAt: &completed,
		DropSource:  true,
	}
	if !s.advance(job, finished) {
		return
	}
	job.Status = domain.JobStatusCompleted
	job.Progress = progressDone
	job.Result = result
	job.CompletedAt = &completed
	job.SourceImage = nil

	s.logger.Info().
		Str("job_id", job.ID).
		Int("successful_variants", result.SuccessfulVariants).
		Int("failed_variants", result.FailedVariants).
		Int("total_outputs", result.TotalOutputs).
		Dur("took", time.Since(aj.startedAt)).
		Msg("executor: job completed")
}

// runVariant performs one provider call and normalizes its outcome. Errors
// and timeouts are recorded on the variant entry, never escalated.
func (s *Scheduler) runVariant(aj *activeJob, style string, index int) domain.VariantResult {
	job := aj.job
	requestID := fmt.Sprintf("%s-%02d", job.ID, index+1)
	aj.setInflight(requestID)
	defer aj.setInflight("")

	callCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ProviderTimeout)
	defer cancel()

	variantStart := time.Now()
	result, err := aj.provider.Generate(callCtx, image.GenerateRequest{
		Image:       job.SourceImage,
		ImageRef:    job.SourceRef,
		Style:       style,
		OutputCount: job.OutputsPerVariant,
		Quality:     job.Options.Quality,
		RequestID:   requestID,
		OwnerID:     job.OwnerID,
	})
	entry := domain.VariantResult{Style: style, Duration: domain.Millis(time.Since(variantStart))}
	if err != nil {
		entry.Error = err.Error()
		s.logger.Warn().Err(err).
			Str("job_id", job.ID).
			Str("style", style).
			Msg("executor: variant failed")
		return entry
	}
	entry.Success = true
	entry.Outputs = len(result.Outputs)
	entry.StorageKeys = s.persistOutputs(job, style, result.Outputs)
	return entry
}

// assessSource runs the photo-quality collaborator. A low score or an
// assessor error is logged and echoed into the final summary; it never
// blocks processing.
func (s *Scheduler) assessSource(job *domain.Job) *quality.Assessment {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.AssessTimeout)
	defer cancel()
	assessment, err := s.assessor.Assess(ctx, job.SourceImage)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("executor: photo quality assessment failed")
		return nil
	}
	if assessment.SuitabilityScore < 0.5 {
		s.logger.Warn().
			Str("job_id", job.ID).
			Float64("score", assessment.SuitabilityScore).
			Msg("executor: low photo suitability score")
	}
	return assessment
}

// persistOutputs writes generated images to the file store and returns their
// storage keys. Write failures are logged per output; the variant still
// counts as successful because the provider produced the images.
func (s *Scheduler) persistOutputs(job *domain.Job, style string, outputs []image.Output) []string {
	if s.files == nil {
		return nil
	}
	keys := make([]string, 0, len(outputs))
	for idx, output := range outputs {
		key := fmt.Sprintf("generated/headshots/%s/%s-%02d%s", job.ID, style, idx+1, extensionForMIME(output.Format))
		saved, err := s.files.Write(context.Background(), key, output.Data)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("job_id", job.ID).
				Str("style", style).
				Msg("executor: persist output failed")
			continue
		}
		keys = append(keys, saved)
	}
	return keys
}

// advance flushes a progress update to the store. A store failure is an
// infrastructure error: the job is failed and the executor stops.
func (s *Scheduler) advance(job *domain.Job, upd domain.ProgressUpdate) bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
	defer cancel()
	if err := s.store.UpdateProgress(ctx, job.ID, upd); err != nil {
		s.logger.Error().Err(err).
			Str("job_id", job.ID).
			Str("step", job.CurrentStep).
			Msg("executor: progress flush failed")
		s.persistFailure(job, fmt.Sprintf("persist progress at %s: %v", job.CurrentStep, err))
		return false
	}
	return true
}

// persistFailure marks the job failed with a terminal timestamp. Best
// effort: if the store is down this write may fail too, which is logged and
// left for the recovery loader after restart.
func (s *Scheduler) persistFailure(job *domain.Job, details string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
	defer cancel()
	now := time.Now().UTC()
	upd := domain.ProgressUpdate{
		Status:       statusPtr(domain.JobStatusFailed),
		CurrentStep:  strPtr("failed"),
		ErrorDetails: &details,
		CompletedAt:  &now,
		DropSource:   true,
	}
	if err := s.store.UpdateProgress(ctx, job.ID, upd); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("executor: persist failure state failed")
	}
	job.Status = domain.JobStatusFailed
	job.ErrorDetails = details
	job.CompletedAt = &now
	job.SourceImage = nil
}

// persistCancelled finalizes a job whose cancellation flag was observed at a
// variant boundary. Variants completed before the flag stay recorded.
func (s *Scheduler) persistCancelled(job *domain.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
	defer cancel()
	now := time.Now().UTC()
	upd := domain.ProgressUpdate{
		Status:      statusPtr(domain.JobStatusCancelled),
		CurrentStep: strPtr("cancelled"),
		Variants:    job.Variants,
		CompletedAt: &now,
		DropSource:  true,
	}
	if err := s.store.UpdateProgress(ctx, job.ID, upd); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("executor: persist cancellation failed")
	}
	job.Status = domain.JobStatusCancelled
	job.CompletedAt = &now
	job.SourceImage = nil
	s.logger.Info().
		Str("job_id", job.ID).
		Int("variants_recorded", len(job.Variants)).
		Msg("executor: job cancelled")
}

func buildResult(job *domain.Job, assessment *quality.Assessment) *domain.BatchResult {
	result := &domain.BatchResult{}
	for _, variant := range job.Variants {
		if variant.Success {
			result.SuccessfulVariants++
			result.TotalOutputs += variant.Outputs
		} else {
			result.FailedVariants++
		}
	}
	if assessment != nil {
		result.SuitabilityScore = assessment.SuitabilityScore
		result.Recommendations = append([]string(nil), assessment.Recommendations...)
	}
	return result
}

func extensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	default:
		return ".bin"
	}
}

func statusPtr(status domain.JobStatus) *domain.JobStatus { return &status }
func intPtr(v int) *int                                   { return &v }
func strPtr(v string) *string                             { return &v }
