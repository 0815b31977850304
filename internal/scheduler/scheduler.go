package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/omnishot/batchd/internal/domain"
	"github.com/omnishot/batchd/internal/providers/image"
	"github.com/omnishot/batchd/internal/providers/quality"
	"github.com/omnishot/batchd/internal/storage"
)

// Config bounds the scheduler's concurrency and collaborator timeouts.
type Config struct {
	MaxConcurrentJobs int
	TickInterval      time.Duration
	ProviderTimeout   time.Duration
	AssessTimeout     time.Duration
	StoreTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrentJobs < 1 {
		c.MaxConcurrentJobs = 3
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 3 * time.Second
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 90 * time.Second
	}
	if c.AssessTimeout <= 0 {
		c.AssessTimeout = 10 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 10 * time.Second
	}
	return c
}

// Options wires the scheduler's collaborators.
type Options struct {
	Config          Config
	Store           domain.JobStore
	Providers       map[string]image.Generator
	DefaultProvider string
	Assessor        quality.Assessor
	Files           *storage.FileStore
	Logger          zerolog.Logger
}

// activeJob is the runtime-only state for a job owned by a worker. It exists
// between admission and the terminal transition and is never persisted in
// full; only incremental progress is flushed to the store.
type activeJob struct {
	job          *domain.Job
	ctx          context.Context
	cancel       context.CancelFunc
	provider     image.Generator
	providerName string
	startedAt    time.Time
	inflight     atomic.Value // request id of the provider call in flight
}

func (aj *activeJob) setInflight(requestID string) {
	aj.inflight.Store(requestID)
}

func (aj *activeJob) inflightRequestID() string {
	id, _ := aj.inflight.Load().(string)
	return id
}

// Scheduler owns the priority queue, the active-job set and the metrics
// aggregator. Admission decisions run under a single mutex; each admitted
// job is processed by one of a fixed pool of workers so the concurrency
// limit is enforced structurally.
type Scheduler struct {
	cfg             Config
	store           domain.JobStore
	providers       map[string]image.Generator
	defaultProvider string
	assessor        quality.Assessor
	files           *storage.FileStore
	logger          zerolog.Logger
	metrics         *aggregator

	mu     sync.Mutex
	queue  *jobQueue
	active map[string]*activeJob
	closed bool

	nudge    chan struct{}
	dispatch chan *activeJob
	wg       sync.WaitGroup
}

// New constructs a stopped scheduler; call Start to run recovery and begin
// admitting jobs.
func New(opts Options) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, errors.New("scheduler: job store is required")
	}
	if len(opts.Providers) == 0 {
		return nil, errors.New("scheduler: at least one image provider is required")
	}
	defaultProvider := opts.DefaultProvider
	if _, ok := opts.Providers[defaultProvider]; !ok {
		for name := range opts.Providers {
			defaultProvider = name
			break
		}
	}
	if opts.Assessor == nil {
		opts.Assessor = quality.NewHeuristicAssessor()
	}
	cfg := opts.Config.withDefaults()
	return &Scheduler{
		cfg:             cfg,
		store:           opts.Store,
		providers:       opts.Providers,
		defaultProvider: defaultProvider,
		assessor:        opts.Assessor,
		files:           opts.Files,
		logger:          opts.Logger,
		metrics:         newAggregator(),
		queue:           newJobQueue(),
		active:          make(map[string]*activeJob),
		nudge:           make(chan struct{}, 1),
		dispatch:        make(chan *activeJob, cfg.MaxConcurrentJobs),
	}, nil
}

// Start runs the recovery loader, then launches the worker pool and the
// admission loop. The loop stops when ctx is cancelled; workers drain their
// current job before exiting.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.recoverJobs(ctx); err != nil {
		return err
	}
	for i := 0; i < s.cfg.MaxConcurrentJobs; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Shutdown waits for the loop and all workers to finish, bounded by ctx.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitRequest is one batch generation request. Either BatchType names a
// preset or Styles lists the variants explicitly.
type SubmitRequest struct {
	OwnerID           string
	SourceImage       []byte
	SourceRef         string
	BatchType         string
	Styles            []string
	OutputsPerVariant int
	Priority          domain.Priority
	Options           domain.SubmitOptions
}

// SubmitReceipt echoes what the caller needs to track the new job.
type SubmitReceipt struct {
	JobID          string           `json:"job_id"`
	Estimates      domain.Estimates `json:"estimates"`
	QueuePosition  int              `json:"queue_position"`
	EstimatedStart domain.Millis    `json:"estimated_start_ms"`
}

// Submit validates the request, persists a queued job and enqueues it.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (*SubmitReceipt, error) {
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, fmt.Errorf("%w: owner id is required", domain.ErrValidation)
	}
	if len(req.SourceImage) == 0 && strings.TrimSpace(req.SourceRef) == "" {
		return nil, fmt.Errorf("%w: source image is required", domain.ErrValidation)
	}
	styles, err := domain.ResolveBatchSpec(req.BatchType, req.Styles)
	if err != nil {
		return nil, err
	}
	outputs := req.OutputsPerVariant
	if outputs == 0 {
		outputs = 1
	}
	if outputs < 1 {
		return nil, fmt.Errorf("%w: outputs per variant must be positive", domain.ErrValidation)
	}
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %q", domain.ErrValidation, req.Priority)
	}
	batchType := req.BatchType
	if batchType == "" {
		batchType = "custom"
	}

	job := &domain.Job{
		ID:                uuid.NewString(),
		OwnerID:           req.OwnerID,
		BatchType:         batchType,
		Styles:            styles,
		OutputsPerVariant: outputs,
		Priority:          priority,
		Options:           req.Options,
		Status:            domain.JobStatusQueued,
		CurrentStep:       "queued",
		Estimates:         domain.EstimateBatch(styles, outputs),
		SourceImage:       req.SourceImage,
		SourceRef:         req.SourceRef,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrSchedulerClosed
	}
	s.queue.Enqueue(job)
	position := s.queue.PositionOf(job.ID)
	s.mu.Unlock()
	s.nudgeLoop()

	s.logger.Info().
		Str("job_id", job.ID).
		Str("owner_id", job.OwnerID).
		Str("priority", string(priority)).
		Int("styles", len(styles)).
		Msg("scheduler: job submitted")

	return &SubmitReceipt{
		JobID:          job.ID,
		Estimates:      job.Estimates,
		QueuePosition:  position,
		EstimatedStart: domain.Millis(estimateStart(position, s.cfg.MaxConcurrentJobs, s.metrics.averageProcessing())),
	}, nil
}

// StatusReport is the polling view of one job.
type StatusReport struct {
	JobID               string                 `json:"job_id"`
	Status              domain.JobStatus       `json:"status"`
	Progress            int                    `json:"progress"`
	CurrentStep         string                 `json:"current_step"`
	Variants            []domain.VariantResult `json:"completed_variants"`
	Estimates           domain.Estimates       `json:"estimates"`
	Result              *domain.BatchResult    `json:"result,omitempty"`
	ErrorDetails        string                 `json:"error_details,omitempty"`
	QueuePosition       int                    `json:"queue_position,omitempty"`
	EstimatedCompletion domain.Millis          `json:"estimated_completion_ms,omitempty"`
	CreatedAt           time.Time              `json:"created_at"`
	CompletedAt         *time.Time             `json:"completed_at,omitempty"`
}

// Status reports the persisted state of one job, plus its queue position
// while it is still awaiting admission.
func (s *Scheduler) Status(ctx context.Context, jobID string) (*StatusReport, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	report := &StatusReport{
		JobID:        job.ID,
		Status:       job.Status,
		Progress:     job.Progress,
		CurrentStep:  job.CurrentStep,
		Variants:     job.Variants,
		Estimates:    job.Estimates,
		Result:       job.Result,
		ErrorDetails: job.ErrorDetails,
		CreatedAt:    job.CreatedAt,
		CompletedAt:  job.CompletedAt,
	}
	switch {
	case job.Status == domain.JobStatusQueued:
		s.mu.Lock()
		report.QueuePosition = s.queue.PositionOf(jobID)
		s.mu.Unlock()
		wait := estimateStart(report.QueuePosition, s.cfg.MaxConcurrentJobs, s.metrics.averageProcessing())
		report.EstimatedCompletion = domain.Millis(wait + job.Estimates.Duration.Duration())
	case !job.Status.Terminal():
		remaining := 100 - job.Progress
		if remaining > 0 {
			report.EstimatedCompletion = domain.Millis(job.Estimates.Duration.Duration() * time.Duration(remaining) / 100)
		}
	}
	return report, nil
}

// Cancel requests cancellation of the owner's job. Still-queued jobs are
// cancelled immediately; active jobs observe the request at the next variant
// boundary. Terminal jobs are treated as not found so cancellation can never
// mutate a finished job.
func (s *Scheduler) Cancel(ctx context.Context, jobID, ownerID string) error {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.OwnerID != ownerID {
		return domain.ErrNotFound
	}
	if job.Status.Terminal() {
		return domain.ErrNotFound
	}

	s.mu.Lock()
	if s.queue.Remove(jobID) {
		s.mu.Unlock()
		now := time.Now().UTC()
		status := domain.JobStatusCancelled
		step := "cancelled"
		upd := domain.ProgressUpdate{
			Status:      &status,
			CurrentStep: &step,
			CompletedAt: &now,
			DropSource:  true,
		}
		if err := s.store.UpdateProgress(ctx, jobID, upd); err != nil {
			return fmt.Errorf("persist cancellation: %w", err)
		}
		s.logger.Info().Str("job_id", jobID).Msg("scheduler: queued job cancelled")
		return nil
	}
	aj, ok := s.active[jobID]
	s.mu.Unlock()
	if !ok {
		// The job left the active set between the store read and the lock;
		// it just reached a terminal state, so there is nothing to do.
		return nil
	}

	aj.cancel()
	s.logger.Info().Str("job_id", jobID).Msg("scheduler: cancellation requested for active job")

	// Best-effort provider-side cancellation of the in-flight call, to stop
	// billing where the provider supports it.
	if canceler, ok := aj.provider.(image.Canceler); ok {
		if requestID := aj.inflightRequestID(); requestID != "" {
			if err := canceler.Cancel(ctx, requestID); err != nil {
				s.logger.Warn().Err(err).
					Str("job_id", jobID).
					Str("request_id", requestID).
					Msg("scheduler: provider cancellation failed")
			}
		}
	}
	return nil
}

// List returns the owner's job history, newest first.
func (s *Scheduler) List(ctx context.Context, ownerID string, limit int) ([]domain.JobSummary, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner id is required", domain.ErrValidation)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.ListByOwner(ctx, ownerID, limit)
}

// Metrics returns a point-in-time snapshot of the aggregator plus queue and
// active-set gauges.
func (s *Scheduler) Metrics() MetricsSnapshot {
	snap := s.metrics.snapshot()
	s.mu.Lock()
	snap.QueueHighWater = s.queue.HighWater()
	snap.ActiveJobs = len(s.active)
	snap.QueuedJobs = s.queue.Len()
	s.mu.Unlock()
	return snap
}

// loop admits queued jobs on a fixed tick. Submissions and freed worker
// slots nudge it so admission latency is not bounded by tick granularity.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		s.admit()
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			close(s.dispatch)
			return
		case <-ticker.C:
		case <-s.nudge:
		}
	}
}

// admit moves jobs from the queue to the worker pool while a slot is free.
// It holds the scheduler mutex for the whole decision so queue membership
// and the active set change atomically.
func (s *Scheduler) admit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.active) < s.cfg.MaxConcurrentJobs && s.queue.Len() > 0 {
		job := s.queue.PeekNext()
		provider, providerName := s.selectProvider(job.Options.Provider)
		jobCtx, cancel := context.WithCancel(context.Background())
		aj := &activeJob{
			job:          job,
			ctx:          jobCtx,
			cancel:       cancel,
			provider:     provider,
			providerName: providerName,
		}
		s.queue.Remove(job.ID)
		s.active[job.ID] = aj
		// dispatch capacity matches the pool size and active gating above,
		// so this send cannot block while the lock is held.
		s.dispatch <- aj
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for aj := range s.dispatch {
		s.runJob(aj)
		s.release(aj)
	}
}

// release removes a finished job from the active set, folds it into the
// metrics and frees its admission slot.
func (s *Scheduler) release(aj *activeJob) {
	aj.cancel()
	s.mu.Lock()
	delete(s.active, aj.job.ID)
	s.mu.Unlock()
	s.metrics.recordCompletion(aj.job, time.Since(aj.startedAt))
	s.nudgeLoop()
}

func (s *Scheduler) selectProvider(requested string) (image.Generator, string) {
	if generator, ok := s.providers[requested]; ok {
		return generator, requested
	}
	return s.providers[s.defaultProvider], s.defaultProvider
}

func (s *Scheduler) nudgeLoop() {
	select {
	case s.nudge <- struct{}{}:
	default:
	}
}
