package domain

import (
	"encoding/json"
	"time"
)

// Millis is a duration that travels as whole milliseconds on the wire, so
// JSON values match the *_ms field names. In-memory arithmetic keeps
// nanosecond precision.
type Millis time.Duration

// Duration converts back to the stdlib representation.
func (m Millis) Duration() time.Duration { return time.Duration(m) }

func (m Millis) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(m).Milliseconds())
}

func (m *Millis) UnmarshalJSON(data []byte) error {
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return err
	}
	*m = Millis(time.Duration(ms) * time.Millisecond)
	return nil
}

// Priority orders jobs at admission. High priority jobs are admitted first;
// within a band, earlier submissions win.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank maps a priority to its admission order, lower first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// Valid reports whether p is one of the supported priority bands.
func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued         JobStatus = "queued"
	JobStatusPreprocessing  JobStatus = "preprocessing"
	JobStatusProcessing     JobStatus = "processing"
	JobStatusPostprocessing JobStatus = "postprocessing"
	JobStatusCompleted      JobStatus = "completed"
	JobStatusFailed         JobStatus = "failed"
	JobStatusCancelled      JobStatus = "cancelled"
)

// Terminal reports whether no further status transitions are permitted.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// VariantResult records the outcome of one style generation attempt.
// Entries are appended in processing order and never mutated afterwards.
type VariantResult struct {
	Style       string   `json:"style"`
	Success     bool     `json:"success"`
	Outputs     int      `json:"outputs"`
	StorageKeys []string `json:"storage_keys,omitempty"`
	Error       string   `json:"error,omitempty"`
	Duration    Millis   `json:"duration_ms"`
}

// Estimates is computed once at submission and read-only afterwards.
type Estimates struct {
	Duration  Millis `json:"duration_ms"`
	CostCents int    `json:"cost_cents"`
}

// BatchResult is the postprocessing summary persisted with the terminal status.
type BatchResult struct {
	SuccessfulVariants int      `json:"successful_variants"`
	FailedVariants     int      `json:"failed_variants"`
	TotalOutputs       int      `json:"total_outputs"`
	SuitabilityScore   float64  `json:"suitability_score,omitempty"`
	Recommendations    []string `json:"recommendations,omitempty"`
}

// SubmitOptions carries optional per-job knobs forwarded to the provider.
type SubmitOptions struct {
	Provider string `json:"provider,omitempty"`
	Quality  string `json:"quality,omitempty"`
}

// Job encapsulates one batch headshot generation request through its lifecycle.
type Job struct {
	ID                string
	OwnerID           string
	BatchType         string
	Styles            []string
	OutputsPerVariant int
	Priority          Priority
	Options           SubmitOptions
	Status            JobStatus
	Progress          int
	CurrentStep       string
	Variants          []VariantResult
	Estimates         Estimates
	Result            *BatchResult
	ErrorDetails      string

	// SourceImage holds the uploaded payload for the job's lifetime and is
	// discarded once the job reaches a terminal state. SourceRef is an
	// opaque reference used when the payload lives elsewhere.
	SourceImage []byte
	SourceRef   string

	CancelRequested bool
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	UpdatedAt       time.Time
}

// JobSummary is the compact job history row returned by listings.
type JobSummary struct {
	ID          string     `json:"id"`
	BatchType   string     `json:"batch_type"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
