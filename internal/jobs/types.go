package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/column-analyzer/internal/analyzer"
)

// JobType represents the type of job to be executed.
type JobType string

const (
	// JobTypeAnalyzeDocument analyzes a statement stored in GCS.
	JobTypeAnalyzeDocument JobType = "analyze_document"
)

// JobStatus represents the current status of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRetrying  JobStatus = "retrying"
)

// DefaultMaxRetries applies when a published job does not set MaxRetries.
const DefaultMaxRetries = 2

var (
	// ErrJobNotFound is returned by stores for unknown job ids.
	ErrJobNotFound = errors.New("job not found")

	// ErrQueueClosed is returned when publishing to a stopped queue.
	ErrQueueClosed = errors.New("queue is closed")
)

// AnalyzeDocumentJob analyzes one stored statement. A completed job carries
// the analysis result, which may itself be a failed analysis; only pipeline
// errors fail the job.
type AnalyzeDocumentJob struct {
	JobID  string `json:"job_id"`
	GCSURI string `json:"gcs_uri"`

	// RunID is the analysis run recorded for the last attempt.
	RunID string `json:"run_id,omitempty"`

	Status      JobStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Result *analyzer.AnalysisResult `json:"result,omitempty"`
	Error  string                   `json:"error,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`
}

// Job is a generic interface for all job types.
type Job interface {
	GetID() string
	GetType() JobType
	GetStatus() JobStatus
}

func (j *AnalyzeDocumentJob) GetID() string { return j.JobID }

func (j *AnalyzeDocumentJob) GetType() JobType { return JobTypeAnalyzeDocument }

func (j *AnalyzeDocumentJob) GetStatus() JobStatus { return j.Status }

// Publisher enqueues jobs.
type Publisher interface {
	PublishAnalyzeDocument(ctx context.Context, job *AnalyzeDocumentJob) error
	Close() error
}

// Consumer runs queued jobs.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a job. A returned error marks the attempt as failed
// and triggers a retry while retries remain.
type JobHandler func(ctx context.Context, job Job) error

// JobStore keeps job state for status queries.
type JobStore interface {
	SaveJob(ctx context.Context, job *AnalyzeDocumentJob) error
	GetJob(ctx context.Context, jobID string) (*AnalyzeDocumentJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*AnalyzeDocumentJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errorMsg string) error
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	Status JobStatus
	Limit  int
	Offset int
}
