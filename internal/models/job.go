package models

import (
	"time"
)

// JobStatus represents the state of a processing job
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusSkipped    JobStatus = "skipped"
)

// ErrorType classifies why a job attempt failed. Used both on the job
// record and as a label on failure logs.
type ErrorType string

const (
	ErrorTypeCrawl      ErrorType = "crawl"      // fetch/extraction failures
	ErrorTypeLLM        ErrorType = "llm"        // generation, embedding, or output-parse failures
	ErrorTypeDB         ErrorType = "db"         // persistence failures
	ErrorTypeValidation ErrorType = "validation" // bad input detected after enqueue
	ErrorTypeUnknown    ErrorType = "unknown"    // panics, lost leases, anything unclassified
)

// ProcessingJob is the unit of work flowing through the queue.
// One job processes one normalized blog URL end to end.
//
// Job State Lifecycle:
//  1. queued - created at enqueue, waiting for a worker
//  2. processing - leased by a worker (WorkerID set, HeartbeatAt refreshed)
//  3. terminal - completed, cancelled, skipped, or failed with
//     FailureCount = MaxRetries; terminal jobs never change again
//
// A non-terminal failure requeues the job: status back to queued,
// WorkerID and StartedAt cleared, FailureCount incremented.
type ProcessingJob struct {
	ID          string    `json:"job_id" badgerhold:"key"`
	BlogURL     string    `json:"blog_url" badgerhold:"index"` // normalized URL this job processes
	PublisherID string    `json:"publisher_id" badgerhold:"index"`
	Status      JobStatus `json:"status" badgerhold:"index"`

	// Config is the publisher config snapshot taken at enqueue time.
	// The orchestrator runs against this snapshot, not the live row.
	Config PublisherConfig `json:"config"`

	// Retry tracking
	FailureCount int       `json:"failure_count"`
	MaxRetries   int       `json:"max_retries"`
	LastError    string    `json:"last_error,omitempty"`
	ErrorType    ErrorType `json:"error_type,omitempty"`

	// Lease tracking. WorkerID is set iff status is processing.
	WorkerID    string     `json:"worker_id,omitempty"`
	HeartbeatAt *time.Time `json:"heartbeat_at,omitempty"`

	// Result is a short human-readable outcome summary
	// (e.g. "5 questions generated", "threshold_not_met").
	Result string `json:"result,omitempty"`

	ReprocessedCount int `json:"reprocessed_count"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the job has reached a state it can never
// leave. A failed job is terminal only once retries are exhausted.
func (j *ProcessingJob) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusCancelled, JobStatusSkipped:
		return true
	case JobStatusFailed:
		return j.FailureCount >= j.MaxRetries
	default:
		return false
	}
}

// IsActive reports whether the job occupies the single active slot for
// its blog URL (at most one queued/processing job may exist per URL).
func (j *ProcessingJob) IsActive() bool {
	return j.Status == JobStatusQueued || j.Status == JobStatusProcessing
}

// IsCancellable reports whether Cancel may still take the job.
// Processing jobs are not cancellable; the lease owner finishes or fails.
func (j *ProcessingJob) IsCancellable() bool {
	return j.Status == JobStatusQueued
}

// QueueStats is an aggregate snapshot of the job queue by status.
type QueueStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Skipped    int `json:"skipped"`
	Total      int `json:"total"`
}

// ReclaimedJob describes one job touched by a stale-lease sweep.
type ReclaimedJob struct {
	JobID       string `json:"job_id"`
	BlogURL     string `json:"blog_url"`
	PublisherID string `json:"publisher_id"`
	WorkerID    string `json:"worker_id"` // owner whose lease expired
	Terminal    bool   `json:"terminal"`  // true when the reclaim exhausted retries
}
