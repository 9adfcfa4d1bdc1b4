package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/respondeo/internal/models"
)

// QueueManager manages the persistent processing-job queue.
//
// All transitions are atomic with respect to concurrent callers: two
// CreateJob calls for one URL yield one job, and two ClaimNext calls
// never lease the same job.
type QueueManager interface {
	// CreateJob enqueues a job for the normalized URL unless an active
	// (queued or processing) job already exists, in which case the
	// existing job is returned with created=false.
	CreateJob(ctx context.Context, blogURL, publisherID string, cfg models.PublisherConfig) (job *models.ProcessingJob, created bool, err error)

	// ClaimNext leases the oldest queued job to workerID. Returns nil
	// when the queue is empty.
	ClaimNext(ctx context.Context, workerID string) (*models.ProcessingJob, error)

	// Heartbeat refreshes the lease. No-op unless workerID still owns
	// the job and it is still processing.
	Heartbeat(ctx context.Context, jobID, workerID string) error

	// Complete transitions to the terminal completed state.
	Complete(ctx context.Context, jobID, result string) error

	// Fail records a failure. Requeues while retries remain; otherwise
	// the job fails terminally and terminal=true is returned.
	Fail(ctx context.Context, jobID string, errorType models.ErrorType, message string) (terminal bool, err error)

	// Skip transitions to the terminal skipped state with a reason.
	Skip(ctx context.Context, jobID, reason string) error

	// Cancel transitions a queued job to cancelled. Returns
	// ErrNotCancellable for processing or terminal jobs.
	Cancel(ctx context.Context, jobID string) error

	// Requeue resets a terminal job back to queued for reprocessing,
	// incrementing reprocessed_count.
	Requeue(ctx context.Context, jobID string) (*models.ProcessingJob, error)

	// ReclaimStale fails every processing job whose heartbeat is older
	// than now-staleAfter, as if the owner had reported one failure.
	ReclaimStale(ctx context.Context, now time.Time, staleAfter time.Duration) ([]models.ReclaimedJob, error)

	GetJob(ctx context.Context, jobID string) (*models.ProcessingJob, error)
	GetActiveJobByURL(ctx context.Context, blogURL string) (*models.ProcessingJob, error)
	GetLatestJobByURL(ctx context.Context, blogURL string) (*models.ProcessingJob, error)
	ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]*models.ProcessingJob, error)
	Stats(ctx context.Context) (*models.QueueStats, error)

	// CountCompletedSince counts jobs for the publisher completed at or
	// after the cutoff. Used for the daily limit.
	CountCompletedSince(ctx context.Context, publisherID string, cutoff time.Time) (int, error)
}

// WorkerPool manages concurrent job processing
type WorkerPool interface {
	Start(ctx context.Context) error
	Stop() error
	WorkerCount() int
	IsRunning() bool
}

// JobProcessor runs one claimed job. On nil the processor has settled
// the job itself: Complete, Skip, or a recorded Fail with the matching
// quota bookkeeping. A non-nil error means settlement was impossible
// and the worker records the failure via Fail as a backstop.
// Implemented by the pipeline orchestrator; consumed by workers.
type JobProcessor interface {
	Process(ctx context.Context, job *models.ProcessingJob, workerID string) error
}
