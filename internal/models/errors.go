package models

import (
	"errors"
	"fmt"
)

// Domain error categories. Handlers map these onto HTTP status codes
// and envelope error symbols; services wrap them with %w and context.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrQuotaExceeded indicates the publisher's lifetime blog quota is
	// exhausted (max_total_blogs reached including reserved slots).
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrDailyLimitExceeded indicates the publisher completed its
	// daily_blog_limit worth of blogs this UTC day.
	ErrDailyLimitExceeded = errors.New("daily limit exceeded")

	// ErrNotWhitelisted indicates the URL matches none of the
	// publisher's whitelisted prefixes.
	ErrNotWhitelisted = errors.New("url not whitelisted")

	// ErrDomainMismatch indicates the URL's domain does not belong to
	// the authenticated publisher.
	ErrDomainMismatch = errors.New("domain mismatch")

	// ErrNotCancellable indicates the job is past the queued state and
	// can no longer be cancelled.
	ErrNotCancellable = errors.New("job not cancellable")

	// ErrNotRequeueable indicates the job is still active and cannot be
	// reprocessed until it reaches a terminal state.
	ErrNotRequeueable = errors.New("job not requeueable")

	// ErrEmbeddingMissing indicates the probe question carries no
	// embedding vector, so similarity search cannot run.
	ErrEmbeddingMissing = errors.New("question has no embedding")

	// ErrRateLimited indicates the publisher's ad-hoc Q&A token bucket
	// is empty.
	ErrRateLimited = errors.New("rate limited")

	// ErrDuplicate indicates a uniqueness violation (publisher domain,
	// blog content URL).
	ErrDuplicate = errors.New("duplicate")
)

// JobError attributes a pipeline failure to a stage so the queue can
// record which kind of retry is in play.
type JobError struct {
	Type ErrorType
	Err  error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %v", e.Type, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// NewJobError wraps err with a stage classification.
func NewJobError(errorType ErrorType, err error) *JobError {
	return &JobError{Type: errorType, Err: err}
}

// ClassifyJobError extracts the stage classification from a pipeline
// error, defaulting to unknown for unwrapped errors.
func ClassifyJobError(err error) ErrorType {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr.Type
	}
	return ErrorTypeUnknown
}
