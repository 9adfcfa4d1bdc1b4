package models

import "time"

// LoadStatus is the widget-facing readiness state of a blog URL.
type LoadStatus string

const (
	LoadStatusReady      LoadStatus = "ready"       // questions exist, returned inline
	LoadStatusProcessing LoadStatus = "processing"  // a non-terminal job is in flight
	LoadStatusNotStarted LoadStatus = "not_started" // a new job was just created
	LoadStatusFailed     LoadStatus = "failed"      // latest job failed terminally
)

// BlogInfo is the public slice of BlogContent returned with questions.
type BlogInfo struct {
	BlogID        string     `json:"blog_id"`
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	Author        string     `json:"author,omitempty"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
	WordCount     int        `json:"word_count"`
}

// CheckAndLoadResult is the response of the widget fast path. JobID is
// null on cache hits and set whenever a job is involved.
type CheckAndLoadResult struct {
	Status    LoadStatus     `json:"status"`
	Questions []QuestionView `json:"questions,omitempty"`
	BlogInfo  *BlogInfo      `json:"blog_info,omitempty"`
	JobID     *string        `json:"job_id"`
}

// EnqueueResult is the admin/batch enqueue response: job state only,
// never questions.
type EnqueueResult struct {
	JobID   string    `json:"job_id"`
	Status  JobStatus `json:"status"`
	Created bool      `json:"created"` // false when an active job already existed
}

// AskAnswer is the response of the ad-hoc Q&A endpoint.
type AskAnswer struct {
	Answer string `json:"answer"`
	Model  string `json:"model"`
}

// JobEvent is the payload published on job state transitions and
// streamed to websocket subscribers.
type JobEvent struct {
	JobID       string    `json:"job_id"`
	BlogURL     string    `json:"blog_url"`
	PublisherID string    `json:"publisher_id"`
	Status      JobStatus `json:"status"`
	ErrorType   ErrorType `json:"error_type,omitempty"`
	Message     string    `json:"message,omitempty"`
	WorkerID    string    `json:"worker_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
