// -----------------------------------------------------------------------
// Job Queue - the jobs collection is the queue; Badger transactions
// provide the find-or-insert and claim atomicity
// -----------------------------------------------------------------------

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/respondeo/internal/common"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

const (
	// activeKeyPrefix marks URLs with a queued or processing job. The
	// key value is the owning job id. Written and cleared inside the
	// same transaction as the job transition, so the "at most one
	// active job per URL" invariant holds under any interleaving.
	activeKeyPrefix = "jobq:active:"

	// maxTxnRetries bounds optimistic-transaction retries. Badger
	// reports read-write races as ErrConflict; retrying re-reads the
	// current state and is the normal path under contention.
	maxTxnRetries = 20
)

// errNoCandidates signals an empty queue out of a claim transaction.
var errNoCandidates = errors.New("no queued jobs")

// Manager implements the QueueManager interface on the badgerhold
// store shared with the content storages.
type Manager struct {
	store      *badgerhold.Store
	events     interfaces.EventService
	logger     arbor.ILogger
	maxRetries int
}

// NewManager creates a queue manager. maxRetries is stamped onto every
// job at creation time.
func NewManager(store *badgerhold.Store, events interfaces.EventService, logger arbor.ILogger, maxRetries int) interfaces.QueueManager {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Manager{
		store:      store,
		events:     events,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

func activeKey(blogURL string) []byte {
	return []byte(activeKeyPrefix + blogURL)
}

// runTxn executes fn in a read-write transaction, retrying commit
// conflicts with fresh reads.
func (m *Manager) runTxn(fn func(txn *badgerdb.Txn) error) error {
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		err = m.store.Badger().Update(fn)
		if !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("transaction conflict persisted after %d attempts: %w", maxTxnRetries, err)
}

// readActiveJobID returns the job id the URL's active marker points
// at, or "" when none exists. The read is conflict-tracked, which is
// what makes concurrent CreateJob calls collapse to one job.
func (m *Manager) readActiveJobID(txn *badgerdb.Txn, blogURL string) (string, error) {
	item, err := txn.Get(activeKey(blogURL))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var jobID string
	err = item.Value(func(val []byte) error {
		jobID = string(val)
		return nil
	})
	return jobID, err
}

// clearActiveMarker removes the URL marker if it still points at
// jobID. A marker owned by a newer job is left alone.
func (m *Manager) clearActiveMarker(txn *badgerdb.Txn, blogURL, jobID string) error {
	current, err := m.readActiveJobID(txn, blogURL)
	if err != nil {
		return err
	}
	if current != jobID {
		return nil
	}
	return txn.Delete(activeKey(blogURL))
}

// CreateJob finds or inserts the single active job for a URL.
func (m *Manager) CreateJob(ctx context.Context, blogURL, publisherID string, cfg models.PublisherConfig) (*models.ProcessingJob, bool, error) {
	if blogURL == "" {
		return nil, false, fmt.Errorf("blog URL is required")
	}

	var job *models.ProcessingJob
	var created bool

	err := m.runTxn(func(txn *badgerdb.Txn) error {
		job, created = nil, false

		existingID, err := m.readActiveJobID(txn, blogURL)
		if err != nil {
			return err
		}
		if existingID != "" {
			var existing models.ProcessingJob
			err := m.store.TxGet(txn, existingID, &existing)
			if err == nil && existing.IsActive() {
				job = &existing
				return nil
			}
			if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
				return err
			}
			// Marker points at a terminal or missing job. Should not
			// happen; recover by replacing it below.
			m.logger.Warn().
				Str("blog_url", blogURL).
				Str("job_id", existingID).
				Msg("Active-job marker was stale, replacing")
		}

		now := time.Now()
		fresh := models.ProcessingJob{
			ID:          common.NewJobID(),
			BlogURL:     blogURL,
			PublisherID: publisherID,
			Status:      models.JobStatusQueued,
			Config:      cfg,
			MaxRetries:  m.maxRetries,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := m.store.TxInsert(txn, fresh.ID, fresh); err != nil {
			return err
		}
		if err := txn.Set(activeKey(blogURL), []byte(fresh.ID)); err != nil {
			return err
		}
		job = &fresh
		created = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create job: %w", err)
	}

	if created {
		m.logger.Info().
			Str("job_id", job.ID).
			Str("blog_url", blogURL).
			Str("publisher_id", publisherID).
			Msg("Job created")
		m.publishEvent(ctx, interfaces.EventJobCreated, job, "")
	}

	return job, created, nil
}

// claimBatch bounds how many queued candidates one claim transaction
// reads. Keeps claim txns small while giving losers fresh candidates
// on retry.
const claimBatch = 8

// ClaimNext leases the oldest queued job. The candidate read and the
// status flip share a transaction, so two workers can never both claim
// the same job: the loser's commit conflicts and retries against the
// remaining queue.
func (m *Manager) ClaimNext(ctx context.Context, workerID string) (*models.ProcessingJob, error) {
	if workerID == "" {
		return nil, fmt.Errorf("worker ID is required")
	}

	var claimed *models.ProcessingJob
	err := m.runTxn(func(txn *badgerdb.Txn) error {
		claimed = nil

		var candidates []models.ProcessingJob
		query := badgerhold.Where("Status").Eq(models.JobStatusQueued).
			SortBy("CreatedAt").Limit(claimBatch)
		if err := m.store.TxFind(txn, &candidates, query); err != nil {
			return err
		}
		if len(candidates) == 0 {
			return errNoCandidates
		}

		job := candidates[0]
		now := time.Now()
		job.Status = models.JobStatusProcessing
		job.WorkerID = workerID
		job.StartedAt = &now
		job.HeartbeatAt = &now
		job.UpdatedAt = now

		if err := m.store.TxUpdate(txn, job.ID, job); err != nil {
			return err
		}
		claimed = &job
		return nil
	})
	if errors.Is(err, errNoCandidates) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	m.logger.Debug().
		Str("job_id", claimed.ID).
		Str("worker_id", workerID).
		Str("blog_url", claimed.BlogURL).
		Msg("Job claimed")
	m.publishEvent(ctx, interfaces.EventJobClaimed, claimed, "")

	return claimed, nil
}

// Heartbeat refreshes the lease while the caller still owns the job.
// Losing the lease is not an error here; the next Fail or Complete by
// the stale owner will be the no-op that surfaces it.
func (m *Manager) Heartbeat(ctx context.Context, jobID, workerID string) error {
	return m.runTxn(func(txn *badgerdb.Txn) error {
		var job models.ProcessingJob
		if err := m.store.TxGet(txn, jobID, &job); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
			}
			return err
		}
		if job.Status != models.JobStatusProcessing || job.WorkerID != workerID {
			return nil
		}
		now := time.Now()
		job.HeartbeatAt = &now
		job.UpdatedAt = now
		return m.store.TxUpdate(txn, jobID, job)
	})
}

// Complete transitions to the terminal completed state and frees the
// URL for future jobs.
func (m *Manager) Complete(ctx context.Context, jobID, result string) error {
	var completed *models.ProcessingJob
	err := m.runTxn(func(txn *badgerdb.Txn) error {
		var job models.ProcessingJob
		if err := m.store.TxGet(txn, jobID, &job); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
			}
			return err
		}
		if job.IsTerminal() {
			return fmt.Errorf("job %s already terminal (%s)", jobID, job.Status)
		}

		now := time.Now()
		job.Status = models.JobStatusCompleted
		job.Result = result
		job.WorkerID = ""
		job.CompletedAt = &now
		job.UpdatedAt = now

		if err := m.store.TxUpdate(txn, jobID, job); err != nil {
			return err
		}
		if err := m.clearActiveMarker(txn, job.BlogURL, jobID); err != nil {
			return err
		}
		completed = &job
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	m.logger.Info().
		Str("job_id", jobID).
		Str("result", result).
		Msg("Job completed")
	m.publishEvent(ctx, interfaces.EventJobCompleted, completed, result)

	return nil
}

// Fail records one failure. While retries remain the job goes back to
// queued with the URL still held; exhausting retries is terminal and
// releases the URL.
func (m *Manager) Fail(ctx context.Context, jobID string, errorType models.ErrorType, message string) (bool, error) {
	var failed *models.ProcessingJob
	var terminal bool

	err := m.runTxn(func(txn *badgerdb.Txn) error {
		var job models.ProcessingJob
		if err := m.store.TxGet(txn, jobID, &job); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
			}
			return err
		}
		if job.IsTerminal() {
			return fmt.Errorf("job %s already terminal (%s)", jobID, job.Status)
		}

		now := time.Now()
		job.FailureCount++
		job.LastError = message
		job.ErrorType = errorType
		job.WorkerID = ""
		job.UpdatedAt = now

		if job.FailureCount >= job.MaxRetries {
			job.Status = models.JobStatusFailed
			job.CompletedAt = &now
			terminal = true
			if err := m.clearActiveMarker(txn, job.BlogURL, jobID); err != nil {
				return err
			}
		} else {
			job.Status = models.JobStatusQueued
			job.StartedAt = nil
			job.HeartbeatAt = nil
			terminal = false
		}

		if err := m.store.TxUpdate(txn, jobID, job); err != nil {
			return err
		}
		failed = &job
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to fail job: %w", err)
	}

	if terminal {
		m.logger.Warn().
			Str("job_id", jobID).
			Str("error_type", string(errorType)).
			Str("error", message).
			Int("failure_count", failed.FailureCount).
			Msg("Job failed terminally")
		m.publishEvent(ctx, interfaces.EventJobFailed, failed, message)
	} else {
		m.logger.Info().
			Str("job_id", jobID).
			Str("error_type", string(errorType)).
			Str("error", message).
			Int("failure_count", failed.FailureCount).
			Msg("Job requeued after failure")
		m.publishEvent(ctx, interfaces.EventJobRequeued, failed, message)
	}

	return terminal, nil
}

// Skip transitions to the terminal skipped state (threshold not met).
func (m *Manager) Skip(ctx context.Context, jobID, reason string) error {
	var skipped *models.ProcessingJob
	err := m.runTxn(func(txn *badgerdb.Txn) error {
		var job models.ProcessingJob
		if err := m.store.TxGet(txn, jobID, &job); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
			}
			return err
		}
		if job.IsTerminal() {
			return fmt.Errorf("job %s already terminal (%s)", jobID, job.Status)
		}

		now := time.Now()
		job.Status = models.JobStatusSkipped
		job.Result = reason
		job.WorkerID = ""
		job.CompletedAt = &now
		job.UpdatedAt = now

		if err := m.store.TxUpdate(txn, jobID, job); err != nil {
			return err
		}
		if err := m.clearActiveMarker(txn, job.BlogURL, jobID); err != nil {
			return err
		}
		skipped = &job
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to skip job: %w", err)
	}

	m.logger.Info().
		Str("job_id", jobID).
		Str("reason", reason).
		Msg("Job skipped")
	m.publishEvent(ctx, interfaces.EventJobSkipped, skipped, reason)

	return nil
}

// Cancel takes a queued job out of the queue. Processing and terminal
// jobs return ErrNotCancellable.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	var cancelled *models.ProcessingJob
	err := m.runTxn(func(txn *badgerdb.Txn) error {
		var job models.ProcessingJob
		if err := m.store.TxGet(txn, jobID, &job); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
			}
			return err
		}
		if !job.IsCancellable() {
			return fmt.Errorf("job %s in status %s: %w", jobID, job.Status, models.ErrNotCancellable)
		}

		now := time.Now()
		job.Status = models.JobStatusCancelled
		job.WorkerID = ""
		job.CompletedAt = &now
		job.UpdatedAt = now

		if err := m.store.TxUpdate(txn, jobID, job); err != nil {
			return err
		}
		if err := m.clearActiveMarker(txn, job.BlogURL, jobID); err != nil {
			return err
		}
		cancelled = &job
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Info().Str("job_id", jobID).Msg("Job cancelled")
	m.publishEvent(ctx, interfaces.EventJobCancelled, cancelled, "")

	return nil
}

// Requeue puts a terminal job back in the queue for reprocessing. The
// URL must not already have a newer active job.
func (m *Manager) Requeue(ctx context.Context, jobID string) (*models.ProcessingJob, error) {
	var requeued *models.ProcessingJob
	err := m.runTxn(func(txn *badgerdb.Txn) error {
		var job models.ProcessingJob
		if err := m.store.TxGet(txn, jobID, &job); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
			}
			return err
		}
		if !job.IsTerminal() {
			return fmt.Errorf("job %s in status %s: %w", jobID, job.Status, models.ErrNotRequeueable)
		}

		activeID, err := m.readActiveJobID(txn, job.BlogURL)
		if err != nil {
			return err
		}
		if activeID != "" && activeID != jobID {
			return fmt.Errorf("url %s already has active job %s: %w", job.BlogURL, activeID, models.ErrDuplicate)
		}

		now := time.Now()
		job.Status = models.JobStatusQueued
		job.FailureCount = 0
		job.LastError = ""
		job.ErrorType = ""
		job.Result = ""
		job.WorkerID = ""
		job.StartedAt = nil
		job.HeartbeatAt = nil
		job.CompletedAt = nil
		job.ReprocessedCount++
		job.UpdatedAt = now

		if err := m.store.TxUpdate(txn, jobID, job); err != nil {
			return err
		}
		if err := txn.Set(activeKey(job.BlogURL), []byte(jobID)); err != nil {
			return err
		}
		requeued = &job
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("job_id", jobID).
		Int("reprocessed_count", requeued.ReprocessedCount).
		Msg("Job requeued for reprocessing")
	m.publishEvent(ctx, interfaces.EventJobRequeued, requeued, "reprocess requested")

	return requeued, nil
}

// ReclaimStale fails every processing job whose heartbeat is silent
// past staleAfter, as if the lost owner had reported one failure.
func (m *Manager) ReclaimStale(ctx context.Context, now time.Time, staleAfter time.Duration) ([]models.ReclaimedJob, error) {
	cutoff := now.Add(-staleAfter)

	var processing []models.ProcessingJob
	query := badgerhold.Where("Status").Eq(models.JobStatusProcessing)
	if err := m.store.Find(&processing, query); err != nil {
		return nil, fmt.Errorf("failed to scan processing jobs: %w", err)
	}

	var reclaimed []models.ReclaimedJob
	for i := range processing {
		job := processing[i]
		if job.HeartbeatAt != nil && !job.HeartbeatAt.Before(cutoff) {
			continue
		}
		lostWorker := job.WorkerID

		terminal, err := m.Fail(ctx, job.ID, models.ErrorTypeUnknown, "lease lost")
		if err != nil {
			// The owner might have finished between scan and fail.
			m.logger.Debug().Err(err).Str("job_id", job.ID).Msg("Stale job transitioned before reclaim")
			continue
		}

		m.logger.Warn().
			Str("job_id", job.ID).
			Str("worker_id", lostWorker).
			Time("heartbeat_at", derefTime(job.HeartbeatAt)).
			Bool("terminal", terminal).
			Msg("Stale lease reclaimed")

		reclaimed = append(reclaimed, models.ReclaimedJob{
			JobID:       job.ID,
			BlogURL:     job.BlogURL,
			PublisherID: job.PublisherID,
			WorkerID:    lostWorker,
			Terminal:    terminal,
		})
		m.publishEvent(ctx, interfaces.EventJobReclaimed, &job, "lease lost")
	}

	return reclaimed, nil
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func (m *Manager) GetJob(ctx context.Context, jobID string) (*models.ProcessingJob, error) {
	var job models.ProcessingJob
	if err := m.store.Get(jobID, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// GetActiveJobByURL resolves the URL's queued or processing job via
// the active marker. Returns nil when the URL is idle.
func (m *Manager) GetActiveJobByURL(ctx context.Context, blogURL string) (*models.ProcessingJob, error) {
	var job *models.ProcessingJob
	err := m.store.Badger().View(func(txn *badgerdb.Txn) error {
		jobID, err := m.readActiveJobID(txn, blogURL)
		if err != nil || jobID == "" {
			return err
		}
		var found models.ProcessingJob
		if err := m.store.TxGet(txn, jobID, &found); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return nil
			}
			return err
		}
		if found.IsActive() {
			job = &found
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve active job: %w", err)
	}
	return job, nil
}

// GetLatestJobByURL returns the most recently created job for the URL,
// terminal or not. Returns nil when the URL has no history.
func (m *Manager) GetLatestJobByURL(ctx context.Context, blogURL string) (*models.ProcessingJob, error) {
	var jobs []models.ProcessingJob
	query := badgerhold.Where("BlogURL").Eq(blogURL).SortBy("CreatedAt").Reverse().Limit(1)
	if err := m.store.Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to find jobs by url: %w", err)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	return &jobs[0], nil
}

func (m *Manager) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]*models.ProcessingJob, error) {
	var query *badgerhold.Query
	if status != "" {
		query = badgerhold.Where("Status").Eq(status).SortBy("CreatedAt").Reverse()
	} else {
		query = badgerhold.Where("ID").Ne("").SortBy("CreatedAt").Reverse()
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var jobs []models.ProcessingJob
	if err := m.store.Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.ProcessingJob, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

// Stats aggregates job counts by status in one pass over the
// collection. Jobs are never deleted, so this doubles as history size.
func (m *Manager) Stats(ctx context.Context) (*models.QueueStats, error) {
	var jobs []models.ProcessingJob
	if err := m.store.Find(&jobs, nil); err != nil {
		return nil, fmt.Errorf("failed to scan jobs: %w", err)
	}

	stats := &models.QueueStats{Total: len(jobs)}
	for i := range jobs {
		switch jobs[i].Status {
		case models.JobStatusQueued:
			stats.Queued++
		case models.JobStatusProcessing:
			stats.Processing++
		case models.JobStatusCompleted:
			stats.Completed++
		case models.JobStatusFailed:
			stats.Failed++
		case models.JobStatusCancelled:
			stats.Cancelled++
		case models.JobStatusSkipped:
			stats.Skipped++
		}
	}
	return stats, nil
}

// CountCompletedSince counts the publisher's completed jobs at or
// after the cutoff. Backs the daily limit: only completed work counts,
// skips and failures do not consume allowance.
func (m *Manager) CountCompletedSince(ctx context.Context, publisherID string, cutoff time.Time) (int, error) {
	var jobs []models.ProcessingJob
	query := badgerhold.Where("PublisherID").Eq(publisherID).
		And("Status").Eq(models.JobStatusCompleted)
	if err := m.store.Find(&jobs, query); err != nil {
		return 0, fmt.Errorf("failed to find completed jobs: %w", err)
	}

	count := 0
	for i := range jobs {
		if jobs[i].CompletedAt != nil && !jobs[i].CompletedAt.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

func (m *Manager) publishEvent(ctx context.Context, eventType interfaces.EventType, job *models.ProcessingJob, message string) {
	if m.events == nil || job == nil {
		return
	}
	payload := models.JobEvent{
		JobID:       job.ID,
		BlogURL:     job.BlogURL,
		PublisherID: job.PublisherID,
		Status:      job.Status,
		ErrorType:   job.ErrorType,
		Message:     message,
		WorkerID:    job.WorkerID,
		Timestamp:   time.Now(),
	}
	if err := m.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		m.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish job event")
	}
}
