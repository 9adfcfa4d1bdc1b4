package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/models"
)

func testConfig() models.PublisherConfig {
	return models.PublisherConfig{
		QuestionsPerBlog:              5,
		SummaryModel:                  "gpt-5-mini",
		QuestionsModel:                "gpt-5-mini",
		ChatModel:                     "gpt-5-mini",
		ThresholdBeforeProcessingBlog: 2,
	}
}

func TestCreateJob(t *testing.T) {
	mgr, events := setupTestQueue(t)
	ctx := context.Background()

	job, created, err := mgr.CreateJob(ctx, "https://blog.example.com/post-1", "pub-1", testConfig())
	require.NoError(t, err)
	require.True(t, created)
	require.NotNil(t, job)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "https://blog.example.com/post-1", job.BlogURL)
	assert.Equal(t, "pub-1", job.PublisherID)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, 3, job.MaxRetries)
	assert.Equal(t, 5, job.Config.QuestionsPerBlog)
	assert.Zero(t, job.FailureCount)
	assert.False(t, job.CreatedAt.IsZero())

	assert.Len(t, events.byType(interfaces.EventJobCreated), 1)
}

func TestCreateJobReturnsExistingActive(t *testing.T) {
	mgr, events := setupTestQueue(t)
	ctx := context.Background()

	first, created, err := mgr.CreateJob(ctx, "https://blog.example.com/post-1", "pub-1", testConfig())
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := mgr.CreateJob(ctx, "https://blog.example.com/post-1", "pub-1", testConfig())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	// Still deduplicated once the job is claimed.
	claimed, err := mgr.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	third, created, err := mgr.CreateJob(ctx, "https://blog.example.com/post-1", "pub-1", testConfig())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, third.ID)

	assert.Len(t, events.byType(interfaces.EventJobCreated), 1)
}

func TestCreateJobConcurrentSameURL(t *testing.T) {
	mgr, events := setupTestQueue(t)
	ctx := context.Background()

	const callers = 10
	jobIDs := make([]string, callers)
	createdFlags := make([]bool, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			job, created, err := mgr.CreateJob(ctx, "https://blog.example.com/hot-post", "pub-1", testConfig())
			if err != nil {
				errs[n] = err
				return
			}
			jobIDs[n] = job.ID
			createdFlags[n] = created
		}(i)
	}
	wg.Wait()

	createdCount := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, jobIDs[0], jobIDs[i], "every caller must see the same job")
		if createdFlags[i] {
			createdCount++
		}
	}
	assert.Equal(t, 1, createdCount, "exactly one caller creates the job")

	stats, err := mgr.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Len(t, events.byType(interfaces.EventJobCreated), 1)
}

func TestCreateJobAfterTerminal(t *testing.T) {
	mgr, _ := setupTestQueue(t)
	ctx := context.Background()

	first, _, err := mgr.CreateJob(ctx, "https://blog.example.com/post-1", "pub-1", testConfig())
	require.NoError(t, err)

	claimed, err := mgr.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, mgr.Complete(ctx, claimed.ID, "5 questions generated"))

	second, created, err := mgr.CreateJob(ctx, "https://blog.example.com/post-1", "pub-1", testConfig())
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestClaimNextOldestFirst(t *testing.T) {
	mgr, events := setupTestQueue(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		job, _, err := mgr.CreateJob(ctx, fmt.Sprintf("https://blog.example.com/post-%d", i), "pub-1", testConfig())
		require.NoError(t, err)
		ids = append(ids, job.ID)
		time.Sleep(2 * time.Millisecond)
	}

	for i := 0; i < 3; i++ {
		claimed, err := mgr.ClaimNext(ctx, "w1")
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, ids[i], claimed.ID, "claims follow enqueue order")
		assert.Equal(t, models.JobStatusProcessing, claimed.Status)
		assert.Equal(t, "w1", claimed.WorkerID)
		require.NotNil(t, claimed.StartedAt)
		require.NotNil(t, claimed.HeartbeatAt)
	}

	empty, err := mgr.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, empty)

	assert.Len(t, events.byType(interfaces.EventJobClaimed), 3)
}

func TestClaimNextConcurrentNoDoubleClaim(t *testing.T) {
	mgr, _ := setupTestQueue(t)
	ctx := context.Background()

	const jobCount = 12
	for i := 0; i < jobCount; i++ {
		_, _, err := mgr.CreateJob(ctx, fmt.Sprintf("https://blog.example.com/post-%d", i), "pub-1", testConfig())
		require.NoError(t, err)
	}

	const workers = 4
	var mu sync.Mutex
	claimedBy := make(map[string][]string)
	workerErrs := make([]error, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			workerID := fmt.Sprintf("w%d", n)
			for {
				job, err := mgr.ClaimNext(ctx, workerID)
				if err != nil {
					workerErrs[n] = err
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				claimedBy[job.ID] = append(claimedBy[job.ID], workerID)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	for _, err := range workerErrs {
		require.NoError(t, err)
	}
	assert.Len(t, claimedBy, jobCount, "every job claimed")
	for jobID, owners := range claimedBy {
		assert.Len(t, owners, 1, "job %s claimed by %v", jobID, owners)
	}

	stats, err := mgr.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, jobCount, stats.Processing)
	assert.Zero(t, stats.Queued)
}

func TestHeartbeat(t *testing.T) {
	mgr, _ := setupTestQueue(t)
	ctx := context.Background()

	_, _, err := mgr.CreateJob(ctx, "https://blog.example.com/post-1", "pub-1", testConfig())
	require.NoError(t, err)
	claimed, err := mgr.ClaimNext(ctx, "w1")
	require.NoError(t, err)

	before := *claimed.HeartbeatAt
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, mgr.Heartbeat(ctx, claimed.ID, "w1"))

	refreshed, err := mgr.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	assert.True(t, refreshed.HeartbeatAt.After(before))

	// A worker that lost its lease cannot refresh it.
	lost := *refreshed.HeartbeatAt
	require.NoError(t, mgr.Heartbeat(ctx, claimed.ID, "w2"))
	after, err := mgr.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	assert.True(t, after.HeartbeatAt.Equal(lost), "non-owner heartbeat is a no-op")

	err = mgr.Heartbeat(ctx, "missing-job", "w1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCompleteFreesURL(t *testing.T) {
	mgr, events := setupTestQueue(t)
	ctx := context.Background()

	_, _, err := mgr.CreateJob(ctx, "https://blog.example.com/post-1", "pub-1", testConfig())
	require.NoError(t, err)
	claimed, err := mgr.ClaimNext(ctx, "w1")
	require.NoError(t, err)

	require.NoError(t, mgr.Complete(ctx, claimed.ID, "5 questions generated"))

	job, err := mgr.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, "5 questions generated", job.Result)
	assert.Empty(t, job.WorkerID)
	require.NotNil(t, job.CompletedAt)

	active, err := mgr.GetActiveJobByURL(ctx, "https://blog.example.com/post-1")
	require.NoError(t, err)
	assert.Nil(t, active)

	// Terminal jobs cannot be completed twice.
	assert.Error(t, mgr.Complete(ctx, claimed.ID, "again"))

	assert.Len(t, events.byType(interfaces.EventJobCompleted), 1)
}

func TestFailRetryChain(t *testing.T) {
	mgr, events := setupTestQueue(t)
	ctx := context.Background()

	created, _, err := mgr.CreateJob(ctx, "https://blog.example.com/post-1", "pub-1", testConfig())
	require.NoError(t, err)

	// Attempts one and two requeue.
	for attempt := 1; attempt <= 2; attempt++ {
		claimed, err := mgr.ClaimNext(ctx, "w1")
		require.NoError(t, err)
		require.Equal(t, created.ID, claimed.ID)

		terminal, err := mgr.Fail(ctx, claimed.ID, models.ErrorTypeCrawl, "fetch timeout")
		require.NoError(t, err)
		assert.False(t, terminal)

		job, err := mgr.GetJob(ctx, claimed.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusQueued, job.Status)
		assert.Equal(t, attempt, job.FailureCount)
		assert.Equal(t, "fetch timeout", job.LastError)
		assert.Equal(t, models.ErrorTypeCrawl, job.ErrorType)
		assert.Empty(t, job.WorkerID)
		assert.Nil(t, job.StartedAt)

		// URL slot is still held while retries remain.
		_, dupCreated, err := mgr.CreateJob(ctx, "https://blog.example.com/post-1", "pub-1", testConfig())
		require.NoError(t, err)
		assert.False(t, dupCreated)
	}

	// Third failure exhausts retries.
	claimed, err := mgr.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	terminal, err := mgr.Fail(ctx, claimed.ID, models.ErrorTypeLLM, "model unavailable")
	require.NoError(t, err)
	assert.True(t, terminal)

	job, err := mgr.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 3, job.FailureCount)
	assert.True(t, job.IsTerminal())
	require.NotNil(t, job.CompletedAt)

	// Terminal failure releases the URL.
	_, recreated, err := mgr.CreateJob(ctx, "https://blog.example.com/post-1", "pub-1", testConfig())
	require.NoError(t, err)
	assert.True(t, recreated)

	assert.Len(t, events.byType(interfaces.EventJobRequeued), 2)
	assert.Len(t, events.byType(interfaces.EventJobFailed), 1)
}

func TestSkip(t *testing.T) {
	mgr, events := setupTestQueue(t)
	ctx := context.Background()

	_, _, err := mgr.CreateJob(ctx, "https://blog.example.com/post-1", "pub-1", testConfig())
	require.NoError(t, err)
	claimed, err := mgr.ClaimNext(ctx, "w1")
	require.NoError(t, err)

	require.NoError(t, mgr.Skip(ctx, claimed.ID, "threshold_not_met"))

	job, err := mgr.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSkipped, job.Status)
	assert.Equal(t, "threshold_not_met", job.Result)
	assert.True(t, job.IsTerminal())

	active, err := mgr.GetActiveJobByURL(ctx, "https://blog.example.com/post-1")
	require.NoError(t, err)
	assert.Nil(t, active)

	assert.Len(t, events.byType(interfaces.EventJobSkipped), 1)
}

func TestCancelQueuedOnly(t *testing.T) {
	mgr, events := setupTestQueue(t)
	ctx := context.Background()

	queued, _, err := mgr.CreateJob(ctx, "https://blog.example.com/post-1", "pub-1", testConfig())
	require.NoError(t, err)
	require.NoError(t, mgr.Cancel(ctx, queued.ID))

	job, err := mgr.GetJob(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, job.Status)

	// Cancelled job released the URL.
	active, err := mgr.GetActiveJobByURL(ctx, "https://blog.example.com/post-1")
	require.NoError(t, err)
	assert.Nil(t, active)

	// A processing job refuses cancellation.
	processing, _, err := mgr.CreateJob(ctx, "https://blog.example.com/post-2", "pub-1", testConfig())
	require.NoError(t, err)
	_, err = mgr.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	err = mgr.Cancel(ctx, processing.ID)
	assert.ErrorIs(t, err, models.ErrNotCancellable)

	// So does a terminal one.
	err = mgr.Cancel(ctx, queued.ID)
	assert.ErrorIs(t, err, models.ErrNotCancellable)

	assert.Len(t, events.byType(interfaces.EventJobCancelled), 1)
}

func TestRequeue(t *testing.T) {
	mgr, _ := setupTestQueueRetries(t, 1)
	ctx := context.Background()

	created, _, err := mgr.CreateJob(ctx, "https://blog.example.com/post-1", "pub-1", testConfig())
	require.NoError(t, err)

	// Active jobs cannot be requeued.
	_, err = mgr.Requeue(ctx, created.ID)
	assert.ErrorIs(t, err, models.ErrNotRequeueable)

	claimed, err := mgr.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	terminal, err := mgr.Fail(ctx, claimed.ID, models.ErrorTypeCrawl, "fetch timeout")
	require.NoError(t, err)
	require.True(t, terminal)

	requeued, err := mgr.Requeue(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, requeued.Status)
	assert.Zero(t, requeued.FailureCount)
	assert.Empty(t, requeued.LastError)
	assert.Equal(t, 1, requeued.ReprocessedCount)
	assert.Nil(t, requeued.CompletedAt)

	// Requeue re-held the URL slot.
	_, dupCreated, err := mgr.CreateJob(ctx, "https://blog.example.com/post-1", "pub-1", testConfig())
	require.NoError(t, err)
	assert.False(t, dupCreated)
}

func TestRequeueBlockedByNewerActiveJob(t *testing.T) {
	mgr, _ := setupTestQueue(t)
	ctx := context.Background()

	old, _, err := mgr.CreateJob(ctx, "https://blog.example.com/post-1", "pub-1", testConfig())
	require.NoError(t, err)
	claimed, err := mgr.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, mgr.Complete(ctx, claimed.ID, "done"))

	// A newer job now owns the URL.
	_, created, err := mgr.CreateJob(ctx, "https://blog.example.com/post-1", "pub-1", testConfig())
	require.NoError(t, err)
	require.True(t, created)

	_, err = mgr.Requeue(ctx, old.ID)
	assert.ErrorIs(t, err, models.ErrDuplicate)
}

func TestReclaimStale(t *testing.T) {
	mgr, events := setupTestQueue(t)
	ctx := context.Background()

	_, _, err := mgr.CreateJob(ctx, "https://blog.example.com/post-1", "pub-1", testConfig())
	require.NoError(t, err)
	_, _, err = mgr.CreateJob(ctx, "https://blog.example.com/post-2", "pub-1", testConfig())
	require.NoError(t, err)

	stale, err := mgr.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	healthy, err := mgr.ClaimNext(ctx, "w2")
	require.NoError(t, err)

	staleAfter := 10 * time.Minute
	backdateHeartbeat(t, mgr, stale.ID, staleAfter+time.Minute)

	reclaimed, err := mgr.ReclaimStale(ctx, time.Now(), staleAfter)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, stale.ID, reclaimed[0].JobID)
	assert.Equal(t, "w1", reclaimed[0].WorkerID)
	assert.False(t, reclaimed[0].Terminal)

	job, err := mgr.GetJob(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, 1, job.FailureCount)
	assert.Equal(t, models.ErrorTypeUnknown, job.ErrorType)
	assert.Equal(t, "lease lost", job.LastError)

	untouched, err := mgr.GetJob(ctx, healthy.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, untouched.Status)

	assert.Len(t, events.byType(interfaces.EventJobReclaimed), 1)
}

func TestReclaimStaleTerminal(t *testing.T) {
	mgr, _ := setupTestQueueRetries(t, 1)
	ctx := context.Background()

	_, _, err := mgr.CreateJob(ctx, "https://blog.example.com/post-1", "pub-1", testConfig())
	require.NoError(t, err)
	claimed, err := mgr.ClaimNext(ctx, "w1")
	require.NoError(t, err)

	staleAfter := 10 * time.Minute
	backdateHeartbeat(t, mgr, claimed.ID, staleAfter+time.Minute)

	reclaimed, err := mgr.ReclaimStale(ctx, time.Now(), staleAfter)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.True(t, reclaimed[0].Terminal, "single-retry job dead-letters on reclaim")

	job, err := mgr.GetJob(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.True(t, job.IsTerminal())
}

func TestGetLatestJobByURL(t *testing.T) {
	mgr, _ := setupTestQueue(t)
	ctx := context.Background()

	none, err := mgr.GetLatestJobByURL(ctx, "https://blog.example.com/post-1")
	require.NoError(t, err)
	assert.Nil(t, none)

	first, _, err := mgr.CreateJob(ctx, "https://blog.example.com/post-1", "pub-1", testConfig())
	require.NoError(t, err)
	claimed, err := mgr.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, mgr.Complete(ctx, claimed.ID, "done"))

	time.Sleep(2 * time.Millisecond)
	second, _, err := mgr.CreateJob(ctx, "https://blog.example.com/post-1", "pub-1", testConfig())
	require.NoError(t, err)

	latest, err := mgr.GetLatestJobByURL(ctx, "https://blog.example.com/post-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
	assert.NotEqual(t, first.ID, latest.ID)
}

func TestListJobs(t *testing.T) {
	mgr, _ := setupTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _, err := mgr.CreateJob(ctx, fmt.Sprintf("https://blog.example.com/post-%d", i), "pub-1", testConfig())
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
	claimed, err := mgr.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, mgr.Complete(ctx, claimed.ID, "done"))

	queued, err := mgr.ListJobs(ctx, models.JobStatusQueued, 0)
	require.NoError(t, err)
	assert.Len(t, queued, 3)

	all, err := mgr.ListJobs(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	limited, err := mgr.ListJobs(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	// Newest first.
	assert.True(t, !limited[0].CreatedAt.Before(limited[1].CreatedAt))
}

func TestStats(t *testing.T) {
	mgr, _ := setupTestQueueRetries(t, 1)
	ctx := context.Background()

	// Creation order matters: claims take the oldest queued job, so the
	// job meant to stay queued is created after the claimable three.
	urls := []string{
		"https://blog.example.com/processing",
		"https://blog.example.com/completed",
		"https://blog.example.com/failed",
		"https://blog.example.com/queued",
		"https://blog.example.com/cancelled",
	}
	jobs := make(map[string]*models.ProcessingJob)
	for _, u := range urls {
		job, _, err := mgr.CreateJob(ctx, u, "pub-1", testConfig())
		require.NoError(t, err)
		jobs[u] = job
		time.Sleep(2 * time.Millisecond)
	}

	require.NoError(t, mgr.Cancel(ctx, jobs["https://blog.example.com/cancelled"].ID))

	for i := 0; i < 3; i++ {
		_, err := mgr.ClaimNext(ctx, "w1")
		require.NoError(t, err)
	}
	require.NoError(t, mgr.Complete(ctx, jobs["https://blog.example.com/completed"].ID, "done"))
	terminal, err := mgr.Fail(ctx, jobs["https://blog.example.com/failed"].ID, models.ErrorTypeCrawl, "boom")
	require.NoError(t, err)
	require.True(t, terminal)

	stats, err := mgr.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Queued)
	assert.Equal(t, 1, stats.Processing)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Cancelled)
	assert.Zero(t, stats.Skipped)
	assert.Equal(t, 5, stats.Total)
}

func TestCountCompletedSince(t *testing.T) {
	mgr, _ := setupTestQueue(t)
	ctx := context.Background()

	complete := func(url, publisherID string) *models.ProcessingJob {
		t.Helper()
		_, _, err := mgr.CreateJob(ctx, url, publisherID, testConfig())
		require.NoError(t, err)
		claimed, err := mgr.ClaimNext(ctx, "w1")
		require.NoError(t, err)
		require.NoError(t, mgr.Complete(ctx, claimed.ID, "done"))
		job, err := mgr.GetJob(ctx, claimed.ID)
		require.NoError(t, err)
		return job
	}

	first := complete("https://blog.example.com/post-1", "pub-1")
	complete("https://blog.example.com/post-2", "pub-1")
	complete("https://blog.example.com/other", "pub-2")

	count, err := mgr.CountCompletedSince(ctx, "pub-1", first.CompletedAt.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, count, "other publisher's jobs do not count")

	count, err = mgr.CountCompletedSince(ctx, "pub-1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count, "future cutoff sees nothing")

	// A non-completed job never counts.
	_, _, err = mgr.CreateJob(ctx, "https://blog.example.com/post-3", "pub-1", testConfig())
	require.NoError(t, err)
	count, err = mgr.CountCompletedSince(ctx, "pub-1", first.CompletedAt.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestGetJobMissing(t *testing.T) {
	mgr, _ := setupTestQueue(t)

	_, err := mgr.GetJob(context.Background(), "no-such-job")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}
