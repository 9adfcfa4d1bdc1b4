package intake

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/respondeo/internal/common"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/models"
)

// Service is the read/enqueue surface behind the API. It owns the
// widget fast path: answer from the cache when questions exist, report
// the in-flight job when one is running, and otherwise reserve a quota
// slot and enqueue.
type Service struct {
	registry  interfaces.PublisherRegistry
	queue     interfaces.QueueManager
	content   interfaces.ContentStorage
	summaries interfaces.SummaryStorage
	questions interfaces.QuestionStorage
	logger    arbor.ILogger
}

// NewService creates the intake service.
func NewService(
	registry interfaces.PublisherRegistry,
	queue interfaces.QueueManager,
	content interfaces.ContentStorage,
	summaries interfaces.SummaryStorage,
	questions interfaces.QuestionStorage,
	logger arbor.ILogger,
) interfaces.IntakeService {
	return &Service{
		registry:  registry,
		queue:     queue,
		content:   content,
		summaries: summaries,
		questions: questions,
		logger:    logger,
	}
}

// CheckAndLoad is the widget fast path: ready questions, the job in
// flight, the sticky terminal failure, or a freshly created job, in
// that order of preference.
func (s *Service) CheckAndLoad(ctx context.Context, pub *models.Publisher, rawURL string) (*models.CheckAndLoadResult, error) {
	blogURL, err := s.admitURL(pub, rawURL)
	if err != nil {
		return nil, err
	}

	questions, err := s.questions.GetQuestionsByBlogURL(ctx, blogURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions: %w", err)
	}
	if len(questions) > 0 {
		return &models.CheckAndLoadResult{
			Status:    models.LoadStatusReady,
			Questions: toViews(questions, false),
			BlogInfo:  s.blogInfo(ctx, blogURL),
		}, nil
	}

	if result, err := s.jobStateFor(ctx, blogURL); result != nil || err != nil {
		return result, err
	}

	job, created, err := s.startJob(ctx, pub, blogURL)
	if err != nil {
		return nil, err
	}
	status := models.LoadStatusNotStarted
	if !created {
		status = models.LoadStatusProcessing
	}
	return &models.CheckAndLoadResult{Status: status, JobID: &job.ID}, nil
}

// Enqueue runs the same decision tree as CheckAndLoad but only ever
// returns job state. When questions already exist no job is created;
// the latest historical job is reported instead.
func (s *Service) Enqueue(ctx context.Context, pub *models.Publisher, rawURL string) (*models.EnqueueResult, error) {
	blogURL, err := s.admitURL(pub, rawURL)
	if err != nil {
		return nil, err
	}

	questions, err := s.questions.GetQuestionsByBlogURL(ctx, blogURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions: %w", err)
	}
	if len(questions) > 0 {
		latest, err := s.queue.GetLatestJobByURL(ctx, blogURL)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			return nil, fmt.Errorf("questions already stored for %s: %w", blogURL, models.ErrDuplicate)
		}
		return &models.EnqueueResult{JobID: latest.ID, Status: latest.Status, Created: false}, nil
	}

	if active, err := s.queue.GetActiveJobByURL(ctx, blogURL); err != nil {
		return nil, err
	} else if active != nil {
		return &models.EnqueueResult{JobID: active.ID, Status: active.Status, Created: false}, nil
	}

	job, created, err := s.startJob(ctx, pub, blogURL)
	if err != nil {
		return nil, err
	}
	return &models.EnqueueResult{JobID: job.ID, Status: job.Status, Created: created}, nil
}

// GetQuestionsByURL returns the stored questions for a URL in insertion
// order, shuffled when randomize is set.
func (s *Service) GetQuestionsByURL(ctx context.Context, pub *models.Publisher, rawURL string, randomize bool) ([]models.QuestionView, *models.BlogInfo, error) {
	blogURL, err := common.NormalizeURL(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid url: %w", err)
	}
	if err := s.checkDomain(pub, blogURL); err != nil {
		return nil, nil, err
	}

	questions, err := s.questions.GetQuestionsByBlogURL(ctx, blogURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, nil, fmt.Errorf("no questions for %s: %w", blogURL, models.ErrNotFound)
	}
	return toViews(questions, randomize), s.blogInfo(ctx, blogURL), nil
}

// GetQuestion returns one question by id. Admin surface.
func (s *Service) GetQuestion(ctx context.Context, questionID string) (*models.Question, error) {
	return s.questions.GetQuestion(ctx, questionID)
}

// DeleteBlog removes the blog's content, summary, and questions. Job
// history is kept. Returns the number of deleted questions.
func (s *Service) DeleteBlog(ctx context.Context, blogID string) (int, error) {
	content, err := s.content.GetContentByID(ctx, blogID)
	if err != nil {
		return 0, err
	}
	blogURL := content.URL

	deleted, err := s.questions.DeleteQuestionsByBlogURL(ctx, blogURL)
	if err != nil {
		return 0, fmt.Errorf("failed to delete questions: %w", err)
	}
	if err := s.summaries.DeleteSummary(ctx, blogURL); err != nil && !errors.Is(err, models.ErrNotFound) {
		return deleted, fmt.Errorf("failed to delete summary: %w", err)
	}
	if err := s.content.DeleteContent(ctx, blogURL); err != nil && !errors.Is(err, models.ErrNotFound) {
		return deleted, fmt.Errorf("failed to delete content: %w", err)
	}

	s.logger.Info().
		Str("blog_id", blogID).
		Str("blog_url", blogURL).
		Int("questions_deleted", deleted).
		Msg("Blog deleted")
	return deleted, nil
}

// CancelJob cancels a queued job and hands its quota slot back.
func (s *Service) CancelJob(ctx context.Context, jobID string) error {
	job, err := s.queue.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if err := s.queue.Cancel(ctx, jobID); err != nil {
		return err
	}
	if err := s.registry.ReleaseBlogSlot(ctx, job.PublisherID, false); err != nil {
		s.logger.Warn().Err(err).
			Str("job_id", jobID).
			Str("publisher_id", job.PublisherID).
			Msg("Failed to release slot after cancel")
	}
	return nil
}

// ReprocessJob requeues a terminal job. A slot is re-reserved first so
// a reprocess cannot sneak past the publisher's quota.
func (s *Service) ReprocessJob(ctx context.Context, jobID string) (*models.ProcessingJob, error) {
	job, err := s.queue.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.IsTerminal() {
		return nil, fmt.Errorf("job %s is %s: %w", jobID, job.Status, models.ErrNotRequeueable)
	}

	if err := s.registry.ReserveBlogSlot(ctx, job.PublisherID); err != nil {
		return nil, err
	}
	requeued, err := s.queue.Requeue(ctx, jobID)
	if err != nil {
		if releaseErr := s.registry.ReleaseBlogSlot(ctx, job.PublisherID, false); releaseErr != nil {
			s.logger.Warn().Err(releaseErr).Str("job_id", jobID).Msg("Failed to release slot after requeue failure")
		}
		return nil, err
	}

	s.logger.Info().
		Str("job_id", jobID).
		Str("blog_url", requeued.BlogURL).
		Int("reprocessed_count", requeued.ReprocessedCount).
		Msg("Job requeued for reprocessing")
	return requeued, nil
}

// admitURL normalizes the URL and applies the publisher's domain and
// whitelist policy. Every write path goes through here.
func (s *Service) admitURL(pub *models.Publisher, rawURL string) (string, error) {
	blogURL, err := common.NormalizeURL(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if err := s.checkDomain(pub, blogURL); err != nil {
		return "", err
	}
	if err := s.registry.CheckWhitelist(blogURL, pub); err != nil {
		return "", err
	}
	return blogURL, nil
}

// checkDomain verifies the URL belongs to the publisher, tolerating
// subdomains of the registered domain.
func (s *Service) checkDomain(pub *models.Publisher, blogURL string) error {
	domain, err := common.DomainOf(blogURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if !common.DomainMatchesSuffix(domain, pub.Domain) {
		return fmt.Errorf("url domain %s does not belong to publisher %s: %w", domain, pub.Domain, models.ErrDomainMismatch)
	}
	return nil
}

// jobStateFor maps existing job state to a widget response: an active
// job reports processing, a terminally failed latest job reports
// failed. Skipped and cancelled jobs fall through so the next request
// starts a fresh cycle.
func (s *Service) jobStateFor(ctx context.Context, blogURL string) (*models.CheckAndLoadResult, error) {
	active, err := s.queue.GetActiveJobByURL(ctx, blogURL)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return &models.CheckAndLoadResult{Status: models.LoadStatusProcessing, JobID: &active.ID}, nil
	}

	latest, err := s.queue.GetLatestJobByURL(ctx, blogURL)
	if err != nil {
		return nil, err
	}
	if latest != nil && latest.Status == models.JobStatusFailed {
		return &models.CheckAndLoadResult{Status: models.LoadStatusFailed, JobID: &latest.ID}, nil
	}
	return nil, nil
}

// startJob enforces the daily limit, reserves a quota slot, and
// enqueues. Losing the create race releases the slot again: the winner
// already holds one for this URL.
func (s *Service) startJob(ctx context.Context, pub *models.Publisher, blogURL string) (*models.ProcessingJob, bool, error) {
	if limit := pub.Config.DailyBlogLimit; limit != nil {
		count, err := s.queue.CountCompletedSince(ctx, pub.ID, startOfUTCDay(time.Now()))
		if err != nil {
			return nil, false, fmt.Errorf("failed to check daily limit: %w", err)
		}
		if count >= *limit {
			return nil, false, fmt.Errorf("publisher %s reached %d blogs today: %w", pub.ID, *limit, models.ErrDailyLimitExceeded)
		}
	}

	if err := s.registry.ReserveBlogSlot(ctx, pub.ID); err != nil {
		return nil, false, err
	}

	job, created, err := s.queue.CreateJob(ctx, blogURL, pub.ID, pub.Config)
	if err != nil {
		if releaseErr := s.registry.ReleaseBlogSlot(ctx, pub.ID, false); releaseErr != nil {
			s.logger.Warn().Err(releaseErr).Str("blog_url", blogURL).Msg("Failed to release slot after enqueue failure")
		}
		return nil, false, err
	}
	if !created {
		// The concurrent winner holds the slot for this URL.
		if releaseErr := s.registry.ReleaseBlogSlot(ctx, pub.ID, false); releaseErr != nil {
			s.logger.Warn().Err(releaseErr).Str("blog_url", blogURL).Msg("Failed to release slot after losing create race")
		}
		return job, false, nil
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("blog_url", blogURL).
		Str("publisher_id", pub.ID).
		Msg("Processing job enqueued")
	return job, true, nil
}

// blogInfo loads the public content slice for a response. Questions can
// momentarily outlive their content record during deletion, so a miss
// is tolerated.
func (s *Service) blogInfo(ctx context.Context, blogURL string) *models.BlogInfo {
	content, err := s.content.GetContent(ctx, blogURL)
	if err != nil {
		s.logger.Warn().Err(err).Str("blog_url", blogURL).Msg("No content record for ready blog")
		return nil
	}
	return &models.BlogInfo{
		BlogID:        content.ID,
		URL:           content.URL,
		Title:         content.Title,
		Author:        content.Author,
		PublishedDate: content.PublishedDate,
		WordCount:     content.WordCount,
	}
}

func toViews(questions []*models.Question, randomize bool) []models.QuestionView {
	views := make([]models.QuestionView, len(questions))
	for i, q := range questions {
		views[i] = q.ToView()
	}
	if randomize {
		rand.Shuffle(len(views), func(i, j int) {
			views[i], views[j] = views[j], views[i]
		})
	}
	return views
}

func startOfUTCDay(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour)
}
