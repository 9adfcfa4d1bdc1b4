// -----------------------------------------------------------------------
// Processing pipeline - crawl, threshold gate, LLM fan-out, persist
// -----------------------------------------------------------------------

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/respondeo/internal/common"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/models"
	"github.com/ternarybob/respondeo/internal/services/llm"
)

const (
	// skipReasonThreshold is recorded as the job result when the
	// trigger count has not crossed the publisher threshold yet.
	skipReasonThreshold = "threshold_not_met"

	// embeddingHeadChars bounds how much extracted text goes into the
	// content embedding. Keeps the call under the embedding model's
	// input limit; the head carries the topical signal anyway.
	embeddingHeadChars = 8000

	// settleTimeout bounds settlement writes when the job context is
	// already dead (shutdown mid-job).
	settleTimeout = 5 * time.Second

	// maxQuestionsPerBlog is the absolute ceiling regardless of config.
	maxQuestionsPerBlog = 20
)

// Orchestrator drives one claimed job end to end: content acquisition,
// the threshold gate, the LLM fan-out, persistence, and publisher
// bookkeeping. It settles the job itself (Complete, Skip, or a recorded
// Fail plus the matching slot release) and returns an error only when
// settlement was impossible, leaving the worker's backstop Fail to take
// over.
type Orchestrator struct {
	queue     interfaces.QueueManager
	registry  interfaces.PublisherRegistry
	crawler   interfaces.CrawlerService
	llm       interfaces.LLMService
	content   interfaces.ContentStorage
	summaries interfaces.SummaryStorage
	questions interfaces.QuestionStorage
	defaults  common.PublisherDefault
	minWords  int
	logger    arbor.ILogger
}

// NewOrchestrator creates the job processor the worker pool runs.
// minWords is the same floor the crawler enforces; cached content below
// it is treated as absent and re-crawled.
func NewOrchestrator(
	queueMgr interfaces.QueueManager,
	registry interfaces.PublisherRegistry,
	crawlerSvc interfaces.CrawlerService,
	llmSvc interfaces.LLMService,
	contentStore interfaces.ContentStorage,
	summaryStore interfaces.SummaryStorage,
	questionStore interfaces.QuestionStorage,
	defaults common.PublisherDefault,
	minWords int,
	logger arbor.ILogger,
) interfaces.JobProcessor {
	if minWords <= 0 {
		minWords = 50
	}
	return &Orchestrator{
		queue:     queueMgr,
		registry:  registry,
		crawler:   crawlerSvc,
		llm:       llmSvc,
		content:   contentStore,
		summaries: summaryStore,
		questions: questionStore,
		defaults:  defaults,
		minWords:  minWords,
		logger:    logger,
	}
}

// outcome is what one pipeline run produced before settlement.
type outcome struct {
	skipped   bool
	reason    string
	result    string
	questions int
}

// generated bundles the LLM fan-out results.
type generated struct {
	summary      llm.SummaryResponse
	items        []llm.QuestionItem
	contentVec   []float32
	questionVecs [][]float32
}

// Process implements interfaces.JobProcessor.
func (o *Orchestrator) Process(ctx context.Context, job *models.ProcessingJob, workerID string) error {
	start := time.Now()
	slot := newReservation(o.registry, job.PublisherID, o.logger)

	out, err := o.runSafe(ctx, job)

	// Settlement must land even when the job context died mid-run
	// (shutdown, lease cancel); fall back to a short deadline.
	settleCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		settleCtx, cancel = context.WithTimeout(context.Background(), settleTimeout)
		defer cancel()
	}

	if err != nil {
		return o.settleFailure(settleCtx, job, workerID, err, slot)
	}
	if out.skipped {
		slot.release(settleCtx, false)
		if skipErr := o.queue.Skip(settleCtx, job.ID, out.reason); skipErr != nil {
			return fmt.Errorf("failed to settle skipped job: %w", skipErr)
		}
		o.logger.Info().
			Str("job_id", job.ID).
			Str("blog_url", job.BlogURL).
			Str("reason", out.reason).
			Msg("Pipeline skipped job")
		return nil
	}

	slot.release(settleCtx, true)
	if job.PublisherID != "" && out.questions > 0 {
		if countErr := o.registry.AddQuestionsGenerated(settleCtx, job.PublisherID, out.questions); countErr != nil {
			o.logger.Warn().Err(countErr).
				Str("publisher_id", job.PublisherID).
				Msg("Failed to record generated questions")
		}
	}
	if completeErr := o.queue.Complete(settleCtx, job.ID, out.result); completeErr != nil {
		return fmt.Errorf("failed to settle completed job: %w", completeErr)
	}

	o.logger.Info().
		Str("job_id", job.ID).
		Str("blog_url", job.BlogURL).
		Int("questions", out.questions).
		Str("duration", time.Since(start).String()).
		Msg("Pipeline completed job")
	return nil
}

// runSafe executes the pipeline with panic isolation. A panic becomes
// an unknown-type failure instead of propagating to the worker.
func (o *Orchestrator) runSafe(ctx context.Context, job *models.ProcessingJob) (out *outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Str("job_id", job.ID).
				Str("stack", common.GetStackTrace()).
				Msg(fmt.Sprintf("Pipeline panicked: %v", r))
			out = nil
			err = models.NewJobError(models.ErrorTypeUnknown, fmt.Errorf("pipeline panic: %v", r))
		}
	}()
	return o.run(ctx, job)
}

// run is the pipeline proper. Every returned error carries a stage
// classification.
func (o *Orchestrator) run(ctx context.Context, job *models.ProcessingJob) (*outcome, error) {
	cfg := o.effectiveConfig(ctx, job)

	content, err := o.acquireContent(ctx, job.BlogURL)
	if err != nil {
		return nil, err
	}

	// The counter moves on every run, including runs that end below the
	// threshold, so redundant interest keeps accumulating as signal.
	triggered, err := o.content.IncrementTriggered(ctx, job.BlogURL)
	if err != nil {
		return nil, models.NewJobError(models.ErrorTypeDB, fmt.Errorf("trigger increment: %w", err))
	}
	if triggered <= cfg.ThresholdBeforeProcessingBlog {
		o.logger.Debug().
			Str("blog_url", job.BlogURL).
			Int("triggered", triggered).
			Int("threshold", cfg.ThresholdBeforeProcessingBlog).
			Msg("Trigger threshold not met")
		return &outcome{skipped: true, reason: skipReasonThreshold}, nil
	}

	gen, err := o.generate(ctx, cfg, content)
	if err != nil {
		return nil, err
	}

	saved, err := o.persist(ctx, content, gen)
	if err != nil {
		return nil, err
	}

	return &outcome{
		result:    fmt.Sprintf("%d questions generated", saved),
		questions: saved,
	}, nil
}

// effectiveConfig resolves the config this run uses. The enqueue-time
// snapshot wins; jobs carrying none (publisher removed, fixture jobs)
// fall back to the domain's live config or the logged defaults.
func (o *Orchestrator) effectiveConfig(ctx context.Context, job *models.ProcessingJob) models.PublisherConfig {
	cfg := job.Config
	if cfg.QuestionsPerBlog <= 0 {
		domain, err := common.DomainOf(job.BlogURL)
		if err != nil {
			o.logger.Warn().Err(err).Str("blog_url", job.BlogURL).Msg("Cannot resolve domain for config lookup")
		}
		cfg, _, _ = o.registry.ConfigForDomain(ctx, domain)
	}
	if cfg.QuestionsPerBlog <= 0 {
		cfg.QuestionsPerBlog = o.defaults.QuestionsPerBlog
	}
	if cfg.QuestionsPerBlog <= 0 {
		cfg.QuestionsPerBlog = 5
	}
	if cfg.QuestionsPerBlog > maxQuestionsPerBlog {
		cfg.QuestionsPerBlog = maxQuestionsPerBlog
	}
	return cfg
}

// acquireContent returns usable cached content or crawls fresh.
// Content that exists but fails the quality floor is replaced, which
// resets its trigger counter along with it.
func (o *Orchestrator) acquireContent(ctx context.Context, blogURL string) (*models.BlogContent, error) {
	cached, err := o.content.GetContent(ctx, blogURL)
	if err == nil {
		if cached.ExtractedText != "" && cached.WordCount >= o.minWords {
			o.logger.Debug().
				Str("blog_url", blogURL).
				Int("word_count", cached.WordCount).
				Msg("Using cached content")
			return cached, nil
		}
		if delErr := o.content.DeleteContent(ctx, blogURL); delErr != nil {
			return nil, models.NewJobError(models.ErrorTypeDB, fmt.Errorf("replace unusable content: %w", delErr))
		}
		o.logger.Warn().
			Str("blog_url", blogURL).
			Int("word_count", cached.WordCount).
			Msg("Cached content below quality floor, re-crawling")
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, models.NewJobError(models.ErrorTypeDB, fmt.Errorf("content lookup: %w", err))
	}

	extracted, err := o.crawler.Crawl(ctx, blogURL)
	if err != nil {
		return nil, models.NewJobError(models.ErrorTypeCrawl, err)
	}

	fresh := &models.BlogContent{
		URL:           blogURL,
		ID:            common.NewBlogID(),
		Title:         extracted.Title,
		Author:        extracted.Author,
		PublishedDate: extracted.PublishedDate,
		WordCount:     extracted.WordCount,
		ExtractedText: extracted.Markdown,
		CreatedAt:     time.Now(),
	}
	if err := o.content.SaveContent(ctx, fresh); err != nil {
		if errors.Is(err, models.ErrDuplicate) {
			// A concurrent run for the same URL persisted first; its
			// copy is as good as ours.
			if existing, getErr := o.content.GetContent(ctx, blogURL); getErr == nil {
				return existing, nil
			}
		}
		return nil, models.NewJobError(models.ErrorTypeDB, fmt.Errorf("save content: %w", err))
	}

	o.logger.Info().
		Str("blog_url", blogURL).
		Str("blog_id", fresh.ID).
		Int("word_count", fresh.WordCount).
		Msg("Content crawled and cached")
	return fresh, nil
}

// generate runs the three independent LLM calls concurrently: summary
// JSON, questions JSON, and the content embedding. Question embeddings
// ride on generated text, so they follow once the fan-out has joined.
func (o *Orchestrator) generate(ctx context.Context, cfg models.PublisherConfig, content *models.BlogContent) (*generated, error) {
	var gen generated

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		system, user := llm.BuildSummaryPrompt(content.Title, content.ExtractedText, cfg.CustomSummaryPrompt)
		req := interfaces.CompletionRequest{
			Model:        o.summaryModel(cfg),
			SystemPrompt: system,
			UserPrompt:   user,
			MaxTokens:    o.summaryMaxTokens(cfg),
			Temperature:  o.temperature(cfg.SummaryTemperature),
			UseGrounding: cfg.UseGrounding,
		}
		if err := o.llm.GenerateJSON(gctx, req, &gen.summary); err != nil {
			return fmt.Errorf("summary generation: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		n := cfg.QuestionsPerBlog
		system, user := llm.BuildQuestionsPrompt(content.Title, content.ExtractedText, n, cfg.CustomQuestionPrompt)
		req := interfaces.CompletionRequest{
			Model:        o.questionsModel(cfg),
			SystemPrompt: system,
			UserPrompt:   user,
			MaxTokens:    o.questionsMaxTokens(cfg),
			Temperature:  o.temperature(cfg.QuestionTemperature),
			UseGrounding: cfg.UseGrounding,
		}
		var resp llm.QuestionsResponse
		if err := o.llm.GenerateJSON(gctx, req, &resp); err != nil {
			return fmt.Errorf("question generation: %w", err)
		}
		resp.Clamp(n)
		if len(resp.Questions) == 0 {
			return fmt.Errorf("model returned no questions")
		}
		gen.items = resp.Questions
		return nil
	})

	g.Go(func() error {
		vecs, err := o.llm.Embed(gctx, []string{embeddingInput(content)})
		if err != nil {
			return fmt.Errorf("content embedding: %w", err)
		}
		gen.contentVec = vecs[0]
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, models.NewJobError(models.ErrorTypeLLM, err)
	}

	texts := make([]string, len(gen.items))
	for i, item := range gen.items {
		texts[i] = item.Question + "\n" + item.Answer
	}
	vecs, err := o.llm.Embed(ctx, texts)
	if err != nil {
		return nil, models.NewJobError(models.ErrorTypeLLM, fmt.Errorf("question embeddings: %w", err))
	}
	gen.questionVecs = vecs

	return &gen, nil
}

// persist writes the summary and the question set. Both writes are
// idempotent per URL, so a retried job converges to one clean set.
func (o *Orchestrator) persist(ctx context.Context, content *models.BlogContent, gen *generated) (int, error) {
	now := time.Now()

	domain, err := common.DomainOf(content.URL)
	if err != nil {
		return 0, models.NewJobError(models.ErrorTypeValidation, fmt.Errorf("summary domain: %w", err))
	}

	summary := &models.Summary{
		BlogURL:   content.URL,
		Domain:    domain,
		Summary:   gen.summary.Summary,
		KeyPoints: gen.summary.KeyPoints,
		Embedding: gen.contentVec,
		CreatedAt: now,
	}
	if err := o.summaries.SaveSummary(ctx, summary); err != nil {
		return 0, models.NewJobError(models.ErrorTypeDB, fmt.Errorf("save summary: %w", err))
	}

	questions := make([]*models.Question, len(gen.items))
	for i, item := range gen.items {
		var embedding []float32
		if i < len(gen.questionVecs) {
			embedding = gen.questionVecs[i]
		}
		questions[i] = &models.Question{
			ID:        common.NewQuestionID(),
			BlogURL:   content.URL,
			BlogID:    content.ID,
			Question:  item.Question,
			Answer:    item.Answer,
			Icon:      item.Icon,
			Embedding: embedding,
			// Staggered so "insertion order" survives the CreatedAt sort.
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		}
	}
	if err := o.questions.SaveQuestions(ctx, content.URL, questions); err != nil {
		return 0, models.NewJobError(models.ErrorTypeDB, fmt.Errorf("save questions: %w", err))
	}

	return len(questions), nil
}

// settleFailure records the failure and releases the quota slot when
// the failure dead-letters the job. Transient failures keep the slot:
// the requeued job still owns it.
func (o *Orchestrator) settleFailure(ctx context.Context, job *models.ProcessingJob, workerID string, pipelineErr error, slot *reservation) error {
	errorType := models.ClassifyJobError(pipelineErr)

	terminal, failErr := o.queue.Fail(ctx, job.ID, errorType, pipelineErr.Error())
	if failErr != nil {
		o.logger.Error().Err(failErr).
			Str("job_id", job.ID).
			Str("error_type", string(errorType)).
			Msg("Failed to record pipeline failure")
		return pipelineErr
	}
	if terminal {
		slot.release(ctx, false)
	}

	o.logger.Warn().
		Str("job_id", job.ID).
		Str("worker_id", workerID).
		Str("blog_url", job.BlogURL).
		Str("error_type", string(errorType)).
		Bool("terminal", terminal).
		Str("error", pipelineErr.Error()).
		Msg("Pipeline attempt failed")
	return nil
}

func (o *Orchestrator) summaryModel(cfg models.PublisherConfig) string {
	if cfg.SummaryModel != "" {
		return cfg.SummaryModel
	}
	if o.defaults.SummaryModel != "" {
		return o.defaults.SummaryModel
	}
	return "gpt-4o-mini"
}

func (o *Orchestrator) questionsModel(cfg models.PublisherConfig) string {
	if cfg.QuestionsModel != "" {
		return cfg.QuestionsModel
	}
	if o.defaults.QuestionsModel != "" {
		return o.defaults.QuestionsModel
	}
	return "gpt-4o-mini"
}

func (o *Orchestrator) summaryMaxTokens(cfg models.PublisherConfig) int {
	if cfg.SummaryMaxTokens > 0 {
		return cfg.SummaryMaxTokens
	}
	return o.defaults.SummaryMaxTokens
}

func (o *Orchestrator) questionsMaxTokens(cfg models.PublisherConfig) int {
	if cfg.QuestionsMaxTokens > 0 {
		return cfg.QuestionsMaxTokens
	}
	return o.defaults.QuestionMaxTokens
}

func (o *Orchestrator) temperature(configured float64) float64 {
	if configured != 0 {
		return configured
	}
	return float64(o.defaults.Temperature)
}

// embeddingInput is the text the content embedding is computed from:
// the title plus the head of the extracted text.
func embeddingInput(content *models.BlogContent) string {
	text := content.ExtractedText
	if len(text) > embeddingHeadChars {
		text = text[:embeddingHeadChars]
	}
	if content.Title == "" {
		return text
	}
	return content.Title + "\n\n" + text
}
