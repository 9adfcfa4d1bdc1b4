package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/respondeo/internal/common"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/models"
	"github.com/ternarybob/respondeo/internal/queue"
	"github.com/ternarybob/respondeo/internal/services/llm"
	badgerstore "github.com/ternarybob/respondeo/internal/storage/badger"
)

const testEmbedDims = 8

// fakeCrawler returns canned extractions and counts fetches.
type fakeCrawler struct {
	mu      sync.Mutex
	calls   int
	err     error
	content *models.ExtractedContent
}

func (f *fakeCrawler) Crawl(_ context.Context, url string) (*models.ExtractedContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.content != nil {
		c := *f.content
		c.URL = url
		return &c, nil
	}
	return &models.ExtractedContent{
		URL:       url,
		Title:     "Crawled Post",
		Author:    "Author",
		Markdown:  "crawled body text",
		WordCount: 300,
	}, nil
}

func (f *fakeCrawler) Close() error { return nil }

func (f *fakeCrawler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeLLM serves canned generations. questionsToReturn controls how
// many questions the "model" over- or under-delivers.
type fakeLLM struct {
	mu                sync.Mutex
	jsonErr           error
	embedErr          error
	panicOnGenerate   bool
	questionsToReturn int
	embedCalls        [][]string
}

func (f *fakeLLM) Complete(_ context.Context, req interfaces.CompletionRequest) (*interfaces.CompletionResult, error) {
	return &interfaces.CompletionResult{Text: "ok", Model: req.Model, Provider: "fake"}, nil
}

func (f *fakeLLM) GenerateJSON(_ context.Context, req interfaces.CompletionRequest, out interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnGenerate {
		panic("model exploded")
	}
	if f.jsonErr != nil {
		return f.jsonErr
	}
	switch v := out.(type) {
	case *llm.SummaryResponse:
		*v = llm.SummaryResponse{
			Title:     "Generated Title",
			Summary:   "A generated summary.",
			KeyPoints: []string{"first", "second"},
		}
	case *llm.QuestionsResponse:
		n := f.questionsToReturn
		if n == 0 {
			n = 3
		}
		items := make([]llm.QuestionItem, n)
		for i := range items {
			items[i] = llm.QuestionItem{
				Question: fmt.Sprintf("Question %d?", i),
				Answer:   fmt.Sprintf("Answer %d.", i),
				Icon:     "💡",
			}
		}
		*v = llm.QuestionsResponse{Questions: items}
	default:
		return fmt.Errorf("unexpected output type %T", out)
	}
	return nil
}

func (f *fakeLLM) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	f.embedCalls = append(f.embedCalls, append([]string(nil), texts...))
	vecs := make([][]float32, len(texts))
	for i := range vecs {
		vec := make([]float32, testEmbedDims)
		vec[0] = float32(i + 1)
		vecs[i] = vec
	}
	return vecs, nil
}

func (f *fakeLLM) EmbeddingDimensions() int      { return testEmbedDims }
func (f *fakeLLM) SupportsGrounding(string) bool { return false }
func (f *fakeLLM) Close() error                  { return nil }

func (f *fakeLLM) embedCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.embedCalls)
}

// fakeRegistry records quota traffic for assertions.
type fakeRegistry struct {
	mu             sync.Mutex
	releases       []bool
	questionsAdded int
	domainConfig   models.PublisherConfig
	releaseErr     error
}

func (f *fakeRegistry) ResolveByDomain(context.Context, string, bool) (*models.Publisher, error) {
	return nil, models.ErrNotFound
}

func (f *fakeRegistry) ResolveByAPIKey(context.Context, string) (*models.Publisher, error) {
	return nil, models.ErrNotFound
}

func (f *fakeRegistry) ConfigForDomain(context.Context, string) (models.PublisherConfig, *models.Publisher, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg := f.domainConfig
	if cfg.QuestionsPerBlog == 0 {
		cfg.QuestionsPerBlog = 5
	}
	return cfg, nil, false
}

func (f *fakeRegistry) CheckWhitelist(string, *models.Publisher) error { return nil }

func (f *fakeRegistry) ReserveBlogSlot(context.Context, string) error { return nil }

func (f *fakeRegistry) ReleaseBlogSlot(_ context.Context, _ string, processed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.releaseErr != nil {
		return f.releaseErr
	}
	f.releases = append(f.releases, processed)
	return nil
}

func (f *fakeRegistry) AddQuestionsGenerated(_ context.Context, _ string, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.questionsAdded += n
	return nil
}

func (f *fakeRegistry) CreatePublisher(context.Context, string, string, string, models.PublisherConfig, models.WidgetConfig) (*models.Publisher, string, error) {
	return nil, "", fmt.Errorf("not implemented")
}

func (f *fakeRegistry) TouchLastActive(context.Context, string) {}

func (f *fakeRegistry) releaseFlags() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.releases...)
}

func (f *fakeRegistry) addedQuestions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.questionsAdded
}

type pipelineHarness struct {
	processor interfaces.JobProcessor
	queue     interfaces.QueueManager
	content   interfaces.ContentStorage
	summaries interfaces.SummaryStorage
	questions interfaces.QuestionStorage
	registry  *fakeRegistry
	crawler   *fakeCrawler
	llm       *fakeLLM
}

func setupPipeline(t *testing.T, maxRetries int) *pipelineHarness {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := &pipelineHarness{
		queue:     queue.NewManager(db.Store(), nil, logger, maxRetries),
		content:   badgerstore.NewContentStorage(db, logger),
		summaries: badgerstore.NewSummaryStorage(db, logger),
		questions: badgerstore.NewQuestionStorage(db, logger),
		registry:  &fakeRegistry{},
		crawler:   &fakeCrawler{},
		llm:       &fakeLLM{},
	}
	h.processor = NewOrchestrator(
		h.queue, h.registry, h.crawler, h.llm,
		h.content, h.summaries, h.questions,
		common.PublisherDefault{QuestionsPerBlog: 5, SummaryModel: "gpt-4o-mini", QuestionsModel: "gpt-4o-mini", Temperature: 0.7},
		50, logger,
	)
	return h
}

// runJob enqueues one job for the URL, claims it, and runs it through
// the processor, returning the settled job record.
func runJob(t *testing.T, h *pipelineHarness, blogURL string, cfg models.PublisherConfig) *models.ProcessingJob {
	t.Helper()
	ctx := context.Background()

	job, created, err := h.queue.CreateJob(ctx, blogURL, "pub-1", cfg)
	require.NoError(t, err)
	require.True(t, created)

	claimed, err := h.queue.ClaimNext(ctx, "test-worker")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, job.ID, claimed.ID)

	require.NoError(t, h.processor.Process(ctx, claimed, "test-worker"))

	settled, err := h.queue.GetJob(ctx, job.ID)
	require.NoError(t, err)
	return settled
}

func TestProcessHappyPath(t *testing.T) {
	h := setupPipeline(t, 3)
	ctx := context.Background()
	blogURL := "https://example.com/post"
	cfg := models.PublisherConfig{QuestionsPerBlog: 3}

	job := runJob(t, h, blogURL, cfg)

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, "3 questions generated", job.Result)

	content, err := h.content.GetContent(ctx, blogURL)
	require.NoError(t, err)
	assert.Equal(t, "Crawled Post", content.Title)
	assert.Equal(t, 1, content.TriggeredCount)

	summary, err := h.summaries.GetSummary(ctx, blogURL)
	require.NoError(t, err)
	assert.Equal(t, "A generated summary.", summary.Summary)
	assert.Equal(t, "example.com", summary.Domain)
	assert.Len(t, summary.Embedding, testEmbedDims)

	questions, err := h.questions.GetQuestionsByBlogURL(ctx, blogURL)
	require.NoError(t, err)
	require.Len(t, questions, 3)
	for i, q := range questions {
		assert.Equal(t, fmt.Sprintf("Question %d?", i), q.Question)
		assert.Equal(t, content.ID, q.BlogID)
		assert.Len(t, q.Embedding, testEmbedDims)
		assert.Zero(t, q.ClickCount)
	}

	assert.Equal(t, []bool{true}, h.registry.releaseFlags())
	assert.Equal(t, 3, h.registry.addedQuestions())
	// One embed call for the content, one batched call for questions.
	assert.Equal(t, 2, h.llm.embedCallCount())
}

func TestProcessThresholdGate(t *testing.T) {
	h := setupPipeline(t, 3)
	ctx := context.Background()
	blogURL := "https://example.com/gated"
	cfg := models.PublisherConfig{QuestionsPerBlog: 3, ThresholdBeforeProcessingBlog: 2}

	first := runJob(t, h, blogURL, cfg)
	assert.Equal(t, models.JobStatusSkipped, first.Status)
	assert.Equal(t, skipReasonThreshold, first.Result)

	second := runJob(t, h, blogURL, cfg)
	assert.Equal(t, models.JobStatusSkipped, second.Status)

	third := runJob(t, h, blogURL, cfg)
	assert.Equal(t, models.JobStatusCompleted, third.Status)

	content, err := h.content.GetContent(ctx, blogURL)
	require.NoError(t, err)
	assert.Equal(t, 3, content.TriggeredCount)

	// Content was crawled once; the skipped runs cached it for the rest.
	assert.Equal(t, 1, h.crawler.callCount())
	assert.Equal(t, []bool{false, false, true}, h.registry.releaseFlags())

	stats, err := h.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Skipped)
	assert.Equal(t, 1, stats.Completed)
}

func TestProcessUsesCachedContent(t *testing.T) {
	h := setupPipeline(t, 3)
	ctx := context.Background()
	blogURL := "https://example.com/cached"

	require.NoError(t, h.content.SaveContent(ctx, &models.BlogContent{
		URL:           blogURL,
		ID:            common.NewBlogID(),
		Title:         "Already Cached",
		WordCount:     200,
		ExtractedText: "previously extracted text",
		CreatedAt:     time.Now(),
	}))

	job := runJob(t, h, blogURL, models.PublisherConfig{QuestionsPerBlog: 2})

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Zero(t, h.crawler.callCount())

	content, err := h.content.GetContent(ctx, blogURL)
	require.NoError(t, err)
	assert.Equal(t, "Already Cached", content.Title)
}

func TestProcessReplacesThinCachedContent(t *testing.T) {
	h := setupPipeline(t, 3)
	ctx := context.Background()
	blogURL := "https://example.com/thin"

	require.NoError(t, h.content.SaveContent(ctx, &models.BlogContent{
		URL:            blogURL,
		ID:             common.NewBlogID(),
		Title:          "Thin",
		WordCount:      10,
		ExtractedText:  "too short",
		TriggeredCount: 7,
		CreatedAt:      time.Now(),
	}))

	job := runJob(t, h, blogURL, models.PublisherConfig{QuestionsPerBlog: 2})

	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, h.crawler.callCount())

	content, err := h.content.GetContent(ctx, blogURL)
	require.NoError(t, err)
	assert.Equal(t, "Crawled Post", content.Title)
	// Replacement starts a fresh trigger history.
	assert.Equal(t, 1, content.TriggeredCount)
}

func TestProcessCrawlFailureRequeues(t *testing.T) {
	h := setupPipeline(t, 3)
	h.crawler.err = fmt.Errorf("connection refused")

	job := runJob(t, h, "https://example.com/unreachable", models.PublisherConfig{QuestionsPerBlog: 2})

	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, 1, job.FailureCount)
	assert.Equal(t, models.ErrorTypeCrawl, job.ErrorType)
	assert.Contains(t, job.LastError, "connection refused")
	// Transient failure keeps the slot with the requeued job.
	assert.Empty(t, h.registry.releaseFlags())
}

func TestProcessTerminalFailureReleasesSlot(t *testing.T) {
	h := setupPipeline(t, 1)
	h.crawler.err = fmt.Errorf("permanent outage")

	job := runJob(t, h, "https://example.com/dead", models.PublisherConfig{QuestionsPerBlog: 2})

	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.True(t, job.IsTerminal())
	assert.Equal(t, models.ErrorTypeCrawl, job.ErrorType)
	assert.Equal(t, []bool{false}, h.registry.releaseFlags())
}

func TestProcessLLMFailureClassification(t *testing.T) {
	h := setupPipeline(t, 3)
	h.llm.jsonErr = fmt.Errorf("model overloaded")

	job := runJob(t, h, "https://example.com/llm-down", models.PublisherConfig{QuestionsPerBlog: 2})

	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, models.ErrorTypeLLM, job.ErrorType)
}

// failingSummaryStore wraps the real store and rejects writes.
type failingSummaryStore struct {
	interfaces.SummaryStorage
}

func (f *failingSummaryStore) SaveSummary(context.Context, *models.Summary) error {
	return fmt.Errorf("disk full")
}

func TestProcessDBFailureClassification(t *testing.T) {
	h := setupPipeline(t, 3)
	logger := arbor.NewLogger()
	h.processor = NewOrchestrator(
		h.queue, h.registry, h.crawler, h.llm,
		h.content, &failingSummaryStore{h.summaries}, h.questions,
		common.PublisherDefault{QuestionsPerBlog: 5},
		50, logger,
	)

	job := runJob(t, h, "https://example.com/db-down", models.PublisherConfig{QuestionsPerBlog: 2})

	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, models.ErrorTypeDB, job.ErrorType)
	assert.Contains(t, job.LastError, "disk full")
}

func TestProcessPanicIsolation(t *testing.T) {
	h := setupPipeline(t, 3)
	h.llm.panicOnGenerate = true

	// Process must absorb the panic and settle the failure itself.
	job := runJob(t, h, "https://example.com/panic", models.PublisherConfig{QuestionsPerBlog: 2})

	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, models.ErrorTypeUnknown, job.ErrorType)
	assert.Contains(t, job.LastError, "panic")
}

func TestProcessClampsOverdelivery(t *testing.T) {
	h := setupPipeline(t, 3)
	h.llm.questionsToReturn = 9

	job := runJob(t, h, "https://example.com/chatty", models.PublisherConfig{QuestionsPerBlog: 4})
	assert.Equal(t, models.JobStatusCompleted, job.Status)

	questions, err := h.questions.GetQuestionsByBlogURL(context.Background(), "https://example.com/chatty")
	require.NoError(t, err)
	assert.Len(t, questions, 4)
	assert.Equal(t, 4, h.registry.addedQuestions())
}

func TestProcessConfigFallsBackToDomain(t *testing.T) {
	h := setupPipeline(t, 3)
	h.llm.questionsToReturn = 9
	h.registry.domainConfig = models.PublisherConfig{QuestionsPerBlog: 2}

	// Jobs without a config snapshot resolve the domain's live config.
	job := runJob(t, h, "https://example.com/no-snapshot", models.PublisherConfig{})
	assert.Equal(t, models.JobStatusCompleted, job.Status)

	questions, err := h.questions.GetQuestionsByBlogURL(context.Background(), "https://example.com/no-snapshot")
	require.NoError(t, err)
	assert.Len(t, questions, 2)
}

func TestProcessRetryExhaustionAcrossAttempts(t *testing.T) {
	h := setupPipeline(t, 2)
	h.crawler.err = fmt.Errorf("always down")
	ctx := context.Background()
	blogURL := "https://example.com/flaky"

	job, created, err := h.queue.CreateJob(ctx, blogURL, "pub-1", models.PublisherConfig{QuestionsPerBlog: 2})
	require.NoError(t, err)
	require.True(t, created)

	for attempt := 1; attempt <= 2; attempt++ {
		claimed, err := h.queue.ClaimNext(ctx, "test-worker")
		require.NoError(t, err)
		require.NotNil(t, claimed, "attempt %d should find the requeued job", attempt)
		require.NoError(t, h.processor.Process(ctx, claimed, "test-worker"))
	}

	settled, err := h.queue.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, settled.Status)
	assert.True(t, settled.IsTerminal())
	assert.Equal(t, 2, settled.FailureCount)
	// Only the terminal attempt released the slot.
	assert.Equal(t, []bool{false}, h.registry.releaseFlags())
}
