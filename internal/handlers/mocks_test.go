package handlers

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/ternarybob/respondeo/internal/models"
)

// jsonBody wraps a JSON literal for httptest.NewRequest.
func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}

// mockRegistry implements interfaces.PublisherRegistry with function
// fields so each test overrides only what it needs.
type mockRegistry struct {
	mu      sync.Mutex
	touched []string

	resolveByDomainFunc func(ctx context.Context, domain string, allowSubdomain bool) (*models.Publisher, error)
	resolveByAPIKeyFunc func(ctx context.Context, apiKey string) (*models.Publisher, error)
	createPublisherFunc func(ctx context.Context, domain, email, tier string, cfg models.PublisherConfig, widget models.WidgetConfig) (*models.Publisher, string, error)
}

func (m *mockRegistry) ResolveByDomain(ctx context.Context, domain string, allowSubdomain bool) (*models.Publisher, error) {
	if m.resolveByDomainFunc != nil {
		return m.resolveByDomainFunc(ctx, domain, allowSubdomain)
	}
	return nil, models.ErrNotFound
}

func (m *mockRegistry) ResolveByAPIKey(ctx context.Context, apiKey string) (*models.Publisher, error) {
	if m.resolveByAPIKeyFunc != nil {
		return m.resolveByAPIKeyFunc(ctx, apiKey)
	}
	return nil, models.ErrNotFound
}

func (m *mockRegistry) ConfigForDomain(ctx context.Context, domain string) (models.PublisherConfig, *models.Publisher, bool) {
	return models.PublisherConfig{}, nil, false
}

func (m *mockRegistry) CheckWhitelist(normalizedURL string, pub *models.Publisher) error {
	return nil
}

func (m *mockRegistry) ReserveBlogSlot(ctx context.Context, publisherID string) error { return nil }

func (m *mockRegistry) ReleaseBlogSlot(ctx context.Context, publisherID string, processed bool) error {
	return nil
}

func (m *mockRegistry) AddQuestionsGenerated(ctx context.Context, publisherID string, n int) error {
	return nil
}

func (m *mockRegistry) CreatePublisher(ctx context.Context, domain, email, tier string, cfg models.PublisherConfig, widget models.WidgetConfig) (*models.Publisher, string, error) {
	if m.createPublisherFunc != nil {
		return m.createPublisherFunc(ctx, domain, email, tier, cfg, widget)
	}
	return nil, "", models.ErrDuplicate
}

func (m *mockRegistry) TouchLastActive(ctx context.Context, publisherID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = append(m.touched, publisherID)
}

func (m *mockRegistry) touchedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.touched...)
}

// mockIntake implements interfaces.IntakeService.
type mockIntake struct {
	checkAndLoadFunc      func(ctx context.Context, pub *models.Publisher, rawURL string) (*models.CheckAndLoadResult, error)
	enqueueFunc           func(ctx context.Context, pub *models.Publisher, rawURL string) (*models.EnqueueResult, error)
	getQuestionsByURLFunc func(ctx context.Context, pub *models.Publisher, rawURL string, randomize bool) ([]models.QuestionView, *models.BlogInfo, error)
	getQuestionFunc       func(ctx context.Context, questionID string) (*models.Question, error)
	deleteBlogFunc        func(ctx context.Context, blogID string) (int, error)
	cancelJobFunc         func(ctx context.Context, jobID string) error
	reprocessJobFunc      func(ctx context.Context, jobID string) (*models.ProcessingJob, error)
}

func (m *mockIntake) CheckAndLoad(ctx context.Context, pub *models.Publisher, rawURL string) (*models.CheckAndLoadResult, error) {
	if m.checkAndLoadFunc != nil {
		return m.checkAndLoadFunc(ctx, pub, rawURL)
	}
	return nil, models.ErrNotFound
}

func (m *mockIntake) Enqueue(ctx context.Context, pub *models.Publisher, rawURL string) (*models.EnqueueResult, error) {
	if m.enqueueFunc != nil {
		return m.enqueueFunc(ctx, pub, rawURL)
	}
	return nil, models.ErrNotFound
}

func (m *mockIntake) GetQuestionsByURL(ctx context.Context, pub *models.Publisher, rawURL string, randomize bool) ([]models.QuestionView, *models.BlogInfo, error) {
	if m.getQuestionsByURLFunc != nil {
		return m.getQuestionsByURLFunc(ctx, pub, rawURL, randomize)
	}
	return nil, nil, models.ErrNotFound
}

func (m *mockIntake) GetQuestion(ctx context.Context, questionID string) (*models.Question, error) {
	if m.getQuestionFunc != nil {
		return m.getQuestionFunc(ctx, questionID)
	}
	return nil, models.ErrNotFound
}

func (m *mockIntake) DeleteBlog(ctx context.Context, blogID string) (int, error) {
	if m.deleteBlogFunc != nil {
		return m.deleteBlogFunc(ctx, blogID)
	}
	return 0, models.ErrNotFound
}

func (m *mockIntake) CancelJob(ctx context.Context, jobID string) error {
	if m.cancelJobFunc != nil {
		return m.cancelJobFunc(ctx, jobID)
	}
	return models.ErrNotFound
}

func (m *mockIntake) ReprocessJob(ctx context.Context, jobID string) (*models.ProcessingJob, error) {
	if m.reprocessJobFunc != nil {
		return m.reprocessJobFunc(ctx, jobID)
	}
	return nil, models.ErrNotFound
}

// mockSimilarity implements interfaces.SimilarityService.
type mockSimilarity struct {
	searchSimilarFunc func(ctx context.Context, pub *models.Publisher, questionID string, limit int) ([]models.SimilarBlog, error)
}

func (m *mockSimilarity) SearchSimilar(ctx context.Context, pub *models.Publisher, questionID string, limit int) ([]models.SimilarBlog, error) {
	if m.searchSimilarFunc != nil {
		return m.searchSimilarFunc(ctx, pub, questionID, limit)
	}
	return nil, models.ErrNotFound
}

// mockQA implements interfaces.QAService.
type mockQA struct {
	askFunc func(ctx context.Context, pub *models.Publisher, question string) (*models.AskAnswer, error)
}

func (m *mockQA) Ask(ctx context.Context, pub *models.Publisher, question string) (*models.AskAnswer, error) {
	if m.askFunc != nil {
		return m.askFunc(ctx, pub, question)
	}
	return nil, models.ErrRateLimited
}

// testPublisher returns an active publisher for example.com.
func testPublisher() *models.Publisher {
	return &models.Publisher{
		ID:     "pub-1",
		Domain: "example.com",
		Email:  "owner@example.com",
		Status: models.PublisherStatusActive,
	}
}

// authForTests returns an Auth whose publisher lookup accepts
// "pub_good" and whose admin key is "admin-secret".
func authForTests(reg *mockRegistry) *Auth {
	if reg.resolveByAPIKeyFunc == nil {
		reg.resolveByAPIKeyFunc = func(ctx context.Context, apiKey string) (*models.Publisher, error) {
			if apiKey == "pub_good" {
				return testPublisher(), nil
			}
			return nil, models.ErrNotFound
		}
	}
	return NewAuth(reg, "admin-secret", testLogger())
}
