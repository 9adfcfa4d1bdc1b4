package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/respondeo/internal/models"
)

// ContentStorage - interface for crawled blog content persistence
type ContentStorage interface {
	// SaveContent stores content keyed by normalized URL. Fails if the
	// URL already exists; content is written once and never replaced.
	SaveContent(ctx context.Context, content *models.BlogContent) error

	GetContent(ctx context.Context, url string) (*models.BlogContent, error)

	// GetContentByID resolves a blog id to its content record.
	GetContentByID(ctx context.Context, blogID string) (*models.BlogContent, error)

	DeleteContent(ctx context.Context, url string) error
	CountContent(ctx context.Context) (int, error)

	// IncrementTriggered atomically increments the trigger counter for
	// the URL and returns the post-increment value.
	IncrementTriggered(ctx context.Context, url string) (int, error)
}

// SummaryStorage - interface for generated summary persistence
type SummaryStorage interface {
	// SaveSummary upserts the summary for its blog URL. Re-running a
	// job overwrites the previous summary idempotently.
	SaveSummary(ctx context.Context, summary *models.Summary) error

	GetSummary(ctx context.Context, blogURL string) (*models.Summary, error)
	GetSummariesByDomain(ctx context.Context, domain string) ([]*models.Summary, error)
	DeleteSummary(ctx context.Context, blogURL string) error
}

// QuestionStorage - interface for generated Q&A persistence
type QuestionStorage interface {
	// SaveQuestions replaces all questions for the blog URL in one
	// operation. Existing questions for the URL are removed first so a
	// re-run never leaves a mixed set.
	SaveQuestions(ctx context.Context, blogURL string, questions []*models.Question) error

	GetQuestion(ctx context.Context, id string) (*models.Question, error)
	GetQuestionsByBlogURL(ctx context.Context, blogURL string) ([]*models.Question, error)
	DeleteQuestionsByBlogURL(ctx context.Context, blogURL string) (int, error)
	CountQuestions(ctx context.Context) (int, error)

	// ListQuestionsMissingEmbedding returns up to limit questions that
	// have no stored vector, for backfill.
	ListQuestionsMissingEmbedding(ctx context.Context, limit int) ([]*models.Question, error)

	// UpdateQuestionEmbedding stores the vector for a question.
	UpdateQuestionEmbedding(ctx context.Context, id string, embedding []float32) error

	// IncrementClickCount atomically bumps the click counter.
	IncrementClickCount(ctx context.Context, id string) error
}

// PublisherStorage - interface for publisher account persistence
type PublisherStorage interface {
	CreatePublisher(ctx context.Context, pub *models.Publisher) error
	GetByID(ctx context.Context, id string) (*models.Publisher, error)
	GetByDomain(ctx context.Context, domain string) (*models.Publisher, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*models.Publisher, error)

	// ReserveBlogSlot atomically checks the lifetime quota and
	// increments blog_slots_reserved. Returns ErrQuotaExceeded when
	// max_total_blogs would be breached.
	ReserveBlogSlot(ctx context.Context, publisherID string) error

	// ReleaseBlogSlot decrements blog_slots_reserved, clamping at zero.
	// When processed is true the blog counts toward
	// total_blogs_processed in the same transaction.
	ReleaseBlogSlot(ctx context.Context, publisherID string, processed bool) error

	// AddQuestionsGenerated adds n to total_questions_generated.
	AddQuestionsGenerated(ctx context.Context, publisherID string, n int) error

	UpdateLastActive(ctx context.Context, publisherID string, at time.Time) error
	Ping(ctx context.Context) error
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	ContentStorage() ContentStorage
	SummaryStorage() SummaryStorage
	QuestionStorage() QuestionStorage
	PublisherStorage() PublisherStorage
	DB() interface{}
	Close() error
}
