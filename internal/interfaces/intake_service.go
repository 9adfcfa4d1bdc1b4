package interfaces

import (
	"context"

	"github.com/ternarybob/respondeo/internal/models"
)

// IntakeService implements the read/enqueue surface behind the API:
// the widget fast path, admin enqueue, question reads, and deletion.
// All URL parameters are raw; normalization happens inside.
type IntakeService interface {
	// CheckAndLoad is the widget fast path. Returns stored questions
	// when they exist; otherwise reports or creates the job that will
	// produce them.
	CheckAndLoad(ctx context.Context, pub *models.Publisher, rawURL string) (*models.CheckAndLoadResult, error)

	// Enqueue creates (or finds) the processing job for a URL without
	// returning questions.
	Enqueue(ctx context.Context, pub *models.Publisher, rawURL string) (*models.EnqueueResult, error)

	// GetQuestionsByURL returns stored questions in insertion order, or
	// shuffled when randomize is set. ErrNotFound when none exist.
	GetQuestionsByURL(ctx context.Context, pub *models.Publisher, rawURL string, randomize bool) ([]models.QuestionView, *models.BlogInfo, error)

	// GetQuestion returns one question by id. Admin surface.
	GetQuestion(ctx context.Context, questionID string) (*models.Question, error)

	// DeleteBlog removes BlogContent, Summary, and all Questions for
	// the blog id. Job history is retained. Returns deleted question
	// count.
	DeleteBlog(ctx context.Context, blogID string) (int, error)

	// CancelJob cancels a queued job and releases its quota slot.
	CancelJob(ctx context.Context, jobID string) error

	// ReprocessJob requeues a terminal job for another run.
	ReprocessJob(ctx context.Context, jobID string) (*models.ProcessingJob, error)
}
