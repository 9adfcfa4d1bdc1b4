package interfaces

import (
	"context"

	"github.com/ternarybob/respondeo/internal/models"
)

// SimilarityService answers "which of this publisher's blogs are
// closest to this question". Linear cosine scan over domain-scoped
// summary embeddings.
type SimilarityService interface {
	// SearchSimilar resolves the question, bumps its click counter,
	// verifies the caller owns the question's domain, and returns the
	// closest blogs by summary-embedding cosine similarity.
	SearchSimilar(ctx context.Context, pub *models.Publisher, questionID string, limit int) ([]models.SimilarBlog, error)
}

// QAService runs ad-hoc single-question completions with per-publisher
// rate limiting. Responses are not cached.
type QAService interface {
	// Ask answers one free-form question using the publisher's chat
	// model. ErrRateLimited when the publisher's bucket is empty.
	Ask(ctx context.Context, pub *models.Publisher, question string) (*models.AskAnswer, error)
}
