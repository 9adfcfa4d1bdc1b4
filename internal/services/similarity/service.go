package similarity

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/respondeo/internal/common"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/models"
)

const defaultSearchLimit = 5

// Service answers "which of this publisher's blogs are closest to this
// question" with a linear cosine scan over domain-scoped summary
// embeddings. The corpus per domain is small enough that no index is
// needed.
type Service struct {
	questions interfaces.QuestionStorage
	summaries interfaces.SummaryStorage
	content   interfaces.ContentStorage
	logger    arbor.ILogger
}

// NewService creates a similarity search service over the given storages.
func NewService(questions interfaces.QuestionStorage, summaries interfaces.SummaryStorage, content interfaces.ContentStorage, logger arbor.ILogger) interfaces.SimilarityService {
	return &Service{
		questions: questions,
		summaries: summaries,
		content:   content,
		logger:    logger,
	}
}

// SearchSimilar resolves the question, bumps its click counter, checks
// the caller owns the question's domain, and returns the closest blogs
// by summary-embedding cosine similarity, best first.
func (s *Service) SearchSimilar(ctx context.Context, pub *models.Publisher, questionID string, limit int) ([]models.SimilarBlog, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	question, err := s.questions.GetQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}

	// A similarity lookup is a widget click on the question, so the
	// counter moves even when the search itself later fails.
	if err := s.questions.IncrementClickCount(ctx, questionID); err != nil {
		s.logger.Warn().Err(err).Str("question_id", questionID).Msg("Failed to increment click count")
	}

	domain, err := common.DomainOf(question.BlogURL)
	if err != nil {
		return nil, fmt.Errorf("question %s has unparseable blog url: %w", questionID, err)
	}
	if pub != nil && !common.DomainMatchesSuffix(domain, pub.Domain) {
		return nil, fmt.Errorf("question %s belongs to %s, not %s: %w", questionID, domain, pub.Domain, models.ErrDomainMismatch)
	}

	if len(question.Embedding) == 0 {
		return nil, fmt.Errorf("question %s: %w", questionID, models.ErrEmbeddingMissing)
	}

	summaries, err := s.summaries.GetSummariesByDomain(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to load summaries for %s: %w", domain, err)
	}

	scored := s.scoreSummaries(question.Embedding, summaries)
	sort.Slice(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}

	results := make([]models.SimilarBlog, 0, len(scored))
	for _, hit := range scored {
		results = append(results, s.toSimilarBlog(ctx, hit))
	}

	s.logger.Debug().
		Str("question_id", questionID).
		Str("domain", domain).
		Int("candidates", len(summaries)).
		Int("results", len(results)).
		Msg("Similarity search completed")
	return results, nil
}

type scoredSummary struct {
	summary *models.Summary
	score   float64
}

// scoreSummaries computes cosine similarity between the probe and each
// summary embedding. Summaries without an embedding, or with one of a
// different dimension, are skipped.
func (s *Service) scoreSummaries(probe []float32, summaries []*models.Summary) []scoredSummary {
	scored := make([]scoredSummary, 0, len(summaries))
	for _, summary := range summaries {
		if len(summary.Embedding) != len(probe) {
			if len(summary.Embedding) != 0 {
				s.logger.Warn().
					Str("blog_url", summary.BlogURL).
					Int("expected", len(probe)).
					Int("actual", len(summary.Embedding)).
					Msg("Skipping summary with mismatched embedding dimension")
			}
			continue
		}
		scored = append(scored, scoredSummary{
			summary: summary,
			score:   cosineSimilarity(probe, summary.Embedding),
		})
	}
	return scored
}

// toSimilarBlog joins a scored summary with its BlogContent record for
// title, author, date, and blog id. A missing content record still
// yields a hit; the URL and score are always known.
func (s *Service) toSimilarBlog(ctx context.Context, hit scoredSummary) models.SimilarBlog {
	result := models.SimilarBlog{
		URL:   hit.summary.BlogURL,
		Score: hit.score,
	}
	content, err := s.content.GetContent(ctx, hit.summary.BlogURL)
	if err != nil {
		s.logger.Warn().Err(err).Str("blog_url", hit.summary.BlogURL).Msg("No content record for summary hit")
		return result
	}
	result.BlogID = content.ID
	result.Title = content.Title
	result.Author = content.Author
	result.PublishedDate = content.PublishedDate
	return result
}

// cosineSimilarity returns the cosine of the angle between two vectors
// of equal length. Zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
