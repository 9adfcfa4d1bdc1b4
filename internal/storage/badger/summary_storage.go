package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SummaryStorage implements the SummaryStorage interface for Badger
type SummaryStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSummaryStorage creates a new SummaryStorage instance
func NewSummaryStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SummaryStorage {
	return &SummaryStorage{
		db:     db,
		logger: logger,
	}
}

// SaveSummary upserts the summary keyed by blog URL. Job re-runs
// overwrite the previous summary.
func (s *SummaryStorage) SaveSummary(ctx context.Context, summary *models.Summary) error {
	if summary.BlogURL == "" {
		return fmt.Errorf("summary blog URL is required")
	}
	if summary.Domain == "" {
		return fmt.Errorf("summary domain is required")
	}

	if err := s.db.Store().Upsert(summary.BlogURL, *summary); err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}

	s.logger.Debug().
		Str("blog_url", summary.BlogURL).
		Int("key_points", len(summary.KeyPoints)).
		Int("embedding_dims", len(summary.Embedding)).
		Msg("Summary saved")

	return nil
}

func (s *SummaryStorage) GetSummary(ctx context.Context, blogURL string) (*models.Summary, error) {
	var summary models.Summary
	if err := s.db.Store().Get(blogURL, &summary); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("summary for %s: %w", blogURL, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	return &summary, nil
}

// GetSummariesByDomain returns every summary whose blog URL lives on
// the domain. Similarity search scans these linearly.
func (s *SummaryStorage) GetSummariesByDomain(ctx context.Context, domain string) ([]*models.Summary, error) {
	var summaries []models.Summary
	if err := s.db.Store().Find(&summaries, badgerhold.Where("Domain").Eq(domain)); err != nil {
		return nil, fmt.Errorf("failed to find summaries by domain: %w", err)
	}

	result := make([]*models.Summary, len(summaries))
	for i := range summaries {
		result[i] = &summaries[i]
	}
	return result, nil
}

func (s *SummaryStorage) DeleteSummary(ctx context.Context, blogURL string) error {
	if err := s.db.Store().Delete(blogURL, &models.Summary{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("summary for %s: %w", blogURL, models.ErrNotFound)
		}
		return fmt.Errorf("failed to delete summary: %w", err)
	}
	return nil
}
