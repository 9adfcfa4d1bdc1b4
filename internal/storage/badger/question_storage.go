package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// errStopIteration ends a ForEach scan early once enough records have
// been collected.
var errStopIteration = errors.New("stop iteration")

// QuestionStorage implements the QuestionStorage interface for Badger
type QuestionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewQuestionStorage creates a new QuestionStorage instance
func NewQuestionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.QuestionStorage {
	return &QuestionStorage{
		db:     db,
		logger: logger,
	}
}

// SaveQuestions replaces the full question set for a blog URL in one
// transaction. Timestamps are staggered by a nanosecond per question
// so insertion order survives the CreatedAt sort on reads.
func (s *QuestionStorage) SaveQuestions(ctx context.Context, blogURL string, questions []*models.Question) error {
	if blogURL == "" {
		return fmt.Errorf("blog URL is required")
	}

	now := time.Now()
	err := runTxn(s.db.Store().Badger(), func(txn *badgerdb.Txn) error {
		if err := s.db.Store().TxDeleteMatching(txn, &models.Question{},
			badgerhold.Where("BlogURL").Eq(blogURL)); err != nil {
			return err
		}
		for i, q := range questions {
			if q.ID == "" {
				return fmt.Errorf("question %d has no ID", i)
			}
			q.BlogURL = blogURL
			q.CreatedAt = now.Add(time.Duration(i))
			if err := s.db.Store().TxInsert(txn, q.ID, *q); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save questions: %w", err)
	}

	s.logger.Debug().
		Str("blog_url", blogURL).
		Int("count", len(questions)).
		Msg("Questions saved")

	return nil
}

func (s *QuestionStorage) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	var question models.Question
	if err := s.db.Store().Get(id, &question); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("question %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}
	return &question, nil
}

// GetQuestionsByBlogURL returns the blog's questions in insertion order.
func (s *QuestionStorage) GetQuestionsByBlogURL(ctx context.Context, blogURL string) ([]*models.Question, error) {
	var questions []models.Question
	query := badgerhold.Where("BlogURL").Eq(blogURL).SortBy("CreatedAt")
	if err := s.db.Store().Find(&questions, query); err != nil {
		return nil, fmt.Errorf("failed to find questions: %w", err)
	}

	result := make([]*models.Question, len(questions))
	for i := range questions {
		result[i] = &questions[i]
	}
	return result, nil
}

// DeleteQuestionsByBlogURL removes every question for the blog URL and
// returns how many were deleted.
func (s *QuestionStorage) DeleteQuestionsByBlogURL(ctx context.Context, blogURL string) (int, error) {
	count, err := s.db.Store().Count(&models.Question{}, badgerhold.Where("BlogURL").Eq(blogURL))
	if err != nil {
		return 0, fmt.Errorf("failed to count questions: %w", err)
	}

	if err := s.db.Store().DeleteMatching(&models.Question{}, badgerhold.Where("BlogURL").Eq(blogURL)); err != nil {
		return 0, fmt.Errorf("failed to delete questions: %w", err)
	}

	return int(count), nil
}

func (s *QuestionStorage) CountQuestions(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Question{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count questions: %w", err)
	}
	return int(count), nil
}

// ListQuestionsMissingEmbedding scans for questions without a vector.
// BadgerHold cannot query on slice emptiness, so this walks the
// collection and stops once limit matches are collected.
func (s *QuestionStorage) ListQuestionsMissingEmbedding(ctx context.Context, limit int) ([]*models.Question, error) {
	if limit <= 0 {
		limit = 100
	}

	var result []*models.Question
	err := s.db.Store().ForEach(nil, func(q *models.Question) error {
		if len(q.Embedding) > 0 {
			return nil
		}
		copied := *q
		result = append(result, &copied)
		if len(result) >= limit {
			return errStopIteration
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return nil, fmt.Errorf("failed to scan questions: %w", err)
	}
	return result, nil
}

// UpdateQuestionEmbedding stores the vector for a question.
func (s *QuestionStorage) UpdateQuestionEmbedding(ctx context.Context, id string, embedding []float32) error {
	err := runTxn(s.db.Store().Badger(), func(txn *badgerdb.Txn) error {
		var question models.Question
		if err := s.db.Store().TxGet(txn, id, &question); err != nil {
			return err
		}
		question.Embedding = embedding
		return s.db.Store().TxUpdate(txn, id, question)
	})
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("question %s: %w", id, models.ErrNotFound)
		}
		return fmt.Errorf("failed to update question embedding: %w", err)
	}
	return nil
}

// IncrementClickCount bumps the click counter inside one transaction.
func (s *QuestionStorage) IncrementClickCount(ctx context.Context, id string) error {
	err := runTxn(s.db.Store().Badger(), func(txn *badgerdb.Txn) error {
		var question models.Question
		if err := s.db.Store().TxGet(txn, id, &question); err != nil {
			return err
		}
		question.ClickCount++
		return s.db.Store().TxUpdate(txn, id, question)
	})
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("question %s: %w", id, models.ErrNotFound)
		}
		return fmt.Errorf("failed to increment click count: %w", err)
	}
	return nil
}
