package badger

import (
	"context"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// maxTxnRetries bounds optimistic-transaction retries under contention.
const maxTxnRetries = 20

// runTxn executes fn inside a read-write transaction, retrying on
// commit conflicts. Badger uses optimistic concurrency, so conflicts
// are expected under contention and retrying is the normal path.
func runTxn(db *badgerdb.DB, fn func(txn *badgerdb.Txn) error) error {
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		err = db.Update(fn)
		if !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("transaction conflict persisted after %d attempts: %w", maxTxnRetries, err)
}

// ContentStorage implements the ContentStorage interface for Badger
type ContentStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewContentStorage creates a new ContentStorage instance
func NewContentStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ContentStorage {
	return &ContentStorage{
		db:     db,
		logger: logger,
	}
}

// SaveContent inserts new blog content. The URL key is write-once;
// a second insert for the same URL returns ErrDuplicate.
func (s *ContentStorage) SaveContent(ctx context.Context, content *models.BlogContent) error {
	if content.URL == "" {
		return fmt.Errorf("content URL is required")
	}
	if content.ID == "" {
		return fmt.Errorf("content ID is required")
	}

	// IMPORTANT: Dereference pointer to ensure consistent type with Find operations
	// BadgerHold uses type name for key prefix; storing *BlogContent vs BlogContent creates different prefixes
	if err := s.db.Store().Insert(content.URL, *content); err != nil {
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return fmt.Errorf("content for %s: %w", content.URL, models.ErrDuplicate)
		}
		return fmt.Errorf("failed to save content: %w", err)
	}

	s.logger.Debug().
		Str("url", content.URL).
		Int("word_count", content.WordCount).
		Msg("Blog content saved")

	return nil
}

func (s *ContentStorage) GetContent(ctx context.Context, url string) (*models.BlogContent, error) {
	var content models.BlogContent
	if err := s.db.Store().Get(url, &content); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("content for %s: %w", url, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get content: %w", err)
	}
	return &content, nil
}

// GetContentByID resolves a blog id through the indexed ID field.
func (s *ContentStorage) GetContentByID(ctx context.Context, blogID string) (*models.BlogContent, error) {
	var results []models.BlogContent
	if err := s.db.Store().Find(&results, badgerhold.Where("ID").Eq(blogID).Index("ID")); err != nil {
		return nil, fmt.Errorf("failed to find content by id: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("content %s: %w", blogID, models.ErrNotFound)
	}
	return &results[0], nil
}

func (s *ContentStorage) DeleteContent(ctx context.Context, url string) error {
	if err := s.db.Store().Delete(url, &models.BlogContent{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("content for %s: %w", url, models.ErrNotFound)
		}
		return fmt.Errorf("failed to delete content: %w", err)
	}
	return nil
}

func (s *ContentStorage) CountContent(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.BlogContent{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count content: %w", err)
	}
	return int(count), nil
}

// IncrementTriggered bumps the trigger counter inside one transaction
// and returns the post-increment value. Threshold checks must use the
// returned value, never a separately read one.
func (s *ContentStorage) IncrementTriggered(ctx context.Context, url string) (int, error) {
	var updated int
	err := runTxn(s.db.Store().Badger(), func(txn *badgerdb.Txn) error {
		var content models.BlogContent
		if err := s.db.Store().TxGet(txn, url, &content); err != nil {
			return err
		}
		content.TriggeredCount++
		updated = content.TriggeredCount
		return s.db.Store().TxUpdate(txn, url, content)
	})
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return 0, fmt.Errorf("content for %s: %w", url, models.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to increment triggered count: %w", err)
	}
	return updated, nil
}
