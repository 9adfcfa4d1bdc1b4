package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/respondeo/internal/common"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/models"
)

// pgUniqueViolation is the postgres error code for unique constraint breaches
const pgUniqueViolation = "23505"

// PublisherStorage implements the PublisherStorage interface for Postgres
type PublisherStorage struct {
	db     *PostgresDB
	logger arbor.ILogger
}

// NewPublisherStorage creates a new PublisherStorage instance
func NewPublisherStorage(db *PostgresDB, logger arbor.ILogger) interfaces.PublisherStorage {
	return &PublisherStorage{
		db:     db,
		logger: logger,
	}
}

const publisherColumns = `id, domain, email, status, api_key_hash, admin_api_key_ref,
	subscription_tier, config, widget_config, total_blogs_processed,
	blog_slots_reserved, total_questions_generated, created_at, updated_at, last_active_at`

func (s *PublisherStorage) CreatePublisher(ctx context.Context, pub *models.Publisher) error {
	if pub.ID == "" || pub.Domain == "" {
		return fmt.Errorf("publisher id and domain are required")
	}

	query := `INSERT INTO publishers (
		id, domain, email, status, api_key_hash, admin_api_key_ref,
		subscription_tier, config, widget_config, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`

	_, err := s.db.DB().ExecContext(ctx, query,
		pub.ID, pub.Domain, pub.Email, pub.Status, pub.APIKeyHash,
		pub.AdminAPIKeyRef, pub.SubscriptionTier, pub.Config, pub.WidgetConfig,
		pub.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("publisher for domain %s: %w", pub.Domain, models.ErrDuplicate)
		}
		return fmt.Errorf("failed to create publisher: %w", err)
	}

	s.logger.Info().
		Str("publisher_id", pub.ID).
		Str("domain", pub.Domain).
		Msg("Publisher created")

	return nil
}

func (s *PublisherStorage) GetByID(ctx context.Context, id string) (*models.Publisher, error) {
	var pub models.Publisher
	query := fmt.Sprintf("SELECT %s FROM publishers WHERE id = $1", publisherColumns)
	if err := s.db.DB().GetContext(ctx, &pub, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("publisher %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get publisher: %w", err)
	}
	return &pub, nil
}

func (s *PublisherStorage) GetByDomain(ctx context.Context, domain string) (*models.Publisher, error) {
	var pub models.Publisher
	query := fmt.Sprintf("SELECT %s FROM publishers WHERE domain = $1", publisherColumns)
	if err := s.db.DB().GetContext(ctx, &pub, query, domain); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("publisher for domain %s: %w", domain, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get publisher by domain: %w", err)
	}
	return &pub, nil
}

// GetByAPIKey authenticates a key by its SHA-256 digest. Keys are never
// stored in plain text; the digest lookup never touches key material.
func (s *PublisherStorage) GetByAPIKey(ctx context.Context, apiKey string) (*models.Publisher, error) {
	hash := common.HashAPIKey(apiKey)

	var pub models.Publisher
	query := fmt.Sprintf("SELECT %s FROM publishers WHERE api_key_hash = $1", publisherColumns)
	if err := s.db.DB().GetContext(ctx, &pub, query, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("api key: %w", models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get publisher by api key: %w", err)
	}
	return &pub, nil
}

// ReserveBlogSlot takes one lifetime-quota slot under a row lock. The
// check and the increment happen in the same transaction so concurrent
// reservations cannot overshoot max_total_blogs.
func (s *PublisherStorage) ReserveBlogSlot(ctx context.Context, publisherID string) error {
	tx, err := s.db.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var row struct {
		Config    models.PublisherConfig `db:"config"`
		Processed int                    `db:"total_blogs_processed"`
		Reserved  int                    `db:"blog_slots_reserved"`
	}
	query := `SELECT config, total_blogs_processed, blog_slots_reserved
		FROM publishers WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &row, query, publisherID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("publisher %s: %w", publisherID, models.ErrNotFound)
		}
		return fmt.Errorf("failed to lock publisher row: %w", err)
	}

	if limit := row.Config.MaxTotalBlogs; limit != nil && row.Processed+row.Reserved >= *limit {
		return fmt.Errorf("publisher %s at %d/%d blogs: %w",
			publisherID, row.Processed+row.Reserved, *limit, models.ErrQuotaExceeded)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE publishers SET blog_slots_reserved = blog_slots_reserved + 1, updated_at = now()
		 WHERE id = $1`, publisherID)
	if err != nil {
		return fmt.Errorf("failed to reserve slot: %w", err)
	}

	return tx.Commit()
}

// ReleaseBlogSlot returns a slot, clamping the reservation counter at
// zero. A processed release also counts the blog as done.
func (s *PublisherStorage) ReleaseBlogSlot(ctx context.Context, publisherID string, processed bool) error {
	tx, err := s.db.DB().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var reserved int
	query := `SELECT blog_slots_reserved FROM publishers WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &reserved, query, publisherID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("publisher %s: %w", publisherID, models.ErrNotFound)
		}
		return fmt.Errorf("failed to lock publisher row: %w", err)
	}

	newReserved := reserved - 1
	if newReserved < 0 {
		s.logger.Warn().
			Str("publisher_id", publisherID).
			Int("reserved", reserved).
			Msg("Slot release would go negative, clamping at zero")
		newReserved = 0
	}

	processedDelta := 0
	if processed {
		processedDelta = 1
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE publishers SET blog_slots_reserved = $2,
			total_blogs_processed = total_blogs_processed + $3,
			updated_at = now()
		 WHERE id = $1`, publisherID, newReserved, processedDelta)
	if err != nil {
		return fmt.Errorf("failed to release slot: %w", err)
	}

	return tx.Commit()
}

func (s *PublisherStorage) AddQuestionsGenerated(ctx context.Context, publisherID string, n int) error {
	_, err := s.db.DB().ExecContext(ctx,
		`UPDATE publishers SET total_questions_generated = total_questions_generated + $2,
			updated_at = now()
		 WHERE id = $1`, publisherID, n)
	if err != nil {
		return fmt.Errorf("failed to add questions generated: %w", err)
	}
	return nil
}

func (s *PublisherStorage) UpdateLastActive(ctx context.Context, publisherID string, at time.Time) error {
	_, err := s.db.DB().ExecContext(ctx,
		`UPDATE publishers SET last_active_at = $2 WHERE id = $1`, publisherID, at)
	if err != nil {
		return fmt.Errorf("failed to update last active: %w", err)
	}
	return nil
}

func (s *PublisherStorage) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
