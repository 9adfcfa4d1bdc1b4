package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/respondeo/internal/common"
)

// PostgresDB manages the relational database connection
type PostgresDB struct {
	db     *sqlx.DB
	logger arbor.ILogger
	config *common.PostgresConfig
}

// NewPostgresDB opens the publisher database, verifies connectivity,
// and applies the schema.
func NewPostgresDB(logger arbor.ILogger, config *common.PostgresConfig) (*PostgresDB, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("postgres URL is required")
	}

	db, err := sql.Open("pgx", config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingTimeout := config.ConnTimeout
	if pingTimeout <= 0 {
		pingTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	sqlxDB := sqlx.NewDb(db, "pgx")

	pg := &PostgresDB{
		db:     sqlxDB,
		logger: logger,
		config: config,
	}

	if err := pg.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Debug().
		Int("max_open_conns", config.MaxOpenConns).
		Msg("Postgres connection established")

	return pg, nil
}

// DB returns the underlying sqlx handle
func (p *PostgresDB) DB() *sqlx.DB {
	return p.db
}

// Ping verifies the connection is still alive
func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresDB) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}
