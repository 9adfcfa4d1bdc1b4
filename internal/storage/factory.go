package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/respondeo/internal/common"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/storage/badger"
	"github.com/ternarybob/respondeo/internal/storage/postgres"
)

// NewStorageManager opens both backing stores and wires the typed
// storages. Badger opens first; a Postgres failure closes it again so
// startup never leaks a lock on the data directory.
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	badgerDB, err := badger.NewBadgerDB(logger, &config.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}

	pg, err := postgres.NewPostgresDB(logger, &config.Postgres)
	if err != nil {
		_ = badgerDB.Close()
		return nil, fmt.Errorf("failed to open publisher store: %w", err)
	}

	manager := &Manager{
		badgerDB:  badgerDB,
		pg:        pg,
		content:   badger.NewContentStorage(badgerDB, logger),
		summary:   badger.NewSummaryStorage(badgerDB, logger),
		question:  badger.NewQuestionStorage(badgerDB, logger),
		publisher: postgres.NewPublisherStorage(pg, logger),
		logger:    logger,
	}

	logger.Info().Msg("Storage manager initialized")

	return manager, nil
}
