package storage

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/storage/badger"
	"github.com/ternarybob/respondeo/internal/storage/postgres"
)

// Manager implements the StorageManager interface across both backing
// stores: Badger for content, summaries, questions, and jobs; Postgres
// for publisher accounts and counters.
type Manager struct {
	badgerDB  *badger.BadgerDB
	pg        *postgres.PostgresDB
	content   interfaces.ContentStorage
	summary   interfaces.SummaryStorage
	question  interfaces.QuestionStorage
	publisher interfaces.PublisherStorage
	logger    arbor.ILogger
}

// ContentStorage returns the blog content storage interface
func (m *Manager) ContentStorage() interfaces.ContentStorage {
	return m.content
}

// SummaryStorage returns the summary storage interface
func (m *Manager) SummaryStorage() interfaces.SummaryStorage {
	return m.summary
}

// QuestionStorage returns the question storage interface
func (m *Manager) QuestionStorage() interfaces.QuestionStorage {
	return m.question
}

// PublisherStorage returns the publisher storage interface
func (m *Manager) PublisherStorage() interfaces.PublisherStorage {
	return m.publisher
}

// DB returns the underlying badgerhold store. The queue manager builds
// its lease transactions directly on it.
func (m *Manager) DB() interface{} {
	if m.badgerDB != nil {
		return m.badgerDB.Store()
	}
	return nil
}

// BadgerDB exposes the document store connection for maintenance jobs
// (value-log GC).
func (m *Manager) BadgerDB() *badger.BadgerDB {
	return m.badgerDB
}

// Close closes both database connections
func (m *Manager) Close() error {
	var firstErr error
	if m.pg != nil {
		if err := m.pg.Close(); err != nil {
			firstErr = err
			m.logger.Warn().Err(err).Msg("Failed to close postgres connection")
		}
	}
	if m.badgerDB != nil {
		if err := m.badgerDB.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			m.logger.Warn().Err(err).Msg("Failed to close badger connection")
		}
	}
	return firstErr
}
