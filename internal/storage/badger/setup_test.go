package badger

import (
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// setupTestDB opens a throwaway badger store in a temp directory.
// Cleanup is registered on the test.
func setupTestDB(t *testing.T) *BadgerDB {
	t.Helper()

	options := badgerhold.DefaultOptions
	options.Dir = t.TempDir()
	options.ValueDir = options.Dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return &BadgerDB{store: store, logger: arbor.NewLogger()}
}
