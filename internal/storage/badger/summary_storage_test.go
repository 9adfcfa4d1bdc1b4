package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/respondeo/internal/models"
)

func TestSummaryStorage_UpsertAndGet(t *testing.T) {
	db := setupTestDB(t)
	storage := NewSummaryStorage(db, arbor.NewLogger())
	ctx := context.Background()

	summary := &models.Summary{
		BlogURL:   "https://example.com/a",
		Domain:    "example.com",
		Summary:   "First version",
		KeyPoints: []string{"one", "two"},
		Embedding: []float32{0.1, 0.2, 0.3},
		CreatedAt: time.Now(),
	}
	require.NoError(t, storage.SaveSummary(ctx, summary))

	// A job re-run overwrites in place
	summary.Summary = "Second version"
	require.NoError(t, storage.SaveSummary(ctx, summary))

	got, err := storage.GetSummary(ctx, "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, "Second version", got.Summary)
	assert.Len(t, got.Embedding, 3)
}

func TestSummaryStorage_GetMissing(t *testing.T) {
	db := setupTestDB(t)
	storage := NewSummaryStorage(db, arbor.NewLogger())

	_, err := storage.GetSummary(context.Background(), "https://example.com/missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestSummaryStorage_GetByDomain(t *testing.T) {
	db := setupTestDB(t)
	storage := NewSummaryStorage(db, arbor.NewLogger())
	ctx := context.Background()

	for _, s := range []*models.Summary{
		{BlogURL: "https://example.com/a", Domain: "example.com", Summary: "a"},
		{BlogURL: "https://example.com/b", Domain: "example.com", Summary: "b"},
		{BlogURL: "https://other.org/c", Domain: "other.org", Summary: "c"},
	} {
		require.NoError(t, storage.SaveSummary(ctx, s))
	}

	got, err := storage.GetSummariesByDomain(ctx, "example.com")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = storage.GetSummariesByDomain(ctx, "nowhere.net")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSummaryStorage_Delete(t *testing.T) {
	db := setupTestDB(t)
	storage := NewSummaryStorage(db, arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, storage.SaveSummary(ctx, &models.Summary{
		BlogURL: "https://example.com/a",
		Domain:  "example.com",
		Summary: "gone soon",
	}))
	require.NoError(t, storage.DeleteSummary(ctx, "https://example.com/a"))

	_, err := storage.GetSummary(ctx, "https://example.com/a")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}
