package maintenance

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/respondeo/internal/common"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/models"
	"github.com/ternarybob/respondeo/internal/queue"
	badgerstore "github.com/ternarybob/respondeo/internal/storage/badger"
)

// fakeRegistry records slot releases.
type fakeRegistry struct {
	mu       sync.Mutex
	releases []string // "<publisher_id>:<processed>"
}

func (f *fakeRegistry) ResolveByDomain(context.Context, string, bool) (*models.Publisher, error) {
	return nil, models.ErrNotFound
}

func (f *fakeRegistry) ResolveByAPIKey(context.Context, string) (*models.Publisher, error) {
	return nil, models.ErrNotFound
}

func (f *fakeRegistry) ConfigForDomain(context.Context, string) (models.PublisherConfig, *models.Publisher, bool) {
	return models.PublisherConfig{}, nil, false
}

func (f *fakeRegistry) CheckWhitelist(string, *models.Publisher) error { return nil }

func (f *fakeRegistry) ReserveBlogSlot(context.Context, string) error { return nil }

func (f *fakeRegistry) ReleaseBlogSlot(_ context.Context, publisherID string, processed bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases = append(f.releases, fmt.Sprintf("%s:%t", publisherID, processed))
	return nil
}

func (f *fakeRegistry) AddQuestionsGenerated(context.Context, string, int) error { return nil }

func (f *fakeRegistry) CreatePublisher(context.Context, string, string, string, models.PublisherConfig, models.WidgetConfig) (*models.Publisher, string, error) {
	return nil, "", fmt.Errorf("not implemented")
}

func (f *fakeRegistry) TouchLastActive(context.Context, string) {}

func (f *fakeRegistry) released() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.releases...)
}

type maintenanceHarness struct {
	svc      *Service
	queue    interfaces.QueueManager
	registry *fakeRegistry
}

// setupMaintenance builds a service whose reclaim pass treats every
// processing job as stale (negative stale_after moves the cutoff into
// the future).
func setupMaintenance(t *testing.T, maxRetries int) *maintenanceHarness {
	t.Helper()
	logger := arbor.NewLogger()
	db, err := badgerstore.NewBadgerDB(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cfg := common.NewDefaultConfig()
	cfg.Queue.StaleAfter = -time.Second
	cfg.Queue.MaxRetries = maxRetries

	h := &maintenanceHarness{
		queue:    queue.NewManager(db.Store(), nil, logger, maxRetries),
		registry: &fakeRegistry{},
	}
	h.svc = NewService(h.queue, h.registry, db, cfg, logger)
	return h
}

func claimJob(t *testing.T, q interfaces.QueueManager, blogURL, publisherID string) *models.ProcessingJob {
	t.Helper()
	ctx := context.Background()
	_, created, err := q.CreateJob(ctx, blogURL, publisherID, models.PublisherConfig{QuestionsPerBlog: 3})
	require.NoError(t, err)
	require.True(t, created)

	claimed, err := q.ClaimNext(ctx, "w-dead")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	return claimed
}

func TestReclaimPassReleasesTerminalSlots(t *testing.T) {
	h := setupMaintenance(t, 1)
	ctx := context.Background()
	job := claimJob(t, h.queue, "https://example.com/stale", "pub-9")

	h.svc.reclaimPass(ctx)

	settled, err := h.queue.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, settled.Status)
	assert.True(t, settled.IsTerminal())
	assert.Equal(t, models.ErrorTypeUnknown, settled.ErrorType)
	assert.Equal(t, []string{"pub-9:false"}, h.registry.released())
}

func TestReclaimPassRequeuesWhileRetriesRemain(t *testing.T) {
	h := setupMaintenance(t, 3)
	ctx := context.Background()
	job := claimJob(t, h.queue, "https://example.com/retry", "pub-9")

	h.svc.reclaimPass(ctx)

	requeued, err := h.queue.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, requeued.Status)
	assert.Equal(t, 1, requeued.FailureCount)
	// The retry still owns the slot.
	assert.Empty(t, h.registry.released())

	// And the job is claimable again.
	claimed, err := h.queue.ClaimNext(ctx, "w-2")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
}

func TestReclaimPassIgnoresFreshLeases(t *testing.T) {
	h := setupMaintenance(t, 3)
	h.svc.staleAfter = 10 * time.Minute
	ctx := context.Background()
	job := claimJob(t, h.queue, "https://example.com/fresh", "pub-9")

	h.svc.reclaimPass(ctx)

	current, err := h.queue.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, current.Status)
	assert.Empty(t, h.registry.released())
}

func TestReleaseReclaimedSlots(t *testing.T) {
	h := setupMaintenance(t, 3)

	h.svc.releaseReclaimedSlots(context.Background(), []models.ReclaimedJob{
		{JobID: "j1", PublisherID: "pub-1", Terminal: true},
		{JobID: "j2", PublisherID: "pub-2", Terminal: false},
		{JobID: "j3", PublisherID: "", Terminal: true},
	})

	// Only the terminal reclaim with a publisher returns its slot.
	assert.Equal(t, []string{"pub-1:false"}, h.registry.released())
}

func TestStartStopLifecycle(t *testing.T) {
	h := setupMaintenance(t, 3)

	require.NoError(t, h.svc.Start())
	assert.True(t, h.svc.IsRunning())
	assert.Error(t, h.svc.Start(), "second start must be rejected")

	require.NoError(t, h.svc.Stop())
	assert.False(t, h.svc.IsRunning())
	assert.NoError(t, h.svc.Stop(), "stop is idempotent")
}
