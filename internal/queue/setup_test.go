package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// captureEvents records published events for assertions.
type captureEvents struct {
	mu     sync.Mutex
	events []interfaces.Event
}

func (c *captureEvents) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	return nil
}

func (c *captureEvents) SubscribeAll(handler interfaces.EventHandler) error {
	return nil
}

func (c *captureEvents) Publish(ctx context.Context, event interfaces.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureEvents) PublishSync(ctx context.Context, event interfaces.Event) error {
	return c.Publish(ctx, event)
}

func (c *captureEvents) Close() error {
	return nil
}

func (c *captureEvents) byType(eventType interfaces.EventType) []interfaces.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []interfaces.Event
	for _, e := range c.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func setupTestQueue(t *testing.T) (interfaces.QueueManager, *captureEvents) {
	t.Helper()
	return setupTestQueueRetries(t, 3)
}

func setupTestQueueRetries(t *testing.T, maxRetries int) (interfaces.QueueManager, *captureEvents) {
	t.Helper()

	opts := badgerhold.DefaultOptions
	opts.Dir = t.TempDir()
	opts.ValueDir = opts.Dir
	opts.Logger = nil

	store, err := badgerhold.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})

	events := &captureEvents{}
	return NewManager(store, events, arbor.NewLogger(), maxRetries), events
}

// backdateHeartbeat rewrites a job's heartbeat to age ago, simulating
// a worker that went silent.
func backdateHeartbeat(t *testing.T, mgr interfaces.QueueManager, jobID string, age time.Duration) {
	t.Helper()
	m, ok := mgr.(*Manager)
	require.True(t, ok)

	var job models.ProcessingJob
	require.NoError(t, m.store.Get(jobID, &job))
	old := time.Now().Add(-age)
	job.HeartbeatAt = &old
	require.NoError(t, m.store.Update(jobID, job))
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
