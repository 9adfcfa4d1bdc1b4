package pipeline

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/respondeo/internal/interfaces"
)

// reservation is the quota slot the job has held since enqueue. Exactly
// one settlement is allowed: release(true) on completion, release(false)
// on skip or terminal failure. Transient failures never call release,
// leaving the slot with the requeued job.
type reservation struct {
	registry    interfaces.PublisherRegistry
	publisherID string
	logger      arbor.ILogger

	mu       sync.Mutex
	released bool
}

func newReservation(registry interfaces.PublisherRegistry, publisherID string, logger arbor.ILogger) *reservation {
	return &reservation{
		registry:    registry,
		publisherID: publisherID,
		logger:      logger,
	}
}

// release returns the slot to the publisher. Safe to call more than
// once; only the first call reaches storage. Jobs without a publisher
// hold no slot, so release is a no-op for them.
func (r *reservation) release(ctx context.Context, processed bool) {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	r.mu.Unlock()

	if r.publisherID == "" {
		return
	}
	if err := r.registry.ReleaseBlogSlot(ctx, r.publisherID, processed); err != nil {
		// The slot leaks until an operator reconciles counters; surface
		// loudly rather than failing the already-settled job.
		r.logger.Error().Err(err).
			Str("publisher_id", r.publisherID).
			Bool("processed", processed).
			Msg("Failed to release blog slot")
	}
}
