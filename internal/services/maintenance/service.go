// -----------------------------------------------------------------------
// Maintenance - scheduled stale-lease reclaim, badger GC, log cleanup
// -----------------------------------------------------------------------

package maintenance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/respondeo/internal/common"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/models"
	"github.com/ternarybob/respondeo/internal/storage/badger"
)

const (
	gcSchedule         = "0 * * * *" // hourly
	logCleanupSchedule = "0 3 * * *" // daily, 03:00
	gcDiscardRatio     = 0.5
	logRetention       = 7 * 24 * time.Hour
	taskTimeout        = time.Minute
)

// Service runs the background janitor tasks: the stale-lease reclaim
// pass, Badger value-log garbage collection, and aged log file cleanup.
// Reclaims that dead-letter a job release the publisher's quota slot,
// which is the safety net for workers that died holding one.
type Service struct {
	queue      interfaces.QueueManager
	registry   interfaces.PublisherRegistry
	db         *badger.BadgerDB
	staleAfter time.Duration
	schedule   string
	logger     arbor.ILogger

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
	busy    map[string]bool
}

// NewService wires the maintenance scheduler. The reclaim cadence comes
// from queue.reclaim_schedule; GC and log cleanup run on fixed schedules.
func NewService(queueMgr interfaces.QueueManager, registry interfaces.PublisherRegistry, db *badger.BadgerDB, cfg *common.Config, logger arbor.ILogger) *Service {
	schedule := cfg.Queue.ReclaimSchedule
	if schedule == "" {
		schedule = "*/1 * * * *"
	}
	return &Service{
		queue:      queueMgr,
		registry:   registry,
		db:         db,
		staleAfter: cfg.Queue.StaleAfter,
		schedule:   schedule,
		logger:     logger,
		cron:       cron.New(),
		busy:       make(map[string]bool),
	}
}

// Start registers the tasks and starts the scheduler. An immediate
// reclaim pass runs in the background so leases lost to a crashed
// process recover without waiting out the first cron tick.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("maintenance scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.runTask("reclaim", s.reclaimPass) }); err != nil {
		return fmt.Errorf("failed to schedule reclaim pass: %w", err)
	}
	if _, err := s.cron.AddFunc(gcSchedule, func() { s.runTask("badger-gc", s.valueLogGC) }); err != nil {
		return fmt.Errorf("failed to schedule badger gc: %w", err)
	}
	if _, err := s.cron.AddFunc(logCleanupSchedule, func() { s.runTask("log-cleanup", s.logCleanup) }); err != nil {
		return fmt.Errorf("failed to schedule log cleanup: %w", err)
	}

	s.cron.Start()
	s.running = true

	go s.runTask("reclaim", s.reclaimPass)

	s.logger.Info().
		Str("reclaim_schedule", s.schedule).
		Str("stale_after", s.staleAfter.String()).
		Msg("Maintenance scheduler started")
	return nil
}

// Stop halts the scheduler. Tasks already running finish on their own.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.cron.Stop()
	s.running = false
	s.logger.Info().Msg("Maintenance scheduler stopped")
	return nil
}

// IsRunning reports whether the scheduler is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// runTask executes one named task with panic recovery and an overlap
// guard. A tick that fires while the previous run of the same task is
// still going is dropped, not queued.
func (s *Service) runTask(name string, task func(ctx context.Context)) {
	s.mu.Lock()
	if s.busy[name] {
		s.mu.Unlock()
		s.logger.Debug().Str("task", name).Msg("Maintenance task still running, skipping tick")
		return
	}
	s.busy[name] = true
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("task", name).
				Str("stack", common.GetStackTrace()).
				Msg(fmt.Sprintf("Maintenance task panicked: %v", r))
		}
		s.mu.Lock()
		s.busy[name] = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
	defer cancel()
	task(ctx)
}

// reclaimPass fails every job whose lease went silent past staleAfter
// and returns quota slots held by reclaims that dead-lettered.
func (s *Service) reclaimPass(ctx context.Context) {
	reclaimed, err := s.queue.ReclaimStale(ctx, time.Now(), s.staleAfter)
	if err != nil {
		s.logger.Error().Err(err).Msg("Stale-lease reclaim pass failed")
		return
	}
	if len(reclaimed) == 0 {
		return
	}

	s.releaseReclaimedSlots(ctx, reclaimed)
	s.logger.Info().
		Int("reclaimed", len(reclaimed)).
		Msg("Stale leases reclaimed")
}

// releaseReclaimedSlots returns the quota slot of every reclaim that
// exhausted its retries. Requeued reclaims keep their slot; the retry
// still owns it.
func (s *Service) releaseReclaimedSlots(ctx context.Context, reclaimed []models.ReclaimedJob) {
	for _, r := range reclaimed {
		if !r.Terminal || r.PublisherID == "" {
			continue
		}
		if err := s.registry.ReleaseBlogSlot(ctx, r.PublisherID, false); err != nil {
			s.logger.Error().Err(err).
				Str("job_id", r.JobID).
				Str("publisher_id", r.PublisherID).
				Msg("Failed to release slot for dead-lettered reclaim")
		}
	}
}

// valueLogGC runs Badger value-log garbage collection until a round
// finds nothing to rewrite.
func (s *Service) valueLogGC(ctx context.Context) {
	if s.db == nil {
		return
	}
	rounds := 0
	for {
		if ctx.Err() != nil {
			break
		}
		err := s.db.RunValueLogGC(gcDiscardRatio)
		if err == nil {
			rounds++
			continue
		}
		if !errors.Is(err, badgerdb.ErrNoRewrite) {
			s.logger.Warn().Err(err).Msg("Badger value-log GC failed")
		}
		break
	}
	if rounds > 0 {
		s.logger.Info().Int("rounds", rounds).Msg("Badger value-log GC completed")
	}
}

// logCleanup deletes rotated log files older than the retention window.
// The active file keeps a fresh mtime and survives.
func (s *Service) logCleanup(ctx context.Context) {
	logPath := common.GetLogFilePath(s.logger)
	if logPath == "" {
		return
	}
	dir := filepath.Dir(logPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.logger.Warn().Err(err).Str("dir", dir).Msg("Cannot scan log directory")
		return
	}

	cutoff := time.Now().Add(-logRetention)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.Contains(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			s.logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to remove aged log file")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Aged log files cleaned up")
	}
}
