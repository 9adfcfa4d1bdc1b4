package queue

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/respondeo/internal/common"
	"github.com/ternarybob/respondeo/internal/interfaces"
	"github.com/ternarybob/respondeo/internal/models"
)

// WorkerPool runs a fixed set of worker goroutines that poll the queue
// and hand claimed jobs to the processor. Workers drain the queue on
// each tick, so a burst of enqueues is worked off back to back instead
// of one job per poll interval.
type WorkerPool struct {
	manager   interfaces.QueueManager
	processor interfaces.JobProcessor
	config    common.QueueConfig
	logger    arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewWorkerPool creates a worker pool. Workers are not started until
// Start is called.
func NewWorkerPool(manager interfaces.QueueManager, processor interfaces.JobProcessor, config common.QueueConfig, logger arbor.ILogger) interfaces.WorkerPool {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 30 * time.Second
	}
	return &WorkerPool{
		manager:   manager,
		processor: processor,
		config:    config,
		logger:    logger,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return fmt.Errorf("worker pool already started")
	}

	wp.ctx, wp.cancel = context.WithCancel(ctx)
	wp.started = true

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "worker"
	}

	for i := 0; i < wp.config.Concurrency; i++ {
		workerID := fmt.Sprintf("%s-w%d", hostname, i+1)
		wp.wg.Add(1)
		go wp.runWorker(i, workerID)
	}

	wp.logger.Info().
		Int("concurrency", wp.config.Concurrency).
		Str("poll_interval", wp.config.PollInterval.String()).
		Msg("Worker pool started")

	return nil
}

// Stop signals all workers and waits for in-flight jobs to finish.
func (wp *WorkerPool) Stop() error {
	wp.mu.Lock()
	if !wp.started {
		wp.mu.Unlock()
		return nil
	}
	wp.started = false
	cancel := wp.cancel
	wp.mu.Unlock()

	cancel()
	wp.wg.Wait()

	wp.logger.Info().Msg("Worker pool stopped")
	return nil
}

// WorkerCount returns the configured concurrency.
func (wp *WorkerPool) WorkerCount() int {
	return wp.config.Concurrency
}

// IsRunning reports whether the workers are live.
func (wp *WorkerPool) IsRunning() bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.started
}

// runWorker is the poll loop for one worker goroutine. Start times are
// staggered across the poll interval so workers do not hit the store
// in lockstep.
func (wp *WorkerPool) runWorker(index int, workerID string) {
	defer wp.wg.Done()

	staggerDelay := (wp.config.PollInterval / time.Duration(wp.config.Concurrency)) * time.Duration(index)
	select {
	case <-wp.ctx.Done():
		return
	case <-time.After(staggerDelay):
	}

	wp.logger.Debug().Str("worker_id", workerID).Msg("Worker started")

	ticker := time.NewTicker(wp.config.PollInterval)
	defer ticker.Stop()

	// Work whatever is already queued before the first tick.
	wp.drainQueue(workerID)

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().Str("worker_id", workerID).Msg("Worker stopping")
			return
		case <-ticker.C:
			wp.drainQueue(workerID)
		}
	}
}

// drainQueue claims and processes jobs until the queue is empty or the
// pool is stopping.
func (wp *WorkerPool) drainQueue(workerID string) {
	for {
		select {
		case <-wp.ctx.Done():
			return
		default:
		}

		job, err := wp.manager.ClaimNext(wp.ctx, workerID)
		if err != nil {
			wp.logger.Warn().Err(err).Str("worker_id", workerID).Msg("Failed to claim job")
			return
		}
		if job == nil {
			return
		}

		wp.processJob(job, workerID)
	}
}

// processJob runs one claimed job under a heartbeat. The processor
// settles the job itself; errors and panics reaching here mean it
// could not, and the failure is recorded as a backstop.
func (wp *WorkerPool) processJob(job *models.ProcessingJob, workerID string) {
	start := time.Now()

	jobCtx, cancelJob := context.WithCancel(wp.ctx)
	defer cancelJob()

	// Heartbeat until the job returns. The lease outlives a worker
	// only when the whole process dies, which is what ReclaimStale
	// exists for.
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		hbTicker := time.NewTicker(wp.config.HeartbeatInterval)
		defer hbTicker.Stop()
		for {
			select {
			case <-jobCtx.Done():
				return
			case <-hbTicker.C:
				if err := wp.manager.Heartbeat(jobCtx, job.ID, workerID); err != nil {
					wp.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Heartbeat failed")
				}
			}
		}
	}()

	err := wp.safeProcess(jobCtx, job, workerID)

	cancelJob()
	<-hbDone

	if err != nil {
		errorType := models.ClassifyJobError(err)
		terminal, failErr := wp.manager.Fail(wp.ctx, job.ID, errorType, err.Error())
		if failErr != nil {
			wp.logger.Error().Err(failErr).Str("job_id", job.ID).Msg("Failed to record job failure")
			return
		}
		wp.logger.Warn().
			Str("job_id", job.ID).
			Str("worker_id", workerID).
			Str("error_type", string(errorType)).
			Bool("terminal", terminal).
			Str("duration", time.Since(start).String()).
			Msg("Job attempt failed")
		return
	}

	wp.logger.Info().
		Str("job_id", job.ID).
		Str("worker_id", workerID).
		Str("duration", time.Since(start).String()).
		Msg("Job processed")
}

// safeProcess invokes the processor with panic isolation. A panicking
// job must not take its worker goroutine down with it.
func (wp *WorkerPool) safeProcess(ctx context.Context, job *models.ProcessingJob, workerID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stackTrace := common.GetStackTrace()
			wp.logger.Error().
				Str("job_id", job.ID).
				Str("worker_id", workerID).
				Str("stack", stackTrace).
				Msg(fmt.Sprintf("Job processor panicked: %v", r))
			common.WriteCrashFile(r, stackTrace)
			err = models.NewJobError(models.ErrorTypeUnknown, fmt.Errorf("panic: %v", r))
		}
	}()
	return wp.processor.Process(ctx, job, workerID)
}
