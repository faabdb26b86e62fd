package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"clinicledger/internal/config"
	"clinicledger/internal/storage"
	"clinicledger/pkg/contracts/domain"
)

var (
	// ErrQueueFull is returned by Enqueue when the buffer has no room.
	ErrQueueFull = errors.New("job queue is full")
	// ErrQueueStopped is returned by Enqueue after Stop.
	ErrQueueStopped = errors.New("job queue stopped")
)

// interruptedMessage is recorded on uploads a previous process left running.
const interruptedMessage = "processing interrupted by restart"

// Runner executes one claimed upload.
type Runner interface {
	Run(ctx context.Context, upload *domain.UploadHistory) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, upload *domain.UploadHistory) error

func (f RunnerFunc) Run(ctx context.Context, upload *domain.UploadHistory) error {
	return f(ctx, upload)
}

// JobQueue runs pending uploads on a fixed pool of workers.
type JobQueue struct {
	mu       sync.Mutex
	jobs     chan string
	workers  int
	wg       sync.WaitGroup
	uploads  storage.UploadRepository
	runner   Runner
	logger   *slog.Logger
	shutdown chan struct{}
	started  bool
	stopped  bool
	queued   map[string]bool
	active   map[string]time.Time
	now      func() time.Time
}

// NewJobQueue creates a queue. Workers are started by Start.
func NewJobQueue(cfg config.QueueConfig, uploads storage.UploadRepository, runner Runner, logger *slog.Logger) *JobQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Size <= 0 {
		cfg.Size = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JobQueue{
		jobs:     make(chan string, cfg.Size),
		workers:  cfg.Workers,
		uploads:  uploads,
		runner:   runner,
		logger:   logger.With(slog.String("component", "job_queue")),
		shutdown: make(chan struct{}),
		queued:   make(map[string]bool),
		active:   make(map[string]time.Time),
		now:      time.Now,
	}
}

// Start recovers interrupted work and launches the workers.
func (q *JobQueue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return nil
	}
	q.started = true
	q.mu.Unlock()

	q.logger.InfoContext(ctx, "starting job queue", slog.Int("workers", q.workers))

	if err := q.recover(ctx); err != nil {
		return err
	}

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
	return nil
}

// recover fails uploads stranded in processing and re-enqueues pending ones.
func (q *JobQueue) recover(ctx context.Context) error {
	failed, err := q.uploads.FailProcessing(ctx, interruptedMessage)
	if err != nil {
		return fmt.Errorf("fail interrupted uploads: %w", err)
	}
	if failed > 0 {
		q.logger.WarnContext(ctx, "marked interrupted uploads as failed", slog.Int("count", failed))
	}

	n, err := q.EnqueuePending(ctx, q.now())
	if err != nil {
		return err
	}
	if n > 0 {
		q.logger.InfoContext(ctx, "recovered pending uploads", slog.Int("count", n))
	}
	return nil
}

// EnqueuePending enqueues pending uploads created before olderThan and
// returns how many were accepted.
func (q *JobQueue) EnqueuePending(ctx context.Context, olderThan time.Time) (int, error) {
	ids, err := q.uploads.PendingIDs(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("list pending uploads: %w", err)
	}
	n := 0
	for _, id := range ids {
		switch err := q.Enqueue(id); {
		case err == nil:
			n++
		case errors.Is(err, ErrQueueFull):
			q.logger.WarnContext(ctx, "queue full, leaving uploads pending", slog.Int("remaining", len(ids)-n))
			return n, nil
		default:
			return n, err
		}
	}
	return n, nil
}

// Stop signals the workers and waits up to timeout for running jobs.
func (q *JobQueue) Stop(timeout time.Duration) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	close(q.shutdown)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("job queue stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for %d running jobs", q.Stats().Active)
	}
}

// Enqueue schedules an upload id. Ids already queued or running are accepted
// without being queued twice.
func (q *JobQueue) Enqueue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return ErrQueueStopped
	}
	if q.queued[id] {
		return nil
	}
	if _, running := q.active[id]; running {
		return nil
	}

	select {
	case q.jobs <- id:
		q.queued[id] = true
		q.logger.Debug("upload enqueued", slog.String("upload_id", id))
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *JobQueue) worker(n int) {
	defer q.wg.Done()
	logger := q.logger.With(slog.Int("worker", n))
	for {
		select {
		case <-q.shutdown:
			logger.Debug("worker shutting down")
			return
		case id := <-q.jobs:
			q.process(id, logger)
		}
	}
}

func (q *JobQueue) process(id string, logger *slog.Logger) {
	q.mu.Lock()
	delete(q.queued, id)
	q.active[id] = q.now()
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		delete(q.active, id)
		q.mu.Unlock()
	}()

	// Jobs run to completion even when the queue is stopping.
	ctx := context.WithoutCancel(context.Background())
	logger = logger.With(slog.String("upload_id", id))

	upload, err := q.uploads.Claim(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			logger.Debug("upload already claimed or no longer pending")
			return
		}
		logger.Error("failed to claim upload", slog.String("error", err.Error()))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("upload runner panicked", slog.Any("panic", r))
			q.markFailed(ctx, upload, fmt.Sprintf("panic: %v", r))
		}
	}()

	start := q.now()
	if err := q.runner.Run(ctx, upload); err != nil {
		logger.Error("upload run failed", slog.String("error", err.Error()))
		return
	}
	logger.Info("upload run finished", slog.Duration("duration", q.now().Sub(start)))
}

func (q *JobQueue) markFailed(ctx context.Context, upload *domain.UploadHistory, message string) {
	now := q.now().UTC()
	upload.Status = domain.UploadStatusFailed
	upload.Errors = append(upload.Errors, domain.UploadError{Kind: domain.UploadErrorFatal, Message: message})
	upload.CompletedAt = &now
	if err := q.uploads.Update(ctx, upload); err != nil {
		q.logger.ErrorContext(ctx, "failed to record upload failure",
			slog.String("upload_id", upload.ID), slog.String("error", err.Error()))
	}
}

// QueueStats is a point-in-time view of the queue.
type QueueStats struct {
	Workers  int `json:"workers"`
	Queued   int `json:"queued"`
	Active   int `json:"active"`
	Capacity int `json:"capacity"`
}

// Stats returns current queue occupancy.
func (q *JobQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Workers:  q.workers,
		Queued:   len(q.queued),
		Active:   len(q.active),
		Capacity: cap(q.jobs),
	}
}
