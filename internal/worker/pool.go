package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"docsum/internal/queue"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler processes the document named by a job.
type Handler func(ctx context.Context, documentID uuid.UUID) error

// JobSource is the queue the pool pulls from.
type JobSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Ack(ctx context.Context, job *queue.Job) error
	Recover(ctx context.Context) (int, error)
}

// Pool runs a fixed number of workers pulling jobs off the queue.
type Pool struct {
	jobs        JobSource
	logger      *zap.Logger
	handlers    map[string]Handler
	concurrency int
	pollTimeout time.Duration
}

func NewPool(jobs JobSource, concurrency int, pollTimeout time.Duration, logger *zap.Logger) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{
		jobs:        jobs,
		logger:      logger,
		handlers:    make(map[string]Handler),
		concurrency: concurrency,
		pollTimeout: pollTimeout,
	}
}

// Register binds a task name to its handler. Call before Start.
func (p *Pool) Register(task string, h Handler) {
	p.handlers[task] = h
}

// Start runs the workers and blocks until ctx is cancelled and every
// in-flight job has finished.
func (p *Pool) Start(ctx context.Context) {
	if n, err := p.jobs.Recover(ctx); err != nil {
		p.logger.Error("Failed to recover unacknowledged jobs", zap.Error(err))
	} else if n > 0 {
		p.logger.Info("Requeued unacknowledged jobs", zap.Int("count", n))
	}

	p.logger.Info("Worker pool started. Waiting for jobs...", zap.Int("concurrency", p.concurrency))

	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.loop(ctx, p.logger.With(zap.Int("worker", n)))
		}(i)
	}
	wg.Wait()

	p.logger.Info("Worker pool shutting down")
}

func (p *Pool) loop(ctx context.Context, logger *zap.Logger) {
	for ctx.Err() == nil {
		job, err := p.jobs.Dequeue(ctx, p.pollTimeout)
		if errors.Is(err, queue.ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("Queue error", zap.Error(err))
			sleep(ctx, time.Second)
			continue
		}

		p.handle(ctx, job, logger)
	}
}

func (p *Pool) handle(ctx context.Context, job *queue.Job, logger *zap.Logger) {
	logger = logger.With(zap.String("task", job.Task), zap.String("job_id", job.DocumentID.String()))

	h, ok := p.handlers[job.Task]
	if !ok {
		logger.Warn("No handler registered for task")
	} else if err := h(ctx, job.DocumentID); errors.Is(err, ErrInterrupted) || (err != nil && ctx.Err() != nil) {
		// stays on the processing list until Recover on next start
		logger.Info("Job left unacknowledged for redelivery")
		return
	} else if err != nil {
		logger.Error("Job handler failed", zap.Error(err))
	}

	if err := p.jobs.Ack(context.WithoutCancel(ctx), job); err != nil {
		logger.Error("Failed to acknowledge job", zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
