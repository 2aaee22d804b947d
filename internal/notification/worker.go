package notification

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Sender delivers one text notice to a single channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// WorkerPool manages a pool of workers for sending notifications. Delivery is
// best effort: failures are logged and never reach the caller.
type WorkerPool struct {
	size    int
	jobs    chan string
	senders []Sender
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewWorkerPool creates a new worker pool fanning out to senders.
func NewWorkerPool(size, queueSize int, logger *zap.Logger, senders ...Sender) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if queueSize <= 0 {
		queueSize = size
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan string, queueSize), // Buffered channel
		senders: senders,
		logger:  logger,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}
}

// Wait blocks until every worker has returned after ctx was cancelled.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()
	wp.logger.Debug("Notification worker started", zap.Int("worker", id))
	for {
		select {
		case text := <-wp.jobs:
			wp.deliver(ctx, text)
		case <-ctx.Done():
			wp.logger.Debug("Notification worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Notify queues text without blocking. A full queue drops the notice.
func (wp *WorkerPool) Notify(text string) {
	select {
	case wp.jobs <- text:
	default:
		wp.logger.Warn("Notification queue full, dropping notice", zap.Int("queued", len(wp.jobs)))
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan string {
	return wp.jobs
}

func (wp *WorkerPool) deliver(ctx context.Context, text string) {
	for _, s := range wp.senders {
		if err := s.Send(ctx, text); err != nil {
			wp.logger.Warn("Failed to send notification", zap.String("sender", s.Name()), zap.Error(err))
		}
	}
}
