package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/go-pkgz/pool"
)

// ErrQueueClosed is returned by Enqueue after Close
var ErrQueueClosed = errors.New("pipeline queue is closed")

// Processor handles one queued message
type Processor interface {
	Process(ctx context.Context, messageID int64) error
}

// Job is a queued message
type Job struct {
	AccountID int64
	MessageID int64
}

// Workers is the bounded pool that runs pipeline work for all accounts.
// Jobs of one account always go to the same worker, in submission order.
type Workers struct {
	proc    Processor
	size    int
	logger  *slog.Logger
	pending atomic.Int64

	mu     sync.Mutex
	group  *pool.WorkerGroup[Job]
	cancel context.CancelFunc
	closed bool
}

// jobWorker implements pool.Worker for pipeline jobs
type jobWorker struct {
	w *Workers
}

// Do implements pool.Worker
func (j *jobWorker) Do(ctx context.Context, job Job) error {
	defer j.w.pending.Add(-1)

	if err := j.w.proc.Process(ctx, job.MessageID); err != nil {
		j.w.logger.Warn("message processing failed",
			"account_id", job.AccountID, "message_id", job.MessageID, "error", err)
	}
	return nil
}

// NewWorkers creates a pool of size workers
func NewWorkers(proc Processor, size int, logger *slog.Logger) *Workers {
	if size < 1 {
		size = 1
	}
	return &Workers{proc: proc, size: size, logger: logger.With("component", "workers")}
}

// Start launches the workers. Work runs on its own context, cancelled by
// Close once the drain deadline passes.
func (w *Workers) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.group != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.group = pool.New[Job](w.size, &jobWorker{w: w}).
		WithChunkFn(func(j Job) string { return strconv.FormatInt(j.AccountID, 10) }).
		WithBatchSize(1).
		WithWorkerChanSize(64).
		WithContinueOnError()
	if err := w.group.Go(ctx); err != nil {
		cancel()
		w.group = nil
		return err
	}
	w.cancel = cancel
	w.logger.Info("workers started", "size", w.size)
	return nil
}

// Enqueue queues a message for processing
func (w *Workers) Enqueue(_ context.Context, accountID, messageID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.group == nil {
		return ErrQueueClosed
	}
	w.pending.Add(1)
	w.group.Submit(Job{AccountID: accountID, MessageID: messageID})
	return nil
}

// Pending returns the number of queued or running jobs
func (w *Workers) Pending() int {
	return int(w.pending.Load())
}

// Close stops accepting work and waits for queued jobs until ctx is done
func (w *Workers) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed || w.group == nil {
		w.closed = true
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	group, cancel := w.group, w.cancel
	w.mu.Unlock()

	defer cancel()
	if err := group.Close(ctx); err != nil {
		return err
	}
	w.logger.Info("workers stopped")
	return nil
}
