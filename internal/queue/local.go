package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/proctor/internal/restoration"
)

// ErrQueueFull is returned by LocalQueue.Enqueue when the buffer is full.
var ErrQueueFull = errors.New("cleanup queue full")

// ErrQueueClosed is returned by LocalQueue.Enqueue after Close.
var ErrQueueClosed = errors.New("cleanup queue closed")

// LocalQueue is an in-process cleanup queue used when no broker is
// configured. Tasks are lost if the process stops before they run; the
// backups they name are then consumed again by a later restoration.
type LocalQueue struct {
	mu     sync.RWMutex
	tasks  chan restoration.CleanupTask
	closed bool
}

// NewLocalQueue creates a local queue buffering up to size tasks
func NewLocalQueue(size int) *LocalQueue {
	if size <= 0 {
		size = 256
	}
	return &LocalQueue{tasks: make(chan restoration.CleanupTask, size)}
}

// Enqueue buffers a task without blocking
func (q *LocalQueue) Enqueue(_ context.Context, task restoration.CleanupTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the number of buffered tasks
func (q *LocalQueue) Len() int {
	return len(q.tasks)
}

// Close stops accepting tasks. Run drains the buffered tasks then returns.
func (q *LocalQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
}

// Run processes tasks until ctx is cancelled or the queue is closed and
// drained. Failed tasks are logged and dropped.
func (q *LocalQueue) Run(ctx context.Context, handler TaskHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-q.tasks:
			if !ok {
				return
			}
			if err := handler(ctx, task); err != nil {
				slog.Warn("cleanup task failed",
					"task_id", task.ID,
					"storage_key", task.StorageKey,
					"error", err)
				continue
			}
			slog.Debug("backup cleaned up", "task_id", task.ID, "storage_key", task.StorageKey)
		}
	}
}

// Ensure LocalQueue implements the restoration task queue
var _ restoration.TaskQueue = (*LocalQueue)(nil)
