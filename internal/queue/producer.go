package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/proctor/internal/restoration"
)

// Producer publishes cleanup tasks to the queue
type Producer struct {
	pub Publisher
	now func() time.Time
}

// NewProducer creates a new queue producer
func NewProducer(pub Publisher) *Producer {
	return &Producer{pub: pub, now: time.Now}
}

// Enqueue publishes a backup cleanup task
func (p *Producer) Enqueue(ctx context.Context, task restoration.CleanupTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = p.now()
	}

	if err := p.pub.PublishJSON(ctx, CleanupQueueName, task); err != nil {
		return fmt.Errorf("failed to publish cleanup task: %w", err)
	}

	slog.Debug("published cleanup task",
		"task_id", task.ID,
		"user_id", task.UserID,
		"storage_key", task.StorageKey,
		"state_label", task.StateLabel,
	)

	return nil
}

// Ensure Producer implements the restoration task queue
var _ restoration.TaskQueue = (*Producer)(nil)
