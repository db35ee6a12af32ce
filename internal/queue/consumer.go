package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/felixgeelhaar/proctor/internal/restoration"
)

// TaskHandler processes a cleanup task
type TaskHandler func(ctx context.Context, task restoration.CleanupTask) error

// ErrMalformedTask marks a task that can never be processed.
var ErrMalformedTask = errors.New("malformed cleanup task")

// NewCleanupHandler returns a handler deleting the backup a task names.
func NewCleanupHandler(backups restoration.BackupStore) TaskHandler {
	return func(ctx context.Context, task restoration.CleanupTask) error {
		if task.UserID == "" || task.StorageKey == "" {
			return fmt.Errorf("%w: task %s has no user or storage key", ErrMalformedTask, task.ID)
		}
		return backups.Delete(ctx, task.UserID, task.StorageKey)
	}
}

// disposition is what happens to a delivery once handled.
type disposition int

const (
	dispositionAck disposition = iota
	dispositionRequeue
	dispositionReject
)

// Consumer consumes cleanup tasks from the queue
type Consumer struct {
	conn       *Connection
	handler    TaskHandler
	workers    int
	prefetch   int
	timeout    time.Duration
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Workers     int           `yaml:"workers"`      // Number of concurrent workers
	Prefetch    int           `yaml:"prefetch"`     // Prefetch count per worker
	TaskTimeout time.Duration `yaml:"task_timeout"` // Deadline of one task
}

// DefaultConsumerConfig returns sensible defaults
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Workers:     3,
		Prefetch:    1,
		TaskTimeout: 10 * time.Second,
	}
}

func (cfg ConsumerConfig) withDefaults() ConsumerConfig {
	def := DefaultConsumerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = def.Prefetch
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = def.TaskTimeout
	}
	return cfg
}

// NewConsumer creates a new queue consumer
func NewConsumer(conn *Connection, handler TaskHandler, cfg ConsumerConfig) *Consumer {
	cfg = cfg.withDefaults()
	return &Consumer{
		conn:     conn,
		handler:  handler,
		workers:  cfg.Workers,
		prefetch: cfg.Prefetch,
		timeout:  cfg.TaskTimeout,
		logger:   slog.Default().With("component", "cleanup-consumer"),
	}
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancelFunc = context.WithCancel(ctx)

	ch := c.conn.Channel()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		CleanupQueueName,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (manual ack for reliability)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("starting cleanup consumer", "workers", c.workers, "prefetch", c.prefetch)

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i, msgs)
	}

	return nil
}

// worker processes messages from the queue
func (c *Consumer) worker(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("worker stopping", "worker_id", id)
			return

		case msg, ok := <-msgs:
			if !ok {
				c.logger.Info("message channel closed", "worker_id", id)
				return
			}
			c.settle(id, msg, c.handle(ctx, id, msg.Body, msg.Redelivered))
		}
	}
}

// handle runs the handler on one message body. A failed task is requeued
// once; a task failing again, or one that can never succeed, is rejected to
// the dead letter queue.
func (c *Consumer) handle(ctx context.Context, workerID int, body []byte, redelivered bool) disposition {
	var task restoration.CleanupTask
	if err := json.Unmarshal(body, &task); err != nil {
		c.logger.Error("failed to unmarshal cleanup task",
			"worker_id", workerID,
			"error", err,
		)
		return dispositionReject
	}

	taskCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.handler(taskCtx, task)
	if err == nil {
		c.logger.Info("backup cleaned up",
			"worker_id", workerID,
			"task_id", task.ID,
			"storage_key", task.StorageKey,
			"state_label", task.StateLabel,
			"duration", time.Since(start),
		)
		return dispositionAck
	}

	c.logger.Error("cleanup task failed",
		"worker_id", workerID,
		"task_id", task.ID,
		"storage_key", task.StorageKey,
		"redelivered", redelivered,
		"error", err,
	)
	if errors.Is(err, ErrMalformedTask) || redelivered {
		return dispositionReject
	}
	return dispositionRequeue
}

func (c *Consumer) settle(workerID int, msg amqp.Delivery, d disposition) {
	var err error
	switch d {
	case dispositionAck:
		err = msg.Ack(false)
	case dispositionRequeue:
		err = msg.Nack(false, true)
	default:
		err = msg.Reject(false)
	}
	if err != nil {
		c.logger.Error("failed to settle message", "worker_id", workerID, "error", err)
	}
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()
	c.logger.Info("consumer stopped")
}
