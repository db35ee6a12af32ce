package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/proctor/internal/domain"
	"github.com/felixgeelhaar/proctor/internal/restoration"
)

type memBackups struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (m *memBackups) Restore(context.Context, string, string) ([]byte, error) {
	return nil, domain.ErrBackupNotFound
}

func (m *memBackups) Delete(_ context.Context, userID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, userID+"/"+key)
	return nil
}

func newTestConsumer(handler TaskHandler) *Consumer {
	return &Consumer{handler: handler, timeout: time.Second, logger: slog.Default()}
}

func taskBody(t *testing.T, task restoration.CleanupTask) []byte {
	t.Helper()
	body, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	return body
}

func TestConsumer_Handle(t *testing.T) {
	valid := restoration.CleanupTask{ID: "t-1", UserID: "u-1", StorageKey: "exec-1", StateLabel: restoration.LabelTestSession}

	tests := []struct {
		name        string
		body        []byte
		deleteErr   error
		redelivered bool
		want        disposition
		deleted     int
	}{
		{"success", taskBody(t, valid), nil, false, dispositionAck, 1},
		{"malformed json", []byte("{not json"), nil, false, dispositionReject, 0},
		{"missing storage key", taskBody(t, restoration.CleanupTask{ID: "t-2", UserID: "u-1"}), nil, false, dispositionReject, 0},
		{"transient failure requeued", taskBody(t, valid), errors.New("disk busy"), false, dispositionRequeue, 0},
		{"second failure rejected", taskBody(t, valid), errors.New("disk busy"), true, dispositionReject, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backups := &memBackups{err: tt.deleteErr}
			c := newTestConsumer(NewCleanupHandler(backups))

			got := c.handle(context.Background(), 0, tt.body, tt.redelivered)
			if got != tt.want {
				t.Errorf("handle() = %v; want %v", got, tt.want)
			}
			if len(backups.deleted) != tt.deleted {
				t.Errorf("deleted %v; want %d deletions", backups.deleted, tt.deleted)
			}
		})
	}
}

func TestConsumer_HandleTimeout(t *testing.T) {
	c := newTestConsumer(func(ctx context.Context, _ restoration.CleanupTask) error {
		<-ctx.Done()
		return ctx.Err()
	})
	c.timeout = 10 * time.Millisecond

	body := taskBody(t, restoration.CleanupTask{ID: "t", UserID: "u", StorageKey: "k"})
	if got := c.handle(context.Background(), 0, body, false); got != dispositionRequeue {
		t.Errorf("handle() = %v; want requeue", got)
	}
}

type recordingPublisher struct {
	queue string
	data  any
	err   error
}

func (p *recordingPublisher) PublishJSON(_ context.Context, queue string, data any) error {
	p.queue, p.data = queue, data
	return p.err
}

func TestProducer_Enqueue(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewProducer(pub)
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	err := p.Enqueue(context.Background(), restoration.CleanupTask{UserID: "u-1", StorageKey: "timeline:exec-1", StateLabel: restoration.LabelTimeline})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if pub.queue != CleanupQueueName {
		t.Errorf("published to %q; want %q", pub.queue, CleanupQueueName)
	}
	task, ok := pub.data.(restoration.CleanupTask)
	if !ok {
		t.Fatalf("published %T; want CleanupTask", pub.data)
	}
	if task.ID == "" || !task.CreatedAt.Equal(fixed) {
		t.Errorf("task = %+v; want generated ID and creation time", task)
	}

	pub.err = errors.New("channel closed")
	if err := p.Enqueue(context.Background(), restoration.CleanupTask{}); !errors.Is(err, pub.err) {
		t.Errorf("Enqueue() error = %v; want wrapped publish error", err)
	}
}
