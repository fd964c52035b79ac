// Package fs implements a durable messaging.Queue on any viant/afs supported
// storage.
//
// Layout under BaseURL:
//
//	pending/     published, not yet delivered
//	processing/  delivered, waiting for Ack or Nack
//	completed/   acknowledged
//	failed/      nacked, waiting for redelivery after RetryDelay
//	dlq/         retries exhausted
//
// Messages left in processing/ by a crashed process are moved back to
// pending/ when the queue is opened again. A base URL must be owned by one
// process at a time.
package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/storage"
	"github.com/viant/afs/url"
	"github.com/viant/tradegate/internal/clock"
	"github.com/viant/tradegate/service/messaging"
)

// MessageState represents the state of a message in the queue
type MessageState string

const (
	MessageStatePending    MessageState = "pending"
	MessageStateProcessing MessageState = "processing"
	MessageStateCompleted  MessageState = "completed"
	MessageStateFailed     MessageState = "failed"
	MessageStateDead       MessageState = "dead"
)

const (
	dirPending    = "pending"
	dirProcessing = "processing"
	dirCompleted  = "completed"
	dirFailed     = "failed"
	dirDLQ        = "dlq"
)

// Config holds configuration for the file system queue
type Config struct {
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	PollInterval time.Duration
	// KeepCompleted retains acknowledged messages under completed/.
	KeepCompleted bool
}

// DefaultConfig returns a default queue configuration rooted at baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		MaxRetries:    3,
		RetryDelay:    time.Second,
		PollInterval:  200 * time.Millisecond,
		KeepCompleted: true,
	}
}

// record is the persisted form of a message.
type record[T any] struct {
	ID        string       `json:"id"`
	Data      T            `json:"data"`
	State     MessageState `json:"state"`
	Error     string       `json:"error,omitempty"`
	Attempt   int          `json:"attempt"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Message implements messaging.Message for the file system queue
type Message[T any] struct {
	record    record[T]
	name      string
	queue     *Queue[T]
	mu        sync.Mutex
	processed bool
}

// ID returns the message id, stable across redeliveries.
func (m *Message[T]) ID() string { return m.record.ID }

// T returns the message payload
func (m *Message[T]) T() *T { return &m.record.Data }

// Attempt returns the delivery attempt, starting at 1.
func (m *Message[T]) Attempt() int { return m.record.Attempt }

// Ack moves the message from processing to completed.
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return fmt.Errorf("message %s already processed", m.record.ID)
	}
	m.processed = true
	return m.queue.complete(context.Background(), m)
}

// Nack moves the message to failed for redelivery, or to dlq once MaxRetries
// redeliveries were used.
func (m *Message[T]) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return fmt.Errorf("message %s already processed", m.record.ID)
	}
	m.processed = true
	if err != nil {
		m.record.Error = err.Error()
	}
	return m.queue.fail(context.Background(), m)
}

// Queue implements a file system backed messaging.Queue
type Queue[T any] struct {
	fs     afs.Service
	config Config
	clock  clock.Clock
	mu     sync.Mutex
	seq    int
	closed chan struct{}
	once   sync.Once
}

// Option customises a Queue.
type Option[T any] func(*Queue[T])

// WithClock sets the clock used for timestamps and retry delays.
func WithClock[T any](c clock.Clock) Option[T] {
	return func(q *Queue[T]) { q.clock = c }
}

// NewQueue opens the queue at config.BaseURL, creating its directories and
// returning undelivered processing messages to pending.
func NewQueue[T any](ctx context.Context, fs afs.Service, config Config, options ...Option[T]) (*Queue[T], error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("queue base URL cannot be empty")
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig("").PollInterval
	}
	q := &Queue[T]{fs: fs, config: config, clock: clock.Real(), closed: make(chan struct{})}
	for _, option := range options {
		option(q)
	}
	for _, dir := range []string{dirPending, dirProcessing, dirCompleted, dirFailed, dirDLQ} {
		location := q.dir(dir)
		if exists, _ := fs.Exists(ctx, location); exists {
			continue
		}
		if err := fs.Create(ctx, location, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", location, err)
		}
	}
	if err := q.recover(ctx); err != nil {
		return nil, err
	}
	return q, nil
}

// Publish writes a new message to pending.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	if t == nil {
		return fmt.Errorf("nil payload")
	}
	select {
	case <-q.closed:
		return messaging.ErrClosed
	default:
	}
	now := q.clock.Now()
	rec := &record[T]{ID: uuid.New().String(), Data: *t, State: MessageStatePending, Attempt: 1, CreatedAt: now, UpdatedAt: now}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	return q.write(ctx, dirPending, fmt.Sprintf("%020d-%06d-%s.json", now.UnixNano(), q.seq%1000000, rec.ID), rec)
}

// Consume blocks until a message is deliverable, ctx is done or the queue is
// closed. Failed messages whose retry delay elapsed are delivered before
// pending ones.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	for {
		select {
		case <-q.closed:
			return nil, messaging.ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		message, err := q.take(ctx)
		if err != nil || message != nil {
			return message, err
		}
		timer := time.NewTimer(q.config.PollInterval)
		select {
		case <-timer.C:
		case <-q.closed:
			timer.Stop()
			return nil, messaging.ErrClosed
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// Close stops delivery; stored messages stay on disk.
func (q *Queue[T]) Close() {
	q.once.Do(func() { close(q.closed) })
}

// Count returns the number of messages in state.
func (q *Queue[T]) Count(ctx context.Context, state MessageState) (int, error) {
	objects, err := q.list(ctx, stateDir(state))
	return len(objects), err
}

func (q *Queue[T]) take(ctx context.Context) (*Message[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	failed, err := q.list(ctx, dirFailed)
	if err != nil {
		return nil, err
	}
	now := q.clock.Now()
	for _, object := range failed {
		rec, err := q.read(ctx, object)
		if err != nil {
			_ = q.fs.Move(ctx, object.URL(), url.Join(q.dir(dirDLQ), "invalid-"+object.Name()))
			return nil, err
		}
		if now.Sub(rec.UpdatedAt) < q.config.RetryDelay {
			continue
		}
		return q.deliver(ctx, object, rec)
	}
	pending, err := q.list(ctx, dirPending)
	if err != nil || len(pending) == 0 {
		return nil, err
	}
	object := pending[0]
	rec, err := q.read(ctx, object)
	if err != nil {
		_ = q.fs.Move(ctx, object.URL(), url.Join(q.dir(dirDLQ), "invalid-"+object.Name()))
		return nil, err
	}
	return q.deliver(ctx, object, rec)
}

func (q *Queue[T]) deliver(ctx context.Context, object storage.Object, rec *record[T]) (*Message[T], error) {
	rec.State = MessageStateProcessing
	rec.UpdatedAt = q.clock.Now()
	if err := q.write(ctx, dirProcessing, object.Name(), rec); err != nil {
		return nil, fmt.Errorf("failed to move message %s to processing: %w", rec.ID, err)
	}
	if err := q.fs.Delete(ctx, object.URL()); err != nil {
		return nil, fmt.Errorf("failed to remove delivered message %s: %w", object.URL(), err)
	}
	return &Message[T]{record: *rec, name: object.Name(), queue: q}, nil
}

func (q *Queue[T]) complete(ctx context.Context, m *Message[T]) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	m.record.State = MessageStateCompleted
	m.record.UpdatedAt = q.clock.Now()
	if q.config.KeepCompleted {
		if err := q.write(ctx, dirCompleted, m.name, &m.record); err != nil {
			return fmt.Errorf("failed to write completed message %s: %w", m.record.ID, err)
		}
	}
	return q.remove(ctx, dirProcessing, m.name)
}

func (q *Queue[T]) fail(ctx context.Context, m *Message[T]) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	m.record.State = MessageStateFailed
	m.record.UpdatedAt = q.clock.Now()
	target := dirFailed
	if m.record.Attempt > q.config.MaxRetries {
		target = dirDLQ
		m.record.State = MessageStateDead
	} else {
		m.record.Attempt++
	}
	if err := q.write(ctx, target, m.name, &m.record); err != nil {
		return fmt.Errorf("failed to write %s message %s: %w", target, m.record.ID, err)
	}
	return q.remove(ctx, dirProcessing, m.name)
}

// recover returns messages stranded in processing to pending.
func (q *Queue[T]) recover(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	stranded, err := q.list(ctx, dirProcessing)
	if err != nil {
		return err
	}
	for _, object := range stranded {
		if err = q.fs.Move(ctx, object.URL(), url.Join(q.dir(dirPending), object.Name())); err != nil {
			return fmt.Errorf("failed to recover message %s: %w", object.URL(), err)
		}
	}
	return nil
}

// list returns the message files of dir ordered by name, which starts with
// the publish time.
func (q *Queue[T]) list(ctx context.Context, dir string) ([]storage.Object, error) {
	objects, err := q.fs.List(ctx, q.dir(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s messages: %w", dir, err)
	}
	ret := make([]storage.Object, 0, len(objects))
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") || strings.HasPrefix(object.Name(), "invalid-") {
			continue
		}
		ret = append(ret, object)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name() < ret[j].Name() })
	return ret, nil
}

func (q *Queue[T]) read(ctx context.Context, object storage.Object) (*record[T], error) {
	data, err := q.fs.Download(ctx, object)
	if err != nil {
		return nil, fmt.Errorf("failed to read message %s: %w", object.URL(), err)
	}
	rec := &record[T]{}
	if err = json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to decode message %s: %w", object.URL(), err)
	}
	return rec, nil
}

func (q *Queue[T]) write(ctx context.Context, dir, name string, rec *record[T]) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal message %s: %w", rec.ID, err)
	}
	return q.fs.Upload(ctx, url.Join(q.dir(dir), name), file.DefaultFileOsMode, bytes.NewReader(data))
}

func (q *Queue[T]) remove(ctx context.Context, dir, name string) error {
	location := url.Join(q.dir(dir), name)
	if exists, _ := q.fs.Exists(ctx, location); !exists {
		return nil
	}
	if err := q.fs.Delete(ctx, location); err != nil {
		return fmt.Errorf("failed to delete %s: %w", location, err)
	}
	return nil
}

func (q *Queue[T]) dir(name string) string {
	return url.Join(q.config.BaseURL, name)
}

func stateDir(state MessageState) string {
	switch state {
	case MessageStateProcessing:
		return dirProcessing
	case MessageStateCompleted:
		return dirCompleted
	case MessageStateFailed:
		return dirFailed
	case MessageStateDead:
		return dirDLQ
	default:
		return dirPending
	}
}

// ensure Queue implements messaging.Queue interface
var _ messaging.Queue[any] = (*Queue[any])(nil)
