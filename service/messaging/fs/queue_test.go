package fs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
	"github.com/viant/tradegate/internal/clock"
	"github.com/viant/tradegate/service/messaging"
)

type testPayload struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

func newTestQueue(t *testing.T, baseURL string, maxRetries int, options ...Option[testPayload]) *Queue[testPayload] {
	t.Helper()
	config := DefaultConfig(baseURL)
	config.MaxRetries = maxRetries
	config.RetryDelay = 0
	config.PollInterval = 5 * time.Millisecond
	queue, err := NewQueue[testPayload](context.Background(), afs.New(), config, options...)
	require.NoError(t, err)
	t.Cleanup(queue.Close)
	return queue
}

func consumeWithin(t *testing.T, queue *Queue[testPayload], timeout time.Duration) (messaging.Message[testPayload], error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return queue.Consume(ctx)
}

func count(t *testing.T, queue *Queue[testPayload], state MessageState) int {
	t.Helper()
	n, err := queue.Count(context.Background(), state)
	require.NoError(t, err)
	return n
}

func TestQueue_PublishConsumeAck(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t, t.TempDir(), 2)

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, queue.Publish(ctx, &testPayload{ID: id}))
	}
	assert.Equal(t, 3, count(t, queue, MessageStatePending))

	for _, expect := range []string{"1", "2", "3"} {
		message, err := consumeWithin(t, queue, time.Second)
		require.NoError(t, err)
		assert.Equal(t, expect, message.T().ID)
		assert.Equal(t, 1, message.Attempt())
		assert.NotEmpty(t, message.ID())
		assert.Equal(t, 1, count(t, queue, MessageStateProcessing))
		require.NoError(t, message.Ack())
		assert.Error(t, message.Ack())
	}
	assert.Equal(t, 0, count(t, queue, MessageStatePending))
	assert.Equal(t, 0, count(t, queue, MessageStateProcessing))
	assert.Equal(t, 3, count(t, queue, MessageStateCompleted))

	_, err := consumeWithin(t, queue, 20*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_NackRetriesThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	queue := newTestQueue(t, t.TempDir(), 1)
	require.NoError(t, queue.Publish(ctx, &testPayload{ID: "retry", Count: 7}))

	first, err := consumeWithin(t, queue, time.Second)
	require.NoError(t, err)
	require.NoError(t, first.Nack(errors.New("broker down")))
	assert.Equal(t, 1, count(t, queue, MessageStateFailed))

	second, err := consumeWithin(t, queue, time.Second)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID())
	assert.Equal(t, 2, second.Attempt())
	assert.Equal(t, 7, second.T().Count)
	require.NoError(t, second.Nack(errors.New("broker down")))

	assert.Equal(t, 0, count(t, queue, MessageStateFailed))
	assert.Equal(t, 1, count(t, queue, MessageStateDead))
	_, err = consumeWithin(t, queue, 20*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_RetryDelay(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC))
	config := DefaultConfig(t.TempDir())
	config.RetryDelay = time.Minute
	config.PollInterval = 5 * time.Millisecond
	queue, err := NewQueue[testPayload](ctx, afs.New(), config, WithClock[testPayload](clk))
	require.NoError(t, err)
	defer queue.Close()

	require.NoError(t, queue.Publish(ctx, &testPayload{ID: "later"}))
	message, err := consumeWithin(t, queue, time.Second)
	require.NoError(t, err)
	require.NoError(t, message.Nack(nil))

	_, err = consumeWithin(t, queue, 20*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	clk.Advance(time.Minute)
	message, err = consumeWithin(t, queue, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "later", message.T().ID)
	assert.Equal(t, 2, message.Attempt())
}

func TestQueue_RecoversUnacknowledged(t *testing.T) {
	ctx := context.Background()
	baseURL := t.TempDir()
	queue := newTestQueue(t, baseURL, 2)
	require.NoError(t, queue.Publish(ctx, &testPayload{ID: "inflight"}))
	delivered, err := consumeWithin(t, queue, time.Second)
	require.NoError(t, err)
	queue.Close()

	reopened := newTestQueue(t, baseURL, 2)
	assert.Equal(t, 0, count(t, reopened, MessageStateProcessing))
	redelivered, err := consumeWithin(t, reopened, time.Second)
	require.NoError(t, err)
	assert.Equal(t, delivered.ID(), redelivered.ID())
	assert.Equal(t, "inflight", redelivered.T().ID)
}

func TestQueue_Close(t *testing.T) {
	queue := newTestQueue(t, t.TempDir(), 1)
	queue.Close()
	_, err := queue.Consume(context.Background())
	assert.ErrorIs(t, err, messaging.ErrClosed)
	assert.ErrorIs(t, queue.Publish(context.Background(), &testPayload{ID: "x"}), messaging.ErrClosed)
}

func TestNewQueue_RequiresBaseURL(t *testing.T) {
	_, err := NewQueue[testPayload](context.Background(), afs.New(), Config{})
	assert.Error(t, err)
}
