package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, q.Push(ctx, key))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestMemoryQueueDrainsOnlyAfterCloseInput(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	got := make(chan error, 1)
	go func() {
		_, err := q.Pop(ctx)
		got <- err
	}()

	select {
	case err := <-got:
		t.Fatalf("Pop returned early on an open empty queue: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	q.CloseInput()
	select {
	case err := <-got:
		assert.ErrorIs(t, err, ErrDrained)
	case <-time.After(time.Second):
		t.Fatal("Pop did not observe CloseInput")
	}

	assert.ErrorIs(t, q.Push(ctx, "late"), ErrClosed)
}

func TestMemoryQueueItemsSurviveCloseInput(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	require.NoError(t, q.Push(ctx, "a"))
	q.CloseInput()

	key, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", key)

	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, ErrDrained)
}

func TestMemoryQueuePopHonoursContext(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueueConcurrent(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()

	const producers, perProducer, consumers = 4, 250, 8

	var seenMu sync.Mutex
	seen := make(map[string]int)

	var cwg sync.WaitGroup
	for c := 0; c < consumers; c++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				key, err := q.Pop(ctx)
				if errors.Is(err, ErrDrained) {
					return
				}
				if !assert.NoError(t, err) {
					return
				}
				seenMu.Lock()
				seen[key]++
				seenMu.Unlock()
			}
		}()
	}

	var pwg sync.WaitGroup
	for p := 0; p < producers; p++ {
		pwg.Add(1)
		go func(p int) {
			defer pwg.Done()
			for i := 0; i < perProducer; i++ {
				assert.NoError(t, q.Push(ctx, fmt.Sprintf("p%d/%d", p, i)))
			}
		}(p)
	}
	pwg.Wait()
	q.CloseInput()
	cwg.Wait()

	assert.Len(t, seen, producers*perProducer)
	for key, n := range seen {
		assert.Equal(t, 1, n, key)
	}
}

type fakeChannel struct {
	mu       sync.Mutex
	declared string
	messages [][]byte
	closed   bool
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.declared = name
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) QueueInspect(name string) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return amqp.Queue{Name: name, Messages: len(f.messages)}, nil
}

func (f *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg.Body)
	return nil
}

func (f *fakeChannel) Get(queue string, autoAck bool) (amqp.Delivery, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return amqp.Delivery{}, false, nil
	}
	body := f.messages[0]
	f.messages = f.messages[1:]
	return amqp.Delivery{Body: body}, true, nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPQueue(t *testing.T) {
	ctx := context.Background()
	ch := &fakeChannel{}
	q, err := newAMQPQueue(nil, ch, "replicate")
	require.NoError(t, err)
	q.pollInterval = 5 * time.Millisecond
	assert.Equal(t, "replicate", ch.declared)

	require.NoError(t, q.Push(ctx, "a/b"))
	require.NoError(t, q.Push(ctx, "c"))
	assert.Equal(t, 2, q.Len())

	key, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a/b", key)

	q.CloseInput()
	assert.ErrorIs(t, q.Push(ctx, "late"), ErrClosed)

	key, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", key)

	_, err = q.Pop(ctx)
	assert.ErrorIs(t, err, ErrDrained)

	require.NoError(t, q.Close())
	assert.True(t, ch.closed)
}

func TestAMQPQueuePollsUntilItemArrives(t *testing.T) {
	ctx := context.Background()
	ch := &fakeChannel{}
	q, err := newAMQPQueue(nil, ch, "replicate")
	require.NoError(t, err)
	q.pollInterval = 5 * time.Millisecond

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Push(ctx, "late-arrival")
	}()

	key, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "late-arrival", key)
}
