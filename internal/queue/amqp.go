package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

const defaultPollInterval = 500 * time.Millisecond

// workItem is the message body published for each key
type workItem struct {
	Key string `json:"key"`
}

// amqpChannel is the subset of *amqp.Channel used by AMQPQueue
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueInspect(name string) (amqp.Queue, error)
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
	Close() error
}

// AMQPQueue is a Queue backed by a durable RabbitMQ queue, so several
// replicator processes can share pending work. Consumers poll with basic.get
// and treat an empty get after CloseInput as drained.
type AMQPQueue struct {
	conn         io.Closer
	ch           amqpChannel
	name         string
	pollInterval time.Duration

	mu     sync.Mutex // guards ch, which is not safe for concurrent use
	closed bool
	done   chan struct{}
}

// DialAMQP connects to brokerURL and declares the named queue
func DialAMQP(brokerURL, name string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	q, err := newAMQPQueue(conn, ch, name)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return q, nil
}

func newAMQPQueue(conn io.Closer, ch amqpChannel, name string) (*AMQPQueue, error) {
	_, err := ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue %q: %w", name, err)
	}

	return &AMQPQueue{
		conn:         conn,
		ch:           ch,
		name:         name,
		pollInterval: defaultPollInterval,
		done:         make(chan struct{}),
	}, nil
}

func (q *AMQPQueue) Push(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(workItem{Key: key})
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	err = q.ch.Publish(
		"",     // exchange
		q.name, // routing key
		false,  // mandatory
		false,  // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

func (q *AMQPQueue) Pop(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		msg, ok, err := q.ch.Get(q.name, true)
		closed := q.closed
		q.mu.Unlock()

		if err != nil {
			return "", fmt.Errorf("get from %q: %w", q.name, err)
		}
		if ok {
			var item workItem
			if err := json.Unmarshal(msg.Body, &item); err != nil {
				return "", fmt.Errorf("decode work item: %w", err)
			}
			return item.Key, nil
		}
		if closed {
			return "", ErrDrained
		}

		timer := time.NewTimer(q.pollInterval)
		select {
		case <-timer.C:
		case <-q.done:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		}
	}
}

func (q *AMQPQueue) CloseInput() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

func (q *AMQPQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	info, err := q.ch.QueueInspect(q.name)
	if err != nil {
		return 0
	}
	return info.Messages
}

func (q *AMQPQueue) Close() error {
	q.CloseInput()
	err := q.ch.Close()
	if q.conn != nil {
		if cerr := q.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
