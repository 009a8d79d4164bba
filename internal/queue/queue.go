// Package queue carries pending object keys from listers to copiers.
package queue

import (
	"context"
	"errors"
)

var (
	// ErrDrained is returned by Pop once input is closed and no items remain
	ErrDrained = errors.New("queue drained")
	// ErrClosed is returned by Push after CloseInput
	ErrClosed = errors.New("queue input closed")
)

// Queue is a multi-producer multi-consumer FIFO of object keys. Ordering
// across producers is not guaranteed.
type Queue interface {
	Push(ctx context.Context, key string) error
	// Pop blocks until a key is available, ctx ends, or the queue is drained
	Pop(ctx context.Context) (string, error)
	// CloseInput declares that no producer will push again
	CloseInput()
	// Len is a point-in-time item count
	Len() int
	Close() error
}
