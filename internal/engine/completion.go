package engine

import (
	"sync"

	"github.com/gw123/gflow-sub001/pkg/schema"
)

// completion is a one-shot handle: exactly one fulfill succeeds and releases
// every waiter on done.
type completion[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	fulfilled bool
	value     T
}

func newCompletion[T any]() *completion[T] {
	return &completion[T]{done: make(chan struct{})}
}

// fulfill stores v and releases waiters. A second call fails.
func (c *completion[T]) fulfill(v T) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fulfilled {
		return schema.NewError(schema.ErrCodeAlreadyFulfilled, "completion handle already fulfilled")
	}
	c.value = v
	c.fulfilled = true
	close(c.done)
	return nil
}

// mustFulfill is fulfill for callers that own the handle; a double fulfill
// is a bug and panics.
func (c *completion[T]) mustFulfill(v T) {
	if err := c.fulfill(v); err != nil {
		panic(err)
	}
}

func (c *completion[T]) Done() <-chan struct{} {
	return c.done
}

// result returns the fulfilled value. Only valid after Done is closed.
func (c *completion[T]) result() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}
