package queue

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrTimeout is returned by Pop when nothing arrived within the timeout.
	ErrTimeout = errors.New("queue: pop timed out")
	// ErrStopped is returned once the stop sentinel has been pushed (Push) or observed (Pop).
	ErrStopped = errors.New("queue: stopped")
)

type envelope[T any] struct {
	value T
	stop  bool
}

// Queue is an unbounded FIFO safe for concurrent use. A stop sentinel, queued
// behind everything pushed before it, tells the consumer no more items follow.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []envelope[T]
	notify   chan struct{}
	stopping bool
	stopped  bool
}

func New[T any]() *Queue[T] {
	return &Queue[T]{notify: make(chan struct{}, 1)}
}

// Push appends v. It fails with ErrStopped after Stop has been called.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopping {
		return ErrStopped
	}
	q.items = append(q.items, envelope[T]{value: v})
	q.signal()
	return nil
}

// Stop enqueues the sentinel. Calling it more than once is a no-op.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopping {
		return
	}
	q.stopping = true
	q.items = append(q.items, envelope[T]{stop: true})
	q.signal()
}

// Pop blocks until an item is available, the sentinel is reached, or timeout
// elapses. A non-positive timeout blocks without limit.
func (q *Queue[T]) Pop(timeout time.Duration) (T, error) {
	var (
		zero  T
		timer <-chan time.Time
	)
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			return zero, ErrStopped
		}
		if len(q.items) > 0 {
			head := q.items[0]
			q.items[0] = envelope[T]{}
			q.items = q.items[1:]
			if head.stop {
				q.stopped = true
				q.items = nil
			} else if len(q.items) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			if head.stop {
				return zero, ErrStopped
			}
			return head.value, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-timer:
			return zero, ErrTimeout
		}
	}
}

// Len reports the number of real items waiting; the sentinel is not counted.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if q.stopping && !q.stopped {
		n--
	}
	return n
}

// Stopped reports whether the consumer has observed the sentinel.
func (q *Queue[T]) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// signal must be called with mu held.
func (q *Queue[T]) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
