package signalqueue

import (
	"context"
	"fmt"
	"sync"
)

// Queue buffers admitted jobs for a local consumer.
type Queue struct {
	mu     sync.RWMutex
	ch     chan Job
	closed bool
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 200
	}
	return &Queue{ch: make(chan Job, size)}
}

// Enqueue waits for room until ctx is done.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return fmt.Errorf("enqueue %s: %w", job.Symbol, ErrUnavailable)
	}
	select {
	case q.ch <- job:
		return nil
	default:
	}
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s: queue full: %w", job.Symbol, ErrUnavailable)
	}
}

// offer enqueues without waiting and reports whether the job was taken.
func (q *Queue) offer(job Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.ch <- job:
		return true
	default:
		return false
	}
}

func (q *Queue) Chan() <-chan Job {
	return q.ch
}

func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting jobs. Buffered jobs can still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Drain consumes jobs with a handler until context is canceled or the queue is closed and empty.
func (q *Queue) Drain(ctx context.Context, handler func(Job)) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q.ch:
			if !ok {
				return
			}
			handler(j)
		}
	}
}
