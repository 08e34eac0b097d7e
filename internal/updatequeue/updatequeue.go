// Package updatequeue provides a queue whose ends are channels. Senders never
// block for long: the queue grows without bound, or, when a limit is given,
// discards its oldest entries to make room.
package updatequeue

import "sync/atomic"

// Queue represents a first-in first-out queue, but data are entered and
// removed via channels.
// Beware! You almost certainly want T to be a small type; use pointers for large objects.
type Queue[T any] struct {
	in      chan T
	out     chan T
	queue   []T
	limit   int
	dropped atomic.Int64
}

// New creates and starts a Queue. A limit <= 0 means the queue is unbounded.
func New[T any](limit int) *Queue[T] {
	q := &Queue[T]{
		in:    make(chan T),
		out:   make(chan T),
		queue: make([]T, 0),
		limit: limit,
	}
	go q.run()
	return q
}

func (q *Queue[T]) push(val T) {
	if q.limit > 0 && len(q.queue) >= q.limit {
		q.queue = q.queue[1:]
		q.dropped.Add(1)
	}
	q.queue = append(q.queue, val)
}

func (q *Queue[T]) run() {
	for {
		if len(q.queue) == 0 {
			// If queue is empty, only listen for new incoming data
			val, ok := <-q.in
			if !ok {
				close(q.out)
				return
			}
			q.push(val)
			continue
		}

		// If queue has data, try to send it and also listen for new incoming data
		select {
		case q.out <- q.queue[0]:
			q.queue = q.queue[1:]
		case val, ok := <-q.in:
			if !ok {
				// Input is closed: deliver whatever is queued, then close the output.
				for _, item := range q.queue {
					q.out <- item
				}
				q.queue = nil
				close(q.out)
				return
			}
			q.push(val)
		}
	}
}

// In returns the input channel. Close it to drain and stop the queue.
func (q *Queue[T]) In() chan<- T {
	return q.in
}

// Out returns the output channel. It is closed after In is closed and the
// queue has drained.
func (q *Queue[T]) Out() <-chan T {
	return q.out
}

// Dropped returns how many entries were discarded because the queue was full.
func (q *Queue[T]) Dropped() int64 {
	return q.dropped.Load()
}
