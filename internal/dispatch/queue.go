package dispatch

import "sync"

// Navigation is one navigation event waiting to be handled.
type Navigation struct {
	Hash  string
	Trace string
	Seq   int64
}

// navQueue is a thread-safe FIFO queue of navigation events.
//
// Sources enqueue from their own goroutines while the Dispatcher's Run loop
// dequeues. The queue uses a channel for signaling to enable context-aware
// waiting in the Run loop.
type navQueue struct {
	mu     sync.Mutex
	events []Navigation
	closed bool
	signal chan struct{} // Signals event availability (buffered, size 1)
}

func newNavQueue() *navQueue {
	return &navQueue{
		events: make([]Navigation, 0, 8),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *navQueue) Enqueue(n Navigation) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, n)
	q.notify()
	return true
}

// Replace drops every pending event and enqueues n.
// Returns the dropped events and false if the queue is closed.
func (q *navQueue) Replace(n Navigation) ([]Navigation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, false
	}
	dropped := append([]Navigation(nil), q.events...)
	clear(q.events)
	q.events = append(q.events[:0], n)
	q.notify()
	return dropped, true
}

// notify must be called with mu held. The buffer of 1 coalesces signals.
func (q *navQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// TryDequeue removes the front event without blocking.
func (q *navQueue) TryDequeue() (Navigation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Navigation{}, false
	}

	n := q.events[0]
	q.events[0] = Navigation{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return n, true
}

// Wait returns a channel that signals when events may be available.
// The channel is closed by Close.
func (q *navQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *navQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close has been called.
func (q *navQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more events will be enqueued.
// Pending events remain available to TryDequeue.
func (q *navQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
