package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/babelcast/internal/segment"
)

// errQueueClosed is returned by [UtteranceQueue.Pop] once the queue is
// closed and drained.
var errQueueClosed = errors.New("pipeline: utterance queue closed")

// UtteranceQueue is the bounded FIFO between the segmenter and the
// recognizer. When full, Push evicts the oldest utterance so the recognizer
// always works on the most recent speech.
//
// All methods are safe for concurrent use.
type UtteranceQueue struct {
	mu      sync.Mutex
	items   []Queued
	maxSize int
	closed  bool

	// ready holds a token while items is non-empty or the queue is closed.
	ready chan struct{}
}

// Queued is an utterance with the time it entered the queue.
type Queued struct {
	segment.Utterance
	Enqueued time.Time
}

// NewUtteranceQueue creates a queue holding at most maxSize utterances.
func NewUtteranceQueue(maxSize int) *UtteranceQueue {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &UtteranceQueue{
		items:   make([]Queued, 0, maxSize),
		maxSize: maxSize,
		ready:   make(chan struct{}, 1),
	}
}

// Push appends u. If the queue was full the evicted oldest utterance is
// returned with ok set. Pushing to a closed queue is a no-op.
func (q *UtteranceQueue) Push(u segment.Utterance) (evicted segment.Utterance, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return segment.Utterance{}, false
	}
	if len(q.items) >= q.maxSize {
		evicted, ok = q.items[0].Utterance, true
		// Copy so the evicted utterance's frames are not pinned.
		fresh := make([]Queued, len(q.items)-1, q.maxSize)
		copy(fresh, q.items[1:])
		q.items = fresh
	}
	q.items = append(q.items, Queued{Utterance: u, Enqueued: time.Now()})
	q.signal()
	return evicted, ok
}

// Pop blocks until an utterance is available, the queue is closed and empty,
// or ctx is done.
func (q *UtteranceQueue) Pop(ctx context.Context) (Queued, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			u := q.items[0]
			q.items[0] = Queued{}
			q.items = q.items[1:]
			if len(q.items) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return u, nil
		}
		if q.closed {
			q.signal()
			q.mu.Unlock()
			return Queued{}, errQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return Queued{}, ctx.Err()
		}
	}
}

// Close wakes blocked consumers. Buffered utterances can still be popped.
func (q *UtteranceQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.signal()
}

// Len returns the number of queued utterances.
func (q *UtteranceQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// signal must be called with q.mu held.
func (q *UtteranceQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
