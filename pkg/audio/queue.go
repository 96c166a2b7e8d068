package audio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// FrameQueue is the bounded hand-off between a capture [Source] and the
// segmenter. Push blocks for at most the configured timeout when the queue is
// full; after that the frame being pushed is dropped and counted. Every pushed
// frame, accepted or dropped, consumes a sequence number so gaps in Seq
// reveal drops downstream.
//
// Push and Close must be called from the single producer goroutine.
type FrameQueue struct {
	ch          chan AudioFrame
	pushTimeout time.Duration
	onDrop      func(AudioFrame)

	seq     atomic.Uint64
	dropped atomic.Uint64

	closeOnce sync.Once
}

// FrameQueueOption configures a [FrameQueue].
type FrameQueueOption func(*FrameQueue)

// WithDropHook registers fn to be called for every frame dropped by Push.
func WithDropHook(fn func(AudioFrame)) FrameQueueOption {
	return func(q *FrameQueue) { q.onDrop = fn }
}

// NewFrameQueue creates a queue holding up to capacity frames. A pushTimeout
// of zero makes Push non-blocking.
func NewFrameQueue(capacity int, pushTimeout time.Duration, opts ...FrameQueueOption) *FrameQueue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &FrameQueue{
		ch:          make(chan AudioFrame, capacity),
		pushTimeout: pushTimeout,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Push stamps the next sequence number on frame and enqueues it. It reports
// whether the frame was accepted. A cancelled ctx counts as a drop.
func (q *FrameQueue) Push(ctx context.Context, frame AudioFrame) bool {
	frame.Seq = q.seq.Add(1)

	select {
	case q.ch <- frame:
		return true
	default:
	}

	if q.pushTimeout > 0 {
		t := time.NewTimer(q.pushTimeout)
		defer t.Stop()
		select {
		case q.ch <- frame:
			return true
		case <-t.C:
		case <-ctx.Done():
		}
	}

	q.dropped.Add(1)
	if q.onDrop != nil {
		q.onDrop(frame)
	}
	return false
}

// Frames returns the consumer side of the queue.
func (q *FrameQueue) Frames() <-chan AudioFrame { return q.ch }

// Close closes the consumer channel. Safe to call more than once.
func (q *FrameQueue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

// Dropped returns the number of frames dropped so far.
func (q *FrameQueue) Dropped() uint64 { return q.dropped.Load() }

// Len returns the number of frames currently buffered.
func (q *FrameQueue) Len() int { return len(q.ch) }
