package media

import (
	"context"
	"image"
	"sync"
	"time"
)

// DefaultFrameQueueCapacity matches the reference hand-off depth.
const DefaultFrameQueueCapacity = 5

// Frame is one raw captured image on its way to the engine.
type Frame struct {
	Image      image.Image
	CapturedAt time.Time
}

// FrameQueue is the bounded FIFO between a frame producer (local capture
// or the upload endpoint, on arbitrary goroutines) and the engine's media
// task. When full it drops the oldest frame, keeping live video fresh
// rather than stalling the producer.
type FrameQueue struct {
	mu      sync.Mutex
	frames  []Frame
	cap     int
	dropped uint64
	wake    chan struct{}
}

func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = DefaultFrameQueueCapacity
	}
	return &FrameQueue{
		frames: make([]Frame, 0, capacity),
		cap:    capacity,
		wake:   make(chan struct{}, 1),
	}
}

// Put enqueues a frame, evicting the oldest one if the queue is full.
// It never blocks. The return value reports whether an eviction happened.
func (q *FrameQueue) Put(f Frame) bool {
	q.mu.Lock()
	evicted := false
	if len(q.frames) >= q.cap {
		copy(q.frames, q.frames[1:])
		q.frames = q.frames[:len(q.frames)-1]
		q.dropped++
		evicted = true
	}
	q.frames = append(q.frames, f)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return evicted
}

// Next waits up to timeout for a frame. The second return value is false
// on timeout or context cancellation; the steady-state empty queue is not
// an error.
func (q *FrameQueue) Next(ctx context.Context, timeout time.Duration) (Frame, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		if len(q.frames) > 0 {
			f := q.frames[0]
			copy(q.frames, q.frames[1:])
			q.frames = q.frames[:len(q.frames)-1]
			q.mu.Unlock()
			return f, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Frame{}, false
		case <-deadline.C:
			return Frame{}, false
		case <-q.wake:
		}
	}
}

// Reset discards buffered frames and drop accounting. Called between
// sessions so a new session never sees frames produced for an old one.
func (q *FrameQueue) Reset() {
	q.mu.Lock()
	q.frames = q.frames[:0]
	q.dropped = 0
	q.mu.Unlock()

	select {
	case <-q.wake:
	default:
	}
}

func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Dropped reports how many frames were evicted since the last Reset.
func (q *FrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
