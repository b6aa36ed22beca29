package ingest

import "sync"

// FrameQueue is the bounded handoff between a camera's reader and its
// processor. When the processor falls behind, Push drops the oldest queued
// frame instead of growing or blocking, so ingest is never held hostage to
// inference latency.
type FrameQueue struct {
	mu       sync.Mutex
	frames   []*Frame
	capacity int
	dropped  uint64
	closed   bool

	// notify has capacity 1: a pending signal means "frames may be
	// available", extra signals coalesce
	notify chan struct{}
}

// NewFrameQueue creates a queue holding at most capacity frames
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &FrameQueue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push enqueues a frame, dropping (and closing) the oldest queued frame when
// full. Returns true when an old frame was dropped. A closed queue closes
// the pushed frame immediately.
func (q *FrameQueue) Push(f *Frame) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		f.Close()
		return false
	}

	dropped := false
	if len(q.frames) >= q.capacity {
		oldest := q.frames[0]
		q.frames = q.frames[1:]
		q.dropped++
		dropped = true
		oldest.Close()
	}
	q.frames = append(q.frames, f)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Pop removes and returns the oldest queued frame, or nil when empty
func (q *FrameQueue) Pop() *Frame {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return nil
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	return f
}

// Notify returns the channel signalled after every Push. Receivers should
// drain the queue with Pop until nil after each signal.
func (q *FrameQueue) Notify() <-chan struct{} {
	return q.notify
}

// Len returns the number of queued frames
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Dropped returns the total number of frames dropped by backpressure
func (q *FrameQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close rejects further pushes and releases any queued frames
func (q *FrameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for _, f := range q.frames {
		f.Close()
	}
	q.frames = nil
}
