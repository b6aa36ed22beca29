package ingest

import (
	"testing"
	"time"

	"gocv.io/x/gocv"
)

func testFrame(seq uint64) *Frame {
	return &Frame{CameraID: "cam-1", Seq: seq, Timestamp: time.Now(), Image: gocv.NewMat()}
}

func TestFrameQueueDropsOldestWhenFull(t *testing.T) {
	q := NewFrameQueue(2)
	defer q.Close()

	if dropped := q.Push(testFrame(1)); dropped {
		t.Error("push into an empty queue reported a drop")
	}
	q.Push(testFrame(2))
	if dropped := q.Push(testFrame(3)); !dropped {
		t.Error("push into a full queue must drop the oldest frame")
	}

	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
	if q.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", q.Dropped())
	}

	// frame 1 was dropped; 2 and 3 remain in order
	first := q.Pop()
	second := q.Pop()
	if first == nil || second == nil {
		t.Fatal("expected two frames")
	}
	defer first.Close()
	defer second.Close()
	if first.Seq != 2 || second.Seq != 3 {
		t.Errorf("popped seqs = %d, %d, want 2, 3", first.Seq, second.Seq)
	}
	if q.Pop() != nil {
		t.Error("Pop on an empty queue must return nil")
	}
}

func TestFrameQueueNotifyCoalesces(t *testing.T) {
	q := NewFrameQueue(8)
	defer q.Close()

	for i := uint64(1); i <= 3; i++ {
		q.Push(testFrame(i))
	}

	// several pushes collapse into at most one pending signal
	select {
	case <-q.Notify():
	default:
		t.Fatal("no notification after pushes")
	}
	select {
	case <-q.Notify():
		t.Fatal("notifications did not coalesce")
	default:
	}

	// the receiver drains the whole queue per signal
	count := 0
	for {
		f := q.Pop()
		if f == nil {
			break
		}
		f.Close()
		count++
	}
	if count != 3 {
		t.Errorf("drained %d frames, want 3", count)
	}
}

func TestFrameQueueCloseRejectsPushes(t *testing.T) {
	q := NewFrameQueue(4)
	q.Push(testFrame(1))
	q.Close()

	if q.Len() != 0 {
		t.Errorf("Len() after Close = %d, want 0", q.Len())
	}
	if dropped := q.Push(testFrame(2)); dropped {
		t.Error("push into a closed queue reported a drop")
	}
	if q.Len() != 0 {
		t.Error("closed queue accepted a frame")
	}
	// double close is a no-op
	q.Close()
}
