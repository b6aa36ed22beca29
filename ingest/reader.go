package ingest

import (
	"log"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// HealthState is a camera's connection state
type HealthState string

const (
	HealthConnected    HealthState = "CONNECTED"
	HealthReconnecting HealthState = "RECONNECTING"
	HealthFailed       HealthState = "FAILED"
)

// ReaderOptions configures one camera's ingest loop
type ReaderOptions struct {
	CameraID         string
	Source           string
	SamplingInterval time.Duration

	ReconnectBaseDelay     time.Duration
	ReconnectMaxDelay      time.Duration
	MaxConsecutiveFailures int

	// Open defaults to OpenVideoCapture
	Open CaptureOpener

	// OnHealth fires on every state transition (never on repeats). Called
	// from the reader goroutine; must not block for long.
	OnHealth func(state HealthState, detail string)
}

// Reader maintains one camera's decode session, samples frames at the
// configured interval, and pushes them to the lane's queue. On connection
// loss it backs off exponentially; after the failure budget is exhausted it
// parks in FAILED until the lane is restarted.
type Reader struct {
	opts  ReaderOptions
	queue *FrameQueue
	stats *CameraStats

	mu    sync.Mutex
	state HealthState

	seq  uint64
	stop chan struct{}
	done chan struct{}
}

// NewReader creates a reader feeding the given queue
func NewReader(opts ReaderOptions, queue *FrameQueue, stats *CameraStats) *Reader {
	if opts.Open == nil {
		opts.Open = OpenVideoCapture
	}
	if opts.SamplingInterval <= 0 {
		opts.SamplingInterval = 500 * time.Millisecond
	}
	if opts.ReconnectBaseDelay <= 0 {
		opts.ReconnectBaseDelay = time.Second
	}
	if opts.ReconnectMaxDelay < opts.ReconnectBaseDelay {
		opts.ReconnectMaxDelay = opts.ReconnectBaseDelay
	}
	if opts.MaxConsecutiveFailures <= 0 {
		opts.MaxConsecutiveFailures = 10
	}
	return &Reader{
		opts:  opts,
		queue: queue,
		stats: stats,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Start launches the ingest goroutine
func (r *Reader) Start() {
	go r.run()
}

// Stop signals the reader and waits for its goroutine to exit
func (r *Reader) Stop() {
	select {
	case <-r.stop:
	default:
		close(r.stop)
	}
	<-r.done
}

// State returns the current health state
func (r *Reader) State() HealthState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reader) setState(state HealthState, detail string) {
	r.mu.Lock()
	if r.state == state {
		r.mu.Unlock()
		return
	}
	r.state = state
	r.mu.Unlock()

	log.Printf("ingest(%s): %s %s", r.opts.CameraID, state, detail)
	if r.opts.OnHealth != nil {
		r.opts.OnHealth(state, detail)
	}
}

func (r *Reader) run() {
	defer close(r.done)

	for {
		capture := r.connect()
		if capture == nil {
			// stopped, or FAILED with the failure budget spent; the lane
			// stays registered and a restart re-enters here fresh
			return
		}
		r.setState(HealthConnected, "")

		r.sample(capture)
		capture.Close()

		select {
		case <-r.stop:
			return
		default:
		}
		r.stats.Reconnects.Add(1)
	}
}

// connect opens the decode session, retrying with exponential backoff. A nil
// return means the reader stopped or gave up (FAILED).
func (r *Reader) connect() Capture {
	delay := r.opts.ReconnectBaseDelay
	failures := 0

	for {
		select {
		case <-r.stop:
			return nil
		default:
		}

		capture, err := r.opts.Open(r.opts.Source)
		if err == nil {
			return capture
		}

		failures++
		if failures >= r.opts.MaxConsecutiveFailures {
			r.setState(HealthFailed, err.Error())
			return nil
		}
		r.setState(HealthReconnecting, err.Error())

		select {
		case <-r.stop:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > r.opts.ReconnectMaxDelay {
			delay = r.opts.ReconnectMaxDelay
		}
	}
}

// sample reads frames at the sampling interval until the session breaks or
// the reader is stopped
func (r *Reader) sample(capture Capture) {
	ticker := time.NewTicker(r.opts.SamplingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}

		img := gocv.NewMat()
		if ok := capture.Read(&img); !ok {
			img.Close()
			r.setState(HealthReconnecting, "decode session lost")
			return
		}
		if img.Empty() {
			// decoded but degenerate; discard and keep the session
			img.Close()
			r.stats.DecodeFailures.Add(1)
			continue
		}

		r.seq++
		frame := &Frame{
			CameraID:  r.opts.CameraID,
			Seq:       r.seq,
			Timestamp: time.Now(),
			Image:     img,
		}
		r.stats.FramesRead.Add(1)
		if dropped := r.queue.Push(frame); dropped {
			r.stats.FramesDropped.Add(1)
		}
	}
}
