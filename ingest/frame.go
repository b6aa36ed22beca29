package ingest

import (
	"time"

	"gocv.io/x/gocv"
)

// Frame is one sampled video frame moving through a camera lane. The Mat is
// backed by C memory; whichever stage drops or finishes with the frame must
// call Close exactly once.
type Frame struct {
	CameraID  string
	Seq       uint64
	Timestamp time.Time
	Image     gocv.Mat
}

// Close releases the frame's pixel buffer. Safe to call on a frame whose
// Mat was already closed by gocv (Close on a closed Mat is a no-op there).
func (f *Frame) Close() {
	if f == nil {
		return
	}
	f.Image.Close()
}
