package ingest

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Capture is the minimal decode-session surface the reader needs, so tests
// can substitute a scripted source for a live RTSP stream.
type Capture interface {
	// Read decodes the next frame into dst; false means the session is no
	// longer delivering frames (EOF, network loss, decoder error)
	Read(dst *gocv.Mat) bool
	Close() error
}

// CaptureOpener opens a decode session for an RTSP (or file) source
type CaptureOpener func(source string) (Capture, error)

type videoCapture struct {
	vc *gocv.VideoCapture
}

func (v *videoCapture) Read(dst *gocv.Mat) bool {
	return v.vc.Read(dst)
}

func (v *videoCapture) Close() error {
	return v.vc.Close()
}

// OpenVideoCapture opens a gocv-backed decode session. This is the
// production CaptureOpener.
func OpenVideoCapture(source string) (Capture, error) {
	vc, err := gocv.OpenVideoCapture(source)
	if err != nil {
		return nil, fmt.Errorf("ingest: failed to open capture for %s: %w", source, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("ingest: capture for %s opened but is not ready", source)
	}
	return &videoCapture{vc: vc}, nil
}
