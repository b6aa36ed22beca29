package ingest

import "sync/atomic"

// CameraStats are the per-camera pipeline counters exposed by the stats
// endpoint. All fields are updated atomically; the struct is shared between
// the lane goroutines and HTTP handlers.
type CameraStats struct {
	FramesRead     atomic.Uint64
	FramesDropped  atomic.Uint64
	DecodeFailures atomic.Uint64
	Reconnects     atomic.Uint64
	FacesDetected  atomic.Uint64
	Matches        atomic.Uint64
	EventsEmitted  atomic.Uint64
}

// StatsSnapshot is the JSON shape of CameraStats
type StatsSnapshot struct {
	FramesRead     uint64 `json:"frames_read"`
	FramesDropped  uint64 `json:"frames_dropped"`
	DecodeFailures uint64 `json:"decode_failures"`
	Reconnects     uint64 `json:"reconnects"`
	FacesDetected  uint64 `json:"faces_detected"`
	Matches        uint64 `json:"matches"`
	EventsEmitted  uint64 `json:"events_emitted"`
}

// Snapshot copies the counters for serialization
func (s *CameraStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		FramesRead:     s.FramesRead.Load(),
		FramesDropped:  s.FramesDropped.Load(),
		DecodeFailures: s.DecodeFailures.Load(),
		Reconnects:     s.Reconnects.Load(),
		FacesDetected:  s.FacesDetected.Load(),
		Matches:        s.Matches.Load(),
		EventsEmitted:  s.EventsEmitted.Load(),
	}
}
