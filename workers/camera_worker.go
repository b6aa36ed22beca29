package workers

import (
	"log"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/tda9/FUACS/config"
	"github.com/tda9/FUACS/ingest"
	"github.com/tda9/FUACS/media"
	"github.com/tda9/FUACS/models"
	"github.com/tda9/FUACS/realtime"
	"github.com/tda9/FUACS/repository"
	"github.com/tda9/FUACS/services"
)

// Detector locates faces in a frame. Implemented by media.RetinaFaceDetector;
// tests substitute fakes.
type Detector interface {
	DetectFaces(img gocv.Mat) []media.DetectionResult
}

// Embedder extracts embeddings for detected faces, index-aligned with the
// input. Implemented by media.FaceEmbedder.
type Embedder interface {
	EmbedBatch(img gocv.Mat, detections []media.DetectionResult) [][]float32
}

// HealthPublisher reports camera health transitions to the MQTT bus
type HealthPublisher interface {
	PublishCameraHealth(cameraID, state string, timestamp int64)
}

// LaneDeps are the shared collaborators every camera lane uses. Detector
// and embedder are shared across lanes (their forward passes serialize
// internally); everything per-camera lives on the Lane itself.
type LaneDeps struct {
	Detector   Detector
	Embedder   Embedder
	Enrollment *services.EnrollmentStore
	Emitter    *services.Emitter
	Finalizer  *services.Finalizer
	Evidence   *media.EvidenceWriter
	Annotator  *Annotator
	HealthRepo repository.HealthRepositoryInterface
	Hub        *realtime.Hub
	Bus        HealthPublisher

	// Open defaults to ingest.OpenVideoCapture; tests inject scripted
	// captures
	Open ingest.CaptureOpener
}

// Lane is one camera's independent processing pipeline: a reader goroutine
// feeding a bounded drop-oldest queue, and a processor goroutine draining it
// through detect, embed, match, dedup, and emit. Lanes never share mutable
// state except the enrollment snapshot pointer and the emitter queue.
type Lane struct {
	cam  config.CameraConfig
	pipe *config.PipelineConfig
	deps LaneDeps

	queue   *ingest.FrameQueue
	reader  *ingest.Reader
	stats   *ingest.CameraStats
	matcher *services.Matcher
	dedup   *services.Deduplicator

	stop chan struct{}
	done chan struct{}
}

// NewLane builds a lane for the camera. The caller validates the camera
// entry first; a bad entry disables only its own lane.
func NewLane(cam config.CameraConfig, pipe *config.PipelineConfig, deps LaneDeps) *Lane {
	lane := &Lane{
		cam:   cam,
		pipe:  pipe,
		deps:  deps,
		stats: &ingest.CameraStats{},
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	lane.queue = ingest.NewFrameQueue(pipe.Ingest.FrameQueueSize)
	lane.matcher = services.NewMatcher(deps.Enrollment, pipe.Matching.Threshold, pipe.Matching.MinMargin)
	lane.dedup = services.NewDeduplicator(pipe.Dedup.Cooldown(), pipe.Dedup.IdleEviction())
	lane.reader = ingest.NewReader(ingest.ReaderOptions{
		CameraID:               cam.ID,
		Source:                 cam.RTSPURL,
		SamplingInterval:       cam.SamplingInterval(pipe.Ingest),
		ReconnectBaseDelay:     pipe.Ingest.ReconnectBaseDelay(),
		ReconnectMaxDelay:      pipe.Ingest.ReconnectMaxDelay(),
		MaxConsecutiveFailures: pipe.Ingest.MaxConsecutiveFailures,
		Open:                   deps.Open,
		OnHealth:               lane.onHealth,
	}, lane.queue, lane.stats)
	return lane
}

// Start launches the reader and processor goroutines
func (l *Lane) Start() {
	l.reader.Start()
	go l.process()
	log.Printf("lane(%s): started (room %s, interval %s)", l.cam.ID, l.cam.RoomID, l.cam.SamplingInterval(l.pipe.Ingest))
}

// Stop tears the lane down independently of other lanes. Frames already
// popped by the processor complete; queued frames are released.
func (l *Lane) Stop() {
	l.reader.Stop()
	close(l.stop)
	<-l.done
	l.queue.Close()
	log.Printf("lane(%s): stopped", l.cam.ID)
}

// Camera returns the lane's camera entry
func (l *Lane) Camera() config.CameraConfig { return l.cam }

// State returns the lane's current health state
func (l *Lane) State() ingest.HealthState { return l.reader.State() }

// Stats returns the lane's pipeline counters
func (l *Lane) Stats() ingest.StatsSnapshot {
	snapshot := l.stats.Snapshot()
	snapshot.FramesDropped = l.queue.Dropped()
	return snapshot
}

// QueueLen returns the number of frames awaiting processing
func (l *Lane) QueueLen() int { return l.queue.Len() }

// process drains the frame queue through the recognition stages. Single
// goroutine per lane, so per-camera event ordering follows frame order and
// the deduplicator needs no locking.
func (l *Lane) process() {
	defer close(l.done)

	sweep := time.NewTicker(l.pipe.Dedup.SweepInterval())
	defer sweep.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-l.queue.Notify():
			for {
				frame := l.queue.Pop()
				if frame == nil {
					break
				}
				l.processFrame(frame)
			}
		case now := <-sweep.C:
			if evicted := l.dedup.Sweep(now); evicted > 0 {
				log.Printf("lane(%s): evicted %d idle dedup entries", l.cam.ID, evicted)
			}
		}
	}
}

func (l *Lane) processFrame(frame *ingest.Frame) {
	defer frame.Close()

	detections := l.deps.Detector.DetectFaces(frame.Image)
	if len(detections) == 0 {
		return
	}
	l.stats.FacesDetected.Add(uint64(len(detections)))

	embeddings := l.deps.Embedder.EmbedBatch(frame.Image, detections)

	labels := make([]string, len(detections))
	for i, det := range detections {
		if i >= len(embeddings) || embeddings[i] == nil {
			continue
		}

		decision := l.matcher.Match(embeddings[i])
		if !decision.Matched {
			continue
		}
		l.stats.Matches.Add(1)
		labels[i] = decision.IdentityID

		if !l.dedup.Observe(decision.IdentityID, frame.Timestamp) {
			continue
		}
		l.emit(frame, det, decision)
	}

	if l.deps.Annotator != nil {
		l.deps.Annotator.QueueRender(l.cam.ID, frame.Image.Clone(), detections, labels)
	}
}

// emit saves the evidence crop and hands the event to the asynchronous
// emitter; a slow backend never stalls the lane
func (l *Lane) emit(frame *ingest.Frame, det media.DetectionResult, decision services.MatchDecision) {
	evidencePath, err := l.deps.Evidence.SaveCrop(frame.Image, det)
	if err != nil {
		// deliver the event anyway; the match stands even without a photo
		log.Printf("lane(%s): ERROR saving evidence for %s: %v", l.cam.ID, decision.IdentityID, err)
		evidencePath = ""
	}

	var slotID *string
	if l.deps.Finalizer != nil {
		slotID = l.deps.Finalizer.ResolveSlot(l.cam.RoomID, frame.Timestamp)
	}

	event := &models.AttendanceEvent{
		EventUUID:    uuid.NewString(),
		IdentityID:   decision.IdentityID,
		CameraID:     l.cam.ID,
		RoomID:       l.cam.RoomID,
		SlotID:       slotID,
		Timestamp:    frame.Timestamp.Unix(),
		Confidence:   decision.Similarity,
		EvidencePath: evidencePath,
	}
	l.deps.Emitter.Enqueue(event)
	l.stats.EventsEmitted.Add(1)
	log.Printf("lane(%s): attendance event for %s (sim %.3f, margin %.3f)",
		l.cam.ID, decision.IdentityID, decision.Similarity, decision.Margin)
}

// onHealth journals the transition and fans it out to the websocket feed
// and the MQTT bus. Runs on the reader goroutine.
func (l *Lane) onHealth(state ingest.HealthState, detail string) {
	now := time.Now()
	if l.deps.HealthRepo != nil {
		err := l.deps.HealthRepo.Create(&models.HealthEvent{
			CameraID:  l.cam.ID,
			State:     string(state),
			Detail:    detail,
			Timestamp: now.Unix(),
		})
		if err != nil {
			log.Printf("lane(%s): ERROR journaling health transition: %v", l.cam.ID, err)
		}
	}
	if l.deps.Hub != nil {
		l.deps.Hub.Broadcast(realtime.Event{
			Type:      "camera_health",
			CameraID:  l.cam.ID,
			Status:    string(state),
			Error:     detail,
			Timestamp: now.Unix(),
		})
	}
	if l.deps.Bus != nil {
		l.deps.Bus.PublishCameraHealth(l.cam.ID, string(state), now.Unix())
	}
}
