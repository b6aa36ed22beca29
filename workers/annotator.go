package workers

import (
	"bytes"
	"log"
	"sync"

	"gocv.io/x/gocv"

	"github.com/tda9/FUACS/media"
)

type renderJob struct {
	CameraID   string
	Frame      gocv.Mat
	Detections []media.DetectionResult
	Labels     []string
}

// Annotator renders annotated debug frames (boxes, landmarks, match labels)
// asynchronously so lanes never wait on JPEG encoding. One frame per camera
// is kept, overwritten on every render; a camera with a render already
// pending is skipped.
type Annotator struct {
	JobQueue chan renderJob
	Store    media.Store
	Wg       sync.WaitGroup
	StopChan chan struct{}
	Pending  map[string]bool
	Mutex    sync.Mutex
}

// NewAnnotator starts the render worker pool
func NewAnnotator(store media.Store, queueSize, numWorkers int) *Annotator {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 16
	}
	a := &Annotator{
		JobQueue: make(chan renderJob, queueSize),
		Store:    store,
		StopChan: make(chan struct{}),
		Pending:  make(map[string]bool),
	}
	a.Wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go a.worker(i)
	}
	log.Printf("started %d annotator worker(s) with queue size %d", numWorkers, queueSize)
	return a
}

func (a *Annotator) worker(id int) {
	defer a.Wg.Done()
	for {
		select {
		case job, ok := <-a.JobQueue:
			if !ok {
				log.Printf("annotator worker %d stopping: job queue closed", id)
				return
			}
			a.render(job)
			a.Mutex.Lock()
			delete(a.Pending, job.CameraID)
			a.Mutex.Unlock()

		case <-a.StopChan:
			log.Printf("annotator worker %d stopping: stop signal received", id)
			return
		}
	}
}

func (a *Annotator) render(job renderJob) {
	defer job.Frame.Close()

	media.DrawDetections(&job.Frame, job.Detections, job.Labels)
	encoded, err := media.EncodeFrameJPEG(job.Frame)
	if err != nil {
		log.Printf("annotator: ERROR encoding debug frame for camera %s: %v", job.CameraID, err)
		return
	}

	// fixed filename per camera; Save overwrites, so the asset route always
	// serves the latest frame
	if _, err := a.Store.Save(media.AssetTypeDebugFrame, job.CameraID+".jpg", bytes.NewReader(encoded)); err != nil {
		log.Printf("annotator: ERROR saving debug frame for camera %s: %v", job.CameraID, err)
	}
}

// QueueRender queues an annotated-frame render. The frame is owned by the
// annotator from here on (closed after rendering, or immediately when the
// render is skipped).
func (a *Annotator) QueueRender(cameraID string, frame gocv.Mat, detections []media.DetectionResult, labels []string) bool {
	a.Mutex.Lock()
	if a.Pending[cameraID] {
		a.Mutex.Unlock()
		frame.Close()
		return false
	}
	a.Pending[cameraID] = true
	a.Mutex.Unlock()

	job := renderJob{CameraID: cameraID, Frame: frame, Detections: detections, Labels: labels}
	select {
	case a.JobQueue <- job:
		return true
	default:
		log.Printf("WARNING: annotator queue full, skipping debug frame for camera %s", cameraID)
		a.Mutex.Lock()
		delete(a.Pending, cameraID)
		a.Mutex.Unlock()
		frame.Close()
		return false
	}
}

func (a *Annotator) Stop() {
	log.Println("stopping annotator workers...")
	close(a.StopChan)
	a.Wg.Wait()
	log.Println("all annotator workers stopped")
}
