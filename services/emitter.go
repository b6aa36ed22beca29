package services

import (
	"log"
	"sync"
	"time"

	"github.com/tda9/FUACS/config"
	"github.com/tda9/FUACS/models"
	"github.com/tda9/FUACS/realtime"
	"github.com/tda9/FUACS/repository"
)

// DeliveryClient delivers one attendance event to the record-of-truth
// service. Implemented by backend.Client; tests substitute fakes.
type DeliveryClient interface {
	PostAttendanceEvent(event *models.AttendanceEvent) error
}

// Emitter delivers attendance events asynchronously with at-least-once
// semantics. Every event is journaled as pending before delivery; the
// pending rows are the durable spool. Delivery retries with backoff up to
// the configured attempt budget, then leaves the row for the replay loop.
type Emitter struct {
	repo   repository.EventRepositoryInterface
	client DeliveryClient
	hub    *realtime.Hub

	// Warn is called after the attempt budget is exhausted (MQTT delivery
	// warning); optional
	Warn func(event *models.AttendanceEvent, detail string)

	queue chan *models.AttendanceEvent

	mu       sync.Mutex
	cfg      config.DeliveryConfig
	inflight map[uint]bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewEmitter creates an emitter. hub may be nil.
func NewEmitter(cfg config.DeliveryConfig, repo repository.EventRepositoryInterface, client DeliveryClient, hub *realtime.Hub) *Emitter {
	return &Emitter{
		cfg:      cfg,
		repo:     repo,
		client:   client,
		hub:      hub,
		queue:    make(chan *models.AttendanceEvent, cfg.QueueSize),
		inflight: make(map[uint]bool),
		stop:     make(chan struct{}),
	}
}

// Start launches the delivery and replay goroutines
func (e *Emitter) Start() {
	cfg := e.config()
	e.wg.Add(2)
	go e.runDelivery()
	go e.runReplay()
	log.Printf("emitter: started (max attempts %d, queue size %d)", cfg.MaxAttempts, cfg.QueueSize)
}

// ApplyConfig swaps the delivery parameters (hot reload). The queue keeps
// its startup capacity; attempt budget, backoff, and replay interval take
// effect from the next delivery cycle.
func (e *Emitter) ApplyConfig(cfg config.DeliveryConfig) {
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	log.Printf("emitter: delivery config applied (max attempts %d)", cfg.MaxAttempts)
}

func (e *Emitter) config() config.DeliveryConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Stop drains in-flight work and returns. Events still queued are already
// journaled as pending and will replay on the next start.
func (e *Emitter) Stop() {
	close(e.stop)
	e.wg.Wait()
	log.Println("emitter: stopped")
}

// Enqueue journals the event and hands it to the delivery goroutine without
// blocking the camera lane. When the queue is full the event stays spooled
// and the replay loop picks it up later.
func (e *Emitter) Enqueue(event *models.AttendanceEvent) {
	if err := e.repo.Create(event); err != nil {
		log.Printf("emitter: ERROR journaling event %s: %v", event.EventUUID, err)
		// still attempt delivery; without a journal row there is nothing
		// to replay, so losing the queue slot would lose the event
	}

	e.markInflight(event.ID, true)
	select {
	case e.queue <- event:
	default:
		e.markInflight(event.ID, false)
		log.Printf("emitter: WARNING delivery queue full, leaving event %s spooled", event.EventUUID)
	}
}

func (e *Emitter) runDelivery() {
	defer e.wg.Done()
	for {
		select {
		case event := <-e.queue:
			e.deliver(event)
			e.markInflight(event.ID, false)
		case <-e.stop:
			return
		}
	}
}

// deliver attempts the event up to the configured budget with exponential
// backoff. Exhaustion leaves the journal row pending and raises a warning.
func (e *Emitter) deliver(event *models.AttendanceEvent) {
	cfg := e.config()
	delay := cfg.RetryBaseDelay()
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := e.client.PostAttendanceEvent(event)
		if err == nil {
			e.markDelivered(event)
			return
		}

		event.Attempts++
		if dbErr := e.repo.RecordAttempt(event.ID, event.Attempts, err.Error()); dbErr != nil {
			log.Printf("emitter: ERROR recording attempt for event %s: %v", event.EventUUID, dbErr)
		}
		log.Printf("emitter: delivery attempt %d/%d for event %s failed: %v",
			attempt, cfg.MaxAttempts, event.EventUUID, err)

		if attempt == cfg.MaxAttempts {
			break
		}
		select {
		case <-e.stop:
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > cfg.RetryMaxDelay() {
			delay = cfg.RetryMaxDelay()
		}
	}

	log.Printf("emitter: WARNING retries exhausted for event %s, spooled for replay", event.EventUUID)
	if e.Warn != nil {
		e.Warn(event, "delivery retries exhausted")
	}
	e.broadcast("delivery_warning", event, "spooled")
}

// runReplay periodically retries spooled events; the interval is re-read
// every cycle so a config reload takes effect without a restart. Manual
// replay (HTTP or MQTT) runs the same pass through ReplayOnce.
func (e *Emitter) runReplay() {
	defer e.wg.Done()
	for {
		interval := e.config().ReplayInterval()
		if interval <= 0 {
			return
		}
		select {
		case <-e.stop:
			return
		case <-time.After(interval):
			delivered, failed := e.ReplayOnce()
			if delivered > 0 || failed > 0 {
				log.Printf("emitter: replay cycle delivered %d, failed %d", delivered, failed)
			}
		}
	}
}

// ReplayOnce retries every spooled event a single time and returns how many
// were delivered and how many failed. In-flight events are skipped.
func (e *Emitter) ReplayOnce() (delivered, failed int) {
	events, err := e.repo.ListPending(0)
	if err != nil {
		log.Printf("emitter: ERROR listing spool for replay: %v", err)
		return 0, 0
	}

	for i := range events {
		event := &events[i]
		if e.isInflight(event.ID) {
			continue
		}
		if err := e.client.PostAttendanceEvent(event); err != nil {
			event.Attempts++
			if dbErr := e.repo.RecordAttempt(event.ID, event.Attempts, err.Error()); dbErr != nil {
				log.Printf("emitter: ERROR recording replay attempt for event %s: %v", event.EventUUID, dbErr)
			}
			failed++
			continue
		}
		e.markDelivered(event)
		delivered++
	}

	if delivered > 0 || failed > 0 {
		e.broadcastReplay(delivered, failed)
	}
	return delivered, failed
}

func (e *Emitter) markDelivered(event *models.AttendanceEvent) {
	deliveredAt := time.Now().Unix()
	if err := e.repo.MarkDelivered(event.ID, deliveredAt); err != nil {
		log.Printf("emitter: ERROR marking event %s delivered: %v", event.EventUUID, err)
	}
	e.broadcast("attendance_event", event, models.EventStatusDelivered)
}

func (e *Emitter) broadcast(eventType string, event *models.AttendanceEvent, status string) {
	if e.hub == nil {
		return
	}
	e.hub.Broadcast(realtime.Event{
		Type:       eventType,
		CameraID:   event.CameraID,
		IdentityID: event.IdentityID,
		Status:     status,
		Extra: map[string]interface{}{
			"event_uuid": event.EventUUID,
			"confidence": event.Confidence,
			"room_id":    event.RoomID,
		},
		Timestamp: time.Now().Unix(),
	})
}

func (e *Emitter) broadcastReplay(delivered, failed int) {
	if e.hub == nil {
		return
	}
	e.hub.Broadcast(realtime.Event{
		Type:   "replay_result",
		Status: models.EventStatusPending,
		Extra: map[string]interface{}{
			"delivered": delivered,
			"failed":    failed,
		},
		Timestamp: time.Now().Unix(),
	})
}

func (e *Emitter) markInflight(id uint, inflight bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if inflight {
		e.inflight[id] = true
	} else {
		delete(e.inflight, id)
	}
}

func (e *Emitter) isInflight(id uint) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight[id]
}
