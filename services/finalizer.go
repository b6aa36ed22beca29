package services

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tda9/FUACS/config"
	"github.com/tda9/FUACS/models"
)

// ScheduleClient is the slot surface of the record-of-truth service, which
// owns all schedules. Finalize is idempotent on the receiving end.
type ScheduleClient interface {
	FetchSlots(date time.Time) ([]models.Slot, error)
	FinalizeSlot(slotID string, timestamp time.Time) error
}

// Finalizer sequences slot-boundary triggers. It pulls the day's schedule,
// fires finalize at each slot's end plus a grace period, and accepts
// explicit close-calls (HTTP and MQTT). It holds no recognition logic.
// Missed boundaries are caught up on the next tick because finalize is
// idempotent and retrying is safe.
type Finalizer struct {
	client ScheduleClient
	now    func() time.Time

	mu        sync.Mutex
	cfg       config.ScheduleConfig
	slots     []models.Slot
	finalized map[string]time.Time

	reload chan struct{}
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewFinalizer creates a finalizer. The schedule starts empty; the first
// refresh (startup or periodic) fills it.
func NewFinalizer(cfg config.ScheduleConfig, client ScheduleClient) *Finalizer {
	return &Finalizer{
		cfg:       cfg,
		client:    client,
		now:       time.Now,
		finalized: make(map[string]time.Time),
		reload:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
}

// Start launches the tick and schedule-refresh loops
func (f *Finalizer) Start() {
	cfg := f.config()
	f.wg.Add(1)
	go f.run()
	log.Printf("finalizer: started (tick %s, grace %s)", cfg.Tick(), cfg.FinalizeGrace())
}

// ApplyConfig swaps the schedule parameters (hot reload). The run loop
// rebuilds its tickers so the new tick and refresh intervals take effect.
func (f *Finalizer) ApplyConfig(cfg config.ScheduleConfig) {
	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()
	select {
	case f.reload <- struct{}{}:
	default:
	}
	log.Printf("finalizer: schedule config applied (tick %s, grace %s)", cfg.Tick(), cfg.FinalizeGrace())
}

func (f *Finalizer) config() config.ScheduleConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg
}

// Stop halts the loops
func (f *Finalizer) Stop() {
	close(f.stop)
	f.wg.Wait()
	log.Println("finalizer: stopped")
}

// RefreshSchedule pulls today's slot schedule. A failed pull keeps the stale
// schedule active (fail-open, same policy as the enrollment store).
func (f *Finalizer) RefreshSchedule() error {
	slots, err := f.client.FetchSlots(f.now())
	if err != nil {
		return fmt.Errorf("finalizer: schedule refresh failed, keeping stale schedule: %w", err)
	}

	f.mu.Lock()
	f.slots = slots
	// drop finalize markers for slots no longer in the schedule so the map
	// does not grow across days
	current := make(map[string]bool, len(slots))
	for _, s := range slots {
		current[s.SlotID] = true
	}
	for id := range f.finalized {
		if !current[id] {
			delete(f.finalized, id)
		}
	}
	f.mu.Unlock()

	log.Printf("finalizer: schedule refreshed, %d slots", len(slots))
	return nil
}

// ResolveSlot finds the slot covering (room, timestamp), if any. Used by the
// camera lanes to stamp attendance events.
func (f *Finalizer) ResolveSlot(roomID string, at time.Time) *string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, slot := range f.slots {
		if slot.Covers(roomID, at) {
			id := slot.SlotID
			return &id
		}
	}
	return nil
}

// FinalizeNow handles an explicit close-call for one slot
func (f *Finalizer) FinalizeNow(slotID string) error {
	now := f.now()
	if err := f.client.FinalizeSlot(slotID, now); err != nil {
		return fmt.Errorf("finalizer: explicit finalize of slot %s failed: %w", slotID, err)
	}
	f.mu.Lock()
	f.finalized[slotID] = now
	f.mu.Unlock()
	log.Printf("finalizer: slot %s finalized (explicit)", slotID)
	return nil
}

// Tick finalizes every slot whose end-plus-grace boundary has passed and is
// not yet finalized. Failures stay unfinalized and retry next tick.
func (f *Finalizer) Tick(now time.Time) {
	f.mu.Lock()
	var due []models.Slot
	for _, slot := range f.slots {
		if _, done := f.finalized[slot.SlotID]; done {
			continue
		}
		if now.After(slot.EndsAt.Add(f.cfg.FinalizeGrace())) {
			due = append(due, slot)
		}
	}
	f.mu.Unlock()

	for _, slot := range due {
		if err := f.client.FinalizeSlot(slot.SlotID, now); err != nil {
			log.Printf("finalizer: finalize of slot %s failed, will retry: %v", slot.SlotID, err)
			continue
		}
		f.mu.Lock()
		f.finalized[slot.SlotID] = now
		f.mu.Unlock()
		log.Printf("finalizer: slot %s finalized", slot.SlotID)
	}
}

func (f *Finalizer) run() {
	defer f.wg.Done()

	cfg := f.config()
	tick := time.NewTicker(cfg.Tick())
	defer tick.Stop()
	refresh := time.NewTicker(cfg.RefreshInterval())
	defer refresh.Stop()

	for {
		select {
		case <-f.stop:
			return
		case now := <-tick.C:
			f.Tick(now)
		case <-refresh.C:
			if err := f.RefreshSchedule(); err != nil {
				log.Printf("finalizer: %v", err)
			}
		case <-f.reload:
			cfg = f.config()
			tick.Reset(cfg.Tick())
			refresh.Reset(cfg.RefreshInterval())
		}
	}
}
