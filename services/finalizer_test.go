package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tda9/FUACS/config"
	"github.com/tda9/FUACS/models"
)

type fakeScheduleClient struct {
	mu        sync.Mutex
	slots     []models.Slot
	fetchErr  error
	failSlots map[string]bool
	finalized []string
}

func (f *fakeScheduleClient) FetchSlots(date time.Time) ([]models.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.slots, nil
}

func (f *fakeScheduleClient) FinalizeSlot(slotID string, timestamp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSlots[slotID] {
		return errors.New("backend rejected finalize")
	}
	f.finalized = append(f.finalized, slotID)
	return nil
}

func (f *fakeScheduleClient) finalizedSlots() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.finalized...)
}

func testSchedule(base time.Time) []models.Slot {
	return []models.Slot{
		{SlotID: "slot-1", RoomID: "room-101", StartsAt: base, EndsAt: base.Add(45 * time.Minute)},
		{SlotID: "slot-2", RoomID: "room-101", StartsAt: base.Add(time.Hour), EndsAt: base.Add(105 * time.Minute)},
		{SlotID: "slot-3", RoomID: "room-202", StartsAt: base, EndsAt: base.Add(45 * time.Minute)},
	}
}

func newTestFinalizer(t *testing.T, client *fakeScheduleClient, at time.Time) *Finalizer {
	t.Helper()
	f := NewFinalizer(config.ScheduleConfig{
		RefreshIntervalSeconds: 900,
		FinalizeGraceSeconds:   120,
		TickSeconds:            30,
	}, client)
	f.now = func() time.Time { return at }
	if err := f.RefreshSchedule(); err != nil {
		t.Fatalf("RefreshSchedule returned error: %v", err)
	}
	return f
}

func TestFinalizerResolveSlot(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	client := &fakeScheduleClient{slots: testSchedule(base)}
	f := newTestFinalizer(t, client, base)

	if got := f.ResolveSlot("room-101", base.Add(10*time.Minute)); got == nil || *got != "slot-1" {
		t.Errorf("ResolveSlot(room-101, +10m) = %v, want slot-1", got)
	}
	if got := f.ResolveSlot("room-202", base.Add(10*time.Minute)); got == nil || *got != "slot-3" {
		t.Errorf("ResolveSlot(room-202, +10m) = %v, want slot-3", got)
	}
	// between slots: no slot id on the event
	if got := f.ResolveSlot("room-101", base.Add(50*time.Minute)); got != nil {
		t.Errorf("ResolveSlot between slots = %v, want nil", got)
	}
	if got := f.ResolveSlot("room-999", base.Add(10*time.Minute)); got != nil {
		t.Errorf("ResolveSlot for unknown room = %v, want nil", got)
	}
}

func TestFinalizerTickFiresAfterGrace(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	client := &fakeScheduleClient{slots: testSchedule(base)}
	f := newTestFinalizer(t, client, base)

	// slot-1 ends at +45m with a 2m grace; nothing is due at +46m
	f.Tick(base.Add(46 * time.Minute))
	if got := client.finalizedSlots(); len(got) != 0 {
		t.Fatalf("finalized %v before grace expired, want none", got)
	}

	// at +48m slot-1 and slot-3 are past end-plus-grace
	f.Tick(base.Add(48 * time.Minute))
	if got := client.finalizedSlots(); len(got) != 2 {
		t.Fatalf("finalized %v, want slot-1 and slot-3", got)
	}

	// already-finalized slots are not fired again
	f.Tick(base.Add(49 * time.Minute))
	if got := client.finalizedSlots(); len(got) != 2 {
		t.Fatalf("re-finalized on later tick: %v", got)
	}
}

func TestFinalizerApplyConfigChangesGrace(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	client := &fakeScheduleClient{slots: testSchedule(base)}
	f := newTestFinalizer(t, client, base)

	// a reload widens the grace to 10m; slot boundaries at end+2m no longer
	// fire
	f.ApplyConfig(config.ScheduleConfig{
		RefreshIntervalSeconds: 900,
		FinalizeGraceSeconds:   600,
		TickSeconds:            30,
	})
	f.Tick(base.Add(48 * time.Minute))
	if got := client.finalizedSlots(); len(got) != 0 {
		t.Fatalf("finalized %v inside the reloaded grace period, want none", got)
	}

	// past the wider grace the boundary fires as usual
	f.Tick(base.Add(56 * time.Minute))
	if got := client.finalizedSlots(); len(got) != 2 {
		t.Fatalf("finalized %v, want slot-1 and slot-3 after the new grace", got)
	}
}

func TestFinalizerRetriesFailedFinalize(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	client := &fakeScheduleClient{
		slots:     testSchedule(base),
		failSlots: map[string]bool{"slot-1": true},
	}
	f := newTestFinalizer(t, client, base)

	f.Tick(base.Add(48 * time.Minute))
	if got := client.finalizedSlots(); len(got) != 1 || got[0] != "slot-3" {
		t.Fatalf("finalized = %v, want only slot-3 while slot-1 fails", got)
	}

	// the backend recovers; the next tick catches slot-1 up
	client.mu.Lock()
	client.failSlots = nil
	client.mu.Unlock()
	f.Tick(base.Add(49 * time.Minute))
	if got := client.finalizedSlots(); len(got) != 2 {
		t.Fatalf("finalized = %v, want slot-1 retried and finalized", got)
	}
}

func TestFinalizerExplicitCloseCall(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	client := &fakeScheduleClient{slots: testSchedule(base)}
	f := newTestFinalizer(t, client, base)

	if err := f.FinalizeNow("slot-2"); err != nil {
		t.Fatalf("FinalizeNow returned error: %v", err)
	}
	if got := client.finalizedSlots(); len(got) != 1 || got[0] != "slot-2" {
		t.Fatalf("finalized = %v, want slot-2", got)
	}

	// the boundary tick must not fire a second finalize for slot-2
	f.Tick(base.Add(3 * time.Hour))
	got := client.finalizedSlots()
	count := 0
	for _, id := range got {
		if id == "slot-2" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("slot-2 finalized %d times, want 1 (explicit close-call already fired)", count)
	}
}

func TestFinalizerRefreshFailOpen(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	client := &fakeScheduleClient{slots: testSchedule(base)}
	f := newTestFinalizer(t, client, base)

	client.mu.Lock()
	client.fetchErr = errors.New("backend unreachable")
	client.mu.Unlock()
	if err := f.RefreshSchedule(); err == nil {
		t.Fatal("RefreshSchedule must report the failed pull")
	}

	// the stale schedule stays active
	if got := f.ResolveSlot("room-101", base.Add(10*time.Minute)); got == nil || *got != "slot-1" {
		t.Errorf("ResolveSlot after failed refresh = %v, want stale slot-1", got)
	}
}
