package services

import "time"

// dedupEntry tracks one identity's cooldown on one camera
type dedupEntry struct {
	lastSeen    time.Time
	lastEmitted time.Time
}

// Deduplicator is the per-camera session tracker. One instance belongs to
// one camera lane and is only touched by that lane's processor goroutine,
// so it needs no locking; the camera is implied by ownership and entries
// are keyed by identity alone.
//
// Per (identity) the state machine is: first match emits and starts the
// cooldown window; matches inside the window refresh last-seen without
// re-emitting; the first match after the window expires emits again.
type Deduplicator struct {
	cooldown     time.Duration
	idleEviction time.Duration
	entries      map[string]*dedupEntry
}

// NewDeduplicator creates a session tracker. idleEviction must be at least
// cooldown (config validation enforces this) so eviction can never re-open
// a live cooldown window.
func NewDeduplicator(cooldown, idleEviction time.Duration) *Deduplicator {
	if idleEviction < cooldown {
		idleEviction = cooldown
	}
	return &Deduplicator{
		cooldown:     cooldown,
		idleEviction: idleEviction,
		entries:      make(map[string]*dedupEntry),
	}
}

// Observe records a match for the identity at the given time and reports
// whether an attendance event should be emitted. Time is injected so the
// state machine is testable.
func (d *Deduplicator) Observe(identityID string, now time.Time) bool {
	entry, ok := d.entries[identityID]
	if !ok {
		d.entries[identityID] = &dedupEntry{lastSeen: now, lastEmitted: now}
		return true
	}

	entry.lastSeen = now
	if now.Sub(entry.lastEmitted) >= d.cooldown {
		entry.lastEmitted = now
		return true
	}
	return false
}

// Sweep evicts entries idle longer than the eviction period and returns the
// number removed. A liveness optimization to bound memory, not a
// correctness requirement.
func (d *Deduplicator) Sweep(now time.Time) int {
	evicted := 0
	for id, entry := range d.entries {
		if now.Sub(entry.lastSeen) > d.idleEviction {
			delete(d.entries, id)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked identities
func (d *Deduplicator) Len() int {
	return len(d.entries)
}
