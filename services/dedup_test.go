package services

import (
	"testing"
	"time"
)

func TestDeduplicatorCooldownWindow(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	d := NewDeduplicator(10*time.Minute, 30*time.Minute)

	if !d.Observe("alice", base) {
		t.Fatal("first match must emit")
	}

	// repeated matches inside the window refresh last-seen without emitting
	for i := 1; i <= 5; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		if d.Observe("alice", at) {
			t.Fatalf("match at +%dm emitted inside the cooldown window", i)
		}
	}

	// first match after the window expires emits again
	if !d.Observe("alice", base.Add(11*time.Minute)) {
		t.Fatal("match after cooldown expiry must emit")
	}
	if d.Observe("alice", base.Add(12*time.Minute)) {
		t.Fatal("re-emit must restart the cooldown window")
	}
}

func TestDeduplicatorIdentitiesAreIndependent(t *testing.T) {
	base := time.Now()
	d := NewDeduplicator(10*time.Minute, 30*time.Minute)

	if !d.Observe("alice", base) || !d.Observe("bob", base) {
		t.Fatal("first match per identity must emit")
	}
	if d.Observe("alice", base.Add(time.Minute)) {
		t.Fatal("alice is inside her window")
	}
	if !d.Observe("carol", base.Add(time.Minute)) {
		t.Fatal("carol's cooldown must be unaffected by the others")
	}
}

func TestDeduplicatorSweep(t *testing.T) {
	base := time.Now()
	d := NewDeduplicator(10*time.Minute, 30*time.Minute)

	d.Observe("alice", base)
	d.Observe("bob", base.Add(25*time.Minute))
	if d.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", d.Len())
	}

	// alice idle 31m, bob idle 6m
	if evicted := d.Sweep(base.Add(31 * time.Minute)); evicted != 1 {
		t.Fatalf("Sweep evicted %d, want 1", evicted)
	}
	if d.Len() != 1 {
		t.Fatalf("Len() after sweep = %d, want 1", d.Len())
	}

	// eviction forgot alice, so her next match emits as a fresh session
	if !d.Observe("alice", base.Add(32*time.Minute)) {
		t.Fatal("match after eviction must emit")
	}
}

func TestDeduplicatorClampsEvictionToCooldown(t *testing.T) {
	// an eviction period shorter than the cooldown could re-open live windows
	d := NewDeduplicator(10*time.Minute, time.Minute)
	base := time.Now()

	d.Observe("alice", base)
	if evicted := d.Sweep(base.Add(5 * time.Minute)); evicted != 0 {
		t.Fatalf("Sweep evicted %d inside the cooldown window, want 0", evicted)
	}
	if d.Observe("alice", base.Add(6*time.Minute)) {
		t.Fatal("cooldown window must survive the sweep")
	}
}
