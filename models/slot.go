package models

import "time"

// Slot is one scheduled class or exam period as exchanged with the
// record-of-truth service, which owns all schedules. Not a database table.
type Slot struct {
	SlotID   string    `json:"slot_id"`
	RoomID   string    `json:"room_id"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// Covers reports whether the slot's window contains the given time.
func (s Slot) Covers(roomID string, at time.Time) bool {
	return s.RoomID == roomID && !at.Before(s.StartsAt) && at.Before(s.EndsAt)
}
