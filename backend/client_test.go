package backend

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tda9/FUACS/models"
)

func TestFetchEnrollmentSnapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/enrollments/snapshot" {
			t.Errorf("path = %s, want /api/enrollments/snapshot", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]models.EnrollmentEntry{
			{IdentityID: "alice", Embeddings: [][]float32{{0.1, 0.2}}, Active: true},
			{IdentityID: "bob", Embeddings: [][]float32{{0.3, 0.4}}, Active: false},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second)
	entries, err := c.FetchEnrollmentSnapshot()
	if err != nil {
		t.Fatalf("FetchEnrollmentSnapshot returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].IdentityID != "alice" || !entries[0].Active {
		t.Errorf("entries[0] = %+v, want active alice", entries[0])
	}
}

func TestPostAttendanceEvent(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/attendance/events" || r.Method != http.MethodPost {
			t.Errorf("request = %s %s, want POST /api/attendance/events", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	slotID := "slot-7"
	event := &models.AttendanceEvent{
		EventUUID:    "ev-1",
		IdentityID:   "alice",
		CameraID:     "cam-1",
		RoomID:       "room-101",
		SlotID:       &slotID,
		Timestamp:    1700000000,
		Confidence:   0.91,
		EvidencePath: "evidence/ev.jpg",
	}

	c := NewClient(server.URL, 5*time.Second)
	if err := c.PostAttendanceEvent(event); err != nil {
		t.Fatalf("PostAttendanceEvent returned error: %v", err)
	}

	if received["event_id"] != "ev-1" {
		t.Errorf("event_id = %v, want ev-1", received["event_id"])
	}
	if received["identity_id"] != "alice" || received["slot_id"] != "slot-7" {
		t.Errorf("payload = %v, want identity alice in slot-7", received)
	}
	if received["evidence_photo"] != "evidence/ev.jpg" {
		t.Errorf("evidence_photo = %v, want evidence/ev.jpg", received["evidence_photo"])
	}
}

func TestPostAttendanceEventNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "schema mismatch", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second)
	err := c.PostAttendanceEvent(&models.AttendanceEvent{EventUUID: "ev-1"})
	if err == nil {
		t.Fatal("PostAttendanceEvent accepted a 422 response")
	}
}

func TestFinalizeSlot(t *testing.T) {
	var gotPath string
	var body map[string]int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second)
	at := time.Unix(1700000000, 0)
	if err := c.FinalizeSlot("slot-7", at); err != nil {
		t.Fatalf("FinalizeSlot returned error: %v", err)
	}
	if gotPath != "/api/slots/slot-7/finalize" {
		t.Errorf("path = %s, want /api/slots/slot-7/finalize", gotPath)
	}
	if body["timestamp"] != 1700000000 {
		t.Errorf("timestamp = %d, want 1700000000", body["timestamp"])
	}
}

func TestFetchSlots(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("date"); got != "2026-03-02" {
			t.Errorf("date = %q, want 2026-03-02", got)
		}
		json.NewEncoder(w).Encode([]models.Slot{
			{SlotID: "slot-1", RoomID: "room-101"},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, 5*time.Second)
	slots, err := c.FetchSlots(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("FetchSlots returned error: %v", err)
	}
	if len(slots) != 1 || slots[0].SlotID != "slot-1" {
		t.Errorf("slots = %+v, want one slot-1", slots)
	}
}
