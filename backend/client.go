package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tda9/FUACS/models"
)

// Client talks to the record-of-truth service: enrollment snapshots in,
// attendance events and slot finalization out. Every call is a plain
// request/response; retry policy lives with the callers.
type Client struct {
	BaseURL string
	http    *http.Client
}

// NewClient creates a backend client. baseURL must not have a trailing slash.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// FetchEnrollmentSnapshot pulls the full enrollment snapshot
func (c *Client) FetchEnrollmentSnapshot() ([]models.EnrollmentEntry, error) {
	resp, err := c.http.Get(c.BaseURL + "/api/enrollments/snapshot")
	if err != nil {
		return nil, fmt.Errorf("backend: snapshot request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend: snapshot request returned status %d", resp.StatusCode)
	}

	var entries []models.EnrollmentEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("backend: failed to decode snapshot response: %w", err)
	}
	return entries, nil
}

// attendanceEventPayload is the ingestion wire shape. The receiving side
// deduplicates by (identity_id, slot_id) and may also key on event_id, so
// duplicate delivery after a partial success is harmless.
type attendanceEventPayload struct {
	EventID       string  `json:"event_id"`
	IdentityID    string  `json:"identity_id"`
	CameraID      string  `json:"camera_id"`
	RoomID        string  `json:"room_id"`
	SlotID        *string `json:"slot_id,omitempty"`
	Timestamp     int64   `json:"timestamp"`
	Confidence    float32 `json:"confidence"`
	EvidencePhoto string  `json:"evidence_photo"`
}

// PostAttendanceEvent delivers one attendance event
func (c *Client) PostAttendanceEvent(event *models.AttendanceEvent) error {
	payload := attendanceEventPayload{
		EventID:       event.EventUUID,
		IdentityID:    event.IdentityID,
		CameraID:      event.CameraID,
		RoomID:        event.RoomID,
		SlotID:        event.SlotID,
		Timestamp:     event.Timestamp,
		Confidence:    event.Confidence,
		EvidencePhoto: event.EvidencePath,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("backend: failed to encode attendance event %s: %w", event.EventUUID, err)
	}

	resp, err := c.http.Post(c.BaseURL+"/api/attendance/events", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("backend: attendance event delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend: attendance ingestion returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// FinalizeSlot asks the backend to reconcile attendance for a slot. The call
// is idempotent on the receiving end; retrying or duplicating it is safe.
func (c *Client) FinalizeSlot(slotID string, timestamp time.Time) error {
	body, err := json.Marshal(map[string]int64{"timestamp": timestamp.Unix()})
	if err != nil {
		return fmt.Errorf("backend: failed to encode finalize payload for slot %s: %w", slotID, err)
	}

	endpoint := fmt.Sprintf("%s/api/slots/%s/finalize", c.BaseURL, url.PathEscape(slotID))
	resp, err := c.http.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("backend: finalize request for slot %s failed: %w", slotID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("backend: finalize for slot %s returned status %d", slotID, resp.StatusCode)
	}
	return nil
}

// FetchSlots pulls the slot schedule for one day
func (c *Client) FetchSlots(date time.Time) ([]models.Slot, error) {
	endpoint := fmt.Sprintf("%s/api/slots?date=%s", c.BaseURL, date.Format("2006-01-02"))
	resp, err := c.http.Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("backend: slot schedule request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend: slot schedule request returned status %d", resp.StatusCode)
	}

	var slots []models.Slot
	if err := json.NewDecoder(resp.Body).Decode(&slots); err != nil {
		return nil, fmt.Errorf("backend: failed to decode slot schedule: %w", err)
	}
	return slots, nil
}
