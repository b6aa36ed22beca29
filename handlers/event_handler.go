package handlers

import (
	"log"
	"net/http"
	"strconv"

	"github.com/tda9/FUACS/models"
	"github.com/tda9/FUACS/repository"
	"github.com/tda9/FUACS/services"
)

const defaultEventPageSize = 50

// EventHandler serves the attendance event journal, the spool, and the
// manual replay trigger
type EventHandler struct {
	Repo    repository.EventRepositoryInterface
	Emitter *services.Emitter
}

// ListEvents returns journal entries, filterable by camera/identity/status
// and paginated with limit/offset
func (eh *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := repository.EventListOptions{
		CameraID:   q.Get("camera_id"),
		IdentityID: q.Get("identity_id"),
		Status:     q.Get("status"),
		Sort:       q.Get("sort"),
		Limit:      defaultEventPageSize,
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.Offset = n
		}
	}

	events, err := eh.Repo.List(opts)
	if err != nil {
		log.Printf("event handler: error listing events: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "list_failed", "Failed to list attendance events")
		return
	}
	if events == nil {
		events = []models.AttendanceEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ListSpool returns undelivered events awaiting replay, oldest first
func (eh *EventHandler) ListSpool(w http.ResponseWriter, r *http.Request) {
	events, err := eh.Repo.ListPending(0)
	if err != nil {
		log.Printf("event handler: error listing spool: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "list_failed", "Failed to list spooled events")
		return
	}
	if events == nil {
		events = []models.AttendanceEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// TriggerReplay runs one replay pass over the spool immediately
func (eh *EventHandler) TriggerReplay(w http.ResponseWriter, r *http.Request) {
	delivered, failed := eh.Emitter.ReplayOnce()
	writeJSON(w, http.StatusOK, map[string]int{
		"delivered": delivered,
		"failed":    failed,
	})
}
