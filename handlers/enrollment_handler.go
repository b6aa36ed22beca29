package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/tda9/FUACS/models"
	"github.com/tda9/FUACS/services"
)

// EnrollmentHandler serves the enrollment index: snapshot push, pull-refresh
// trigger, and a vector-free summary of what is currently indexed
type EnrollmentHandler struct {
	Store *services.EnrollmentStore
}

// PushSnapshot replaces the index with a full snapshot supplied in the
// request body (the push half of the snapshot interface)
func (eh *EnrollmentHandler) PushSnapshot(w http.ResponseWriter, r *http.Request) {
	var entries []models.EnrollmentEntry
	if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Invalid snapshot body: "+err.Error())
		return
	}

	if err := eh.Store.Apply(entries); err != nil {
		log.Printf("enrollment handler: error applying pushed snapshot: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "apply_failed", "Failed to apply snapshot")
		return
	}

	snapshot := eh.Store.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":    snapshot.Version,
		"identities": snapshot.IdentityCount(),
		"references": len(snapshot.References),
	})
}

// TriggerRefresh pulls a fresh snapshot from the record-of-truth service.
// On failure the previous snapshot stays active and the error is reported.
func (eh *EnrollmentHandler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	if err := eh.Store.Refresh(); err != nil {
		log.Printf("enrollment handler: %v", err)
		WriteAPIError(w, http.StatusBadGateway, "refresh_failed", err.Error())
		return
	}

	snapshot := eh.Store.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":    snapshot.Version,
		"identities": snapshot.IdentityCount(),
		"references": len(snapshot.References),
	})
}

// ListIdentities returns the indexed identities and reference counts, never
// the vectors themselves
func (eh *EnrollmentHandler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	summaries := eh.Store.Identities()
	if summaries == nil {
		summaries = []services.IdentitySummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}
