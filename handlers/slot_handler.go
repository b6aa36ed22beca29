package handlers

import (
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tda9/FUACS/services"
)

// SlotHandler exposes the explicit close-call trigger for a slot
type SlotHandler struct {
	Finalizer *services.Finalizer
}

// FinalizeSlot forwards an explicit finalize for one slot to the
// record-of-truth service; finalize is idempotent there so repeated calls
// are safe
func (sh *SlotHandler) FinalizeSlot(w http.ResponseWriter, r *http.Request) {
	slotID := strings.TrimSpace(chi.URLParam(r, "slot_id"))
	if slotID == "" {
		WriteAPIError(w, http.StatusBadRequest, "missing_field", "Missing slot id")
		return
	}

	if err := sh.Finalizer.FinalizeNow(slotID); err != nil {
		log.Printf("slot handler: %v", err)
		WriteAPIError(w, http.StatusBadGateway, "finalize_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"slot_id": slotID, "status": "finalized"})
}
