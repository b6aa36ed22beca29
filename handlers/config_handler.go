package handlers

import (
	"log"
	"net/http"
)

// ConfigHandler exposes the explicit pipeline reload trigger. The reload
// function is shared with the SIGHUP handler in main.
type ConfigHandler struct {
	Reload func() error
}

// TriggerReload re-reads the pipeline config file and applies it. A file
// that fails to parse or validate leaves the running config untouched.
func (ch *ConfigHandler) TriggerReload(w http.ResponseWriter, r *http.Request) {
	if err := ch.Reload(); err != nil {
		log.Printf("config handler: reload rejected: %v", err)
		WriteAPIError(w, http.StatusUnprocessableEntity, "reload_rejected", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
