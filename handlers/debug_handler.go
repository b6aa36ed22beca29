package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tda9/FUACS/workers"
)

// DebugHandler serves the latest annotated frame per camera. The annotator
// overwrites one JPEG per camera, so this is always the most recent render.
type DebugHandler struct {
	DebugFramesPath string
	Manager         *workers.Manager
}

// GetDebugFrame returns the last annotated frame for a camera, or 404 when
// no frame has been rendered yet
func (dh *DebugHandler) GetDebugFrame(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "camera_id")
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		WriteAPIError(w, http.StatusBadRequest, "invalid_camera_id", "Invalid camera id")
		return
	}
	if _, ok := dh.Manager.Status(id); !ok {
		WriteAPIError(w, http.StatusNotFound, "camera_not_found", "Camera not found")
		return
	}

	framePath := filepath.Join(dh.DebugFramesPath, id+".jpg")
	if _, err := os.Stat(framePath); os.IsNotExist(err) {
		WriteAPIError(w, http.StatusNotFound, "frame_not_found", "No annotated frame rendered yet for this camera")
		return
	} else if err != nil {
		WriteAPIError(w, http.StatusInternalServerError, "frame_stat_failed", "Failed to read annotated frame")
		return
	}

	// frames are overwritten continuously; never cache
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, framePath)
}
