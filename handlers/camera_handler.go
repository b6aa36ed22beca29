package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"strings"

	"github.com/facette/natsort"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"

	"github.com/tda9/FUACS/models"
	"github.com/tda9/FUACS/repository"
	"github.com/tda9/FUACS/workers"
)

// CameraHandler serves the camera registry plus live lane health and stats
type CameraHandler struct {
	Manager    *workers.Manager
	HealthRepo repository.HealthRepositoryInterface
}

// ListCameras returns every camera with live state, naturally sorted by id
// (cam-2 before cam-10)
func (ch *CameraHandler) ListCameras(w http.ResponseWriter, r *http.Request) {
	statuses := ch.Manager.Statuses()
	sort.Slice(statuses, func(i, j int) bool {
		return natsort.Compare(statuses[i].Camera.ID, statuses[j].Camera.ID)
	})
	if statuses == nil {
		statuses = []workers.CameraStatus{}
	}
	writeJSON(w, http.StatusOK, statuses)
}

type cameraDetailResponse struct {
	workers.CameraStatus
	RecentHealth []models.HealthEvent `json:"recent_health,omitempty"`
}

// GetCamera returns one camera with its recent health transitions
func (ch *CameraHandler) GetCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "camera_id")
	status, ok := ch.Manager.Status(id)
	if !ok {
		WriteAPIError(w, http.StatusNotFound, "camera_not_found", "Camera not found")
		return
	}

	resp := cameraDetailResponse{CameraStatus: status}
	if ch.HealthRepo != nil {
		health, err := ch.HealthRepo.ListRecentByCamera(id, 20)
		if err != nil {
			log.Printf("camera handler: error fetching health journal for %s: %v", id, err)
		} else {
			resp.RecentHealth = health
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// RegisterCamera registers a camera dynamically; it persists across restarts
func (ch *CameraHandler) RegisterCamera(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID                 string `json:"id"`
		Name               string `json:"name"`
		RTSPURL            string `json:"rtsp_url"`
		RoomID             string `json:"room_id"`
		SamplingIntervalMS int    `json:"sampling_interval_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteAPIError(w, http.StatusBadRequest, "invalid_body", "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		WriteAPIError(w, http.StatusBadRequest, "missing_field", "Missing required field: id")
		return
	}

	cam := models.Camera{
		ID:                 req.ID,
		Name:               req.Name,
		RTSPURL:            req.RTSPURL,
		RoomID:             req.RoomID,
		SamplingIntervalMS: req.SamplingIntervalMS,
	}
	if err := ch.Manager.RegisterCamera(cam); err != nil {
		if strings.Contains(err.Error(), "already exists") || strings.Contains(err.Error(), "pipeline config") {
			WriteAPIError(w, http.StatusConflict, "camera_conflict", err.Error())
		} else {
			WriteAPIError(w, http.StatusBadRequest, "invalid_camera", err.Error())
		}
		return
	}

	status, _ := ch.Manager.Status(req.ID)
	writeJSON(w, http.StatusCreated, status)
}

// DeregisterCamera tears the lane down and forgets the camera
func (ch *CameraHandler) DeregisterCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "camera_id")
	if err := ch.Manager.DeregisterCamera(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			WriteAPIError(w, http.StatusNotFound, "camera_not_found", "Camera not found")
		} else if strings.Contains(err.Error(), "pipeline config") {
			WriteAPIError(w, http.StatusConflict, "camera_conflict", err.Error())
		} else {
			log.Printf("camera handler: error deregistering %s: %v", id, err)
			WriteAPIError(w, http.StatusInternalServerError, "deregister_failed", "Failed to deregister camera")
		}
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// RestartCamera manually restarts a FAILED or wedged lane
func (ch *CameraHandler) RestartCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "camera_id")
	if err := ch.Manager.RestartCamera(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			WriteAPIError(w, http.StatusNotFound, "camera_not_found", "Camera not found")
		} else {
			WriteAPIError(w, http.StatusUnprocessableEntity, "restart_failed", err.Error())
		}
		return
	}
	status, _ := ch.Manager.Status(id)
	writeJSON(w, http.StatusOK, status)
}
