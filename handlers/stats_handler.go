package handlers

import (
	"database/sql"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/tda9/FUACS/database"
	"github.com/tda9/FUACS/services"
	"github.com/tda9/FUACS/workers"
)

// StatsHandler aggregates live lane counters with journal statistics from
// the operational database
type StatsHandler struct {
	DB         *sql.DB
	Manager    *workers.Manager
	Enrollment *services.EnrollmentStore
}

type statsResponse struct {
	GeneratedAt   int64                         `json:"generated_at"`
	Lanes         []workers.CameraStatus        `json:"lanes"`
	SpoolDepth    int64                         `json:"spool_depth"`
	EnrollmentV   int64                         `json:"enrollment_version"`
	Identities    int                           `json:"enrolled_identities"`
	CameraEvents  []database.CameraEventStats   `json:"camera_events"`
	TopIdentities []database.IdentityEventStats `json:"top_identities"`
	HealthLastDay map[string]map[string]int64   `json:"health_transitions_24h"`
}

// GetStats returns the operational statistics snapshot
func (sh *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{GeneratedAt: time.Now().Unix()}

	resp.Lanes = sh.Manager.Statuses()
	if resp.Lanes == nil {
		resp.Lanes = []workers.CameraStatus{}
	}

	snapshot := sh.Enrollment.Snapshot()
	resp.EnrollmentV = snapshot.Version
	resp.Identities = snapshot.IdentityCount()

	depth, err := database.GetSpoolDepth(sh.DB)
	if err != nil {
		log.Printf("stats handler: error querying spool depth: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "stats_failed", "Failed to query event statistics")
		return
	}
	resp.SpoolDepth = depth

	cameraStats, err := database.GetCameraEventStats(sh.DB)
	if err != nil {
		log.Printf("stats handler: error querying camera event stats: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "stats_failed", "Failed to query event statistics")
		return
	}
	if cameraStats == nil {
		cameraStats = []database.CameraEventStats{}
	}
	resp.CameraEvents = cameraStats

	limit := 20
	if v := r.URL.Query().Get("top"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	topIdentities, err := database.GetTopIdentityEventStats(sh.DB, limit)
	if err != nil {
		log.Printf("stats handler: error querying identity event stats: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "stats_failed", "Failed to query event statistics")
		return
	}
	if topIdentities == nil {
		topIdentities = []database.IdentityEventStats{}
	}
	resp.TopIdentities = topIdentities

	since := time.Now().Add(-24 * time.Hour).Unix()
	transitions, err := database.GetHealthTransitionCounts(sh.DB, since)
	if err != nil {
		log.Printf("stats handler: error querying health transitions: %v", err)
		WriteAPIError(w, http.StatusInternalServerError, "stats_failed", "Failed to query health statistics")
		return
	}
	resp.HealthLastDay = transitions

	writeJSON(w, http.StatusOK, resp)
}
