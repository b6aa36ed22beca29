package database

import (
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// CameraEventStats aggregates the event journal for one camera
type CameraEventStats struct {
	CameraID        string `json:"camera_id"`
	TotalEvents     int64  `json:"total_events"`
	PendingEvents   int64  `json:"pending_events"`
	DeliveredEvents int64  `json:"delivered_events"`
	LastEventAt     *int64 `json:"last_event_at,omitempty"`
}

// IdentityEventStats aggregates the event journal for one identity
type IdentityEventStats struct {
	IdentityID  string `json:"identity_id"`
	TotalEvents int64  `json:"total_events"`
	LastEventAt *int64 `json:"last_event_at,omitempty"`
}

// GetCameraEventStats returns per-camera journal aggregates
func GetCameraEventStats(db *sql.DB) ([]CameraEventStats, error) {
	queryBuilder := psql.Select(
		"camera_id",
		"COUNT(*)",
		"SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END)",
		"SUM(CASE WHEN status = 'delivered' THEN 1 ELSE 0 END)",
		"MAX(timestamp)",
	).
		From("attendance_events").
		GroupBy("camera_id").
		OrderBy("camera_id ASC")

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL query for GetCameraEventStats: %w", err)
	}

	rows, err := db.Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query camera event stats: %w", err)
	}
	defer rows.Close()

	var stats []CameraEventStats
	for rows.Next() {
		var s CameraEventStats
		if err := rows.Scan(&s.CameraID, &s.TotalEvents, &s.PendingEvents, &s.DeliveredEvents, &s.LastEventAt); err != nil {
			return nil, fmt.Errorf("failed to scan camera event stats row: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// GetTopIdentityEventStats returns the identities with the most journaled
// events, busiest first
func GetTopIdentityEventStats(db *sql.DB, limit int) ([]IdentityEventStats, error) {
	if limit <= 0 {
		limit = 20
	}
	queryBuilder := psql.Select("identity_id", "COUNT(*)", "MAX(timestamp)").
		From("attendance_events").
		GroupBy("identity_id").
		OrderBy("COUNT(*) DESC").
		Limit(uint64(limit))

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL query for GetTopIdentityEventStats: %w", err)
	}

	rows, err := db.Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query identity event stats: %w", err)
	}
	defer rows.Close()

	var stats []IdentityEventStats
	for rows.Next() {
		var s IdentityEventStats
		if err := rows.Scan(&s.IdentityID, &s.TotalEvents, &s.LastEventAt); err != nil {
			return nil, fmt.Errorf("failed to scan identity event stats row: %w", err)
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// GetSpoolDepth returns the number of undelivered events awaiting replay
func GetSpoolDepth(db *sql.DB) (int64, error) {
	queryBuilder := psql.Select("COUNT(*)").
		From("attendance_events").
		Where(sq.Eq{"status": "pending"})

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build SQL query for GetSpoolDepth: %w", err)
	}

	var depth int64
	if err := db.QueryRow(sqlStr, args...).Scan(&depth); err != nil {
		return 0, fmt.Errorf("failed to query spool depth: %w", err)
	}
	return depth, nil
}

// GetHealthTransitionCounts returns, per camera, how many times each health
// state was entered since the given unix timestamp
func GetHealthTransitionCounts(db *sql.DB, since int64) (map[string]map[string]int64, error) {
	queryBuilder := psql.Select("camera_id", "state", "COUNT(*)").
		From("health_events").
		Where(sq.GtOrEq{"timestamp": since}).
		GroupBy("camera_id", "state")

	sqlStr, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build SQL query for GetHealthTransitionCounts: %w", err)
	}

	rows, err := db.Query(sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query health transition counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]map[string]int64)
	for rows.Next() {
		var cameraID, state string
		var n int64
		if err := rows.Scan(&cameraID, &state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan health transition row: %w", err)
		}
		if counts[cameraID] == nil {
			counts[cameraID] = make(map[string]int64)
		}
		counts[cameraID][state] = n
	}
	return counts, rows.Err()
}
