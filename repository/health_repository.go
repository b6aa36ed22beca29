package repository

import (
	"fmt"
	"time"

	"github.com/tda9/FUACS/models"
	"gorm.io/gorm"
)

// HealthRepository handles database operations for the camera health journal
type HealthRepository struct {
	DB *gorm.DB
}

// Ensure HealthRepository implements HealthRepositoryInterface
var _ HealthRepositoryInterface = (*HealthRepository)(nil)

// NewHealthRepository creates a new instance of HealthRepository
func NewHealthRepository(db *gorm.DB) *HealthRepository {
	return &HealthRepository{DB: db}
}

// Create journals a camera health transition
func (r *HealthRepository) Create(event *models.HealthEvent) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	err := r.DB.Create(event).Error
	if err != nil {
		return fmt.Errorf("failed to journal health event for camera %s: %w", event.CameraID, err)
	}
	return nil
}

// ListRecentByCamera retrieves the most recent transitions for one camera
func (r *HealthRepository) ListRecentByCamera(cameraID string, limit int) ([]models.HealthEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	var events []models.HealthEvent
	err := r.DB.Where("camera_id = ?", cameraID).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list health events for camera %s: %w", cameraID, err)
	}
	return events, nil
}

// LatestByCamera retrieves the most recent journaled transition per camera
func (r *HealthRepository) LatestByCamera() (map[string]models.HealthEvent, error) {
	var events []models.HealthEvent
	err := r.DB.Order("timestamp ASC, id ASC").Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list health events: %w", err)
	}
	latest := make(map[string]models.HealthEvent, len(events))
	for _, ev := range events {
		latest[ev.CameraID] = ev
	}
	return latest, nil
}
