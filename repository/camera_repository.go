package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/tda9/FUACS/models"
	"gorm.io/gorm"
)

// CameraRepository handles database operations for registered Camera entities
type CameraRepository struct {
	DB *gorm.DB
}

// Ensure CameraRepository implements CameraRepositoryInterface
var _ CameraRepositoryInterface = (*CameraRepository)(nil)

// NewCameraRepository creates a new instance of CameraRepository
func NewCameraRepository(db *gorm.DB) *CameraRepository {
	return &CameraRepository{DB: db}
}

// Create registers a new camera in the database
func (r *CameraRepository) Create(camera *models.Camera) error {
	now := time.Now().Unix()
	if camera.CreatedAt == 0 {
		camera.CreatedAt = now
	}
	camera.UpdatedAt = now

	err := r.DB.Create(camera).Error
	if err != nil {
		return fmt.Errorf("failed to create camera %s: %w", camera.ID, err)
	}
	return nil
}

// GetByID retrieves a registered camera by its ID
func (r *CameraRepository) GetByID(id string) (*models.Camera, error) {
	var camera models.Camera
	err := r.DB.First(&camera, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get camera %s: %w", id, err)
	}
	return &camera, nil
}

// ListAll retrieves every registered camera
func (r *CameraRepository) ListAll() ([]models.Camera, error) {
	var cameras []models.Camera
	err := r.DB.Find(&cameras).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	return cameras, nil
}

// Update updates an existing registered camera
func (r *CameraRepository) Update(camera *models.Camera) error {
	camera.UpdatedAt = time.Now().Unix()
	result := r.DB.Model(&models.Camera{ID: camera.ID}).Updates(map[string]interface{}{
		"name":                 camera.Name,
		"rtsp_url":             camera.RTSPURL,
		"room_id":              camera.RoomID,
		"sampling_interval_ms": camera.SamplingIntervalMS,
		"updated_at":           camera.UpdatedAt,
	})

	if result.Error != nil {
		return fmt.Errorf("failed to update camera %s: %w", camera.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Delete removes a registered camera by its ID
func (r *CameraRepository) Delete(id string) error {
	result := r.DB.Delete(&models.Camera{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete camera %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
