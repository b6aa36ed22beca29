package repository

import (
	"github.com/tda9/FUACS/models"
)

// CameraRepositoryInterface defines the methods for camera registry operations
type CameraRepositoryInterface interface {
	Create(camera *models.Camera) error
	GetByID(id string) (*models.Camera, error)
	ListAll() ([]models.Camera, error)
	Update(camera *models.Camera) error
	Delete(id string) error
}

// EventRepositoryInterface defines the methods for the attendance event
// journal and its durable spool (the pending subset)
type EventRepositoryInterface interface {
	Create(event *models.AttendanceEvent) error
	GetByUUID(eventUUID string) (*models.AttendanceEvent, error)
	List(opts EventListOptions) ([]models.AttendanceEvent, error)
	ListPending(limit int) ([]models.AttendanceEvent, error)
	CountPending() (int64, error)
	MarkDelivered(id uint, deliveredAt int64) error
	RecordAttempt(id uint, attempts int, lastError string) error
	DeleteDeliveredBefore(cutoff int64) (int64, error)
}

// EnrollmentRepositoryInterface defines the methods for the local cache of
// the last good enrollment snapshot
type EnrollmentRepositoryInterface interface {
	ReplaceSnapshot(refs []models.ReferenceEmbedding) error
	ListAll() ([]models.ReferenceEmbedding, error)
}

// HealthRepositoryInterface defines the methods for the camera health journal
type HealthRepositoryInterface interface {
	Create(event *models.HealthEvent) error
	ListRecentByCamera(cameraID string, limit int) ([]models.HealthEvent, error)
	LatestByCamera() (map[string]models.HealthEvent, error)
}
