package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/tda9/FUACS/models"
	"gorm.io/gorm"
)

// EventListOptions filters and paginates journal listings. Sort columns are
// whitelisted; anything unknown falls back to newest-first.
type EventListOptions struct {
	CameraID   string
	IdentityID string
	Status     string
	Limit      int
	Offset     int
	Sort       string
}

var eventSortColumns = map[string]string{
	"timestamp":  "timestamp DESC",
	"created_at": "created_at DESC",
	"attempts":   "attempts DESC",
	"identity":   "identity_id ASC, timestamp DESC",
}

// EventRepository handles database operations for the attendance event
// journal. Pending rows double as the durable delivery spool.
type EventRepository struct {
	DB *gorm.DB
}

// Ensure EventRepository implements EventRepositoryInterface
var _ EventRepositoryInterface = (*EventRepository)(nil)

// NewEventRepository creates a new instance of EventRepository
func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{DB: db}
}

// Create journals a new attendance event (status pending until delivered)
func (r *EventRepository) Create(event *models.AttendanceEvent) error {
	now := time.Now().Unix()
	if event.CreatedAt == 0 {
		event.CreatedAt = now
	}
	event.UpdatedAt = now
	if event.Status == "" {
		event.Status = models.EventStatusPending
	}

	err := r.DB.Create(event).Error
	if err != nil {
		return fmt.Errorf("failed to journal attendance event %s: %w", event.EventUUID, err)
	}
	return nil
}

// GetByUUID retrieves an attendance event by its event UUID
func (r *EventRepository) GetByUUID(eventUUID string) (*models.AttendanceEvent, error) {
	var event models.AttendanceEvent
	err := r.DB.First(&event, "event_uuid = ?", eventUUID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get attendance event %s: %w", eventUUID, err)
	}
	return &event, nil
}

// List retrieves journal entries matching the given options
func (r *EventRepository) List(opts EventListOptions) ([]models.AttendanceEvent, error) {
	query := r.DB.Model(&models.AttendanceEvent{})
	if opts.CameraID != "" {
		query = query.Where("camera_id = ?", opts.CameraID)
	}
	if opts.IdentityID != "" {
		query = query.Where("identity_id = ?", opts.IdentityID)
	}
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}

	order, ok := eventSortColumns[opts.Sort]
	if !ok {
		order = "timestamp DESC"
	}
	query = query.Order(order)

	if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	var events []models.AttendanceEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list attendance events: %w", err)
	}
	return events, nil
}

// ListPending retrieves undelivered events oldest-first (the replay set)
func (r *EventRepository) ListPending(limit int) ([]models.AttendanceEvent, error) {
	query := r.DB.Where("status = ?", models.EventStatusPending).Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var events []models.AttendanceEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending attendance events: %w", err)
	}
	return events, nil
}

// CountPending returns the current spool depth
func (r *EventRepository) CountPending() (int64, error) {
	var count int64
	err := r.DB.Model(&models.AttendanceEvent{}).
		Where("status = ?", models.EventStatusPending).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count pending attendance events: %w", err)
	}
	return count, nil
}

// MarkDelivered marks an event as delivered to the record-of-truth service
func (r *EventRepository) MarkDelivered(id uint, deliveredAt int64) error {
	result := r.DB.Model(&models.AttendanceEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":       models.EventStatusDelivered,
		"delivered_at": deliveredAt,
		"last_error":   nil,
		"updated_at":   time.Now().Unix(),
	})
	if result.Error != nil {
		return fmt.Errorf("failed to mark attendance event %d delivered: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RecordAttempt updates the attempt count and last error after a failed
// delivery; the row stays pending for replay
func (r *EventRepository) RecordAttempt(id uint, attempts int, lastError string) error {
	result := r.DB.Model(&models.AttendanceEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"attempts":   attempts,
		"last_error": lastError,
		"updated_at": time.Now().Unix(),
	})
	if result.Error != nil {
		return fmt.Errorf("failed to record delivery attempt for event %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteDeliveredBefore prunes delivered journal rows older than the cutoff
func (r *EventRepository) DeleteDeliveredBefore(cutoff int64) (int64, error) {
	result := r.DB.Where("status = ? AND delivered_at < ?", models.EventStatusDelivered, cutoff).
		Delete(&models.AttendanceEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune delivered attendance events: %w", result.Error)
	}
	return result.RowsAffected, nil
}
