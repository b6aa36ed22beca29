package models

// Event delivery statuses. Every emitted event is journaled as pending;
// the pending rows are the durable spool replayed until delivery succeeds.
const (
	EventStatusPending   = "pending"
	EventStatusDelivered = "delivered"
)

// AttendanceEvent is one deduplication-approved recognition, journaled
// locally and delivered at-least-once to the record-of-truth service.
// It corresponds to the 'attendance_events' table.
type AttendanceEvent struct {
	ID           uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	EventUUID    string  `gorm:"uniqueIndex;not null" json:"event_uuid"`
	IdentityID   string  `gorm:"not null;index" json:"identity_id"`
	CameraID     string  `gorm:"not null;index" json:"camera_id"`
	RoomID       string  `gorm:"not null" json:"room_id"`
	SlotID       *string `gorm:"index" json:"slot_id,omitempty"`
	Timestamp    int64   `gorm:"not null" json:"timestamp"` // Stored as INTEGER in SQLite, Unix timestamp
	Confidence   float32 `gorm:"not null" json:"confidence"`
	EvidencePath string  `json:"evidence_path"`

	Status      string  `gorm:"not null;index;default:'pending'" json:"status"`
	Attempts    int     `gorm:"not null;default:0" json:"attempts"`
	LastError   *string `json:"last_error,omitempty"`
	DeliveredAt *int64  `json:"delivered_at,omitempty"`

	CreatedAt int64 `gorm:"not null" json:"created_at"` // Stored as INTEGER in SQLite, Unix timestamp
	UpdatedAt int64 `gorm:"not null" json:"updated_at"` // Stored as INTEGER in SQLite, Unix timestamp
}

// TableName explicitly sets the table name for GORM.
func (AttendanceEvent) TableName() string {
	return "attendance_events"
}
