package models

// HealthEvent records one camera health transition in the local journal.
// It corresponds to the 'health_events' table.
type HealthEvent struct {
	ID        uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	CameraID  string `gorm:"not null;index" json:"camera_id"`
	State     string `gorm:"not null" json:"state"` // CONNECTED, RECONNECTING, FAILED
	Detail    string `json:"detail,omitempty"`
	Timestamp int64  `gorm:"not null;index" json:"timestamp"` // Stored as INTEGER in SQLite, Unix timestamp
}

// TableName explicitly sets the table name for GORM.
func (HealthEvent) TableName() string {
	return "health_events"
}
