package models

// Camera represents a dynamically registered camera source using GORM.
// It corresponds to the 'cameras' table. Cameras defined in the pipeline
// YAML file are not persisted here; on an id conflict the YAML entry wins.
type Camera struct {
	ID                 string `gorm:"primaryKey" json:"id"`
	Name               string `json:"name"`
	RTSPURL            string `gorm:"not null" json:"rtsp_url"`
	RoomID             string `gorm:"not null;index" json:"room_id"`
	SamplingIntervalMS int    `json:"sampling_interval_ms"`
	CreatedAt          int64  `gorm:"not null" json:"created_at"` // Stored as INTEGER in SQLite, Unix timestamp
	UpdatedAt          int64  `gorm:"not null" json:"updated_at"` // Stored as INTEGER in SQLite, Unix timestamp
}

// TableName explicitly sets the table name for GORM.
func (Camera) TableName() string {
	return "cameras"
}
