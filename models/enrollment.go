package models

import "math"

// EnrollmentEntry is one identity from an enrollment snapshot as exchanged
// with the record-of-truth service. Not a database table; the wire shape of
// snapshot pull/push.
type EnrollmentEntry struct {
	IdentityID string      `json:"identity_id"`
	Embeddings [][]float32 `json:"embeddings"`
	Active     bool        `json:"active"`
}

// ReferenceEmbedding is one cached reference vector from the last good
// enrollment snapshot, persisted so a restart during backend downtime can
// still match. It corresponds to the 'reference_embeddings' table.
type ReferenceEmbedding struct {
	ID            uint     `gorm:"primaryKey;autoIncrement" json:"id"`
	IdentityID    string   `gorm:"not null;index" json:"identity_id"`
	EmbeddingData []byte   `gorm:"not null;column:embedding_data" json:"embedding_data"` // face embedding vector as BLOB
	Active        bool     `gorm:"not null;default:true" json:"active"`
	QualityScore  *float32 `gorm:"column:quality_score" json:"quality_score,omitempty"`
	CreatedAt     int64    `gorm:"not null" json:"created_at"` // Stored as INTEGER in SQLite, Unix timestamp
}

// TableName explicitly sets the table name for GORM.
func (ReferenceEmbedding) TableName() string {
	return "reference_embeddings"
}

// GetEmbedding converts the BLOB data to []float32
func (re *ReferenceEmbedding) GetEmbedding() []float32 {
	if len(re.EmbeddingData) == 0 {
		return nil
	}

	// Convert []byte to []float32
	embedding := make([]float32, len(re.EmbeddingData)/4) // 4 bytes per float32
	for i := 0; i < len(embedding); i++ {
		offset := i * 4
		bits := uint32(re.EmbeddingData[offset]) |
			uint32(re.EmbeddingData[offset+1])<<8 |
			uint32(re.EmbeddingData[offset+2])<<16 |
			uint32(re.EmbeddingData[offset+3])<<24
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding
}

// SetEmbedding converts []float32 to BLOB data
func (re *ReferenceEmbedding) SetEmbedding(embedding []float32) {
	if len(embedding) == 0 {
		re.EmbeddingData = nil
		return
	}

	// Convert []float32 to []byte
	re.EmbeddingData = make([]byte, len(embedding)*4) // 4 bytes per float32
	for i, val := range embedding {
		offset := i * 4
		bits := math.Float32bits(val)
		re.EmbeddingData[offset] = byte(bits)
		re.EmbeddingData[offset+1] = byte(bits >> 8)
		re.EmbeddingData[offset+2] = byte(bits >> 16)
		re.EmbeddingData[offset+3] = byte(bits >> 24)
	}
}
