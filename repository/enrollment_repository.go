package repository

import (
	"fmt"
	"time"

	"github.com/tda9/FUACS/models"
	"gorm.io/gorm"
)

// EnrollmentRepository handles database operations for the local cache of
// the last good enrollment snapshot. The cache is only read at startup when
// the first backend pull fails (fail-open across process restarts).
type EnrollmentRepository struct {
	DB *gorm.DB
}

// Ensure EnrollmentRepository implements EnrollmentRepositoryInterface
var _ EnrollmentRepositoryInterface = (*EnrollmentRepository)(nil)

// NewEnrollmentRepository creates a new instance of EnrollmentRepository
func NewEnrollmentRepository(db *gorm.DB) *EnrollmentRepository {
	return &EnrollmentRepository{DB: db}
}

// ReplaceSnapshot atomically replaces the cached snapshot with the given
// reference embeddings. The cache always holds exactly one full snapshot,
// matching the store's swap-the-whole-structure semantics.
func (r *EnrollmentRepository) ReplaceSnapshot(refs []models.ReferenceEmbedding) error {
	now := time.Now().Unix()
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.ReferenceEmbedding{}).Error; err != nil {
			return fmt.Errorf("failed to clear cached snapshot: %w", err)
		}
		for i := range refs {
			if refs[i].CreatedAt == 0 {
				refs[i].CreatedAt = now
			}
		}
		if len(refs) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(refs, 200).Error; err != nil {
			return fmt.Errorf("failed to write cached snapshot: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to replace enrollment snapshot cache: %w", err)
	}
	return nil
}

// ListAll retrieves every cached reference embedding
func (r *EnrollmentRepository) ListAll() ([]models.ReferenceEmbedding, error) {
	var refs []models.ReferenceEmbedding
	err := r.DB.Find(&refs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list cached reference embeddings: %w", err)
	}
	return refs, nil
}
