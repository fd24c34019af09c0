package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/gradeflow/assess-api/internal/models"
)

// JobSequenceRepository persists grading-run progress logs. Lines are
// append-only; only the sequence status row is ever updated.
type JobSequenceRepository interface {
	Create(ctx context.Context, sequence *models.JobSequence) error
	AppendLines(ctx context.Context, lines []models.JobLogLine) error
	MarkStatus(ctx context.Context, sequenceID uint, status string, finishedAt time.Time) error
	GetByID(ctx context.Context, sequenceID uint) (models.JobSequence, error)
	GetByToken(ctx context.Context, token string) (models.JobSequence, error)
}

type jobSequenceRepository struct {
	db *gorm.DB
}

// NewJobSequenceRepository instantiates the repository.
func NewJobSequenceRepository(db *gorm.DB) JobSequenceRepository {
	return &jobSequenceRepository{db: db}
}

func (r *jobSequenceRepository) Create(ctx context.Context, sequence *models.JobSequence) error {
	return r.db.WithContext(ctx).Create(sequence).Error
}

func (r *jobSequenceRepository) AppendLines(ctx context.Context, lines []models.JobLogLine) error {
	if len(lines) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&lines).Error
}

func (r *jobSequenceRepository) MarkStatus(ctx context.Context, sequenceID uint, status string, finishedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.JobSequence{}).
		Where("id = ?", sequenceID).
		Updates(map[string]any{"status": status, "finished_at": finishedAt}).Error
}

func (r *jobSequenceRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Preload("Lines", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("id ASC")
		})
}

func (r *jobSequenceRepository) GetByID(ctx context.Context, sequenceID uint) (models.JobSequence, error) {
	var sequence models.JobSequence
	if err := r.baseQuery(ctx).First(&sequence, sequenceID).Error; err != nil {
		return models.JobSequence{}, err
	}
	return sequence, nil
}

func (r *jobSequenceRepository) GetByToken(ctx context.Context, token string) (models.JobSequence, error) {
	var sequence models.JobSequence
	if err := r.baseQuery(ctx).Where("token = ?", token).First(&sequence).Error; err != nil {
		return models.JobSequence{}, err
	}
	return sequence, nil
}
