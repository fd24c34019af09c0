package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/gradeflow/assess-api/internal/models"
	"github.com/gradeflow/assess-api/internal/repository"
)

// JobSequenceService tracks the lifecycle of background grading runs and
// collects their log output for later inspection.
type JobSequenceService interface {
	Create(ctx context.Context, seqType, description string) (*models.JobSequence, error)
	AppendLines(ctx context.Context, sequenceID uint, lines []models.JobLogLine) error
	Finish(ctx context.Context, sequenceID uint, status string) error
	GetByID(ctx context.Context, sequenceID uint) (*models.JobSequence, error)
	GetByToken(ctx context.Context, token string) (*models.JobSequence, error)
}

type jobSequenceService struct {
	repo   repository.JobSequenceRepository
	logger zerolog.Logger
	now    func() time.Time
}

// NewJobSequenceService constructs the job sequence service.
func NewJobSequenceService(repo repository.JobSequenceRepository, logger zerolog.Logger) JobSequenceService {
	return &jobSequenceService{
		repo:   repo,
		logger: logger.With().Str("component", "job_sequence_service").Logger(),
		now:    time.Now,
	}
}

func (s *jobSequenceService) Create(ctx context.Context, seqType, description string) (*models.JobSequence, error) {
	seq := &models.JobSequence{
		Token:       uuid.NewString(),
		Type:        seqType,
		Description: description,
		Status:      models.JobSequenceStatusRunning,
	}
	if err := s.repo.Create(ctx, seq); err != nil {
		return nil, fmt.Errorf("create job sequence: %w", err)
	}
	s.logger.Info().Uint("job_sequence_id", seq.ID).Str("type", seqType).Msg("job sequence started")
	return seq, nil
}

func (s *jobSequenceService) AppendLines(ctx context.Context, sequenceID uint, lines []models.JobLogLine) error {
	if len(lines) == 0 {
		return nil
	}
	for i := range lines {
		lines[i].JobSequenceID = sequenceID
		if lines[i].CreatedAt.IsZero() {
			lines[i].CreatedAt = s.now()
		}
	}
	if err := s.repo.AppendLines(ctx, lines); err != nil {
		return fmt.Errorf("append job log lines: %w", err)
	}
	return nil
}

func (s *jobSequenceService) Finish(ctx context.Context, sequenceID uint, status string) error {
	if status != models.JobSequenceStatusSucceeded && status != models.JobSequenceStatusFailed {
		return fmt.Errorf("invalid terminal job sequence status %q", status)
	}
	if err := s.repo.MarkStatus(ctx, sequenceID, status, s.now()); err != nil {
		return fmt.Errorf("finish job sequence: %w", err)
	}
	s.logger.Info().Uint("job_sequence_id", sequenceID).Str("status", status).Msg("job sequence finished")
	return nil
}

func (s *jobSequenceService) GetByID(ctx context.Context, sequenceID uint) (*models.JobSequence, error) {
	seq, err := s.repo.GetByID(ctx, sequenceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobSequenceNotFound
		}
		return nil, err
	}
	return &seq, nil
}

func (s *jobSequenceService) GetByToken(ctx context.Context, token string) (*models.JobSequence, error) {
	seq, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobSequenceNotFound
		}
		return nil, err
	}
	return &seq, nil
}
