package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/gradeflow/assess-api/internal/dto"
	"github.com/gradeflow/assess-api/internal/models"
	"github.com/gradeflow/assess-api/internal/repository"
)

// RubricService manages rubric settings for assessment questions and the
// recompute pass that replays historical gradings after an edit.
type RubricService interface {
	UpdateRubric(ctx context.Context, assessmentQuestionID uint, req dto.RubricUpdateRequest, graderID *uint) error
	GetRubricData(ctx context.Context, assessmentQuestionID uint) (*dto.RubricData, error)
}

type rubricService struct {
	repo      repository.RubricRepository
	scores    ScoreService
	cache     *redis.Client
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewRubricService constructs the rubric settings service.
func NewRubricService(repo repository.RubricRepository, scores ScoreService, cache *redis.Client, cacheTTL time.Duration, validator *validator.Validate, logger zerolog.Logger) RubricService {
	return &rubricService{
		repo:      repo,
		scores:    scores,
		cache:     cache,
		cacheTTL:  cacheTTL,
		validator: validator,
		logger:    logger.With().Str("component", "rubric_service").Logger(),
	}
}

func (s *rubricService) UpdateRubric(ctx context.Context, assessmentQuestionID uint, req dto.RubricUpdateRequest, graderID *uint) error {
	tracer := otel.Tracer("github.com/gradeflow/assess-api/internal/service/rubric")
	ctx, span := tracer.Start(ctx, "rubric.update")
	span.SetAttributes(attribute.Int64("rubric.assessment_question_id", int64(assessmentQuestionID)))
	defer span.End()

	if err := s.validateDefinition(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid_rubric")
		return err
	}

	var rubricID *uint
	var maxPoints, maxManualPoints float64

	err := s.repo.InTransaction(ctx, func(repo repository.RubricRepository) error {
		question, err := repo.GetAssessmentQuestionForUpdate(ctx, assessmentQuestionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAssessmentQuestionNotFound
			}
			return err
		}
		if question.MaxPoints != nil {
			maxPoints = *question.MaxPoints
		}
		if question.MaxManualPoints != nil {
			maxManualPoints = *question.MaxManualPoints
		}

		if req.UseRubric {
			// Checked inside the transaction so a concurrent change to the
			// question's point values cannot slip past the validation.
			ceiling := maxManualPoints + req.MaxExtraPoints
			if req.ReplaceAutoPoints {
				ceiling = maxPoints + req.MaxExtraPoints
			}
			if ceiling <= req.MinPoints {
				return fmt.Errorf("%w: points are limited to a minimum of %v and a maximum of %v",
					ErrNoPointRange, req.MinPoints, ceiling)
			}
		}

		currentID := question.ManualRubricID
		newID := currentID

		switch {
		case !req.UseRubric:
			newID = nil
		case currentID == nil:
			rubric := models.Rubric{
				StartingPoints:    req.StartingPoints,
				MinPoints:         req.MinPoints,
				MaxExtraPoints:    req.MaxExtraPoints,
				ReplaceAutoPoints: req.ReplaceAutoPoints,
			}
			if err := repo.CreateRubric(ctx, &rubric); err != nil {
				return fmt.Errorf("create rubric: %w", err)
			}
			newID = &rubric.ID
		default:
			err := repo.UpdateRubricSettings(ctx, models.Rubric{
				ID:                *currentID,
				StartingPoints:    req.StartingPoints,
				MinPoints:         req.MinPoints,
				MaxExtraPoints:    req.MaxExtraPoints,
				ReplaceAutoPoints: req.ReplaceAutoPoints,
			})
			if err != nil {
				return fmt.Errorf("update rubric settings: %w", err)
			}
		}

		if !sameID(newID, currentID) {
			if err := repo.SetAssessmentQuestionRubric(ctx, assessmentQuestionID, newID); err != nil {
				return fmt.Errorf("update assessment question rubric: %w", err)
			}
		}

		if req.UseRubric {
			if err := s.persistItems(ctx, repo, *newID, req.Items); err != nil {
				return err
			}
		}

		if req.TagForManualGrading {
			if err := repo.TagForManualGrading(ctx, assessmentQuestionID); err != nil {
				return fmt.Errorf("tag for manual grading: %w", err)
			}
		}

		rubricID = newID
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rubric_update_failed")
		return err
	}

	s.invalidateCache(ctx, assessmentQuestionID)

	if req.UseRubric && rubricID != nil {
		if err := s.recomputeInstanceQuestions(ctx, assessmentQuestionID, *rubricID, maxPoints, maxManualPoints, graderID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "rubric_recompute_failed")
			return err
		}
	}

	return nil
}

// persistItems soft-deletes removed items and upserts the rest in display
// order. Items carrying an existing id are updated in place so historical
// gradings that reference them stay meaningful.
func (s *rubricService) persistItems(ctx context.Context, repo repository.RubricRepository, rubricID uint, inputs []dto.RubricItemInput) error {
	keep := make([]uint, 0, len(inputs))
	for _, input := range inputs {
		if input.ID != nil {
			keep = append(keep, *input.ID)
		}
	}
	if err := repo.SoftDeleteItemsExcept(ctx, rubricID, keep); err != nil {
		return fmt.Errorf("soft delete rubric items: %w", err)
	}

	ordered := make([]dto.RubricItemInput, len(inputs))
	copy(ordered, inputs)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	for number, input := range ordered {
		item := models.RubricItem{
			RubricID:    rubricID,
			Points:      *input.Points,
			Description: input.Description,
			Explanation: input.Explanation,
			GraderNote:  input.GraderNote,
			Number:      number,
			AlwaysShow:  input.AlwaysShow,
		}
		if input.ID != nil {
			item.ID = *input.ID
			updated, err := repo.UpdateItem(ctx, item)
			if err != nil {
				return fmt.Errorf("update rubric item: %w", err)
			}
			if updated {
				continue
			}
			// An unknown id falls through to insertion, mirroring the
			// upsert behavior of the settings form.
			item.ID = 0
		}
		if err := repo.InsertItem(ctx, &item); err != nil {
			return fmt.Errorf("insert rubric item: %w", err)
		}
	}
	return nil
}

// recomputeInstanceQuestions replays the existing rubric gradings of the
// updated rubric, pushing changed results through the score reconciler.
// Items are processed sequentially so the replay against the just-changed
// shared rubric is deterministic. Gradings recorded against a different
// rubric are untouched, and a fresh audit record is only created when the
// computed points actually changed.
func (s *rubricService) recomputeInstanceQuestions(ctx context.Context, assessmentQuestionID, rubricID uint, maxPoints, maxManualPoints float64, graderID *uint) error {
	rubric, err := s.repo.GetRubric(ctx, rubricID)
	if err != nil {
		return fmt.Errorf("load rubric for recompute: %w", err)
	}

	targets, err := s.repo.ListRecomputeTargets(ctx, assessmentQuestionID)
	if err != nil {
		return fmt.Errorf("list recompute targets: %w", err)
	}

	for _, target := range targets {
		// Gradings recorded against an earlier rubric (disable then
		// re-enable mints a fresh one) keep their stored value; their item
		// ids mean nothing to the current definition.
		if target.RubricGrading.RubricID != rubric.ID {
			continue
		}
		applied := appliedItemsFromGrading(target.RubricGrading)
		computed, err := computeRubricPoints(rubric, applied, target.RubricGrading.AdjustPoints, maxPoints, maxManualPoints)
		if err != nil {
			return fmt.Errorf("recompute instance question %d: %w", target.InstanceQuestionID, err)
		}
		if computed == target.RubricGrading.ComputedPoints {
			continue
		}

		adjust := target.RubricGrading.AdjustPoints
		submissionID := target.SubmissionID
		_, err = s.scores.UpdateInstanceQuestionScore(ctx, target.InstanceQuestionID, dto.ScoreUpdate{
			ManualRubric: &dto.ManualRubricData{
				RubricID:     rubric.ID,
				AppliedItems: applied,
				AdjustPoints: &adjust,
			},
		}, ScoreUpdateOptions{SubmissionID: &submissionID, GraderID: graderID})
		if err != nil {
			return fmt.Errorf("recompute instance question %d: %w", target.InstanceQuestionID, err)
		}
	}
	return nil
}

func (s *rubricService) GetRubricData(ctx context.Context, assessmentQuestionID uint) (*dto.RubricData, error) {
	cacheKey := rubricCacheKey(assessmentQuestionID)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var data dto.RubricData
			if unmarshalErr := json.Unmarshal([]byte(cached), &data); unmarshalErr == nil {
				s.logger.Debug().Uint("assessment_question_id", assessmentQuestionID).Msg("rubric cache hit")
				return &data, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read rubric cache")
		}
	}

	question, err := s.repo.GetAssessmentQuestion(ctx, assessmentQuestionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssessmentQuestionNotFound
		}
		return nil, err
	}
	if question.ManualRubricID == nil {
		return nil, nil
	}

	rubric, err := s.repo.GetRubric(ctx, *question.ManualRubricID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRubricNotFound
		}
		return nil, err
	}
	usage, err := s.repo.ItemUsageCounts(ctx, rubric.ID)
	if err != nil {
		return nil, err
	}

	data := dto.NewRubricData(rubric, usage)

	if s.cache != nil {
		if payload, err := json.Marshal(data); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store rubric cache")
			}
		}
	}

	return &data, nil
}

func (s *rubricService) invalidateCache(ctx context.Context, assessmentQuestionID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, rubricCacheKey(assessmentQuestionID)).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to invalidate rubric cache")
	}
}

func rubricCacheKey(assessmentQuestionID uint) string {
	return fmt.Sprintf("rubric:assessment_question:%d", assessmentQuestionID)
}

// validateDefinition rejects malformed rubric definitions before anything
// is persisted.
func (s *rubricService) validateDefinition(req dto.RubricUpdateRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRubric, err)
	}
	if !req.UseRubric {
		return nil
	}
	if len(req.Items) == 0 {
		return fmt.Errorf("%w: no rubric items were provided", ErrInvalidRubric)
	}
	for _, item := range req.Items {
		if item.Points == nil {
			return fmt.Errorf("%w: rubric item provided without a points value", ErrInvalidRubric)
		}
		if item.Description == "" {
			return fmt.Errorf("%w: rubric item provided without a description", ErrInvalidRubric)
		}
		if len(item.Description) > 100 {
			return fmt.Errorf("%w: rubric item description must be no longer than 100 characters", ErrInvalidRubric)
		}
	}
	return nil
}

func sameID(a, b *uint) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
