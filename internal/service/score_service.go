package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/gradeflow/assess-api/internal/dto"
	"github.com/gradeflow/assess-api/internal/models"
	"github.com/gradeflow/assess-api/internal/observability"
	"github.com/gradeflow/assess-api/internal/repository"
)

// ScoreUpdateOptions carries the caller context of one score update.
type ScoreUpdateOptions struct {
	// SubmissionID selects a specific submission; nil uses the latest one.
	SubmissionID *uint
	// CheckModifiedAt is the optimistic-concurrency token. When set and the
	// instance question has been modified since, the update is recorded as
	// an audit grading job but the live score is left untouched.
	CheckModifiedAt *time.Time
	// GraderID identifies the human grader, when there is one.
	GraderID *uint
	// IsAIGraded marks the resulting grading job and instance question as
	// AI-graded.
	IsAIGraded bool
}

// ScoreService is the single choke point for writing a score. Every caller
// (manual grading form, CSV upload, AI grading, rubric recompute) goes
// through UpdateInstanceQuestionScore so partial inputs are reconciled into
// one consistent persisted state.
type ScoreService interface {
	UpdateInstanceQuestionScore(ctx context.Context, instanceQuestionID uint, update dto.ScoreUpdate, opts ScoreUpdateOptions) (dto.ScoreUpdateResult, error)
}

type scoreService struct {
	store    repository.ScoreStore
	outcomes OutcomeReporter
	logger   zerolog.Logger
	now      func() time.Time
}

// NewScoreService constructs the score reconciler.
func NewScoreService(store repository.ScoreStore, outcomes OutcomeReporter, logger zerolog.Logger) ScoreService {
	return &scoreService{
		store:    store,
		outcomes: outcomes,
		logger:   logger.With().Str("component", "score_service").Logger(),
		now:      time.Now,
	}
}

// resolvedScore is the fully-absolute state derived from a sparse update.
type resolvedScore struct {
	points        *float64
	scorePerc     *float64
	autoPoints    *float64
	autoScorePerc *float64
	manualPoints  *float64
	partialScores models.PartialScores
	rubricGrading *uint
}

func (s *scoreService) UpdateInstanceQuestionScore(ctx context.Context, instanceQuestionID uint, update dto.ScoreUpdate, opts ScoreUpdateOptions) (dto.ScoreUpdateResult, error) {
	tracer := otel.Tracer("github.com/gradeflow/assess-api/internal/service/score")
	ctx, span := tracer.Start(ctx, "score.update")
	span.SetAttributes(attribute.Int64("score.instance_question_id", int64(instanceQuestionID)))
	defer span.End()

	if err := validateExclusivity(update); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid_score_input")
		return dto.ScoreUpdateResult{}, err
	}

	var result dto.ScoreUpdateResult
	var reportInstanceID *uint

	err := s.store.InTransaction(ctx, func(store repository.ScoreStore) error {
		target, err := store.SubmissionForUpdate(ctx, instanceQuestionID, opts.SubmissionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSubmissionNotFound
			}
			return err
		}

		conflict := opts.CheckModifiedAt != nil && !opts.CheckModifiedAt.Equal(target.ModifiedAt)
		result.ModifiedAtConflict = conflict

		resolved, err := s.resolve(ctx, store, target, &update)
		if err != nil {
			return err
		}

		gradedAt := s.now()
		createAudit := target.SubmissionID != nil &&
			(opts.SubmissionID != nil || resolved.scorePerc != nil ||
				update.Feedback != nil || resolved.partialScores != nil)

		if createAudit {
			job := models.GradingJob{
				SubmissionID:          *target.SubmissionID,
				GradingMethod:         gradingMethod(opts),
				GradedBy:              opts.GraderID,
				Correct:               correctFlag(resolved.autoScorePerc),
				Score:                 fraction(resolved.scorePerc),
				AutoPoints:            resolved.autoPoints,
				ManualPoints:          resolved.manualPoints,
				ManualRubricGradingID: resolved.rubricGrading,
				GradingRequestedAt:    gradedAt,
				GradedAt:              &gradedAt,
			}
			if update.Feedback != nil {
				job.Feedback = datatypes.JSONMap(update.Feedback)
			}
			if resolved.partialScores != nil {
				job.PartialScores = datatypes.NewJSONType(resolved.partialScores)
			}
			if err := store.CreateGradingJob(ctx, &job); err != nil {
				return fmt.Errorf("create grading job: %w", err)
			}
			result.GradingJobID = &job.ID

			if !conflict {
				write := repository.SubmissionScoreWrite{
					SubmissionID:          *target.SubmissionID,
					Score:                 fraction(resolved.autoScorePerc),
					Correct:               correctFlag(resolved.autoScorePerc),
					Feedback:              update.Feedback,
					PartialScores:         resolved.partialScores,
					ManualRubricGradingID: resolved.rubricGrading,
					GradedAt:              gradedAt,
				}
				if err := store.UpdateSubmissionScore(ctx, write); err != nil {
					return fmt.Errorf("update submission score: %w", err)
				}
			}
		}

		if resolved.scorePerc != nil && !conflict {
			write := repository.InstanceQuestionScoreWrite{
				InstanceQuestionID: target.InstanceQuestionID,
				Points:             resolved.points,
				ScorePerc:          resolved.scorePerc,
				AutoPoints:         resolved.autoPoints,
				ManualPoints:       resolved.manualPoints,
				IsAIGraded:         opts.IsAIGraded,
				ModifiedAt:         gradedAt,
			}
			if err := store.UpdateInstanceQuestionScore(ctx, write); err != nil {
				return fmt.Errorf("update instance question score: %w", err)
			}
			if err := store.RecomputeAssessmentInstance(ctx, target.AssessmentInstanceID); err != nil {
				return fmt.Errorf("recompute assessment instance: %w", err)
			}
			reportInstanceID = &target.AssessmentInstanceID
		}

		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "score_update_failed")
		return dto.ScoreUpdateResult{}, err
	}

	observability.ScoreUpdates().WithLabelValues(conflictLabel(result.ModifiedAtConflict)).Inc()
	span.SetAttributes(attribute.Bool("score.modified_at_conflict", result.ModifiedAtConflict))

	// The outcome sync performs network calls, so it runs after the
	// transaction commits rather than holding a connection open.
	if reportInstanceID != nil && s.outcomes != nil {
		if err := s.outcomes.ReportScore(ctx, *reportInstanceID); err != nil {
			s.logger.Warn().Err(err).
				Uint("assessment_instance_id", *reportInstanceID).
				Msg("failed to report score to outcome sink")
		}
	}

	return result, nil
}

// resolve turns the sparse update into one absolute score state, following
// the precedence rules: partial scores derive auto points; a rubric is
// authoritative for manual points; totals derive manual as the remainder
// after auto.
func (s *scoreService) resolve(ctx context.Context, store repository.ScoreStore, target repository.ScoreUpdateTarget, update *dto.ScoreUpdate) (resolvedScore, error) {
	var resolved resolvedScore

	if update.PartialScores != nil {
		merged := update.PartialScores
		if target.PartialScores != nil {
			merged = target.PartialScores.Merge(update.PartialScores)
		}
		resolved.partialScores = merged
		perc := merged.WeightedMeanPerc()
		points := perc / 100 * target.MaxAutoPoints
		resolved.autoScorePerc = &perc
		resolved.autoPoints = &points
	}

	if update.AutoScorePerc != nil {
		perc := *update.AutoScorePerc
		points := perc * target.MaxAutoPoints / 100
		resolved.autoScorePerc = &perc
		resolved.autoPoints = &points
	} else if update.AutoPoints != nil {
		points := *update.AutoPoints
		perc := 0.0
		if target.MaxAutoPoints > 0 {
			perc = points * 100 / target.MaxAutoPoints
		}
		resolved.autoPoints = &points
		resolved.autoScorePerc = &perc
	}

	manualPoints := update.ManualPoints
	manualScorePerc := update.ManualScorePerc

	if target.ManualRubricID != nil && update.ManualRubric != nil {
		grading, err := s.insertRubricGrading(ctx, store, *update.ManualRubric, target.MaxPoints, target.MaxManualPoints)
		if err != nil {
			return resolvedScore{}, err
		}
		points := grading.ComputedPoints
		if grading.ReplacesAuto {
			points -= coalesce(resolved.autoPoints, target.AutoPoints)
		}
		manualPoints = &points
		manualScorePerc = nil
		resolved.rubricGrading = &grading.ID
	} else if target.ManualRubricID != nil &&
		update.Points == nil && update.ScorePerc == nil &&
		manualPoints == nil && manualScorePerc == nil {
		// A rubric is active and nothing touches the manual points: the
		// existing rubric grading is preserved unchanged.
		resolved.rubricGrading = target.ManualRubricGradingID
	}

	switch {
	case manualScorePerc != nil:
		points := *manualScorePerc * target.MaxManualPoints / 100
		resolved.manualPoints = &points
		total := points + coalesce(resolved.autoPoints, target.AutoPoints)
		resolved.points = &total
		resolved.scorePerc = percOf(total, target.MaxPoints)
	case manualPoints != nil:
		points := *manualPoints
		resolved.manualPoints = &points
		total := points + coalesce(resolved.autoPoints, target.AutoPoints)
		resolved.points = &total
		resolved.scorePerc = percOf(total, target.MaxPoints)
	case update.ScorePerc != nil:
		perc := *update.ScorePerc
		total := perc * target.MaxPoints / 100
		manual := total - coalesce(resolved.autoPoints, target.AutoPoints)
		resolved.scorePerc = &perc
		resolved.points = &total
		resolved.manualPoints = &manual
	case update.Points != nil:
		total := *update.Points
		manual := total - coalesce(resolved.autoPoints, target.AutoPoints)
		resolved.points = &total
		resolved.scorePerc = percOf(total, target.MaxPoints)
		resolved.manualPoints = &manual
	case resolved.autoPoints != nil:
		// Only auto points were touched: the manual component carries over
		// unchanged from the instance question's prior state.
		total := *resolved.autoPoints + coalesce(target.ManualPoints)
		resolved.points = &total
		resolved.scorePerc = percOf(total, target.MaxPoints)
		resolved.manualPoints = target.ManualPoints
	}

	return resolved, nil
}

// insertRubricGrading computes the rubric's point value and persists the
// immutable grading snapshot inside the enclosing transaction.
func (s *scoreService) insertRubricGrading(ctx context.Context, store repository.ScoreStore, data dto.ManualRubricData, maxPoints, maxManualPoints float64) (models.RubricGrading, error) {
	rubric, err := store.GetRubric(ctx, data.RubricID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.RubricGrading{}, ErrRubricNotFound
		}
		return models.RubricGrading{}, err
	}

	adjust := 0.0
	if data.AdjustPoints != nil {
		adjust = *data.AdjustPoints
	}

	computed, err := computeRubricPoints(rubric, data.AppliedItems, adjust, maxPoints, maxManualPoints)
	if err != nil {
		return models.RubricGrading{}, err
	}

	grading := models.RubricGrading{
		RubricID:       rubric.ID,
		ComputedPoints: computed,
		AdjustPoints:   adjust,
		ReplacesAuto:   rubric.ReplaceAutoPoints,
	}
	for _, selection := range data.AppliedItems {
		item, _ := rubric.ItemByID(selection.RubricItemID)
		score := 1.0
		if selection.Score != nil {
			score = *selection.Score
		}
		grading.Items = append(grading.Items, models.RubricGradingItem{
			RubricItemID: item.ID,
			Score:        score,
			Points:       item.Points,
			Description:  item.Description,
		})
	}
	if err := store.CreateRubricGrading(ctx, &grading); err != nil {
		return models.RubricGrading{}, fmt.Errorf("create rubric grading: %w", err)
	}
	return grading, nil
}

// validateExclusivity rejects contradictory input combinations up front so
// the reconciliation algorithm only ever sees one normalized shape.
func validateExclusivity(update dto.ScoreUpdate) error {
	type exclusion struct {
		a, b   bool
		reason string
	}
	exclusions := []exclusion{
		{update.PartialScores != nil, update.AutoScorePerc != nil, "partial_scores and auto_score_perc"},
		{update.PartialScores != nil, update.AutoPoints != nil, "partial_scores and auto_points"},
		{update.AutoScorePerc != nil, update.AutoPoints != nil, "auto_score_perc and auto_points"},
		{update.AutoScorePerc != nil, update.ScorePerc != nil, "auto_score_perc and score_perc"},
		{update.AutoPoints != nil, update.Points != nil, "auto_points and points"},
		{update.ManualScorePerc != nil, update.ManualPoints != nil, "manual_score_perc and manual_points"},
		{update.ManualScorePerc != nil, update.ScorePerc != nil, "manual_score_perc and score_perc"},
		{update.ManualPoints != nil, update.Points != nil, "manual_points and points"},
		{update.ScorePerc != nil, update.Points != nil, "score_perc and points"},
	}
	for _, pair := range exclusions {
		if pair.a && pair.b {
			return fmt.Errorf("%w: cannot set both %s", ErrInvalidScoreInput, pair.reason)
		}
	}
	return nil
}

func gradingMethod(opts ScoreUpdateOptions) string {
	if opts.IsAIGraded {
		return models.GradingMethodAI
	}
	return models.GradingMethodManual
}

func correctFlag(autoScorePerc *float64) *bool {
	if autoScorePerc == nil {
		return nil
	}
	correct := *autoScorePerc > 50
	return &correct
}

func fraction(perc *float64) *float64 {
	if perc == nil {
		return nil
	}
	value := *perc / 100
	return &value
}

func percOf(points, maxPoints float64) *float64 {
	perc := 0.0
	if maxPoints > 0 {
		perc = points * 100 / maxPoints
	}
	return &perc
}

// coalesce returns the first non-nil value, or 0.
func coalesce(values ...*float64) float64 {
	for _, value := range values {
		if value != nil {
			return *value
		}
	}
	return 0
}

func conflictLabel(conflict bool) string {
	if conflict {
		return "conflict"
	}
	return "applied"
}
