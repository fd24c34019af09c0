package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gradeflow/assess-api/internal/models"
)

// ScoreUpdateTarget is the row snapshot the score reconciler works against:
// the instance question (locked for update), its latest or requested
// submission, and the point configuration of the assessment question.
type ScoreUpdateTarget struct {
	SubmissionID          *uint
	InstanceQuestionID    uint
	AssessmentInstanceID  uint
	MaxPoints             float64
	MaxAutoPoints         float64
	MaxManualPoints       float64
	ManualRubricID        *uint
	PartialScores         models.PartialScores
	AutoPoints            *float64
	ManualPoints          *float64
	ManualRubricGradingID *uint
	ModifiedAt            time.Time
}

// SubmissionScoreWrite carries the resolved auto-grading fields written back
// to the submission row.
type SubmissionScoreWrite struct {
	SubmissionID          uint
	Score                 *float64
	Correct               *bool
	Feedback              map[string]any
	PartialScores         models.PartialScores
	ManualRubricGradingID *uint
	GradedAt              time.Time
}

// InstanceQuestionScoreWrite carries the resolved absolute score written
// into the instance question row.
type InstanceQuestionScoreWrite struct {
	InstanceQuestionID uint
	Points             *float64
	ScorePerc          *float64
	AutoPoints         *float64
	ManualPoints       *float64
	IsAIGraded         bool
	ModifiedAt         time.Time
}

// ScoreStore bundles the persistence operations of one score-update
// transaction. InTransaction yields a store bound to the transaction so the
// audit insert and the live write commit or roll back together.
type ScoreStore interface {
	InTransaction(ctx context.Context, fn func(store ScoreStore) error) error
	SubmissionForUpdate(ctx context.Context, instanceQuestionID uint, submissionID *uint) (ScoreUpdateTarget, error)
	GetRubric(ctx context.Context, rubricID uint) (models.Rubric, error)
	CreateRubricGrading(ctx context.Context, grading *models.RubricGrading) error
	CreateGradingJob(ctx context.Context, job *models.GradingJob) error
	UpdateSubmissionScore(ctx context.Context, write SubmissionScoreWrite) error
	UpdateInstanceQuestionScore(ctx context.Context, write InstanceQuestionScoreWrite) error
	RecomputeAssessmentInstance(ctx context.Context, assessmentInstanceID uint) error
}

type scoreStore struct {
	db *gorm.DB
}

// NewScoreStore builds the gorm-backed score store.
func NewScoreStore(db *gorm.DB) ScoreStore {
	return &scoreStore{db: db}
}

func (s *scoreStore) InTransaction(ctx context.Context, fn func(store ScoreStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&scoreStore{db: tx})
	})
}

// forUpdate adds a row lock on dialects that support it. The sqlite driver
// used in tests does not accept FOR UPDATE; single-connection in-memory
// databases serialize anyway.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func (s *scoreStore) SubmissionForUpdate(ctx context.Context, instanceQuestionID uint, submissionID *uint) (ScoreUpdateTarget, error) {
	var instanceQuestion models.InstanceQuestion
	if err := forUpdate(s.db.WithContext(ctx)).
		Preload("AssessmentQuestion").
		First(&instanceQuestion, instanceQuestionID).Error; err != nil {
		return ScoreUpdateTarget{}, err
	}

	target := ScoreUpdateTarget{
		InstanceQuestionID:   instanceQuestion.ID,
		AssessmentInstanceID: instanceQuestion.AssessmentInstanceID,
		ManualRubricID:       instanceQuestion.AssessmentQuestion.ManualRubricID,
		AutoPoints:           instanceQuestion.AutoPoints,
		ManualPoints:         instanceQuestion.ManualPoints,
		ModifiedAt:           instanceQuestion.ModifiedAt,
	}
	if instanceQuestion.AssessmentQuestion.MaxPoints != nil {
		target.MaxPoints = *instanceQuestion.AssessmentQuestion.MaxPoints
	}
	if instanceQuestion.AssessmentQuestion.MaxAutoPoints != nil {
		target.MaxAutoPoints = *instanceQuestion.AssessmentQuestion.MaxAutoPoints
	}
	if instanceQuestion.AssessmentQuestion.MaxManualPoints != nil {
		target.MaxManualPoints = *instanceQuestion.AssessmentQuestion.MaxManualPoints
	}

	var submission models.Submission
	query := s.db.WithContext(ctx).Where("instance_question_id = ?", instanceQuestionID)
	if submissionID != nil {
		query = query.Where("id = ?", *submissionID)
	}
	err := query.Order("created_at DESC, id DESC").First(&submission).Error
	if err == nil {
		target.SubmissionID = &submission.ID
		target.PartialScores = submission.PartialScores.Data()
		target.ManualRubricGradingID = submission.ManualRubricGradingID
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return ScoreUpdateTarget{}, err
	} else if submissionID != nil {
		// A requested submission that does not exist is a hard error; a
		// missing latest submission only limits what can be updated.
		return ScoreUpdateTarget{}, err
	}

	return target, nil
}

func (s *scoreStore) GetRubric(ctx context.Context, rubricID uint) (models.Rubric, error) {
	var rubric models.Rubric
	if err := s.db.WithContext(ctx).Preload("Items").First(&rubric, rubricID).Error; err != nil {
		return models.Rubric{}, err
	}
	return rubric, nil
}

func (s *scoreStore) CreateRubricGrading(ctx context.Context, grading *models.RubricGrading) error {
	return s.db.WithContext(ctx).Create(grading).Error
}

func (s *scoreStore) CreateGradingJob(ctx context.Context, job *models.GradingJob) error {
	return s.db.WithContext(ctx).Create(job).Error
}

func (s *scoreStore) UpdateSubmissionScore(ctx context.Context, write SubmissionScoreWrite) error {
	updates := map[string]any{
		"manual_rubric_grading_id": write.ManualRubricGradingID,
		"graded_at":                write.GradedAt,
	}
	if write.Score != nil {
		updates["score"] = *write.Score
		updates["correct"] = write.Correct
	}
	if write.Feedback != nil {
		updates["feedback"] = datatypes.JSONMap(write.Feedback)
	}
	if write.PartialScores != nil {
		updates["partial_scores"] = datatypes.NewJSONType(write.PartialScores)
	}
	return s.db.WithContext(ctx).
		Model(&models.Submission{}).
		Where("id = ?", write.SubmissionID).
		Updates(updates).Error
}

func (s *scoreStore) UpdateInstanceQuestionScore(ctx context.Context, write InstanceQuestionScoreWrite) error {
	updates := map[string]any{
		"points":                  write.Points,
		"score_perc":              write.ScorePerc,
		"auto_points":             write.AutoPoints,
		"manual_points":           write.ManualPoints,
		"status":                  models.InstanceQuestionStatusGraded,
		"requires_manual_grading": false,
		"is_ai_graded":            write.IsAIGraded,
		"modified_at":             write.ModifiedAt,
	}
	return s.db.WithContext(ctx).
		Model(&models.InstanceQuestion{}).
		Where("id = ?", write.InstanceQuestionID).
		Updates(updates).Error
}

func (s *scoreStore) RecomputeAssessmentInstance(ctx context.Context, assessmentInstanceID uint) error {
	var points float64
	err := s.db.WithContext(ctx).
		Model(&models.InstanceQuestion{}).
		Where("assessment_instance_id = ?", assessmentInstanceID).
		Select("COALESCE(SUM(points), 0)").
		Scan(&points).Error
	if err != nil {
		return err
	}

	var instance models.AssessmentInstance
	if err := s.db.WithContext(ctx).First(&instance, assessmentInstanceID).Error; err != nil {
		return err
	}

	scorePerc := 0.0
	if instance.MaxPoints > 0 {
		scorePerc = 100 * points / instance.MaxPoints
	}
	return s.db.WithContext(ctx).
		Model(&models.AssessmentInstance{}).
		Where("id = ?", assessmentInstanceID).
		Updates(map[string]any{"points": points, "score_perc": scorePerc}).Error
}
