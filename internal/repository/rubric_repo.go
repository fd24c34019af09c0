package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/gradeflow/assess-api/internal/models"
)

// RecomputeTarget is one instance question whose rubric-based grading must
// be replayed after a rubric settings update: the question, its latest
// submission, and the grading snapshot it currently carries.
type RecomputeTarget struct {
	InstanceQuestionID uint
	SubmissionID       uint
	RubricGrading      models.RubricGrading
}

// RubricRepository persists rubric definitions, items, and grading
// snapshots. Settings updates run inside InTransaction so a failed
// validation never leaves a partially applied rubric.
type RubricRepository interface {
	InTransaction(ctx context.Context, fn func(repo RubricRepository) error) error
	GetAssessmentQuestion(ctx context.Context, assessmentQuestionID uint) (models.AssessmentQuestion, error)
	GetAssessmentQuestionForUpdate(ctx context.Context, assessmentQuestionID uint) (models.AssessmentQuestion, error)
	GetRubric(ctx context.Context, rubricID uint) (models.Rubric, error)
	CreateRubric(ctx context.Context, rubric *models.Rubric) error
	UpdateRubricSettings(ctx context.Context, rubric models.Rubric) error
	SetAssessmentQuestionRubric(ctx context.Context, assessmentQuestionID uint, rubricID *uint) error
	SoftDeleteItemsExcept(ctx context.Context, rubricID uint, keepIDs []uint) error
	UpdateItem(ctx context.Context, item models.RubricItem) (bool, error)
	InsertItem(ctx context.Context, item *models.RubricItem) error
	TagForManualGrading(ctx context.Context, assessmentQuestionID uint) error
	ItemUsageCounts(ctx context.Context, rubricID uint) (map[uint]int64, error)
	ListRecomputeTargets(ctx context.Context, assessmentQuestionID uint) ([]RecomputeTarget, error)
}

type rubricRepository struct {
	db *gorm.DB
}

// NewRubricRepository instantiates the repository.
func NewRubricRepository(db *gorm.DB) RubricRepository {
	return &rubricRepository{db: db}
}

func (r *rubricRepository) InTransaction(ctx context.Context, fn func(repo RubricRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&rubricRepository{db: tx})
	})
}

func (r *rubricRepository) GetAssessmentQuestion(ctx context.Context, assessmentQuestionID uint) (models.AssessmentQuestion, error) {
	var question models.AssessmentQuestion
	if err := r.db.WithContext(ctx).First(&question, assessmentQuestionID).Error; err != nil {
		return models.AssessmentQuestion{}, err
	}
	return question, nil
}

func (r *rubricRepository) GetAssessmentQuestionForUpdate(ctx context.Context, assessmentQuestionID uint) (models.AssessmentQuestion, error) {
	var question models.AssessmentQuestion
	if err := forUpdate(r.db.WithContext(ctx)).First(&question, assessmentQuestionID).Error; err != nil {
		return models.AssessmentQuestion{}, err
	}
	return question, nil
}

func (r *rubricRepository) GetRubric(ctx context.Context, rubricID uint) (models.Rubric, error) {
	var rubric models.Rubric
	if err := r.db.WithContext(ctx).
		Preload("Items", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("number ASC")
		}).
		First(&rubric, rubricID).Error; err != nil {
		return models.Rubric{}, err
	}
	return rubric, nil
}

func (r *rubricRepository) CreateRubric(ctx context.Context, rubric *models.Rubric) error {
	return r.db.WithContext(ctx).Create(rubric).Error
}

func (r *rubricRepository) UpdateRubricSettings(ctx context.Context, rubric models.Rubric) error {
	return r.db.WithContext(ctx).
		Model(&models.Rubric{}).
		Where("id = ?", rubric.ID).
		Updates(map[string]any{
			"starting_points":     rubric.StartingPoints,
			"min_points":          rubric.MinPoints,
			"max_extra_points":    rubric.MaxExtraPoints,
			"replace_auto_points": rubric.ReplaceAutoPoints,
		}).Error
}

func (r *rubricRepository) SetAssessmentQuestionRubric(ctx context.Context, assessmentQuestionID uint, rubricID *uint) error {
	return r.db.WithContext(ctx).
		Model(&models.AssessmentQuestion{}).
		Where("id = ?", assessmentQuestionID).
		Update("manual_rubric_id", rubricID).Error
}

func (r *rubricRepository) SoftDeleteItemsExcept(ctx context.Context, rubricID uint, keepIDs []uint) error {
	query := r.db.WithContext(ctx).
		Model(&models.RubricItem{}).
		Where("rubric_id = ?", rubricID).
		Where("deleted = ?", false)
	if len(keepIDs) > 0 {
		query = query.Where("id NOT IN ?", keepIDs)
	}
	return query.Update("deleted", true).Error
}

func (r *rubricRepository) UpdateItem(ctx context.Context, item models.RubricItem) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.RubricItem{}).
		Where("id = ? AND rubric_id = ?", item.ID, item.RubricID).
		Updates(map[string]any{
			"points":      item.Points,
			"description": item.Description,
			"explanation": item.Explanation,
			"grader_note": item.GraderNote,
			"number":      item.Number,
			"always_show": item.AlwaysShow,
			"deleted":     false,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *rubricRepository) InsertItem(ctx context.Context, item *models.RubricItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *rubricRepository) TagForManualGrading(ctx context.Context, assessmentQuestionID uint) error {
	return r.db.WithContext(ctx).
		Model(&models.InstanceQuestion{}).
		Where("assessment_question_id = ?", assessmentQuestionID).
		Update("requires_manual_grading", true).Error
}

func (r *rubricRepository) ItemUsageCounts(ctx context.Context, rubricID uint) (map[uint]int64, error) {
	type usageRow struct {
		RubricItemID uint
		Count        int64
	}
	var rows []usageRow
	err := r.db.WithContext(ctx).
		Model(&models.RubricGradingItem{}).
		Select("rubric_grading_items.rubric_item_id, COUNT(DISTINCT submissions.id) AS count").
		Joins("JOIN rubric_gradings ON rubric_gradings.id = rubric_grading_items.rubric_grading_id").
		Joins("JOIN submissions ON submissions.manual_rubric_grading_id = rubric_gradings.id").
		Where("rubric_gradings.rubric_id = ?", rubricID).
		Group("rubric_grading_items.rubric_item_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	usage := make(map[uint]int64, len(rows))
	for _, row := range rows {
		usage[row.RubricItemID] = row.Count
	}
	return usage, nil
}

func (r *rubricRepository) ListRecomputeTargets(ctx context.Context, assessmentQuestionID uint) ([]RecomputeTarget, error) {
	var instanceQuestions []models.InstanceQuestion
	err := r.db.WithContext(ctx).
		Where("assessment_question_id = ?", assessmentQuestionID).
		Order("id ASC").
		Find(&instanceQuestions).Error
	if err != nil {
		return nil, err
	}

	targets := make([]RecomputeTarget, 0, len(instanceQuestions))
	for _, instanceQuestion := range instanceQuestions {
		var submission models.Submission
		err := r.db.WithContext(ctx).
			Where("instance_question_id = ?", instanceQuestion.ID).
			Where("manual_rubric_grading_id IS NOT NULL").
			Order("created_at DESC, id DESC").
			First(&submission).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		var grading models.RubricGrading
		if err := r.db.WithContext(ctx).
			Preload("Items").
			First(&grading, *submission.ManualRubricGradingID).Error; err != nil {
			return nil, err
		}

		targets = append(targets, RecomputeTarget{
			InstanceQuestionID: instanceQuestion.ID,
			SubmissionID:       submission.ID,
			RubricGrading:      grading,
		})
	}
	return targets, nil
}
