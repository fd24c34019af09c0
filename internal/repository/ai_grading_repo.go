package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/gradeflow/assess-api/internal/models"
)

// GradedExample is one human-graded submission used as few-shot context for
// the AI scorer.
type GradedExample struct {
	InstanceQuestionID uint
	SubmissionText     string
	ScorePerc          float64
	Feedback           map[string]any
	RubricGradingID    *uint
	SelectedItems      []string
}

// AIGradingRepository provides the data operations of an AI grading run:
// item listing, grading-context caching, retrieval of graded examples, and
// the audit records for runs that don't go through the score reconciler.
type AIGradingRepository interface {
	InTransaction(ctx context.Context, fn func(repo AIGradingRepository) error) error
	GetAssessmentQuestion(ctx context.Context, assessmentQuestionID uint) (models.AssessmentQuestion, error)
	GetQuestion(ctx context.Context, questionID uint) (models.Question, error)
	GetRubric(ctx context.Context, rubricID uint) (models.Rubric, error)
	ListInstanceQuestions(ctx context.Context, assessmentQuestionID uint) ([]models.InstanceQuestion, error)
	LatestSubmission(ctx context.Context, instanceQuestionID uint) (models.Submission, error)
	GetGradingContext(ctx context.Context, submissionID uint) (models.SubmissionGradingContext, error)
	CreateGradingContext(ctx context.Context, context *models.SubmissionGradingContext) error
	RecentGradedExamples(ctx context.Context, assessmentQuestionID uint, limit int) ([]GradedExample, error)
	CreateRubricGrading(ctx context.Context, grading *models.RubricGrading) error
	CreateGradingJob(ctx context.Context, job *models.GradingJob) error
	CreateAIGradingJob(ctx context.Context, job *models.AIGradingJob) error
}

type aiGradingRepository struct {
	db *gorm.DB
}

// NewAIGradingRepository instantiates the repository.
func NewAIGradingRepository(db *gorm.DB) AIGradingRepository {
	return &aiGradingRepository{db: db}
}

func (r *aiGradingRepository) InTransaction(ctx context.Context, fn func(repo AIGradingRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&aiGradingRepository{db: tx})
	})
}

func (r *aiGradingRepository) GetAssessmentQuestion(ctx context.Context, assessmentQuestionID uint) (models.AssessmentQuestion, error) {
	var question models.AssessmentQuestion
	if err := r.db.WithContext(ctx).First(&question, assessmentQuestionID).Error; err != nil {
		return models.AssessmentQuestion{}, err
	}
	return question, nil
}

func (r *aiGradingRepository) GetQuestion(ctx context.Context, questionID uint) (models.Question, error) {
	var question models.Question
	if err := r.db.WithContext(ctx).First(&question, questionID).Error; err != nil {
		return models.Question{}, err
	}
	return question, nil
}

func (r *aiGradingRepository) GetRubric(ctx context.Context, rubricID uint) (models.Rubric, error) {
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

func (r *aiGradingRepository) ListInstanceQuestions(ctx context.Context, assessmentQuestionID uint) ([]models.InstanceQuestion, error) {
	var instanceQuestions []models.InstanceQuestion
	err := r.db.WithContext(ctx).
		Where("assessment_question_id = ?", assessmentQuestionID).
		Order("id ASC").
		Find(&instanceQuestions).Error
	if err != nil {
		return nil, err
	}
	return instanceQuestions, nil
}

func (r *aiGradingRepository) LatestSubmission(ctx context.Context, instanceQuestionID uint) (models.Submission, error) {
	var submission models.Submission
	err := r.db.WithContext(ctx).
		Where("instance_question_id = ?", instanceQuestionID).
		Order("created_at DESC, id DESC").
		First(&submission).Error
	if err != nil {
		return models.Submission{}, err
	}
	return submission, nil
}

func (r *aiGradingRepository) GetGradingContext(ctx context.Context, submissionID uint) (models.SubmissionGradingContext, error) {
	var gradingContext models.SubmissionGradingContext
	err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		First(&gradingContext).Error
	if err != nil {
		return models.SubmissionGradingContext{}, err
	}
	return gradingContext, nil
}

func (r *aiGradingRepository) CreateGradingContext(ctx context.Context, gradingContext *models.SubmissionGradingContext) error {
	return r.db.WithContext(ctx).Create(gradingContext).Error
}

func (r *aiGradingRepository) RecentGradedExamples(ctx context.Context, assessmentQuestionID uint, limit int) ([]GradedExample, error) {
	var instanceQuestions []models.InstanceQuestion
	err := r.db.WithContext(ctx).
		Where("assessment_question_id = ?", assessmentQuestionID).
		Where("requires_manual_grading = ? AND is_ai_graded = ? AND status = ?",
			false, false, models.InstanceQuestionStatusGraded).
		Order("modified_at DESC").
		Limit(limit).
		Find(&instanceQuestions).Error
	if err != nil {
		return nil, err
	}

	examples := make([]GradedExample, 0, len(instanceQuestions))
	for _, instanceQuestion := range instanceQuestions {
		submission, err := r.LatestSubmission(ctx, instanceQuestion.ID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		gradingContext, err := r.GetGradingContext(ctx, submission.ID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		example := GradedExample{
			InstanceQuestionID: instanceQuestion.ID,
			SubmissionText:     gradingContext.SubmissionText,
			Feedback:           submission.Feedback,
			RubricGradingID:    submission.ManualRubricGradingID,
		}
		if instanceQuestion.ScorePerc != nil {
			example.ScorePerc = *instanceQuestion.ScorePerc
		}
		if submission.ManualRubricGradingID != nil {
			var items []models.RubricGradingItem
			err := r.db.WithContext(ctx).
				Where("rubric_grading_id = ?", *submission.ManualRubricGradingID).
				Find(&items).Error
			if err != nil {
				return nil, err
			}
			for _, item := range items {
				example.SelectedItems = append(example.SelectedItems, item.Description)
			}
		}
		examples = append(examples, example)
	}
	return examples, nil
}

func (r *aiGradingRepository) CreateRubricGrading(ctx context.Context, grading *models.RubricGrading) error {
	return r.db.WithContext(ctx).Create(grading).Error
}

func (r *aiGradingRepository) CreateGradingJob(ctx context.Context, job *models.GradingJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *aiGradingRepository) CreateAIGradingJob(ctx context.Context, job *models.AIGradingJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}
