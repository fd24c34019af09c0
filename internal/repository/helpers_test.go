package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/gradeflow/assess-api/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Question{},
		&models.AssessmentQuestion{},
		&models.AssessmentInstance{},
		&models.InstanceQuestion{},
		&models.Submission{},
		&models.SubmissionGradingContext{},
		&models.Rubric{},
		&models.RubricItem{},
		&models.RubricGrading{},
		&models.RubricGradingItem{},
		&models.GradingJob{},
		&models.AIGradingJob{},
		&models.JobSequence{},
		&models.JobLogLine{},
	))

	return db
}

func floatPtr(v float64) *float64 { return &v }

func seedInstanceQuestion(t *testing.T, db *gorm.DB, assessmentQuestionID uint) models.InstanceQuestion {
	t.Helper()
	instanceQuestion := models.InstanceQuestion{
		AssessmentQuestionID:  assessmentQuestionID,
		AssessmentInstanceID:  1,
		Status:                models.InstanceQuestionStatusSaved,
		RequiresManualGrading: true,
		ModifiedAt:            time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Create(&instanceQuestion).Error)
	return instanceQuestion
}

func seedAssessmentQuestion(t *testing.T, db *gorm.DB, maxPoints, maxAutoPoints, maxManualPoints float64) models.AssessmentQuestion {
	t.Helper()
	question := models.Question{Title: "Shortest paths", QuestionText: "Explain relaxation.", Type: "freeform"}
	require.NoError(t, db.Create(&question).Error)
	assessmentQuestion := models.AssessmentQuestion{
		AssessmentID:    1,
		QuestionID:      question.ID,
		MaxPoints:       floatPtr(maxPoints),
		MaxAutoPoints:   floatPtr(maxAutoPoints),
		MaxManualPoints: floatPtr(maxManualPoints),
	}
	require.NoError(t, db.Create(&assessmentQuestion).Error)
	return assessmentQuestion
}
