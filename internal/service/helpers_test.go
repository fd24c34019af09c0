package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/gradeflow/assess-api/internal/models"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

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

func uintPtr(v uint) *uint { return &v }

// gradingFixture seeds a question, an assessment question with the given
// point split, an assessment instance, one instance question, and one
// submission.
type gradingFixture struct {
	Question           models.Question
	AssessmentQuestion models.AssessmentQuestion
	AssessmentInstance models.AssessmentInstance
	InstanceQuestion   models.InstanceQuestion
	Submission         models.Submission
}

func seedGradingFixture(t *testing.T, db *gorm.DB, maxPoints, maxAutoPoints, maxManualPoints float64) gradingFixture {
	t.Helper()

	question := models.Question{Title: "Binary search", QuestionText: "Explain the invariant of binary search.", Type: "freeform"}
	require.NoError(t, db.Create(&question).Error)

	assessmentQuestion := models.AssessmentQuestion{
		AssessmentID:    1,
		QuestionID:      question.ID,
		MaxPoints:       floatPtr(maxPoints),
		MaxAutoPoints:   floatPtr(maxAutoPoints),
		MaxManualPoints: floatPtr(maxManualPoints),
	}
	require.NoError(t, db.Create(&assessmentQuestion).Error)

	assessmentInstance := models.AssessmentInstance{AssessmentID: 1, UserID: 7, MaxPoints: maxPoints}
	require.NoError(t, db.Create(&assessmentInstance).Error)

	instanceQuestion := models.InstanceQuestion{
		AssessmentQuestionID:  assessmentQuestion.ID,
		AssessmentInstanceID:  assessmentInstance.ID,
		Status:                models.InstanceQuestionStatusSaved,
		RequiresManualGrading: true,
		ModifiedAt:            time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Create(&instanceQuestion).Error)

	submission := models.Submission{
		InstanceQuestionID: instanceQuestion.ID,
		SubmittedAnswer:    map[string]any{"text": "The search window always contains the target if present."},
	}
	require.NoError(t, db.Create(&submission).Error)

	return gradingFixture{
		Question:           question,
		AssessmentQuestion: assessmentQuestion,
		AssessmentInstance: assessmentInstance,
		InstanceQuestion:   instanceQuestion,
		Submission:         submission,
	}
}

// seedRubric attaches a rubric with the given items to the fixture's
// assessment question.
func seedRubric(t *testing.T, db *gorm.DB, fixture *gradingFixture, rubric models.Rubric, items []models.RubricItem) models.Rubric {
	t.Helper()

	require.NoError(t, db.Create(&rubric).Error)
	for i := range items {
		items[i].RubricID = rubric.ID
		items[i].Number = i
		require.NoError(t, db.Create(&items[i]).Error)
	}
	require.NoError(t, db.Model(&models.AssessmentQuestion{}).
		Where("id = ?", fixture.AssessmentQuestion.ID).
		Update("manual_rubric_id", rubric.ID).Error)
	fixture.AssessmentQuestion.ManualRubricID = &rubric.ID

	rubric.Items = items
	return rubric
}
