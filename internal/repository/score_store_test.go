package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/gradeflow/assess-api/internal/models"
)

func TestSubmissionForUpdatePicksLatestSubmission(t *testing.T) {
	db := setupTestDB(t)
	assessmentQuestion := seedAssessmentQuestion(t, db, 10, 4, 6)
	instanceQuestion := seedInstanceQuestion(t, db, assessmentQuestion.ID)

	older := models.Submission{
		InstanceQuestionID: instanceQuestion.ID,
		CreatedAt:          time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Create(&older).Error)
	newer := models.Submission{
		InstanceQuestionID: instanceQuestion.ID,
		CreatedAt:          time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Create(&newer).Error)

	store := NewScoreStore(db)
	target, err := store.SubmissionForUpdate(context.Background(), instanceQuestion.ID, nil)
	require.NoError(t, err)
	require.Equal(t, newer.ID, *target.SubmissionID)
	require.Equal(t, 10.0, target.MaxPoints)
	require.Equal(t, 4.0, target.MaxAutoPoints)
	require.Equal(t, 6.0, target.MaxManualPoints)
	require.Equal(t, instanceQuestion.AssessmentInstanceID, target.AssessmentInstanceID)
}

func TestSubmissionForUpdateHonorsRequestedSubmission(t *testing.T) {
	db := setupTestDB(t)
	assessmentQuestion := seedAssessmentQuestion(t, db, 10, 4, 6)
	instanceQuestion := seedInstanceQuestion(t, db, assessmentQuestion.ID)

	older := models.Submission{
		InstanceQuestionID: instanceQuestion.ID,
		CreatedAt:          time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Create(&older).Error)
	newer := models.Submission{
		InstanceQuestionID: instanceQuestion.ID,
		CreatedAt:          time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Create(&newer).Error)

	store := NewScoreStore(db)
	target, err := store.SubmissionForUpdate(context.Background(), instanceQuestion.ID, &older.ID)
	require.NoError(t, err)
	require.Equal(t, older.ID, *target.SubmissionID)
}

func TestSubmissionForUpdateWithoutSubmission(t *testing.T) {
	db := setupTestDB(t)
	assessmentQuestion := seedAssessmentQuestion(t, db, 10, 4, 6)
	instanceQuestion := seedInstanceQuestion(t, db, assessmentQuestion.ID)

	store := NewScoreStore(db)

	// No latest submission is tolerated.
	target, err := store.SubmissionForUpdate(context.Background(), instanceQuestion.ID, nil)
	require.NoError(t, err)
	require.Nil(t, target.SubmissionID)

	// A requested submission that does not exist is not.
	missing := uint(999)
	_, err = store.SubmissionForUpdate(context.Background(), instanceQuestion.ID, &missing)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestUpdateInstanceQuestionScoreMarksGraded(t *testing.T) {
	db := setupTestDB(t)
	assessmentQuestion := seedAssessmentQuestion(t, db, 10, 4, 6)
	instanceQuestion := seedInstanceQuestion(t, db, assessmentQuestion.ID)

	store := NewScoreStore(db)
	modified := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpdateInstanceQuestionScore(context.Background(), InstanceQuestionScoreWrite{
		InstanceQuestionID: instanceQuestion.ID,
		Points:             floatPtr(7),
		ScorePerc:          floatPtr(70),
		ManualPoints:       floatPtr(3),
		AutoPoints:         floatPtr(4),
		ModifiedAt:         modified,
	}))

	var updated models.InstanceQuestion
	require.NoError(t, db.First(&updated, instanceQuestion.ID).Error)
	require.Equal(t, models.InstanceQuestionStatusGraded, updated.Status)
	require.False(t, updated.RequiresManualGrading)
	require.Equal(t, 7.0, *updated.Points)
	require.True(t, updated.ModifiedAt.Equal(modified))
}

func TestRecomputeAssessmentInstanceSumsPoints(t *testing.T) {
	db := setupTestDB(t)
	assessmentQuestion := seedAssessmentQuestion(t, db, 10, 4, 6)

	instance := models.AssessmentInstance{AssessmentID: 1, UserID: 7, MaxPoints: 20}
	require.NoError(t, db.Create(&instance).Error)
	for _, points := range []float64{7, 3} {
		instanceQuestion := models.InstanceQuestion{
			AssessmentQuestionID: assessmentQuestion.ID,
			AssessmentInstanceID: instance.ID,
			Points:               floatPtr(points),
			ModifiedAt:           time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		}
		require.NoError(t, db.Create(&instanceQuestion).Error)
	}

	store := NewScoreStore(db)
	require.NoError(t, store.RecomputeAssessmentInstance(context.Background(), instance.ID))

	var updated models.AssessmentInstance
	require.NoError(t, db.First(&updated, instance.ID).Error)
	require.Equal(t, 10.0, updated.Points)
	require.Equal(t, 50.0, updated.ScorePerc)
}

func TestInTransactionRollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	seedAssessmentQuestion(t, db, 10, 4, 6)

	store := NewScoreStore(db)
	wantErr := context.DeadlineExceeded
	err := store.InTransaction(context.Background(), func(tx ScoreStore) error {
		require.NoError(t, tx.CreateGradingJob(context.Background(), &models.GradingJob{
			SubmissionID:       1,
			GradingMethod:      models.GradingMethodManual,
			GradingRequestedAt: time.Now(),
		}))
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)

	var count int64
	require.NoError(t, db.Model(&models.GradingJob{}).Count(&count).Error)
	require.Zero(t, count)
}
