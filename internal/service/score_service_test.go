package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/gradeflow/assess-api/internal/dto"
	"github.com/gradeflow/assess-api/internal/models"
	"github.com/gradeflow/assess-api/internal/repository"
)

func TestScoreUpdateRejectsContradictoryInput(t *testing.T) {
	db := setupTestDB(t)
	seedGradingFixture(t, db, 10, 4, 6)
	svc := NewScoreService(repository.NewScoreStore(db), NewLogOutcomeReporter(testLogger()), testLogger())

	cases := []dto.ScoreUpdate{
		{ManualPoints: floatPtr(3), ManualScorePerc: floatPtr(50)},
		{Points: floatPtr(5), ScorePerc: floatPtr(50)},
		{AutoPoints: floatPtr(2), AutoScorePerc: floatPtr(50)},
		{ManualPoints: floatPtr(3), Points: floatPtr(5)},
		{ManualScorePerc: floatPtr(50), ScorePerc: floatPtr(50)},
		{AutoPoints: floatPtr(2), Points: floatPtr(5)},
		{AutoScorePerc: floatPtr(50), ScorePerc: floatPtr(50)},
		{PartialScores: models.PartialScores{"a": {}}, AutoPoints: floatPtr(2)},
		{PartialScores: models.PartialScores{"a": {}}, AutoScorePerc: floatPtr(50)},
	}
	for _, update := range cases {
		_, err := svc.UpdateInstanceQuestionScore(context.Background(), 1, update, ScoreUpdateOptions{})
		require.ErrorIs(t, err, ErrInvalidScoreInput)
	}
}

func TestScoreUpdateUnknownInstanceQuestion(t *testing.T) {
	db := setupTestDB(t)
	svc := NewScoreService(repository.NewScoreStore(db), NewLogOutcomeReporter(testLogger()), testLogger())

	_, err := svc.UpdateInstanceQuestionScore(context.Background(), 999, dto.ScoreUpdate{ManualPoints: floatPtr(3)}, ScoreUpdateOptions{})
	require.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestScoreUpdateManualPointsDerivesTotals(t *testing.T) {
	db := setupTestDB(t)
	fixture := seedGradingFixture(t, db, 10, 4, 6)
	require.NoError(t, db.Model(&models.InstanceQuestion{}).
		Where("id = ?", fixture.InstanceQuestion.ID).
		Update("auto_points", 4.0).Error)

	svc := NewScoreService(repository.NewScoreStore(db), NewLogOutcomeReporter(testLogger()), testLogger())

	result, err := svc.UpdateInstanceQuestionScore(context.Background(), fixture.InstanceQuestion.ID,
		dto.ScoreUpdate{ManualPoints: floatPtr(3)}, ScoreUpdateOptions{GraderID: uintPtr(42)})
	require.NoError(t, err)
	require.False(t, result.ModifiedAtConflict)
	require.NotNil(t, result.GradingJobID)

	var instanceQuestion models.InstanceQuestion
	require.NoError(t, db.First(&instanceQuestion, fixture.InstanceQuestion.ID).Error)
	require.Equal(t, 3.0, *instanceQuestion.ManualPoints)
	require.Equal(t, 7.0, *instanceQuestion.Points)
	require.Equal(t, 70.0, *instanceQuestion.ScorePerc)
	require.False(t, instanceQuestion.RequiresManualGrading)
	require.Equal(t, models.InstanceQuestionStatusGraded, instanceQuestion.Status)

	var job models.GradingJob
	require.NoError(t, db.First(&job, *result.GradingJobID).Error)
	require.Equal(t, models.GradingMethodManual, job.GradingMethod)
	require.Equal(t, uint(42), *job.GradedBy)
	require.Equal(t, 3.0, *job.ManualPoints)

	var instance models.AssessmentInstance
	require.NoError(t, db.First(&instance, fixture.AssessmentInstance.ID).Error)
	require.Equal(t, 7.0, instance.Points)
	require.Equal(t, 70.0, instance.ScorePerc)
}

func TestScoreUpdateTotalPointsDerivesManualRemainder(t *testing.T) {
	db := setupTestDB(t)
	fixture := seedGradingFixture(t, db, 10, 4, 6)
	require.NoError(t, db.Model(&models.InstanceQuestion{}).
		Where("id = ?", fixture.InstanceQuestion.ID).
		Update("auto_points", 4.0).Error)

	svc := NewScoreService(repository.NewScoreStore(db), NewLogOutcomeReporter(testLogger()), testLogger())

	_, err := svc.UpdateInstanceQuestionScore(context.Background(), fixture.InstanceQuestion.ID,
		dto.ScoreUpdate{Points: floatPtr(9)}, ScoreUpdateOptions{})
	require.NoError(t, err)

	var instanceQuestion models.InstanceQuestion
	require.NoError(t, db.First(&instanceQuestion, fixture.InstanceQuestion.ID).Error)
	require.Equal(t, 9.0, *instanceQuestion.Points)
	require.Equal(t, 5.0, *instanceQuestion.ManualPoints)
	require.Equal(t, 90.0, *instanceQuestion.ScorePerc)
}

func TestScoreUpdatePartialScoresDeriveAutoPoints(t *testing.T) {
	db := setupTestDB(t)
	fixture := seedGradingFixture(t, db, 15, 10, 5)

	svc := NewScoreService(repository.NewScoreStore(db), NewLogOutcomeReporter(testLogger()), testLogger())

	// One element at half credit with weight 1 gives a 50 percent weighted
	// mean, so auto points resolve to half of max_auto_points.
	_, err := svc.UpdateInstanceQuestionScore(context.Background(), fixture.InstanceQuestion.ID,
		dto.ScoreUpdate{PartialScores: models.PartialScores{
			"part1": {Score: floatPtr(0.5), Weight: floatPtr(1)},
		}}, ScoreUpdateOptions{})
	require.NoError(t, err)

	var instanceQuestion models.InstanceQuestion
	require.NoError(t, db.First(&instanceQuestion, fixture.InstanceQuestion.ID).Error)
	require.Equal(t, 5.0, *instanceQuestion.AutoPoints)

	var submission models.Submission
	require.NoError(t, db.First(&submission, fixture.Submission.ID).Error)
	require.Equal(t, 0.5, *submission.Score)
	require.False(t, *submission.Correct)
	stored := submission.PartialScores.Data()
	require.Equal(t, 0.5, *stored["part1"].Score)
}

func TestScoreUpdatePartialScoresMergeKeepsOtherElements(t *testing.T) {
	db := setupTestDB(t)
	fixture := seedGradingFixture(t, db, 15, 10, 5)
	require.NoError(t, db.Model(&models.Submission{}).
		Where("id = ?", fixture.Submission.ID).
		Update("partial_scores", datatypes.NewJSONType(models.PartialScores{
			"part1": {Score: floatPtr(1), Weight: floatPtr(1)},
			"part2": {Score: floatPtr(0), Weight: floatPtr(1)},
		})).Error)

	svc := NewScoreService(repository.NewScoreStore(db), NewLogOutcomeReporter(testLogger()), testLogger())

	_, err := svc.UpdateInstanceQuestionScore(context.Background(), fixture.InstanceQuestion.ID,
		dto.ScoreUpdate{PartialScores: models.PartialScores{
			"part2": {Score: floatPtr(1), Weight: floatPtr(1)},
		}}, ScoreUpdateOptions{})
	require.NoError(t, err)

	var instanceQuestion models.InstanceQuestion
	require.NoError(t, db.First(&instanceQuestion, fixture.InstanceQuestion.ID).Error)
	require.Equal(t, 10.0, *instanceQuestion.AutoPoints)

	var submission models.Submission
	require.NoError(t, db.First(&submission, fixture.Submission.ID).Error)
	stored := submission.PartialScores.Data()
	require.Len(t, stored, 2)
	require.Equal(t, 1.0, *stored["part1"].Score)
	require.Equal(t, 1.0, *stored["part2"].Score)
}

func TestScoreUpdateModifiedAtConflictLeavesScoreUntouched(t *testing.T) {
	db := setupTestDB(t)
	fixture := seedGradingFixture(t, db, 10, 4, 6)

	svc := NewScoreService(repository.NewScoreStore(db), NewLogOutcomeReporter(testLogger()), testLogger())

	stale := fixture.InstanceQuestion.ModifiedAt.Add(-time.Hour)
	result, err := svc.UpdateInstanceQuestionScore(context.Background(), fixture.InstanceQuestion.ID,
		dto.ScoreUpdate{ManualPoints: floatPtr(3)}, ScoreUpdateOptions{CheckModifiedAt: &stale})
	require.NoError(t, err)
	require.True(t, result.ModifiedAtConflict)
	require.NotNil(t, result.GradingJobID)

	// The audit job exists but the live state is unchanged.
	var instanceQuestion models.InstanceQuestion
	require.NoError(t, db.First(&instanceQuestion, fixture.InstanceQuestion.ID).Error)
	require.Nil(t, instanceQuestion.ManualPoints)
	require.Nil(t, instanceQuestion.Points)
	require.True(t, instanceQuestion.RequiresManualGrading)

	var jobCount int64
	require.NoError(t, db.Model(&models.GradingJob{}).Count(&jobCount).Error)
	require.Equal(t, int64(1), jobCount)
}

func TestScoreUpdateMatchingModifiedAtApplies(t *testing.T) {
	db := setupTestDB(t)
	fixture := seedGradingFixture(t, db, 10, 4, 6)

	svc := NewScoreService(repository.NewScoreStore(db), NewLogOutcomeReporter(testLogger()), testLogger())

	var current models.InstanceQuestion
	require.NoError(t, db.First(&current, fixture.InstanceQuestion.ID).Error)

	token := current.ModifiedAt
	result, err := svc.UpdateInstanceQuestionScore(context.Background(), fixture.InstanceQuestion.ID,
		dto.ScoreUpdate{ManualPoints: floatPtr(3)}, ScoreUpdateOptions{CheckModifiedAt: &token})
	require.NoError(t, err)
	require.False(t, result.ModifiedAtConflict)

	var instanceQuestion models.InstanceQuestion
	require.NoError(t, db.First(&instanceQuestion, fixture.InstanceQuestion.ID).Error)
	require.Equal(t, 3.0, *instanceQuestion.ManualPoints)
}

func TestScoreUpdateRubricGradingIsAuthoritative(t *testing.T) {
	db := setupTestDB(t)
	fixture := seedGradingFixture(t, db, 10, 4, 6)
	rubric := seedRubric(t, db, &fixture, models.Rubric{}, []models.RubricItem{
		{Points: 2, Description: "States the invariant"},
		{Points: -1, Description: "Misses the termination argument"},
	})

	svc := NewScoreService(repository.NewScoreStore(db), NewLogOutcomeReporter(testLogger()), testLogger())

	// Manual points in the same update are overridden by the rubric result.
	_, err := svc.UpdateInstanceQuestionScore(context.Background(), fixture.InstanceQuestion.ID,
		dto.ScoreUpdate{
			ManualPoints: floatPtr(99),
			ManualRubric: &dto.ManualRubricData{
				RubricID: rubric.ID,
				AppliedItems: []dto.AppliedRubricItem{
					{RubricItemID: rubric.Items[0].ID},
					{RubricItemID: rubric.Items[1].ID},
				},
			},
		}, ScoreUpdateOptions{})
	require.NoError(t, err)

	var instanceQuestion models.InstanceQuestion
	require.NoError(t, db.First(&instanceQuestion, fixture.InstanceQuestion.ID).Error)
	require.Equal(t, 1.0, *instanceQuestion.ManualPoints)

	var grading models.RubricGrading
	require.NoError(t, db.Preload("Items").First(&grading).Error)
	require.Equal(t, 1.0, grading.ComputedPoints)
	require.Len(t, grading.Items, 2)

	var submission models.Submission
	require.NoError(t, db.First(&submission, fixture.Submission.ID).Error)
	require.Equal(t, grading.ID, *submission.ManualRubricGradingID)
}

func TestScoreUpdateAutoOnlyPreservesRubricGrading(t *testing.T) {
	db := setupTestDB(t)
	fixture := seedGradingFixture(t, db, 10, 4, 6)
	rubric := seedRubric(t, db, &fixture, models.Rubric{}, []models.RubricItem{
		{Points: 3, Description: "Correct approach"},
	})

	svc := NewScoreService(repository.NewScoreStore(db), NewLogOutcomeReporter(testLogger()), testLogger())

	_, err := svc.UpdateInstanceQuestionScore(context.Background(), fixture.InstanceQuestion.ID,
		dto.ScoreUpdate{ManualRubric: &dto.ManualRubricData{
			RubricID:     rubric.ID,
			AppliedItems: []dto.AppliedRubricItem{{RubricItemID: rubric.Items[0].ID}},
		}}, ScoreUpdateOptions{})
	require.NoError(t, err)

	var before models.Submission
	require.NoError(t, db.First(&before, fixture.Submission.ID).Error)
	require.NotNil(t, before.ManualRubricGradingID)
	gradingID := *before.ManualRubricGradingID

	// An auto-only update keeps the rubric grading reference and the manual
	// component derived from it.
	_, err = svc.UpdateInstanceQuestionScore(context.Background(), fixture.InstanceQuestion.ID,
		dto.ScoreUpdate{AutoPoints: floatPtr(2)}, ScoreUpdateOptions{})
	require.NoError(t, err)

	var after models.Submission
	require.NoError(t, db.First(&after, fixture.Submission.ID).Error)
	require.Equal(t, gradingID, *after.ManualRubricGradingID)

	var instanceQuestion models.InstanceQuestion
	require.NoError(t, db.First(&instanceQuestion, fixture.InstanceQuestion.ID).Error)
	require.Equal(t, 2.0, *instanceQuestion.AutoPoints)
	require.Equal(t, 3.0, *instanceQuestion.ManualPoints)
	require.Equal(t, 5.0, *instanceQuestion.Points)

	var gradingCount int64
	require.NoError(t, db.Model(&models.RubricGrading{}).Count(&gradingCount).Error)
	require.Equal(t, int64(1), gradingCount)
}

func TestScoreUpdateRubricReplacesAutoSubtractsAutoPoints(t *testing.T) {
	db := setupTestDB(t)
	fixture := seedGradingFixture(t, db, 10, 4, 6)
	require.NoError(t, db.Model(&models.InstanceQuestion{}).
		Where("id = ?", fixture.InstanceQuestion.ID).
		Update("auto_points", 4.0).Error)
	rubric := seedRubric(t, db, &fixture, models.Rubric{ReplaceAutoPoints: true}, []models.RubricItem{
		{Points: 10, Description: "Full credit"},
	})

	svc := NewScoreService(repository.NewScoreStore(db), NewLogOutcomeReporter(testLogger()), testLogger())

	_, err := svc.UpdateInstanceQuestionScore(context.Background(), fixture.InstanceQuestion.ID,
		dto.ScoreUpdate{ManualRubric: &dto.ManualRubricData{
			RubricID:     rubric.ID,
			AppliedItems: []dto.AppliedRubricItem{{RubricItemID: rubric.Items[0].ID}},
		}}, ScoreUpdateOptions{})
	require.NoError(t, err)

	// The rubric computes the full 10 points; the manual component is the
	// remainder after the existing auto points.
	var instanceQuestion models.InstanceQuestion
	require.NoError(t, db.First(&instanceQuestion, fixture.InstanceQuestion.ID).Error)
	require.Equal(t, 6.0, *instanceQuestion.ManualPoints)
	require.Equal(t, 10.0, *instanceQuestion.Points)
}

func TestScoreUpdateSpecificSubmissionMustExist(t *testing.T) {
	db := setupTestDB(t)
	fixture := seedGradingFixture(t, db, 10, 4, 6)

	svc := NewScoreService(repository.NewScoreStore(db), NewLogOutcomeReporter(testLogger()), testLogger())

	missing := fixture.Submission.ID + 100
	_, err := svc.UpdateInstanceQuestionScore(context.Background(), fixture.InstanceQuestion.ID,
		dto.ScoreUpdate{ManualPoints: floatPtr(3)}, ScoreUpdateOptions{SubmissionID: &missing})
	require.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestScoreUpdateAIGradedMarksInstanceQuestion(t *testing.T) {
	db := setupTestDB(t)
	fixture := seedGradingFixture(t, db, 10, 4, 6)

	svc := NewScoreService(repository.NewScoreStore(db), NewLogOutcomeReporter(testLogger()), testLogger())

	result, err := svc.UpdateInstanceQuestionScore(context.Background(), fixture.InstanceQuestion.ID,
		dto.ScoreUpdate{ManualScorePerc: floatPtr(50)}, ScoreUpdateOptions{IsAIGraded: true})
	require.NoError(t, err)

	var instanceQuestion models.InstanceQuestion
	require.NoError(t, db.First(&instanceQuestion, fixture.InstanceQuestion.ID).Error)
	require.True(t, instanceQuestion.IsAIGraded)
	require.Equal(t, 3.0, *instanceQuestion.ManualPoints)

	var job models.GradingJob
	require.NoError(t, db.First(&job, *result.GradingJobID).Error)
	require.Equal(t, models.GradingMethodAI, job.GradingMethod)
}
