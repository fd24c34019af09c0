package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/gradeflow/assess-api/internal/models"
)

func seedRubricWithItems(t *testing.T, db *gorm.DB, descriptions ...string) (models.Rubric, []models.RubricItem) {
	t.Helper()
	rubric := models.Rubric{}
	require.NoError(t, db.Create(&rubric).Error)
	items := make([]models.RubricItem, 0, len(descriptions))
	for i, description := range descriptions {
		item := models.RubricItem{RubricID: rubric.ID, Points: float64(i + 1), Description: description, Number: i}
		require.NoError(t, db.Create(&item).Error)
		items = append(items, item)
	}
	return rubric, items
}

func TestSoftDeleteItemsExcept(t *testing.T) {
	db := setupTestDB(t)
	rubric, items := seedRubricWithItems(t, db, "keep", "drop")
	repo := NewRubricRepository(db)

	require.NoError(t, repo.SoftDeleteItemsExcept(context.Background(), rubric.ID, []uint{items[0].ID}))

	var kept, dropped models.RubricItem
	require.NoError(t, db.First(&kept, items[0].ID).Error)
	require.NoError(t, db.First(&dropped, items[1].ID).Error)
	require.False(t, kept.Deleted)
	require.True(t, dropped.Deleted)
}

func TestSoftDeleteItemsExceptWithNoKeepers(t *testing.T) {
	db := setupTestDB(t)
	rubric, items := seedRubricWithItems(t, db, "one", "two")
	repo := NewRubricRepository(db)

	require.NoError(t, repo.SoftDeleteItemsExcept(context.Background(), rubric.ID, nil))

	for _, item := range items {
		var row models.RubricItem
		require.NoError(t, db.First(&row, item.ID).Error)
		require.True(t, row.Deleted)
	}
}

func TestUpdateItemReportsUnknownID(t *testing.T) {
	db := setupTestDB(t)
	rubric, items := seedRubricWithItems(t, db, "existing")
	repo := NewRubricRepository(db)

	updated, err := repo.UpdateItem(context.Background(), models.RubricItem{
		ID:          items[0].ID,
		RubricID:    rubric.ID,
		Points:      9,
		Description: "existing, repriced",
	})
	require.NoError(t, err)
	require.True(t, updated)

	updated, err = repo.UpdateItem(context.Background(), models.RubricItem{
		ID:          999,
		RubricID:    rubric.ID,
		Points:      1,
		Description: "phantom",
	})
	require.NoError(t, err)
	require.False(t, updated)
}

func TestListRecomputeTargets(t *testing.T) {
	db := setupTestDB(t)
	assessmentQuestion := seedAssessmentQuestion(t, db, 10, 4, 6)
	rubric, items := seedRubricWithItems(t, db, "correct")
	repo := NewRubricRepository(db)

	grading := models.RubricGrading{RubricID: rubric.ID, ComputedPoints: 1}
	require.NoError(t, db.Create(&grading).Error)
	require.NoError(t, db.Create(&models.RubricGradingItem{
		RubricGradingID: grading.ID,
		RubricItemID:    items[0].ID,
		Score:           1,
		Points:          items[0].Points,
		Description:     items[0].Description,
	}).Error)

	withGrading := seedInstanceQuestion(t, db, assessmentQuestion.ID)
	submission := models.Submission{
		InstanceQuestionID:    withGrading.ID,
		ManualRubricGradingID: &grading.ID,
		CreatedAt:             time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Create(&submission).Error)

	// An instance question without a rubric grading is not a target.
	withoutGrading := seedInstanceQuestion(t, db, assessmentQuestion.ID)
	require.NoError(t, db.Create(&models.Submission{InstanceQuestionID: withoutGrading.ID}).Error)

	targets, err := repo.ListRecomputeTargets(context.Background(), assessmentQuestion.ID)
	require.NoError(t, err)
	require.Len(t, targets, 1)
	require.Equal(t, withGrading.ID, targets[0].InstanceQuestionID)
	require.Equal(t, submission.ID, targets[0].SubmissionID)
	require.Equal(t, grading.ID, targets[0].RubricGrading.ID)
	require.Len(t, targets[0].RubricGrading.Items, 1)
}

func TestItemUsageCountsOnlyCountsReferencedGradings(t *testing.T) {
	db := setupTestDB(t)
	assessmentQuestion := seedAssessmentQuestion(t, db, 10, 4, 6)
	rubric, items := seedRubricWithItems(t, db, "used", "unused")
	repo := NewRubricRepository(db)

	grading := models.RubricGrading{RubricID: rubric.ID, ComputedPoints: 1}
	require.NoError(t, db.Create(&grading).Error)
	require.NoError(t, db.Create(&models.RubricGradingItem{
		RubricGradingID: grading.ID,
		RubricItemID:    items[0].ID,
		Score:           1,
		Points:          items[0].Points,
		Description:     items[0].Description,
	}).Error)

	instanceQuestion := seedInstanceQuestion(t, db, assessmentQuestion.ID)
	require.NoError(t, db.Create(&models.Submission{
		InstanceQuestionID:    instanceQuestion.ID,
		ManualRubricGradingID: &grading.ID,
	}).Error)

	// A superseded grading no submission points to anymore.
	orphan := models.RubricGrading{RubricID: rubric.ID, ComputedPoints: 2}
	require.NoError(t, db.Create(&orphan).Error)
	require.NoError(t, db.Create(&models.RubricGradingItem{
		RubricGradingID: orphan.ID,
		RubricItemID:    items[1].ID,
		Score:           1,
		Points:          items[1].Points,
		Description:     items[1].Description,
	}).Error)

	usage, err := repo.ItemUsageCounts(context.Background(), rubric.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), usage[items[0].ID])
	require.Zero(t, usage[items[1].ID])
}
