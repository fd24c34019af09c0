package service

import (
	"fmt"
	"math"

	"github.com/gradeflow/assess-api/internal/dto"
	"github.com/gradeflow/assess-api/internal/models"
)

// computeRubricPoints resolves a set of applied rubric items into a point
// value. The weighted item sum plus the rubric's starting points is clamped
// to [min_points, ceiling]; the adjustment is added after clamping, since it
// is an explicit grader override allowed to leave the rubric's range.
//
// Results are kept as raw float64 values; rounding happens only at
// presentation time so repeated recompute passes don't accumulate error.
func computeRubricPoints(rubric models.Rubric, applied []dto.AppliedRubricItem, adjustPoints, maxPoints, maxManualPoints float64) (float64, error) {
	var itemSum float64
	for _, selection := range applied {
		item, ok := rubric.ItemByID(selection.RubricItemID)
		if !ok {
			return 0, fmt.Errorf("%w: rubric item %d is not part of rubric %d",
				ErrInvalidScoreInput, selection.RubricItemID, rubric.ID)
		}
		multiplier := 1.0
		if selection.Score != nil {
			multiplier = *selection.Score
		}
		itemSum += multiplier * item.Points
	}

	ceiling := rubric.Ceiling(maxPoints, maxManualPoints)
	clamped := math.Min(math.Max(rubric.StartingPoints+itemSum, rubric.MinPoints), ceiling)
	return clamped + adjustPoints, nil
}

// appliedItemsFromGrading converts a stored grading snapshot back into the
// applied-item input shape so it can be replayed against an edited rubric.
func appliedItemsFromGrading(grading models.RubricGrading) []dto.AppliedRubricItem {
	applied := make([]dto.AppliedRubricItem, 0, len(grading.Items))
	for _, item := range grading.Items {
		score := item.Score
		applied = append(applied, dto.AppliedRubricItem{
			RubricItemID: item.RubricItemID,
			Score:        &score,
		})
	}
	return applied
}
