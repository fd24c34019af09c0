package models

import (
	"time"

	"gorm.io/datatypes"
)

// PartialScore is the per-element score contribution reported by the
// autograder for one sub-element of a question.
type PartialScore struct {
	Score  *float64 `json:"score"`
	Weight *float64 `json:"weight"`
}

// PartialScores maps sub-element names to their score contributions.
type PartialScores map[string]PartialScore

// WeightedMeanPerc computes the percentage score as the weighted mean of the
// element scores. Missing weights default to 1, missing scores to 0.
func (p PartialScores) WeightedMeanPerc() float64 {
	var scoreSum, weightSum float64
	for _, part := range p {
		weight := 1.0
		if part.Weight != nil {
			weight = *part.Weight
		}
		score := 0.0
		if part.Score != nil {
			score = *part.Score
		}
		scoreSum += score * weight
		weightSum += weight
	}
	if weightSum == 0 {
		return 0
	}
	return 100 * scoreSum / weightSum
}

// Merge returns a copy of p overlaid with the entries of update. Elements not
// mentioned in update keep their previous values.
func (p PartialScores) Merge(update PartialScores) PartialScores {
	merged := make(PartialScores, len(p)+len(update))
	for name, part := range p {
		merged[name] = part
	}
	for name, part := range update {
		merged[name] = part
	}
	return merged
}

// Submission is one attempt's raw answer plus its grading results. The auto
// fields are written once by the autograder; the manual and AI fields are
// written only by the score reconciler.
type Submission struct {
	ID                    uint                              `gorm:"primaryKey" json:"id"`
	InstanceQuestionID    uint                              `gorm:"not null;index" json:"instance_question_id"`
	SubmittedAnswer       datatypes.JSONMap                 `json:"submitted_answer"`
	PartialScores         datatypes.JSONType[PartialScores] `json:"partial_scores"`
	Score                 *float64                          `json:"score"`
	Correct               *bool                             `json:"correct"`
	Feedback              datatypes.JSONMap                 `json:"feedback"`
	ManualRubricGradingID *uint                             `gorm:"index" json:"manual_rubric_grading_id"`
	GradedAt              *time.Time                        `json:"graded_at"`
	CreatedAt             time.Time                         `json:"created_at"`
	UpdatedAt             time.Time                         `json:"updated_at"`
}

// SubmissionGradingContext caches the rendered text of a submission used as
// grading context for AI scoring, along with its embedding vector.
type SubmissionGradingContext struct {
	ID                   uint                         `gorm:"primaryKey" json:"id"`
	SubmissionID         uint                         `gorm:"not null;uniqueIndex" json:"submission_id"`
	AssessmentQuestionID uint                         `gorm:"not null;index" json:"assessment_question_id"`
	SubmissionText       string                       `gorm:"type:text" json:"submission_text"`
	Embedding            datatypes.JSONSlice[float32] `json:"embedding"`
	CreatedAt            time.Time                    `json:"created_at"`
}
