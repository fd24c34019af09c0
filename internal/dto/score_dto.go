package dto

import (
	"time"

	"github.com/gradeflow/assess-api/internal/models"
)

// AppliedRubricItem selects one rubric item for a grading decision. Score is
// an optional multiplier on the item's points; nil means full credit.
type AppliedRubricItem struct {
	RubricItemID uint     `json:"rubric_item_id" validate:"required"`
	Score        *float64 `json:"score"`
}

// ManualRubricData is a complete rubric-based grading decision. When present
// on a score update it is authoritative for the manual points.
type ManualRubricData struct {
	RubricID     uint                `json:"rubric_id" validate:"required"`
	AppliedItems []AppliedRubricItem `json:"applied_rubric_items" validate:"dive"`
	AdjustPoints *float64            `json:"adjust_points"`
}

// ScoreUpdate is the sparse score-delta accepted by the score reconciler.
// Each field is optional; nil means "not specified, leave as-is". The
// mutually exclusive combinations are rejected by the reconciler itself so
// that every caller (manual grading form, CSV upload, AI grading, rubric
// recompute) gets identical semantics.
type ScoreUpdate struct {
	ManualPoints    *float64              `json:"manual_points"`
	ManualScorePerc *float64              `json:"manual_score_perc"`
	AutoPoints      *float64              `json:"auto_points"`
	AutoScorePerc   *float64              `json:"auto_score_perc"`
	Points          *float64              `json:"points"`
	ScorePerc       *float64              `json:"score_perc"`
	Feedback        map[string]any        `json:"feedback"`
	PartialScores   models.PartialScores  `json:"partial_scores"`
	ManualRubric    *ManualRubricData     `json:"manual_rubric_data"`
}

// IsEmpty reports whether the update carries no recognized score field.
func (s ScoreUpdate) IsEmpty() bool {
	return s.ManualPoints == nil && s.ManualScorePerc == nil &&
		s.AutoPoints == nil && s.AutoScorePerc == nil &&
		s.Points == nil && s.ScorePerc == nil &&
		s.Feedback == nil && s.PartialScores == nil && s.ManualRubric == nil
}

// ScoreUpdateRequest is the HTTP shape for a manual score update.
type ScoreUpdateRequest struct {
	SubmissionID    *uint      `json:"submission_id"`
	CheckModifiedAt *time.Time `json:"check_modified_at"`
	ScoreUpdate
}

// ScoreUpdateResult reports the outcome of one reconciler call. A conflict
// is an expected result under concurrent grading, not an error: the audit
// grading job is still created, but the live score is left untouched.
type ScoreUpdateResult struct {
	GradingJobID       *uint `json:"grading_job_id"`
	ModifiedAtConflict bool  `json:"modified_at_conflict"`
}

// GradingJobResponse is the API view of one grading job audit record.
type GradingJobResponse struct {
	ID                    uint       `json:"id"`
	SubmissionID          uint       `json:"submission_id"`
	GradingMethod         string     `json:"grading_method"`
	Score                 *float64   `json:"score"`
	AutoPoints            *float64   `json:"auto_points"`
	ManualPoints          *float64   `json:"manual_points"`
	ManualRubricGradingID *uint      `json:"manual_rubric_grading_id"`
	GradedAt              *time.Time `json:"graded_at"`
}

// NewGradingJobResponse maps a grading job model to its API view.
func NewGradingJobResponse(job models.GradingJob) GradingJobResponse {
	return GradingJobResponse{
		ID:                    job.ID,
		SubmissionID:          job.SubmissionID,
		GradingMethod:         job.GradingMethod,
		Score:                 job.Score,
		AutoPoints:            job.AutoPoints,
		ManualPoints:          job.ManualPoints,
		ManualRubricGradingID: job.ManualRubricGradingID,
		GradedAt:              job.GradedAt,
	}
}
