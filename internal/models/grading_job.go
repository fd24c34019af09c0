package models

import (
	"time"

	"gorm.io/datatypes"
)

// Grading methods recorded on a grading job.
const (
	GradingMethodManual   = "Manual"
	GradingMethodAI       = "AI"
	GradingMethodExternal = "External"
)

// GradingJob is an immutable audit record of one scoring decision. The
// current score of an instance question is whichever grading job's values
// were last written into it; older jobs are kept for history.
type GradingJob struct {
	ID                    uint                              `gorm:"primaryKey" json:"id"`
	SubmissionID          uint                              `gorm:"not null;index" json:"submission_id"`
	GradingMethod         string                            `gorm:"size:32;not null;default:Manual" json:"grading_method"`
	GradedBy              *uint                             `json:"graded_by"`
	Correct               *bool                             `json:"correct"`
	Score                 *float64                          `json:"score"`
	AutoPoints            *float64                          `json:"auto_points"`
	ManualPoints          *float64                          `json:"manual_points"`
	Feedback              datatypes.JSONMap                 `json:"feedback"`
	PartialScores         datatypes.JSONType[PartialScores] `json:"partial_scores"`
	ManualRubricGradingID *uint                             `gorm:"index" json:"manual_rubric_grading_id"`
	GradingRequestedAt    time.Time                         `gorm:"not null" json:"grading_requested_at"`
	GradedAt              *time.Time                        `json:"graded_at"`
	CreatedAt             time.Time                         `json:"created_at"`
}

// Duration reports how long the grading took, when both timestamps are set.
func (j GradingJob) Duration() time.Duration {
	if j.GradedAt == nil {
		return 0
	}
	return j.GradedAt.Sub(j.GradingRequestedAt)
}

// AIGradingJob links a grading job produced by the AI scorer to the run that
// created it, with the prompt, completion, and usage accounting.
type AIGradingJob struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	GradingJobID     uint           `gorm:"not null;uniqueIndex" json:"grading_job_id"`
	JobSequenceID    uint           `gorm:"not null;index" json:"job_sequence_id"`
	Model            string         `gorm:"size:64" json:"model"`
	Prompt           datatypes.JSON `json:"prompt"`
	Completion       datatypes.JSON `json:"completion"`
	PromptTokens     int            `json:"prompt_tokens"`
	CompletionTokens int            `json:"completion_tokens"`
	Cost             float64        `json:"cost"`
	CreatedAt        time.Time      `json:"created_at"`
}
