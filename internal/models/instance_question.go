package models

import "time"

// Instance question status values.
const (
	InstanceQuestionStatusUnanswered = "unanswered"
	InstanceQuestionStatusSaved      = "saved"
	InstanceQuestionStatusGraded     = "graded"
)

// InstanceQuestion is the mutable, current-state record for one student's
// attempt at one assessment question. It exclusively owns the current score
// fields; grading jobs and rubric gradings are append-only history.
type InstanceQuestion struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	AssessmentQuestionID  uint      `gorm:"not null;index" json:"assessment_question_id"`
	AssessmentInstanceID  uint      `gorm:"not null;index" json:"assessment_instance_id"`
	Status                string    `gorm:"size:32;not null;default:unanswered" json:"status"`
	Points                *float64  `json:"points"`
	ScorePerc             *float64  `json:"score_perc"`
	AutoPoints            *float64  `json:"auto_points"`
	ManualPoints          *float64  `json:"manual_points"`
	RequiresManualGrading bool      `gorm:"not null;default:false;index" json:"requires_manual_grading"`
	IsAIGraded            bool      `gorm:"not null;default:false" json:"is_ai_graded"`
	ModifiedAt            time.Time `gorm:"not null" json:"modified_at"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`

	AssessmentQuestion AssessmentQuestion `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"assessment_question"`
}
