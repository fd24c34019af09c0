package models

import "time"

// Question holds the authored question content. Rendering real question
// HTML happens in an external sandbox; the stored prompt text is what the
// grading engine hands to a scorer.
type Question struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Title        string    `gorm:"size:255" json:"title"`
	QuestionText string    `gorm:"type:text" json:"question_text"`
	Type         string    `gorm:"size:32" json:"type"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AssessmentQuestion configures one gradable question within an assessment,
// including the point split between automated and manual grading.
type AssessmentQuestion struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	AssessmentID    uint      `gorm:"not null;index" json:"assessment_id"`
	QuestionID      uint      `gorm:"not null" json:"question_id"`
	MaxPoints       *float64  `json:"max_points"`
	MaxAutoPoints   *float64  `json:"max_auto_points"`
	MaxManualPoints *float64  `json:"max_manual_points"`
	ManualRubricID  *uint     `gorm:"index" json:"manual_rubric_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// HasManualGrading reports whether any points are reserved for manual grading.
func (q AssessmentQuestion) HasManualGrading() bool {
	return q.MaxManualPoints != nil && *q.MaxManualPoints > 0
}

// AssessmentInstance is one student's sitting of an assessment. Its aggregate
// score is recomputed whenever one of its instance questions changes.
type AssessmentInstance struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AssessmentID uint      `gorm:"not null;index" json:"assessment_id"`
	UserID       uint      `gorm:"not null" json:"user_id"`
	Points       float64   `json:"points"`
	MaxPoints    float64   `json:"max_points"`
	ScorePerc    float64   `json:"score_perc"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
