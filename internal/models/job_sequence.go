package models

import "time"

// Job sequence statuses.
const (
	JobSequenceStatusRunning   = "running"
	JobSequenceStatusSucceeded = "succeeded"
	JobSequenceStatusFailed    = "failed"
)

// Log line severities.
const (
	JobLogSeverityInfo  = "info"
	JobLogSeverityError = "error"
)

// JobSequence is the user-visible progress record for one grading run. Lines
// are append-only; callers poll the sequence until it reaches a terminal
// status.
type JobSequence struct {
	ID           uint         `gorm:"primaryKey" json:"id"`
	Token        string       `gorm:"size:36;uniqueIndex" json:"token"`
	Type         string       `gorm:"size:32;not null" json:"type"`
	Description  string       `gorm:"size:255" json:"description"`
	Status       string       `gorm:"size:16;not null;default:running" json:"status"`
	AssessmentID *uint        `gorm:"index" json:"assessment_id"`
	StartedBy    *uint        `json:"started_by"`
	FinishedAt   *time.Time   `json:"finished_at"`
	Lines        []JobLogLine `gorm:"foreignKey:JobSequenceID" json:"lines"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// IsTerminal reports whether the sequence has finished.
func (s JobSequence) IsTerminal() bool {
	return s.Status == JobSequenceStatusSucceeded || s.Status == JobSequenceStatusFailed
}

// JobLogLine is one append-only progress line of a job sequence.
type JobLogLine struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	JobSequenceID uint      `gorm:"not null;index" json:"job_sequence_id"`
	Severity      string    `gorm:"size:8;not null;default:info" json:"severity"`
	Message       string    `gorm:"type:text" json:"message"`
	CreatedAt     time.Time `json:"timestamp"`
}
