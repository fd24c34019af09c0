package models

import "time"

// RubricGrading is an immutable snapshot of one rubric-based scoring
// decision: which rubric, which items, what adjustment, and the resulting
// computed points. Multiple submissions or grading jobs may reference the
// same snapshot when a recompute determined nothing changed.
type RubricGrading struct {
	ID             uint                `gorm:"primaryKey" json:"id"`
	RubricID       uint                `gorm:"not null;index" json:"rubric_id"`
	ComputedPoints float64             `gorm:"not null" json:"computed_points"`
	AdjustPoints   float64             `gorm:"not null" json:"adjust_points"`
	ReplacesAuto   bool                `gorm:"not null" json:"replaces_auto"`
	Items          []RubricGradingItem `gorm:"foreignKey:RubricGradingID" json:"items"`
	CreatedAt      time.Time           `json:"created_at"`
}

// RubricGradingItem records one applied rubric item within a grading
// snapshot. Points and description are copied at grading time so the record
// stays meaningful after rubric edits.
type RubricGradingItem struct {
	ID              uint    `gorm:"primaryKey" json:"id"`
	RubricGradingID uint    `gorm:"not null;index" json:"rubric_grading_id"`
	RubricItemID    uint    `gorm:"not null" json:"rubric_item_id"`
	Score           float64 `gorm:"not null;default:1" json:"score"`
	Points          float64 `gorm:"not null" json:"points"`
	Description     string  `gorm:"size:100" json:"description"`
}

// AppliedItemIDs returns the referenced rubric item ids and their score
// multipliers, the shape a grading decision is replayed from.
func (g RubricGrading) AppliedItemIDs() map[uint]float64 {
	applied := make(map[uint]float64, len(g.Items))
	for _, item := range g.Items {
		applied[item.RubricItemID] = item.Score
	}
	return applied
}
