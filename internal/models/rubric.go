package models

import "time"

// Rubric defines the point range and clamping settings used to compute a
// manual score from discrete item selections. It is owned by exactly one
// assessment question.
type Rubric struct {
	ID                uint         `gorm:"primaryKey" json:"id"`
	StartingPoints    float64      `gorm:"not null" json:"starting_points"`
	MinPoints         float64      `gorm:"not null" json:"min_points"`
	MaxExtraPoints    float64      `gorm:"not null" json:"max_extra_points"`
	ReplaceAutoPoints bool         `gorm:"not null" json:"replace_auto_points"`
	Items             []RubricItem `gorm:"foreignKey:RubricID" json:"items"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Ceiling returns the upper clamp bound for computed rubric points given the
// question's point configuration.
func (r Rubric) Ceiling(maxPoints, maxManualPoints float64) float64 {
	if r.ReplaceAutoPoints {
		return maxPoints + r.MaxExtraPoints
	}
	return maxManualPoints + r.MaxExtraPoints
}

// ActiveItems returns the items that have not been soft-deleted, in display
// order.
func (r Rubric) ActiveItems() []RubricItem {
	items := make([]RubricItem, 0, len(r.Items))
	for _, item := range r.Items {
		if !item.Deleted {
			items = append(items, item)
		}
	}
	return items
}

// ItemByID looks up an item (including soft-deleted ones, since historical
// gradings may still reference them).
func (r Rubric) ItemByID(id uint) (RubricItem, bool) {
	for _, item := range r.Items {
		if item.ID == id {
			return item, true
		}
	}
	return RubricItem{}, false
}

// RubricItem is one selectable point-valued entry of a rubric. Items are
// never hard-deleted; the Deleted flag hides them from new gradings while
// keeping historical references meaningful.
type RubricItem struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	RubricID    uint      `gorm:"not null;index" json:"rubric_id"`
	Points      float64   `gorm:"not null" json:"points"`
	Description string    `gorm:"size:100;not null" json:"description"`
	Explanation string    `gorm:"type:text" json:"explanation"`
	GraderNote  string    `gorm:"type:text" json:"grader_note"`
	Number      int       `gorm:"not null" json:"number"`
	AlwaysShow  bool      `gorm:"not null;default:false" json:"always_show_to_students"`
	Deleted     bool      `gorm:"not null;default:false;index" json:"deleted"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
