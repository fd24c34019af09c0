package dto

import (
	"time"

	"github.com/gradeflow/assess-api/internal/models"
)

// RubricItemInput describes one rubric item in a settings update. Items that
// carry an ID of an existing item are updated in place, preserving identity
// for historical gradings; items without an ID are inserted.
type RubricItemInput struct {
	ID          *uint    `json:"id"`
	Points      *float64 `json:"points" validate:"required"`
	Description string   `json:"description" validate:"required,max=100"`
	Explanation string   `json:"explanation"`
	GraderNote  string   `json:"grader_note"`
	Order       int      `json:"order"`
	AlwaysShow  bool     `json:"always_show_to_students"`
}

// RubricUpdateRequest carries a full rubric-settings update for an
// assessment question. UseRubric=false disables the rubric without deleting
// its items.
type RubricUpdateRequest struct {
	UseRubric           bool              `json:"use_rubric"`
	ReplaceAutoPoints   bool              `json:"replace_auto_points"`
	StartingPoints      float64           `json:"starting_points"`
	MinPoints           float64           `json:"min_points"`
	MaxExtraPoints      float64           `json:"max_extra_points"`
	Items               []RubricItemInput `json:"rubric_items" validate:"dive"`
	TagForManualGrading bool              `json:"tag_for_manual_grading"`
}

// RubricItemData is one rubric item with its usage count across gradings.
type RubricItemData struct {
	ID             uint     `json:"id"`
	Points         float64  `json:"points"`
	Description    string   `json:"description"`
	Explanation    string   `json:"explanation,omitempty"`
	GraderNote     string   `json:"grader_note,omitempty"`
	Number         int      `json:"number"`
	AlwaysShow     bool     `json:"always_show_to_students"`
	NumSubmissions int64    `json:"num_submissions"`
}

// RubricData is the assembled rubric view used by the grading UI.
type RubricData struct {
	ID                uint             `json:"id"`
	StartingPoints    float64          `json:"starting_points"`
	MinPoints         float64          `json:"min_points"`
	MaxExtraPoints    float64          `json:"max_extra_points"`
	ReplaceAutoPoints bool             `json:"replace_auto_points"`
	Items             []RubricItemData `json:"rubric_items"`
}

// NewRubricData builds the API view of a rubric with per-item usage counts.
func NewRubricData(rubric models.Rubric, usage map[uint]int64) RubricData {
	data := RubricData{
		ID:                rubric.ID,
		StartingPoints:    rubric.StartingPoints,
		MinPoints:         rubric.MinPoints,
		MaxExtraPoints:    rubric.MaxExtraPoints,
		ReplaceAutoPoints: rubric.ReplaceAutoPoints,
	}
	for _, item := range rubric.ActiveItems() {
		data.Items = append(data.Items, RubricItemData{
			ID:             item.ID,
			Points:         item.Points,
			Description:    item.Description,
			Explanation:    item.Explanation,
			GraderNote:     item.GraderNote,
			Number:         item.Number,
			AlwaysShow:     item.AlwaysShow,
			NumSubmissions: usage[item.ID],
		})
	}
	return data
}

// JobSequenceLine is the API view of a progress log line.
type JobSequenceLine struct {
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// JobSequenceResponse is the API view of a grading run's progress log.
type JobSequenceResponse struct {
	ID          uint              `json:"id"`
	Token       string            `json:"token"`
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Status      string            `json:"status"`
	Lines       []JobSequenceLine `json:"lines"`
}

// NewJobSequenceResponse maps a job sequence model to its API view.
func NewJobSequenceResponse(sequence models.JobSequence) JobSequenceResponse {
	response := JobSequenceResponse{
		ID:          sequence.ID,
		Token:       sequence.Token,
		Type:        sequence.Type,
		Description: sequence.Description,
		Status:      sequence.Status,
	}
	for _, line := range sequence.Lines {
		response.Lines = append(response.Lines, JobSequenceLine{
			Severity:  line.Severity,
			Message:   line.Message,
			Timestamp: line.CreatedAt,
		})
	}
	return response
}
