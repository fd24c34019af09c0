package dto

// Grading run modes. They select which instance questions of an assessment
// question a run will attempt.
const (
	AIGradingModeUngraded    = "ungraded"
	AIGradingModeHumanGraded = "human_graded"
	AIGradingModeAll         = "all"
	AIGradingModeSelected    = "selected"
)

// AIGradingRequest starts one AI grading run over an assessment question.
type AIGradingRequest struct {
	Mode                string `json:"mode" validate:"required,oneof=ungraded human_graded all selected"`
	InstanceQuestionIDs []uint `json:"instance_question_ids"`
}

// AIGradingRunResponse identifies the job sequence a started run reports to.
type AIGradingRunResponse struct {
	JobSequenceID uint   `json:"job_sequence_id"`
	Token         string `json:"token"`
}

// ScoreUploadSummary aggregates the outcome of one CSV score upload.
type ScoreUploadSummary struct {
	Updated   int      `json:"updated"`
	Skipped   int      `json:"skipped"`
	Conflicts int      `json:"conflicts"`
	Errors    []string `json:"errors,omitempty"`
}
