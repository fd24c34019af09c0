package ai

import (
	"context"
	"errors"
)

// ErrRefusal is returned when the model declines to grade a submission.
// Refusals are per-item failures; the batch run continues past them.
var ErrRefusal = errors.New("model refused to grade the submission")

// RubricItemInfo describes one rubric item as presented to the model.
type RubricItemInfo struct {
	Description string
	Explanation string
	GraderNote  string
}

// GradedExampleInfo is a previously human-graded submission shown to the
// model as few-shot context.
type GradedExampleInfo struct {
	SubmissionText string
	ScorePerc      *float64
	Feedback       string
	SelectedItems  []string
}

// GradingInput carries everything the model needs to grade one submission.
// When RubricItems is non-empty the model selects rubric items; otherwise it
// produces a holistic 0-100 score.
type GradingInput struct {
	QuestionPrompt  string
	SubmissionText  string
	SubmittedAnswer map[string]any
	RubricItems     []RubricItemInfo
	Examples        []GradedExampleInfo
}

// TokenUsage reports the token consumption of one grading completion.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
}

// GradingResult is the structured outcome of one grading completion.
// ScorePerc is set on the holistic path, SelectedItems on the rubric path.
type GradingResult struct {
	ScorePerc     *float64
	SelectedItems []string
	Feedback      string
	Model         string
	Prompt        string
	RawResponse   string
	Usage         TokenUsage
	Cost          float64
}

// Scorer describes an AI model capable of grading student submissions.
type Scorer interface {
	Grade(ctx context.Context, input GradingInput) (GradingResult, error)
}

// Embedder computes an embedding vector for a submission text. Embeddings
// are cached alongside the grading context so repeated runs over the same
// submissions don't recompute them.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
