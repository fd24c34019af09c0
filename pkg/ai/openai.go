package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "gpt-4o-2024-11-20"

const defaultTemperature = 0.2

// Per-token API prices in dollars.
const (
	promptTokenCost     = 2.5 / 1e6
	completionTokenCost = 10.0 / 1e6
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "assess",
		Subsystem: "ai",
		Name:      "grading_duration_seconds",
		Help:      "Duration of AI grading requests",
	}, []string{"model"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "assess",
		Subsystem: "ai",
		Name:      "grading_failures_total",
		Help:      "Number of AI grading failures",
	}, []string{"model"})
)

// OpenAIConfig defines configuration options for the OpenAI scorer.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIScorer implements Scorer against the OpenAI chat completion API.
type OpenAIScorer struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIScorer builds a new scorer using the provided configuration.
func NewOpenAIScorer(cfg OpenAIConfig) (*OpenAIScorer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}

	tracer := otel.Tracer("github.com/gradeflow/assess-api/pkg/ai/openai")
	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	config := openai.DefaultConfig(cfg.APIKey)
	client := openai.NewClientWithConfig(config)

	return &OpenAIScorer{
		client: client,
		cfg:    cfg,
		tracer: tracer,
		logger: logger,
	}, nil
}

// Grade sends the grading request to OpenAI and parses the response. The
// rubric and holistic paths share the request plumbing but use different
// instructions and response payloads.
func (s *OpenAIScorer) Grade(parent context.Context, input GradingInput) (GradingResult, error) {
	ctx, span := s.tracer.Start(parent, "openai.grade", trace.WithAttributes(
		attribute.String("model", s.cfg.Model),
		attribute.Bool("rubric", len(input.RubricItems) > 0),
	))
	defer span.End()

	messages := buildMessages(input)
	request := openai.ChatCompletionRequest{
		Model:          s.cfg.Model,
		Temperature:    s.cfg.Temperature,
		Messages:       messages,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	}

	start := time.Now()
	resp, err := s.client.CreateChatCompletion(ctx, request)
	aiDuration.WithLabelValues(s.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		aiFailures.WithLabelValues(s.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return GradingResult{}, fmt.Errorf("openai grade: %w", err)
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no choices returned from openai")
		aiFailures.WithLabelValues(s.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return GradingResult{}, err
	}

	choice := resp.Choices[0].Message
	if choice.Refusal != "" {
		aiFailures.WithLabelValues(s.cfg.Model).Inc()
		span.SetStatus(codes.Error, "refusal")
		return GradingResult{}, fmt.Errorf("%w: %s", ErrRefusal, choice.Refusal)
	}

	content := strings.TrimSpace(choice.Content)
	result, err := parseGradingResponse(content, len(input.RubricItems) > 0)
	if err != nil {
		aiFailures.WithLabelValues(s.cfg.Model).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return GradingResult{}, err
	}

	result.Model = s.cfg.Model
	result.Prompt = renderMessages(messages)
	result.RawResponse = content
	result.Usage = TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	result.Cost = apiCost(result.Usage)

	return result, nil
}

// Embed computes an embedding for the submission text.
func (s *OpenAIScorer) Embed(parent context.Context, text string) ([]float32, error) {
	ctx, span := s.tracer.Start(parent, "openai.embed")
	defer span.End()

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.SmallEmbedding3,
		Input: []string{text},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding returned from openai")
	}
	return resp.Data[0].Embedding, nil
}

func apiCost(usage TokenUsage) float64 {
	return float64(usage.PromptTokens)*promptTokenCost +
		float64(usage.CompletionTokens)*completionTokenCost
}

func buildMessages(input GradingInput) []openai.ChatCompletionMessage {
	var messages []openai.ChatCompletionMessage

	if len(input.RubricItems) > 0 {
		builder := strings.Builder{}
		for _, item := range input.RubricItems {
			builder.WriteString("description: " + item.Description + "\n")
			if item.Explanation != "" {
				builder.WriteString("explanation: " + item.Explanation + "\n")
			}
			if item.GraderNote != "" {
				builder.WriteString("grader note: " + item.GraderNote + "\n")
			}
			builder.WriteString("\n")
		}
		instructions := "You are an instructor for a course, and you are grading a student's response to a question. " +
			"You are provided several rubric items with a description, explanation, and grader note. " +
			"You must grade the student's response by using the rubric and returning a JSON object with a " +
			"\"rubric_items\" object mapping each rubric description to a boolean indicating whether it applies " +
			"to the student's response, and a \"feedback\" string explaining why you made these choices. " +
			"If no rubric items apply, do not select any."
		if len(input.Examples) > 0 {
			instructions += " I will provide some example student responses and their corresponding selected rubric items."
		}
		messages = append(messages,
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: instructions},
			openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: "Here are the rubric items:\n\n" + builder.String()},
		)
	} else {
		instructions := "You are an instructor for a course, and you are grading a student's response to a question. " +
			"Return a JSON object with a \"score\" integer between 0 and 100, with 0 being the lowest and 100 being " +
			"the highest, and a \"feedback\" string for the student. Follow any special instructions given by the " +
			"instructor in the question. Omit the feedback if the student's response is entirely correct."
		if len(input.Examples) > 0 {
			instructions += " I will provide some example student responses and their corresponding scores and feedback."
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: instructions})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: "Question: \n" + input.QuestionPrompt,
	})

	for _, example := range input.Examples {
		if len(input.RubricItems) > 0 && len(example.SelectedItems) > 0 {
			// The example may have been graded with an earlier version of the
			// rubric. The selected descriptions are still useful context.
			builder := strings.Builder{}
			for _, description := range example.SelectedItems {
				builder.WriteString("description: " + description + "\n")
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleUser,
				Content: "Example student response: \n<response>\n" + example.SubmissionText +
					" \n<response>\nSelected rubric items for this example student response: \n" + builder.String(),
			})
		} else {
			content := "Example student response: \n<response>\n" + example.SubmissionText + " \n<response>\n"
			if example.ScorePerc != nil {
				content += fmt.Sprintf("Score for this example student response: \n%v\n", *example.ScorePerc)
			}
			if example.Feedback != "" {
				content += "Feedback for this example student response: \n" + example.Feedback + "\n"
			}
			messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: content})
		}
	}

	submission := "The student submitted the following response: \n<response>\n" + input.SubmissionText +
		"\n</response>\nHow would you grade this? Please return the JSON object."
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: submission})

	return messages
}

func renderMessages(messages []openai.ChatCompletionMessage) string {
	payload, err := json.Marshal(messages)
	if err != nil {
		return ""
	}
	return string(payload)
}

func parseGradingResponse(content string, rubric bool) (GradingResult, error) {
	if rubric {
		type payload struct {
			RubricItems map[string]bool `json:"rubric_items"`
			Feedback    string          `json:"feedback"`
		}
		var data payload
		if err := json.Unmarshal([]byte(content), &data); err != nil {
			return GradingResult{}, fmt.Errorf("parse rubric grading json: %w", err)
		}
		var selected []string
		for description, applies := range data.RubricItems {
			if applies {
				selected = append(selected, description)
			}
		}
		return GradingResult{SelectedItems: selected, Feedback: data.Feedback}, nil
	}

	type payload struct {
		Score    float64 `json:"score"`
		Feedback string  `json:"feedback"`
	}
	var data payload
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return GradingResult{}, fmt.Errorf("parse grading json: %w", err)
	}
	if data.Score < 0 {
		data.Score = 0
	}
	if data.Score > 100 {
		data.Score = 100
	}
	return GradingResult{ScorePerc: &data.Score, Feedback: data.Feedback}, nil
}
