package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/gradeflow/assess-api/internal/dto"
	"github.com/gradeflow/assess-api/internal/models"
)

// partialScoresSchema validates the partial_scores cell of a score upload.
// Each entry must at least carry a numeric score fraction.
const partialScoresSchema = `{
  "type": "object",
  "additionalProperties": {
    "type": "object",
    "properties": {
      "score": {"type": "number", "minimum": 0, "maximum": 1},
      "weight": {"type": "number", "minimum": 0},
      "feedback": {}
    },
    "additionalProperties": true
  }
}`

// errRowEmpty marks a row that carried none of the score columns.
var errRowEmpty = errors.New("row has no score values")

// ScoreUploadService applies a CSV of score updates through the score
// reconciler, one row at a time. Bad rows are reported and skipped; the
// batch keeps going.
type ScoreUploadService interface {
	UploadScores(ctx context.Context, reader io.Reader, graderID *uint) (dto.ScoreUploadSummary, error)
}

type scoreUploadService struct {
	scores ScoreService
	schema *jsonschema.Schema
	logger zerolog.Logger
}

// NewScoreUploadService constructs the CSV upload service.
func NewScoreUploadService(scores ScoreService, logger zerolog.Logger) (ScoreUploadService, error) {
	schema, err := jsonschema.CompileString("partial_scores.schema.json", partialScoresSchema)
	if err != nil {
		return nil, fmt.Errorf("compile partial scores schema: %w", err)
	}
	return &scoreUploadService{
		scores: scores,
		schema: schema,
		logger: logger.With().Str("component", "score_upload_service").Logger(),
	}, nil
}

// Recognized CSV columns. Unknown columns are ignored so instructors can
// round-trip exported sheets that carry extra context.
const (
	columnSubmissionID       = "submission_id"
	columnInstanceQuestionID = "instance_question_id"
	columnScorePerc          = "score_perc"
	columnPoints             = "points"
	columnManualScorePerc    = "manual_score_perc"
	columnManualPoints       = "manual_points"
	columnAutoScorePerc      = "auto_score_perc"
	columnAutoPoints         = "auto_points"
	columnFeedback           = "feedback"
	columnFeedbackJSON       = "feedback_json"
	columnPartialScores      = "partial_scores"
)

func (s *scoreUploadService) UploadScores(ctx context.Context, reader io.Reader, graderID *uint) (dto.ScoreUploadSummary, error) {
	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true

	header, err := csvReader.Read()
	if err != nil {
		return dto.ScoreUploadSummary{}, fmt.Errorf("read csv header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(strings.ToLower(name))] = i
	}
	if _, ok := columns[columnInstanceQuestionID]; !ok {
		return dto.ScoreUploadSummary{}, fmt.Errorf("csv is missing the %s column", columnInstanceQuestionID)
	}

	var summary dto.ScoreUploadSummary
	line := 1
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", line, err))
			summary.Skipped++
			continue
		}

		if err := s.applyRow(ctx, columns, record, graderID, &summary); err != nil {
			summary.Skipped++
			// Rows that carry no score values at all are skipped quietly;
			// instructors routinely upload sheets with blank rows.
			if !errors.Is(err, errRowEmpty) {
				summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", line, err))
			}
		}
	}

	s.logger.Info().
		Int("updated", summary.Updated).
		Int("skipped", summary.Skipped).
		Int("conflicts", summary.Conflicts).
		Msg("score upload finished")
	return summary, nil
}

func (s *scoreUploadService) applyRow(ctx context.Context, columns map[string]int, record []string, graderID *uint, summary *dto.ScoreUploadSummary) error {
	cell := func(name string) string {
		index, ok := columns[name]
		if !ok || index >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[index])
	}

	instanceQuestionID, err := parseID(cell(columnInstanceQuestionID))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", columnInstanceQuestionID, err)
	}

	var update dto.ScoreUpdate
	if update.ScorePerc, err = parseOptionalFloat(cell(columnScorePerc)); err != nil {
		return fmt.Errorf("invalid %s: %w", columnScorePerc, err)
	}
	if update.Points, err = parseOptionalFloat(cell(columnPoints)); err != nil {
		return fmt.Errorf("invalid %s: %w", columnPoints, err)
	}
	if update.ManualScorePerc, err = parseOptionalFloat(cell(columnManualScorePerc)); err != nil {
		return fmt.Errorf("invalid %s: %w", columnManualScorePerc, err)
	}
	if update.ManualPoints, err = parseOptionalFloat(cell(columnManualPoints)); err != nil {
		return fmt.Errorf("invalid %s: %w", columnManualPoints, err)
	}
	if update.AutoScorePerc, err = parseOptionalFloat(cell(columnAutoScorePerc)); err != nil {
		return fmt.Errorf("invalid %s: %w", columnAutoScorePerc, err)
	}
	if update.AutoPoints, err = parseOptionalFloat(cell(columnAutoPoints)); err != nil {
		return fmt.Errorf("invalid %s: %w", columnAutoPoints, err)
	}

	if feedback := cell(columnFeedbackJSON); feedback != "" {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(feedback), &parsed); err != nil {
			return fmt.Errorf("invalid %s: %w", columnFeedbackJSON, err)
		}
		update.Feedback = parsed
	} else if feedback := cell(columnFeedback); feedback != "" {
		update.Feedback = map[string]any{"manual": feedback}
	}

	if raw := cell(columnPartialScores); raw != "" {
		partialScores, err := s.parsePartialScores(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", columnPartialScores, err)
		}
		update.PartialScores = partialScores
	}

	if update.IsEmpty() {
		return errRowEmpty
	}

	opts := ScoreUpdateOptions{GraderID: graderID}
	if raw := cell(columnSubmissionID); raw != "" {
		submissionID, err := parseID(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", columnSubmissionID, err)
		}
		opts.SubmissionID = &submissionID
	}

	result, err := s.scores.UpdateInstanceQuestionScore(ctx, instanceQuestionID, update, opts)
	if err != nil {
		return err
	}
	if result.ModifiedAtConflict {
		summary.Conflicts++
	} else {
		summary.Updated++
	}
	return nil
}

// parsePartialScores validates the cell against the schema before decoding,
// so malformed uploads fail the row with a useful message instead of
// producing a half-decoded map.
func (s *scoreUploadService) parsePartialScores(raw string) (models.PartialScores, error) {
	var generic any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil, err
	}
	if err := s.schema.Validate(generic); err != nil {
		return nil, err
	}
	var partialScores models.PartialScores
	if err := json.Unmarshal([]byte(raw), &partialScores); err != nil {
		return nil, err
	}
	return partialScores, nil
}

func parseID(raw string) (uint, error) {
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(value), nil
}

func parseOptionalFloat(raw string) (*float64, error) {
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &value, nil
}
