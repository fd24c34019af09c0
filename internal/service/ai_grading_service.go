package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/gradeflow/assess-api/internal/dto"
	"github.com/gradeflow/assess-api/internal/models"
	"github.com/gradeflow/assess-api/internal/observability"
	"github.com/gradeflow/assess-api/internal/repository"
	"github.com/gradeflow/assess-api/pkg/ai"
)

// DefaultGradingConcurrency bounds how many submissions one run grades at
// the same time.
const DefaultGradingConcurrency = 20

const gradedExampleLimit = 5

// AIGradingService starts and runs batch AI grading over the submissions of
// one assessment question. Grading jobs and rubric gradings are always
// recorded; live instance question scores are only updated for items that
// still require manual grading.
type AIGradingService interface {
	StartRun(ctx context.Context, assessmentQuestionID uint, req dto.AIGradingRequest, graderID *uint) (*models.JobSequence, error)
}

type aiGradingService struct {
	repo        repository.AIGradingRepository
	scores      ScoreService
	sequences   JobSequenceService
	registry    *RunRegistry
	scorer      ai.Scorer
	embedder    ai.Embedder
	concurrency int
	validator   *validator.Validate
	logger      zerolog.Logger
	now         func() time.Time
}

// NewAIGradingService constructs the batch grading orchestrator. The scorer
// may be nil when no AI provider is configured; runs then fail fast with
// ErrScorerUnavailable. The embedder is optional.
func NewAIGradingService(
	repo repository.AIGradingRepository,
	scores ScoreService,
	sequences JobSequenceService,
	registry *RunRegistry,
	scorer ai.Scorer,
	embedder ai.Embedder,
	concurrency int,
	validator *validator.Validate,
	logger zerolog.Logger,
) AIGradingService {
	if concurrency <= 0 {
		concurrency = DefaultGradingConcurrency
	}
	return &aiGradingService{
		repo:        repo,
		scores:      scores,
		sequences:   sequences,
		registry:    registry,
		scorer:      scorer,
		embedder:    embedder,
		concurrency: concurrency,
		validator:   validator,
		logger:      logger.With().Str("component", "ai_grading_service").Logger(),
		now:         time.Now,
	}
}

func (s *aiGradingService) StartRun(ctx context.Context, assessmentQuestionID uint, req dto.AIGradingRequest, graderID *uint) (*models.JobSequence, error) {
	tracer := otel.Tracer("github.com/gradeflow/assess-api/internal/service/aigrading")
	ctx, span := tracer.Start(ctx, "ai_grading.start")
	span.SetAttributes(
		attribute.Int64("grading.assessment_question_id", int64(assessmentQuestionID)),
		attribute.String("grading.mode", req.Mode),
	)
	defer span.End()

	if s.scorer == nil {
		span.SetStatus(codes.Error, "scorer_unavailable")
		return nil, ErrScorerUnavailable
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScoreInput, err)
	}
	if req.Mode == dto.AIGradingModeSelected && len(req.InstanceQuestionIDs) == 0 {
		return nil, fmt.Errorf("%w: selected mode requires instance question ids", ErrInvalidScoreInput)
	}

	assessmentQuestion, err := s.repo.GetAssessmentQuestion(ctx, assessmentQuestionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssessmentQuestionNotFound
		}
		return nil, err
	}

	sequence, err := s.sequences.Create(ctx, "ai_grading", "Perform AI grading")
	if err != nil {
		return nil, err
	}

	s.registry.Start(sequence.ID)
	go s.run(context.WithoutCancel(ctx), sequence.ID, assessmentQuestion, req, graderID)

	return sequence, nil
}

// run executes one grading run to completion. Failures of individual items
// are isolated: they are logged against the sequence and counted, and the
// run keeps going.
func (s *aiGradingService) run(ctx context.Context, sequenceID uint, assessmentQuestion models.AssessmentQuestion, req dto.AIGradingRequest, graderID *uint) {
	defer s.registry.Finish(sequenceID)

	start := s.now()
	log := &runLog{sequences: s.sequences, sequenceID: sequenceID, fallback: s.logger}

	status := models.JobSequenceStatusSucceeded
	defer func() {
		if err := s.sequences.Finish(ctx, sequenceID, status); err != nil {
			s.logger.Error().Err(err).Uint("job_sequence_id", sequenceID).Msg("failed to finish grading run")
		}
		observability.GradingRuns().WithLabelValues(status).Inc()
		observability.GradingRunDuration().WithLabelValues(req.Mode).Observe(s.now().Sub(start).Seconds())
	}()

	if !assessmentQuestion.HasManualGrading() {
		log.error(ctx, "The assessment question has no manual grading")
		status = models.JobSequenceStatusFailed
		return
	}

	question, err := s.repo.GetQuestion(ctx, assessmentQuestion.QuestionID)
	if err != nil {
		log.error(ctx, fmt.Sprintf("Failed to load question: %v", err))
		status = models.JobSequenceStatusFailed
		return
	}

	var rubric models.Rubric
	var rubricItems []models.RubricItem
	if assessmentQuestion.ManualRubricID != nil {
		rubric, err = s.repo.GetRubric(ctx, *assessmentQuestion.ManualRubricID)
		if err != nil {
			log.error(ctx, fmt.Sprintf("Failed to load rubric: %v", err))
			status = models.JobSequenceStatusFailed
			return
		}
		rubricItems = rubric.ActiveItems()
	}

	allInstanceQuestions, err := s.repo.ListInstanceQuestions(ctx, assessmentQuestion.ID)
	if err != nil {
		log.error(ctx, fmt.Sprintf("Failed to list instance questions: %v", err))
		status = models.JobSequenceStatusFailed
		return
	}

	s.warmGradingContexts(ctx, log, allInstanceQuestions)

	instanceQuestions := filterByMode(allInstanceQuestions, req.Mode, req.InstanceQuestionIDs)
	log.info(ctx, fmt.Sprintf("Found %d submissions to grade!", len(instanceQuestions)))

	var errorCount atomic.Int64
	group := errgroup.Group{}
	group.SetLimit(s.concurrency)
	for _, instanceQuestion := range instanceQuestions {
		instanceQuestion := instanceQuestion
		group.Go(func() error {
			lines, err := s.gradeOne(ctx, assessmentQuestion, question, rubric, rubricItems, instanceQuestion, sequenceID, graderID)
			if err != nil {
				errorCount.Add(1)
				lines = append(lines,
					errorLine(fmt.Sprintf("ERROR AI grading for instance question %d", instanceQuestion.ID)),
					errorLine(err.Error()))
				observability.GradingItems().WithLabelValues("error").Inc()
			} else {
				observability.GradingItems().WithLabelValues("ok").Inc()
			}
			log.append(ctx, lines)
			return nil
		})
	}
	_ = group.Wait()

	if n := errorCount.Load(); n > 0 {
		log.error(ctx, fmt.Sprintf("Number of errors: %d", n))
		status = models.JobSequenceStatusFailed
	}
}

// warmGradingContexts makes sure every human-graded submission that may be
// used as few-shot context has a cached grading context, computing
// embeddings where possible. Warm failures are logged but never fail the
// run.
func (s *aiGradingService) warmGradingContexts(ctx context.Context, log *runLog, instanceQuestions []models.InstanceQuestion) {
	log.info(ctx, "Checking for embeddings for all submissions.")
	created := 0
	for _, instanceQuestion := range instanceQuestions {
		if instanceQuestion.RequiresManualGrading || instanceQuestion.IsAIGraded {
			continue
		}
		submission, err := s.repo.LatestSubmission(ctx, instanceQuestion.ID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			log.error(ctx, fmt.Sprintf("Failed to load submission for instance question %d: %v", instanceQuestion.ID, err))
			continue
		}
		_, err = s.repo.GetGradingContext(ctx, submission.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.error(ctx, fmt.Sprintf("Failed to load grading context for submission %d: %v", submission.ID, err))
			continue
		}
		if _, err := s.createGradingContext(ctx, instanceQuestion.AssessmentQuestionID, submission); err != nil {
			log.error(ctx, fmt.Sprintf("Failed to create grading context for submission %d: %v", submission.ID, err))
			continue
		}
		created++
	}
	log.info(ctx, fmt.Sprintf("Calculated %d embeddings.", created))
}

func (s *aiGradingService) createGradingContext(ctx context.Context, assessmentQuestionID uint, submission models.Submission) (models.SubmissionGradingContext, error) {
	gradingContext := models.SubmissionGradingContext{
		SubmissionID:         submission.ID,
		AssessmentQuestionID: assessmentQuestionID,
		SubmissionText:       renderSubmissionText(submission),
	}
	if s.embedder != nil {
		vector, err := s.embedder.Embed(ctx, gradingContext.SubmissionText)
		if err != nil {
			return models.SubmissionGradingContext{}, err
		}
		gradingContext.Embedding = datatypes.NewJSONSlice(vector)
	}
	if err := s.repo.CreateGradingContext(ctx, &gradingContext); err != nil {
		return models.SubmissionGradingContext{}, err
	}
	return gradingContext, nil
}

// gradeOne grades a single instance question and returns its log block. The
// block is appended to the sequence in one batch so concurrent items don't
// interleave their output.
func (s *aiGradingService) gradeOne(
	ctx context.Context,
	assessmentQuestion models.AssessmentQuestion,
	question models.Question,
	rubric models.Rubric,
	rubricItems []models.RubricItem,
	instanceQuestion models.InstanceQuestion,
	sequenceID uint,
	graderID *uint,
) ([]models.JobLogLine, error) {
	var lines []models.JobLogLine
	lines = append(lines, infoLine(fmt.Sprintf("Grading instance question %d", instanceQuestion.ID)))

	submission, err := s.repo.LatestSubmission(ctx, instanceQuestion.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return lines, fmt.Errorf("instance question has no submission")
		}
		return lines, err
	}

	gradingContext, err := s.repo.GetGradingContext(ctx, submission.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		gradingContext, err = s.createGradingContext(ctx, instanceQuestion.AssessmentQuestionID, submission)
	}
	if err != nil {
		return lines, fmt.Errorf("resolve grading context: %w", err)
	}

	examples, err := s.repo.RecentGradedExamples(ctx, assessmentQuestion.ID, gradedExampleLimit)
	if err != nil {
		return lines, fmt.Errorf("load graded examples: %w", err)
	}

	input := ai.GradingInput{
		QuestionPrompt:  question.QuestionText,
		SubmissionText:  gradingContext.SubmissionText,
		SubmittedAnswer: submission.SubmittedAnswer,
		RubricItems:     rubricItemInfos(rubricItems),
		Examples:        exampleInfos(examples),
	}

	result, err := s.scorer.Grade(ctx, input)
	if err != nil {
		return lines, err
	}

	lines = append(lines,
		infoLine(fmt.Sprintf("Tokens used for prompt: %d", result.Usage.PromptTokens)),
		infoLine(fmt.Sprintf("Tokens used for completion: %d", result.Usage.CompletionTokens)),
		infoLine(fmt.Sprintf("Tokens used in total: %d", result.Usage.PromptTokens+result.Usage.CompletionTokens)),
		infoLine(fmt.Sprintf("Raw response:\n%s", result.RawResponse)))

	observability.AITokens().WithLabelValues(result.Model, "prompt").Add(float64(result.Usage.PromptTokens))
	observability.AITokens().WithLabelValues(result.Model, "completion").Add(float64(result.Usage.CompletionTokens))
	observability.AICost().WithLabelValues(result.Model).Add(result.Cost)

	if len(rubricItems) > 0 {
		applied, err := resolveSelectedItems(result.SelectedItems, rubricItems)
		if err != nil {
			return lines, err
		}

		if instanceQuestion.RequiresManualGrading {
			err = s.persistThroughReconciler(ctx, instanceQuestion.ID, dto.ScoreUpdate{
				ManualRubric: &dto.ManualRubricData{RubricID: rubric.ID, AppliedItems: applied},
				Feedback:     map[string]any{"manual": result.Feedback},
			}, submission.ID, sequenceID, graderID, result)
		} else {
			err = s.persistAuditOnly(ctx, assessmentQuestion, rubric, applied, submission.ID, sequenceID, graderID, result)
		}
		if err != nil {
			return lines, err
		}

		lines = append(lines, infoLine("AI rubric items:"))
		for _, description := range result.SelectedItems {
			lines = append(lines, infoLine("- "+description))
		}
		return lines, nil
	}

	if result.ScorePerc == nil {
		return lines, fmt.Errorf("model returned no score")
	}
	score := *result.ScorePerc

	if instanceQuestion.RequiresManualGrading {
		err = s.persistThroughReconciler(ctx, instanceQuestion.ID, dto.ScoreUpdate{
			ManualScorePerc: &score,
			Feedback:        map[string]any{"manual": result.Feedback},
		}, submission.ID, sequenceID, graderID, result)
	} else {
		err = s.persistHolisticAudit(ctx, assessmentQuestion, score, submission.ID, sequenceID, graderID, result)
	}
	if err != nil {
		return lines, err
	}

	lines = append(lines, infoLine(fmt.Sprintf("AI score: %v", score)))
	return lines, nil
}

// persistThroughReconciler routes the result through the score reconciler,
// which updates the live instance question score, then records the AI audit
// row against the grading job the reconciler created.
func (s *aiGradingService) persistThroughReconciler(ctx context.Context, instanceQuestionID uint, update dto.ScoreUpdate, submissionID, sequenceID uint, graderID *uint, result ai.GradingResult) error {
	outcome, err := s.scores.UpdateInstanceQuestionScore(ctx, instanceQuestionID, update, ScoreUpdateOptions{
		SubmissionID: &submissionID,
		GraderID:     graderID,
		IsAIGraded:   true,
	})
	if err != nil {
		return err
	}
	if outcome.GradingJobID == nil {
		return fmt.Errorf("score update produced no grading job")
	}
	return s.repo.CreateAIGradingJob(ctx, aiAuditRow(*outcome.GradingJobID, sequenceID, result))
}

// persistAuditOnly records a rubric grading and grading job for an item that
// no longer requires manual grading, without touching its live score.
func (s *aiGradingService) persistAuditOnly(ctx context.Context, assessmentQuestion models.AssessmentQuestion, rubric models.Rubric, applied []dto.AppliedRubricItem, submissionID, sequenceID uint, graderID *uint, result ai.GradingResult) error {
	maxPoints := 0.0
	if assessmentQuestion.MaxPoints != nil {
		maxPoints = *assessmentQuestion.MaxPoints
	}
	maxManualPoints := *assessmentQuestion.MaxManualPoints

	computed, err := computeRubricPoints(rubric, applied, 0, maxPoints, maxManualPoints)
	if err != nil {
		return err
	}

	return s.repo.InTransaction(ctx, func(repo repository.AIGradingRepository) error {
		grading := models.RubricGrading{
			RubricID:       rubric.ID,
			ComputedPoints: computed,
			ReplacesAuto:   rubric.ReplaceAutoPoints,
		}
		for _, selection := range applied {
			item, ok := rubric.ItemByID(selection.RubricItemID)
			if !ok {
				return fmt.Errorf("%w: rubric item %d is not part of rubric %d", ErrInvalidScoreInput, selection.RubricItemID, rubric.ID)
			}
			grading.Items = append(grading.Items, models.RubricGradingItem{
				RubricItemID: item.ID,
				Score:        1,
				Points:       item.Points,
				Description:  item.Description,
			})
		}
		if err := repo.CreateRubricGrading(ctx, &grading); err != nil {
			return err
		}

		now := s.now()
		score := computed / maxManualPoints
		zero := 0.0
		job := models.GradingJob{
			SubmissionID:          submissionID,
			GradingMethod:         models.GradingMethodAI,
			GradedBy:              graderID,
			Score:                 &score,
			AutoPoints:            &zero,
			ManualPoints:          &computed,
			ManualRubricGradingID: &grading.ID,
			Feedback:              datatypes.JSONMap{"manual": result.Feedback},
			GradingRequestedAt:    now,
			GradedAt:              &now,
		}
		if err := repo.CreateGradingJob(ctx, &job); err != nil {
			return err
		}
		return repo.CreateAIGradingJob(ctx, aiAuditRow(job.ID, sequenceID, result))
	})
}

func (s *aiGradingService) persistHolisticAudit(ctx context.Context, assessmentQuestion models.AssessmentQuestion, scorePerc float64, submissionID, sequenceID uint, graderID *uint, result ai.GradingResult) error {
	maxManualPoints := *assessmentQuestion.MaxManualPoints

	return s.repo.InTransaction(ctx, func(repo repository.AIGradingRepository) error {
		now := s.now()
		score := scorePerc / 100
		zero := 0.0
		manualPoints := scorePerc * maxManualPoints / 100
		job := models.GradingJob{
			SubmissionID:       submissionID,
			GradingMethod:      models.GradingMethodAI,
			GradedBy:           graderID,
			Score:              &score,
			AutoPoints:         &zero,
			ManualPoints:       &manualPoints,
			GradingRequestedAt: now,
			GradedAt:           &now,
		}
		if err := repo.CreateGradingJob(ctx, &job); err != nil {
			return err
		}
		return repo.CreateAIGradingJob(ctx, aiAuditRow(job.ID, sequenceID, result))
	})
}

func aiAuditRow(gradingJobID, sequenceID uint, result ai.GradingResult) *models.AIGradingJob {
	return &models.AIGradingJob{
		GradingJobID:     gradingJobID,
		JobSequenceID:    sequenceID,
		Model:            result.Model,
		Prompt:           datatypes.JSON(result.Prompt),
		Completion:       datatypes.JSON(result.RawResponse),
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		Cost:             result.Cost,
	}
}

// resolveSelectedItems maps the descriptions the model selected back to
// rubric item ids. The rubric may have changed since the prompt was built,
// so an unknown description fails the item and the user can retry.
func resolveSelectedItems(selected []string, rubricItems []models.RubricItem) ([]dto.AppliedRubricItem, error) {
	byDescription := make(map[string]models.RubricItem, len(rubricItems))
	for _, item := range rubricItems {
		byDescription[item.Description] = item
	}
	applied := make([]dto.AppliedRubricItem, 0, len(selected))
	for _, description := range selected {
		item, ok := byDescription[description]
		if !ok {
			return nil, fmt.Errorf("model selected unknown rubric item %q", description)
		}
		applied = append(applied, dto.AppliedRubricItem{RubricItemID: item.ID})
	}
	return applied, nil
}

func filterByMode(instanceQuestions []models.InstanceQuestion, mode string, selectedIDs []uint) []models.InstanceQuestion {
	selected := make(map[uint]bool, len(selectedIDs))
	for _, id := range selectedIDs {
		selected[id] = true
	}

	var filtered []models.InstanceQuestion
	for _, instanceQuestion := range instanceQuestions {
		switch mode {
		case dto.AIGradingModeHumanGraded:
			if !instanceQuestion.RequiresManualGrading &&
				instanceQuestion.Status != models.InstanceQuestionStatusUnanswered &&
				!instanceQuestion.IsAIGraded {
				filtered = append(filtered, instanceQuestion)
			}
		case dto.AIGradingModeUngraded:
			if instanceQuestion.RequiresManualGrading {
				filtered = append(filtered, instanceQuestion)
			}
		case dto.AIGradingModeAll:
			filtered = append(filtered, instanceQuestion)
		case dto.AIGradingModeSelected:
			if selected[instanceQuestion.ID] {
				filtered = append(filtered, instanceQuestion)
			}
		}
	}
	return filtered
}

func rubricItemInfos(items []models.RubricItem) []ai.RubricItemInfo {
	infos := make([]ai.RubricItemInfo, 0, len(items))
	for _, item := range items {
		infos = append(infos, ai.RubricItemInfo{
			Description: item.Description,
			Explanation: item.Explanation,
			GraderNote:  item.GraderNote,
		})
	}
	return infos
}

func exampleInfos(examples []repository.GradedExample) []ai.GradedExampleInfo {
	infos := make([]ai.GradedExampleInfo, 0, len(examples))
	for _, example := range examples {
		info := ai.GradedExampleInfo{
			SubmissionText: example.SubmissionText,
			SelectedItems:  example.SelectedItems,
		}
		scorePerc := example.ScorePerc
		info.ScorePerc = &scorePerc
		if manual, ok := example.Feedback["manual"].(string); ok {
			info.Feedback = manual
		}
		infos = append(infos, info)
	}
	return infos
}

// renderSubmissionText flattens the submitted answer into a text form the
// model can read. String values are emitted directly; everything else is
// JSON encoded.
func renderSubmissionText(submission models.Submission) string {
	if len(submission.SubmittedAnswer) == 0 {
		return ""
	}
	if text, ok := submission.SubmittedAnswer["text"].(string); ok && len(submission.SubmittedAnswer) == 1 {
		return text
	}
	payload, err := json.MarshalIndent(map[string]any(submission.SubmittedAnswer), "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", submission.SubmittedAnswer)
	}
	return string(payload)
}

// runLog serializes appends of log lines to a job sequence so concurrent
// graders don't interleave their blocks.
type runLog struct {
	mu         sync.Mutex
	sequences  JobSequenceService
	sequenceID uint
	fallback   zerolog.Logger
}

func (l *runLog) info(ctx context.Context, message string) {
	l.append(ctx, []models.JobLogLine{infoLine(message)})
}

func (l *runLog) error(ctx context.Context, message string) {
	l.append(ctx, []models.JobLogLine{errorLine(message)})
}

func (l *runLog) append(ctx context.Context, lines []models.JobLogLine) {
	if len(lines) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.sequences.AppendLines(ctx, l.sequenceID, lines); err != nil {
		l.fallback.Error().Err(err).Uint("job_sequence_id", l.sequenceID).Msg("failed to append job log lines")
	}
}

func infoLine(message string) models.JobLogLine {
	return models.JobLogLine{Severity: models.JobLogSeverityInfo, Message: message}
}

func errorLine(message string) models.JobLogLine {
	return models.JobLogLine{Severity: models.JobLogSeverityError, Message: message}
}
