package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/gradeflow/assess-api/internal/dto"
	"github.com/gradeflow/assess-api/internal/service"
	"github.com/gradeflow/assess-api/internal/utils"
)

// GradingHandler wires the score reconciliation and batch grading endpoints.
type GradingHandler struct {
	scores    service.ScoreService
	aiGrading service.AIGradingService
	sequences service.JobSequenceService
	uploads   service.ScoreUploadService
	logger    zerolog.Logger
}

// NewGradingHandler constructs the handler.
func NewGradingHandler(
	scores service.ScoreService,
	aiGrading service.AIGradingService,
	sequences service.JobSequenceService,
	uploads service.ScoreUploadService,
	logger zerolog.Logger,
) *GradingHandler {
	return &GradingHandler{
		scores:    scores,
		aiGrading: aiGrading,
		sequences: sequences,
		uploads:   uploads,
		logger:    logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register attaches grading endpoints to the router group.
func (h *GradingHandler) Register(router fiber.Router) {
	router.Patch("/instance-questions/:id/score", h.updateScore)
	router.Post("/assessment-questions/:id/ai-grading", h.startAIGrading)
	router.Post("/scores/upload", h.uploadScores)
	router.Get("/job-sequences/:token", h.getJobSequence)
}

func (h *GradingHandler) updateScore(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	var payload dto.ScoreUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.scores.UpdateInstanceQuestionScore(c.Context(), id, payload.ScoreUpdate, service.ScoreUpdateOptions{
		SubmissionID:    payload.SubmissionID,
		CheckModifiedAt: payload.CheckModifiedAt,
		GraderID:        graderIDFromContext(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSubmissionNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "submission not found")
		case errors.Is(err, service.ErrInvalidScoreInput):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Uint("instance_question_id", id).Msg("failed to update score")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to update score")
		}
	}

	if result.ModifiedAtConflict {
		return utils.SendSuccessWithStatus(c, fiber.StatusConflict, "submission was modified by another grader", result)
	}
	return utils.SendSuccess(c, "score updated", result)
}

func (h *GradingHandler) startAIGrading(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	var payload dto.AIGradingRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	sequence, err := h.aiGrading.StartRun(c.Context(), id, payload, graderIDFromContext(c))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrScorerUnavailable):
			return utils.SendError(c, fiber.StatusForbidden, "AI grading is not available")
		case errors.Is(err, service.ErrAssessmentQuestionNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "assessment question not found")
		case errors.Is(err, service.ErrInvalidScoreInput), isValidationError(err):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Uint("assessment_question_id", id).Msg("failed to start grading run")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to start grading run")
		}
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "grading run started", dto.AIGradingRunResponse{
		JobSequenceID: sequence.ID,
		Token:         sequence.Token,
	})
}

func (h *GradingHandler) uploadScores(c *fiber.Ctx) error {
	file, err := c.FormFile("scores")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "missing scores file")
	}
	reader, err := file.Open()
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "unable to read scores file")
	}
	defer reader.Close()

	summary, err := h.uploads.UploadScores(c.Context(), reader, graderIDFromContext(c))
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to process score upload")
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	return utils.SendSuccess(c, "scores uploaded", summary)
}

func (h *GradingHandler) getJobSequence(c *fiber.Ctx) error {
	token := c.Params("token")
	sequence, err := h.sequences.GetByToken(c.Context(), token)
	if err != nil {
		if errors.Is(err, service.ErrJobSequenceNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "job sequence not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Str("token", token).Msg("failed to load job sequence")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load job sequence")
	}

	response := dto.NewJobSequenceResponse(*sequence)
	return utils.SendSuccess(c, "job sequence", response)
}
