package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/gradeflow/assess-api/internal/dto"
	"github.com/gradeflow/assess-api/internal/service"
	"github.com/gradeflow/assess-api/internal/utils"
)

// RubricHandler wires rubric settings endpoints for assessment questions.
type RubricHandler struct {
	service service.RubricService
	logger  zerolog.Logger
}

// NewRubricHandler constructs the handler.
func NewRubricHandler(service service.RubricService, logger zerolog.Logger) *RubricHandler {
	return &RubricHandler{
		service: service,
		logger:  logger.With().Str("component", "rubric_handler").Logger(),
	}
}

// Register attaches rubric endpoints to the router group.
func (h *RubricHandler) Register(router fiber.Router) {
	router.Get("/assessment-questions/:id/rubric", h.getRubric)
	router.Put("/assessment-questions/:id/rubric", h.updateRubric)
}

func (h *RubricHandler) getRubric(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	data, err := h.service.GetRubricData(c.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAssessmentQuestionNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "assessment question not found")
		case errors.Is(err, service.ErrRubricNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "rubric not found")
		default:
			requestLogger(h.logger, c).Error().Err(err).Uint("assessment_question_id", id).Msg("failed to load rubric")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to load rubric")
		}
	}
	if data == nil {
		return utils.SendSuccess(c, "no rubric configured", nil)
	}

	return utils.SendSuccess(c, "rubric", data)
}

func (h *RubricHandler) updateRubric(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid identifier")
	}

	var payload dto.RubricUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	if err := h.service.UpdateRubric(c.Context(), id, payload, graderIDFromContext(c)); err != nil {
		switch {
		case errors.Is(err, service.ErrAssessmentQuestionNotFound):
			return utils.SendError(c, fiber.StatusNotFound, "assessment question not found")
		case errors.Is(err, service.ErrInvalidRubric), errors.Is(err, service.ErrNoPointRange), isValidationError(err):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		default:
			requestLogger(h.logger, c).Error().Err(err).Uint("assessment_question_id", id).Msg("failed to update rubric")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to update rubric")
		}
	}

	return utils.SendSuccess(c, "rubric updated", nil)
}
